// Package eligibility computes which pool entries may be newly enrolled
// into a campaign. It is strictly read-only; enrollment itself is a
// separate caller action.
package eligibility

import (
	"context"
	"errors"

	"github.com/mkarpis/leadpipe/internal/dedupe"
	"github.com/mkarpis/leadpipe/internal/models"
	"github.com/mkarpis/leadpipe/internal/storage"
)

// DuplicateSampleLimit bounds the duplicate email sample returned for
// operator display.
const DuplicateSampleLimit = 20

var ErrNoAdvertisers = errors.New("at least one advertiser is required")

type Params struct {
	PoolID            string              `json:"pool_id"`
	AdvertiserIDs     []string            `json:"advertiser_ids"`
	Filter            models.SourceFilter `json:"filter"`
	ExcludeCampaignID string              `json:"exclude_campaign_id,omitempty"`
	GeoCaps           map[string]int      `json:"geo_caps,omitempty"`
	Limit             int                 `json:"limit,omitempty"`
}

type Result struct {
	Entries         []models.LeadPoolEntry `json:"entries"`
	DuplicateCount  int                    `json:"duplicate_count"`
	DuplicateSample []string               `json:"duplicate_sample"`
	PoolTotal       int                    `json:"pool_total"`
}

type Filter struct {
	store storage.Storage
	dupes *dedupe.Checker
}

func New(store storage.Storage, dupes *dedupe.Checker) *Filter {
	return &Filter{store: store, dupes: dupes}
}

// Run selects the pool entries that may be enrolled: non-hidden entries
// matching the source filter, not already enrolled in the excluded
// campaign, not duplicate for every target advertiser, and within the
// per-country admission budget when caps are given.
func (f *Filter) Run(ctx context.Context, p Params) (*Result, error) {
	if len(p.AdvertiserIDs) == 0 {
		return nil, ErrNoAdvertisers
	}

	entries, err := f.store.ListPoolEntries(ctx, p.PoolID, p.Filter)
	if err != nil {
		return nil, err
	}
	total, err := f.store.CountPoolEntries(ctx, p.PoolID)
	if err != nil {
		return nil, err
	}

	enrolled := map[string]bool{}
	admittedBudget := map[string]int{}
	if p.ExcludeCampaignID != "" {
		enrolled, err = f.store.EnrolledEntryIDs(ctx, p.ExcludeCampaignID)
		if err != nil {
			return nil, err
		}
		if p.GeoCaps != nil {
			// capacity already consumed by earlier enrollment passes
			inCampaign, err := f.store.EnrolledCountByCountry(ctx, p.ExcludeCampaignID)
			if err != nil {
				return nil, err
			}
			for country, cap := range p.GeoCaps {
				admittedBudget[country] = cap - inCampaign[country]
			}
		}
	} else if p.GeoCaps != nil {
		for country, cap := range p.GeoCaps {
			admittedBudget[country] = cap
		}
	}

	res := &Result{
		Entries:         []models.LeadPoolEntry{},
		DuplicateSample: []string{},
		PoolTotal:       total,
	}

	for _, e := range entries {
		if enrolled[e.ID] {
			continue
		}

		dup, err := f.dupes.DuplicateForAll(ctx, e.Email, p.AdvertiserIDs)
		if err != nil {
			return nil, err
		}
		if dup {
			res.DuplicateCount++
			if len(res.DuplicateSample) < DuplicateSampleLimit {
				res.DuplicateSample = append(res.DuplicateSample, e.Email)
			}
			continue
		}

		if p.GeoCaps != nil {
			if admittedBudget[e.Country] <= 0 {
				continue
			}
			admittedBudget[e.Country]--
		}

		res.Entries = append(res.Entries, e)
		if p.Limit > 0 && len(res.Entries) >= p.Limit {
			break
		}
	}

	return res, nil
}
