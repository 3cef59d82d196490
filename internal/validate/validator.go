// Package validate implements the pre-flight dry run: a side-effect-free
// estimate of how many of a campaign's queued leads will send versus be
// skipped by duplication or by quota. Operators are expected to run it
// before starting a large campaign; it may run arbitrarily often,
// concurrently with the live scheduler.
package validate

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/mkarpis/leadpipe/internal/dedupe"
	"github.com/mkarpis/leadpipe/internal/eligibility"
	"github.com/mkarpis/leadpipe/internal/quota"
	"github.com/mkarpis/leadpipe/internal/storage"
)

var ErrNoAdvertisers = errors.New("campaign has no advertisers")

type CountryBreakdown struct {
	Country  string `json:"country"`
	Leads    int    `json:"leads"`
	Cap      int    `json:"cap"`
	WillSend int    `json:"will_send"`
	WillSkip int    `json:"will_skip"`
}

type Result struct {
	TotalPending           int                `json:"total_pending"`
	WillSend               int                `json:"will_send"`
	SkipDuplicate          int                `json:"skip_duplicate"`
	SkipGeoCap             int                `json:"skip_geo_cap"`
	DuplicateSample        []string           `json:"duplicate_sample"`
	DuplicatesByAdvertiser map[string]int     `json:"duplicates_by_advertiser"`
	Countries              []CountryBreakdown `json:"countries"`
}

type Validator struct {
	store storage.Storage
	dupes *dedupe.Checker
}

func New(store storage.Storage, dupes *dedupe.Checker) *Validator {
	return &Validator{store: store, dupes: dupes}
}

func (v *Validator) Run(ctx context.Context, campaignID string) (*Result, error) {
	c, err := v.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("campaign %s not found", campaignID)
	}
	if len(c.AdvertiserIDs) == 0 {
		return nil, ErrNoAdvertisers
	}

	pending, err := v.store.PendingLeads(ctx, campaignID, 0)
	if err != nil {
		return nil, err
	}
	sent, err := v.store.SentCountByCountry(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	res := &Result{
		TotalPending:           len(pending),
		DuplicateSample:        []string{},
		DuplicatesByAdvertiser: make(map[string]int),
		Countries:              []CountryBreakdown{},
	}

	// Deduplicate per distinct email so a contact enrolled twice is not
	// double-checked against every source.
	dupForAll := make(map[string]bool)
	byCountry := make(map[string]int)
	for _, lead := range pending {
		all, seen := dupForAll[lead.Email]
		if !seen {
			all = true
			for _, advID := range c.AdvertiserIDs {
				dup, err := v.dupes.IsDuplicate(ctx, lead.Email, advID)
				if err != nil {
					return nil, err
				}
				if dup {
					res.DuplicatesByAdvertiser[advID]++
				} else {
					all = false
				}
			}
			dupForAll[lead.Email] = all
		}
		if all {
			res.SkipDuplicate++
			// each email appears in the sample at most once
			if !seen && len(res.DuplicateSample) < eligibility.DuplicateSampleLimit {
				res.DuplicateSample = append(res.DuplicateSample, lead.Email)
			}
			continue
		}
		byCountry[lead.Country]++
	}

	for country, leads := range byCountry {
		remaining := quota.Remaining(c.GeoCaps, c.GeoCapsBaseline, sent, country)
		willSend := leads
		if willSend > remaining {
			willSend = remaining
		}
		res.WillSend += willSend
		res.SkipGeoCap += leads - willSend
		res.Countries = append(res.Countries, CountryBreakdown{
			Country:  country,
			Leads:    leads,
			Cap:      c.GeoCaps[country],
			WillSend: willSend,
			WillSkip: leads - willSend,
		})
	}

	sort.Slice(res.Countries, func(i, j int) bool {
		if res.Countries[i].Leads != res.Countries[j].Leads {
			return res.Countries[i].Leads > res.Countries[j].Leads
		}
		return res.Countries[i].Country < res.Countries[j].Country
	})

	return res, nil
}
