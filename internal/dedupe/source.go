package dedupe

import (
	"context"

	"github.com/mkarpis/leadpipe/internal/storage"
)

// Source answers whether an advertiser has already received a contact.
// Three implementations back it: the authoritative ledger and two legacy
// logs kept for records that predate the ledger. Call sites only ever see
// the merged Checker, so retiring a legacy source is a wiring change.
type Source interface {
	IsDuplicate(ctx context.Context, email, advertiserID string) (bool, error)
}

type ledgerSource struct{ store storage.Storage }

func (s ledgerSource) IsDuplicate(ctx context.Context, email, advertiserID string) (bool, error) {
	return s.store.LedgerHas(ctx, email, advertiserID)
}

// campaignLogSource reads the legacy per-campaign delivery log. Any
// recorded outcome (sent, failed or skipped) counts as a prior exposure.
type campaignLogSource struct{ store storage.Storage }

func (s campaignLogSource) IsDuplicate(ctx context.Context, email, advertiserID string) (bool, error) {
	return s.store.CampaignLogHas(ctx, email, advertiserID)
}

// trafficLogSource reads the live-traffic delivery log, joined through the
// canonical contact record. Only status=sent counts.
type trafficLogSource struct{ store storage.Storage }

func (s trafficLogSource) IsDuplicate(ctx context.Context, email, advertiserID string) (bool, error) {
	return s.store.TrafficLogHas(ctx, email, advertiserID)
}

// Checker merges all duplicate sources: a pair is a duplicate if any
// source says so.
type Checker struct {
	sources []Source
}

func NewChecker(store storage.Storage) *Checker {
	return &Checker{sources: []Source{
		ledgerSource{store},
		campaignLogSource{store},
		trafficLogSource{store},
	}}
}

// NewCheckerWithSources exists so a future cutover to a single ledger, or
// tests, can change the backing set without touching call sites.
func NewCheckerWithSources(sources ...Source) *Checker {
	return &Checker{sources: sources}
}

func (c *Checker) IsDuplicate(ctx context.Context, email, advertiserID string) (bool, error) {
	for _, src := range c.sources {
		dup, err := src.IsDuplicate(ctx, email, advertiserID)
		if err != nil {
			return false, err
		}
		if dup {
			return true, nil
		}
	}
	return false, nil
}

// DuplicateForAll reports whether every advertiser in the set has already
// received the contact. An entry stays sellable while at least one target
// advertiser is still fresh.
func (c *Checker) DuplicateForAll(ctx context.Context, email string, advertiserIDs []string) (bool, error) {
	for _, id := range advertiserIDs {
		dup, err := c.IsDuplicate(ctx, email, id)
		if err != nil {
			return false, err
		}
		if !dup {
			return false, nil
		}
	}
	return len(advertiserIDs) > 0, nil
}

// FreshAdvertiser returns the first advertiser in the set that has not yet
// received the contact.
func (c *Checker) FreshAdvertiser(ctx context.Context, email string, advertiserIDs []string) (string, bool, error) {
	for _, id := range advertiserIDs {
		dup, err := c.IsDuplicate(ctx, email, id)
		if err != nil {
			return "", false, err
		}
		if !dup {
			return id, true, nil
		}
	}
	return "", false, nil
}
