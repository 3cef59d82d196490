// Package advisory derives read-only throughput projections for a
// campaign: the rate required to drain the remaining leads inside the
// working window, the rate actually achieved, and a completion estimate.
// Everything is recomputed from persisted run state on demand; nothing
// here is authoritative and nothing mutates.
package advisory

import (
	"context"
	"time"

	"github.com/mkarpis/leadpipe/internal/models"
	"github.com/mkarpis/leadpipe/internal/quota"
	"github.com/mkarpis/leadpipe/internal/schedule"
	"github.com/mkarpis/leadpipe/internal/storage"
)

type Projection struct {
	CampaignID          string                `json:"campaign_id"`
	Status              models.CampaignStatus `json:"status"`
	InWindow            bool                  `json:"in_window"`
	NextWindowStart     *time.Time            `json:"next_window_start,omitempty"`
	RemainingLeads      int                   `json:"remaining_leads"`
	RequiredPerHour     float64               `json:"required_per_hour"`
	ActualPerHour       float64               `json:"actual_per_hour"`
	EstimatedCompletion *time.Time            `json:"estimated_completion,omitempty"`
	CompletesToday      bool                  `json:"completes_today"`
}

// Compute projects throughput for the window segment containing now.
// Outside the window only the next opening is reported. The completion
// estimate assumes every remaining lead takes the average pacing delay;
// jitter variance makes it informational, not a guarantee.
func Compute(c *models.Campaign, remainingLeads int, now time.Time) Projection {
	p := Projection{
		CampaignID:     c.ID,
		Status:         c.Status,
		RemainingLeads: remainingLeads,
	}

	if !schedule.AllowedDay(now, c.Weekdays) || !schedule.WithinWindow(now, c.WindowStart, c.WindowEnd) {
		next := schedule.NextWindowStart(now, c.WindowStart, c.Weekdays)
		p.NextWindowStart = &next
		return p
	}
	p.InWindow = true

	from, to, ok := schedule.WindowBounds(now, c.WindowStart, c.WindowEnd)
	if !ok {
		from, to = schedule.DayBounds(now)
	}

	if remainingHours := to.Sub(now).Hours(); remainingHours > 0 {
		p.RequiredPerHour = float64(remainingLeads) / remainingHours
	}
	if elapsedHours := now.Sub(from).Hours(); elapsedHours > 0 {
		p.ActualPerHour = float64(c.SentCount) / elapsedHours
	}

	avgDelay := time.Duration(c.MinDelaySeconds+c.MaxDelaySeconds) * time.Second / 2
	estimate := now.Add(time.Duration(remainingLeads) * avgDelay)
	p.EstimatedCompletion = &estimate
	p.CompletesToday = !estimate.After(to)

	return p
}

// RemainingEligible counts the pending leads that still fit under the
// current run segment's quota, per country. This is the lead count the
// projection rates are measured against.
func RemainingEligible(ctx context.Context, store storage.Storage, c *models.Campaign) (int, error) {
	pending, err := store.PendingCountByCountry(ctx, c.ID)
	if err != nil {
		return 0, err
	}
	sent, err := store.SentCountByCountry(ctx, c.ID)
	if err != nil {
		return 0, err
	}

	total := 0
	for country, n := range pending {
		rem := quota.Remaining(c.GeoCaps, c.GeoCapsBaseline, sent, country)
		if n < rem {
			total += n
		} else {
			total += rem
		}
	}
	return total, nil
}
