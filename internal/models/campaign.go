package models

import "time"

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

type NoiseLevel string

const (
	NoiseLow    NoiseLevel = "low"
	NoiseMedium NoiseLevel = "medium"
	NoiseHigh   NoiseLevel = "high"
)

// Campaign is one injection run: a lead pool drained into one or more
// advertisers under per-country caps, a working window and jittered pacing.
//
// GeoCaps holds the per-country cap; a country absent from the map admits
// zero leads for this run. GeoCapsBaseline records the per-country sent
// counts captured at the last transition into running, which makes each
// cap a per-run-segment budget rather than a lifetime one.
type Campaign struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	PoolID          string         `json:"pool_id"`
	AdvertiserIDs   []string       `json:"advertiser_ids"`
	Status          CampaignStatus `json:"status"`
	GeoCaps         map[string]int `json:"geo_caps"`
	GeoCapsBaseline map[string]int `json:"geo_caps_baseline,omitempty"`
	MinDelaySeconds int            `json:"min_delay_seconds"`
	MaxDelaySeconds int            `json:"max_delay_seconds"`
	Noise           NoiseLevel     `json:"noise"`
	WindowStart     string         `json:"window_start,omitempty"` // "HH:MM"
	WindowEnd       string         `json:"window_end,omitempty"`   // "HH:MM", may precede WindowStart (crosses midnight)
	Weekdays        []time.Weekday `json:"weekdays,omitempty"`     // empty = every day
	SentCount       int            `json:"sent_count"`
	FailedCount     int            `json:"failed_count"`
	SkippedCount    int            `json:"skipped_count"`
	TotalCount      int            `json:"total_count"`
	NextScheduledAt *time.Time     `json:"next_scheduled_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Active reports whether the campaign is in a state the runner cares about.
func (c *Campaign) Active() bool {
	return c.Status == CampaignRunning
}
