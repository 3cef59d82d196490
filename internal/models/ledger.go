package models

import "time"

// LedgerRecord is the authoritative record of one lead delivered to one
// advertiser. Append-only; the engine only ever inserts here, on
// accepted delivery. One row per (email, advertiser) pair.
type LedgerRecord struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	AdvertiserID string    `json:"advertiser_id"`
	CampaignID   *string   `json:"campaign_id,omitempty"`
	SentAt       time.Time `json:"sent_at"`
}
