package models

import "time"

type LeadStatus string

const (
	LeadPending   LeadStatus = "pending"
	LeadScheduled LeadStatus = "scheduled"
	LeadSending   LeadStatus = "sending"
	LeadSent      LeadStatus = "sent"
	LeadFailed    LeadStatus = "failed"
	LeadSkipped   LeadStatus = "skipped"
)

// Terminal reports whether the status is final.
func (s LeadStatus) Terminal() bool {
	return s == LeadSent || s == LeadFailed || s == LeadSkipped
}

// CampaignLead is one enrollment of a contact into a campaign for one
// advertiser. EntryID is nil when the lead was enrolled directly from a
// CSV import rather than a pool entry. Position fixes enrollment order;
// the scheduler and the quota math both walk leads in this order.
// Rows are never deleted: failed and skipped leads remain for audit.
type CampaignLead struct {
	ID           string     `json:"id"`
	CampaignID   string     `json:"campaign_id"`
	EntryID      *string    `json:"entry_id,omitempty"`
	AdvertiserID string     `json:"advertiser_id"`
	Email        string     `json:"email"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	Phone        string     `json:"phone"`
	Country      string     `json:"country"`
	IP           string     `json:"ip,omitempty"`
	Offer        string     `json:"offer,omitempty"`
	Status       LeadStatus `json:"status"`
	Position     int        `json:"position"`
	ScheduledAt  *time.Time `json:"scheduled_at,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	Response     string     `json:"response,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
