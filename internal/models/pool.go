package models

import "time"

// SourceImport marks pool entries that came in through a CSV or API
// import rather than affiliate traffic.
const SourceImport = "import"

type LeadPool struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// LeadPoolEntry is one sourced contact. Immutable after creation except
// for the Hidden flag (soft removal, never purged).
type LeadPoolEntry struct {
	ID           string            `json:"id"`
	PoolID       string            `json:"pool_id"`
	FirstName    string            `json:"first_name"`
	LastName     string            `json:"last_name"`
	Email        string            `json:"email"`
	Phone        string            `json:"phone"`
	Country      string            `json:"country"`
	IP           string            `json:"ip,omitempty"`
	Offer        string            `json:"offer,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
	Source       string            `json:"source"`
	SourceDate   time.Time         `json:"source_date"`
	Hidden       bool              `json:"hidden"`
	CreatedAt    time.Time         `json:"created_at"`
}

// SourceFilter narrows pool entry selection during eligibility filtering.
// Zero-value fields are ignored.
type SourceFilter struct {
	Countries []string   `json:"countries,omitempty"`
	Sources   []string   `json:"sources,omitempty"`
	From      *time.Time `json:"from,omitempty"`
	To        *time.Time `json:"to,omitempty"`
}
