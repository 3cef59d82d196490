package models

import "time"

// Contact is the canonical contact record written by the live-traffic
// distribution path. The engine never creates contacts; it only joins
// through them when reading the traffic delivery log for deduplication.
type Contact struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}
