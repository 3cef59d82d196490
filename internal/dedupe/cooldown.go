package dedupe

import (
	"math"
	"time"
)

type CooldownState string

const (
	CooldownAvailable CooldownState = "available"
	CooldownFresh     CooldownState = "fresh_protection"
	CooldownActive    CooldownState = "cooldown"
)

const (
	freshWindow    = 24 * time.Hour
	cooldownWindow = 5 * 24 * time.Hour
)

// Cooldown describes how recently a contact was delivered to an
// advertiser. It is advisory only: the engine surfaces it to operators
// but never blocks a send because of it.
type Cooldown struct {
	State          CooldownState `json:"state"`
	HoursRemaining int           `json:"hours_remaining,omitempty"`
	DaysRemaining  int           `json:"days_remaining,omitempty"`
}

// Classify buckets a past delivery: under 24h the record is freshly
// protected, between 24h and 5 days it is cooling down, after that it is
// available again. Boundary values fall into the stricter bucket.
func Classify(lastSentAt, now time.Time) Cooldown {
	age := now.Sub(lastSentAt)

	if age <= freshWindow {
		return Cooldown{
			State:          CooldownFresh,
			HoursRemaining: int(math.Ceil((freshWindow - age).Hours())),
		}
	}
	if age <= cooldownWindow {
		return Cooldown{
			State:         CooldownActive,
			DaysRemaining: int(math.Ceil((cooldownWindow - age).Hours() / 24)),
		}
	}
	return Cooldown{State: CooldownAvailable}
}
