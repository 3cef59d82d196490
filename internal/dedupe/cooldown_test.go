package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyFreshProtection(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	c := Classify(now.Add(-10*time.Hour), now)
	assert.Equal(t, CooldownFresh, c.State)
	assert.Equal(t, 14, c.HoursRemaining)
}

func TestClassifyCooldown(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	c := Classify(now.Add(-3*24*time.Hour), now)
	assert.Equal(t, CooldownActive, c.State)
	assert.Equal(t, 2, c.DaysRemaining)
}

func TestClassifyAvailable(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	c := Classify(now.Add(-6*24*time.Hour), now)
	assert.Equal(t, CooldownAvailable, c.State)
	assert.Zero(t, c.HoursRemaining)
	assert.Zero(t, c.DaysRemaining)
}

func TestClassifyBoundariesFallToStricterBucket(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	// exactly 24h old is still freshly protected
	c := Classify(now.Add(-24*time.Hour), now)
	assert.Equal(t, CooldownFresh, c.State)
	assert.Equal(t, 0, c.HoursRemaining)

	// exactly 5 days old is still cooling down
	c = Classify(now.Add(-5*24*time.Hour), now)
	assert.Equal(t, CooldownActive, c.State)
}
