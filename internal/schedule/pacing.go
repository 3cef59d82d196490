package schedule

import (
	"math/rand"
	"time"

	"github.com/mkarpis/leadpipe/internal/models"
)

// PacingDelay draws the delay before the next send, uniform over a band
// inside [min, max] whose width depends on the noise level: low stays
// near the midpoint, medium covers half the range, high covers all of it.
func PacingDelay(rng *rand.Rand, minSeconds, maxSeconds int, noise models.NoiseLevel) time.Duration {
	if minSeconds < 0 {
		minSeconds = 0
	}
	if maxSeconds < minSeconds {
		maxSeconds = minSeconds
	}

	span := float64(maxSeconds - minSeconds)
	mid := float64(minSeconds) + span/2

	var half float64
	switch noise {
	case models.NoiseLow:
		half = span / 8
	case models.NoiseHigh:
		half = span / 2
	default:
		half = span / 4
	}

	delay := mid
	if half > 0 {
		delay = mid - half + rng.Float64()*2*half
	}
	return time.Duration(delay * float64(time.Second))
}
