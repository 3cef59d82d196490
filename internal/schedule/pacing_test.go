package schedule

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mkarpis/leadpipe/internal/models"
)

func TestPacingDelayStaysInsideBand(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	// min=60s max=180s: span 120, mid 120
	cases := []struct {
		noise  models.NoiseLevel
		lo, hi time.Duration
	}{
		{models.NoiseLow, 105 * time.Second, 135 * time.Second},   // mid +- span/8
		{models.NoiseMedium, 90 * time.Second, 150 * time.Second}, // mid +- span/4
		{models.NoiseHigh, 60 * time.Second, 180 * time.Second},   // mid +- span/2
	}

	for _, tc := range cases {
		for i := 0; i < 1000; i++ {
			d := PacingDelay(rng, 60, 180, tc.noise)
			assert.GreaterOrEqual(t, d, tc.lo, "noise %s", tc.noise)
			assert.LessOrEqual(t, d, tc.hi, "noise %s", tc.noise)
		}
	}
}

func TestPacingDelayDegenerateRange(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	// min == max: always exactly that delay
	d := PacingDelay(rng, 45, 45, models.NoiseHigh)
	assert.Equal(t, 45*time.Second, d)

	// inverted bounds clamp to min
	d = PacingDelay(rng, 90, 10, models.NoiseMedium)
	assert.Equal(t, 90*time.Second, d)

	// negative min clamps to zero
	d = PacingDelay(rng, -5, -5, models.NoiseLow)
	assert.Equal(t, time.Duration(0), d)
}
