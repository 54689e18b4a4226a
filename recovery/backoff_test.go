package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/helmsman-dev/helmsman/config"
)

func testBackoff() *Backoff {
	return NewBackoff(config.RecoveryConfig{
		BaseDelay:         time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
	})
}

func TestBackoffDelayRanges(t *testing.T) {
	b := testBackoff()

	// Jitter is in [0, 0.1), so each attempt's delay lands in a known
	// half-open range.
	ranges := []struct {
		attempt  int
		min, max time.Duration
	}{
		{1, 1000 * time.Millisecond, 1100 * time.Millisecond},
		{2, 2000 * time.Millisecond, 2200 * time.Millisecond},
		{3, 4000 * time.Millisecond, 4400 * time.Millisecond},
	}
	for _, r := range ranges {
		for i := 0; i < 50; i++ {
			d := b.Delay(r.attempt)
			assert.GreaterOrEqual(t, d, r.min, "attempt %d", r.attempt)
			assert.Less(t, d, r.max, "attempt %d", r.attempt)
		}
	}
}

func TestBackoffWholeMilliseconds(t *testing.T) {
	b := testBackoff()
	for i := 0; i < 20; i++ {
		d := b.Delay(2)
		assert.Zero(t, d%time.Millisecond)
	}
}

func TestBackoffCap(t *testing.T) {
	b := testBackoff()
	// 1s * 2^9 = 512s, far beyond the 30s cap.
	assert.Equal(t, 30*time.Second, b.Delay(10))
}

func TestBackoffClampsAttempt(t *testing.T) {
	b := testBackoff()
	d := b.Delay(0)
	assert.GreaterOrEqual(t, d, time.Second)
	assert.Less(t, d, 1100*time.Millisecond)
}
