package recovery

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/helmsman-dev/helmsman/config"
)

// Backoff computes retry delays with exponential growth and jitter:
//
//	delay = base × multiplier^(attempt−1) × (1 + jitter), jitter ∈ [0, 0.1)
//
// floored to whole milliseconds and capped at Max.
type Backoff struct {
	base       time.Duration
	multiplier float64
	max        time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBackoff creates a Backoff from the recovery configuration.
func NewBackoff(cfg config.RecoveryConfig) *Backoff {
	return &Backoff{
		base:       cfg.BaseDelay,
		multiplier: cfg.BackoffMultiplier,
		max:        cfg.MaxDelay,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Delay returns the delay before the given 1-indexed attempt.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	b.mu.Lock()
	jitter := b.rng.Float64() * 0.1
	b.mu.Unlock()

	baseMs := float64(b.base) / float64(time.Millisecond)
	ms := baseMs * math.Pow(b.multiplier, float64(attempt-1)) * (1 + jitter)
	delay := time.Duration(math.Floor(ms)) * time.Millisecond
	if b.max > 0 && delay > b.max {
		delay = b.max
	}
	return delay
}
