// Package retry provides backoff interval calculation for polling loops.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential delays: Base * 2^(attempt-1), capped at Max.
// Attempt numbering starts at 1; attempt 1 waits Base.
type Backoff struct {
	// Base is the delay for the first failed attempt.
	Base time.Duration

	// Max caps the delay. Zero means uncapped.
	Max time.Duration

	// Jitter between 0.0 and 1.0 spreads delays to avoid lockstep
	// retries. Zero disables it.
	Jitter float64
}

// NewBackoff returns a Backoff with the service defaults: 60s base doubling
// up to a 300s ceiling, no jitter.
func NewBackoff() *Backoff {
	return &Backoff{
		Base: 60 * time.Second,
		Max:  300 * time.Second,
	}
}

// Delay returns the wait before the given attempt.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	multiplier := math.Pow(2, float64(attempt-1))
	delay := time.Duration(float64(b.Base) * multiplier)

	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}

	if b.Jitter > 0 {
		delay = b.applyJitter(delay)
	}

	return delay
}

func (b *Backoff) applyJitter(delay time.Duration) time.Duration {
	jitter := b.Jitter
	if jitter > 1 {
		jitter = 1
	}

	// Random in [-range, +range] around the computed delay
	jitterRange := float64(delay) * jitter
	offset := (rand.Float64()*2 - 1) * jitterRange

	return time.Duration(float64(delay) + offset)
}
