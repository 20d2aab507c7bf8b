package worker

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy is the backoff between notification delivery attempts to one
// sink. Jitter spreads retries of many queued events hitting the same failed
// sink; it is a fraction of the delay, e.g. 0.2 for up to ±20%.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        float64
}

// NextDelay returns the delay before retry attempt (1-based), clamped to
// MaxDelay after jitter is applied.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	if r.Jitter > 0 {
		j := math.Min(r.Jitter, 1)
		delay *= 1 + j*(2*rand.Float64()-1)
	}
	d := time.Duration(delay)
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}
