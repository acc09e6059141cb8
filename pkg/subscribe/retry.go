package subscribe

import (
	"math"
	"math/rand"
	"time"
)

// Retryer decides whether and when the manager attempts the next
// reconnection.
type Retryer interface {
	// NextDelay returns the delay before retry attempt `attempt`
	// (0-based) and whether to keep retrying at all. Returning false
	// sends the manager to the terminal Unreachable state.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)

	// Reset is called after a successful connection.
	Reset()
}

// ExponentialBackoff implements bounded exponential backoff with
// jitter. Unlike a retry-forever policy, MaxRetries defaults to a
// finite ceiling: a sustained outage surfaces as Unreachable instead
// of silently spinning.
type ExponentialBackoff struct {
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// Multiplier is the growth factor per attempt.
	Multiplier float64

	// MaxRetries is the retry ceiling. 0 means retry forever; only
	// use that when the caller supervises the manager some other way.
	MaxRetries int

	// JitterFactor randomizes each delay by +-(delay*JitterFactor) to
	// avoid thundering-herd reconnects. 0 disables jitter.
	JitterFactor float64
}

// NewExponentialBackoff returns the default reconnect policy:
// 1s initial delay doubling up to 30s, 30% jitter, at most 10
// attempts.
func NewExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   10,
		JitterFactor: 0.3,
	}
}

func (r *ExponentialBackoff) NextDelay(attempt int, lastErr error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}

	delay := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt))
	if delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}

	if r.JitterFactor > 0 {
		//nolint:gosec // jitter is not security-critical
		jitter := delay * r.JitterFactor * (2*rand.Float64() - 1)
		delay += jitter
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}

	return time.Duration(delay), true
}

func (r *ExponentialBackoff) Reset() {}

// FixedDelay retries at a constant interval. Mostly useful in tests.
type FixedDelay struct {
	Delay      time.Duration
	MaxRetries int
}

func (r *FixedDelay) NextDelay(attempt int, lastErr error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}

func (r *FixedDelay) Reset() {}
