package recovery

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Retryer retries an operation with exponential backoff. The delay before
// attempt k is min(BaseDelay * ExpBase^k, MaxDelay), optionally jittered
// uniformly between 0.5x and 1.5x.
type Retryer struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	ExpBase    float64
	Jitter     bool

	// ShouldRetry decides whether an error is worth another attempt.
	// Nil means IsRetryable.
	ShouldRetry func(error) bool
	// OnRetry, if set, is invoked between attempts with the failing error
	// and the zero-based attempt number.
	OnRetry func(error, int)
}

// DefaultRetryer mirrors the download retry defaults: up to 3 retries starting
// at one second, doubling, capped at 30s, with jitter.
func DefaultRetryer() Retryer {
	return Retryer{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, ExpBase: 2, Jitter: true}
}

// Delay returns the backoff before retry attempt k (zero-based).
func (r Retryer) Delay(attempt int) time.Duration {
	base := r.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	exp := r.ExpBase
	if exp <= 1 {
		exp = 2
	}
	d := time.Duration(float64(base) * math.Pow(exp, float64(attempt)))
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if r.Jitter {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()))
	}
	return d
}

// Do runs f up to MaxRetries+1 times. A non-retryable error is returned
// immediately. Sleeps respect ctx; cancellation surfaces as a cancelled error.
func (r Retryer) Do(ctx context.Context, f func(context.Context) error) error {
	shouldRetry := r.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsRetryable
	}
	var lastErr error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := r.Delay(attempt - 1)
			if r.OnRetry != nil {
				r.OnRetry(lastErr, attempt)
			}
			slog.Debug("retrying after backoff", slog.Int("attempt", attempt), slog.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return E(KindCancelled, "retry", ctx.Err())
			case <-time.After(backoff):
			}
		}
		lastErr = f(ctx)
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
