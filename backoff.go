package hrvstr

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Backoff is an exponential retry policy. The zero value disables
// retries; use DefaultBackoff for the standard fetch policy.
type Backoff struct {
	// MaxAttempts bounds total tries, including the first.
	MaxAttempts int
	// BaseDelay is the wait after the first failure.
	BaseDelay time.Duration
	// MaxDelay clamps the exponential growth.
	MaxDelay time.Duration
	// Jitter widens each delay by ±Jitter fraction (0..1).
	Jitter float64
}

// DefaultBackoff returns the standard policy for source fetches.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      0.1,
	}
}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if b.BaseDelay <= 0 {
		return 0
	}

	d := time.Duration(math.Pow(2, float64(attempt))) * b.BaseDelay
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}

	if b.Jitter > 0 {
		spread := float64(d) * b.Jitter
		d += time.Duration((rand.Float64()*2 - 1) * spread)
		if d < 0 {
			d = 0
		}
	}
	return d
}

// Retry runs fn until it succeeds, fails fatally, or attempts run out.
// Rate-limited failures wait at least the limiter's advertised
// retry-after. Context cancellation aborts the wait and returns the
// context error.
func (b Backoff) Retry(ctx context.Context, fn func() error) error {
	attempts := b.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		delay := b.Delay(attempt)
		var rl *RateLimitedError
		if errors.As(lastErr, &rl) && rl.RetryAfter > delay {
			delay = rl.RetryAfter
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
