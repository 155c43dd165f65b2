package hrvstr

import (
	"sync"
	"time"
)

// RateLimit is a per-source admission budget.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// RateLimiter gates outbound calls per external source. Acquire either
// admits immediately or fails with a RateLimitedError; queueing and
// retry belong to the caller. Sources without a configured limit are
// admitted unconditionally.
type RateLimiter struct {
	mu       sync.Mutex
	limits   map[string]RateLimit
	admitted map[string][]time.Time // sliding window of admission timestamps
	now      func() time.Time       // test hook
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		limits:   make(map[string]RateLimit),
		admitted: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// SetLimit installs or replaces the budget for a source. A
// non-positive request count or window removes the limit.
func (rl *RateLimiter) SetLimit(source string, limit RateLimit) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limit.Requests <= 0 || limit.Window <= 0 {
		delete(rl.limits, source)
		delete(rl.admitted, source)
		return
	}
	rl.limits[source] = limit
}

// Acquire records one admission for the source, or returns a
// RateLimitedError carrying the wait until the window frees a slot.
func (rl *RateLimiter) Acquire(source string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limit, ok := rl.limits[source]
	if !ok {
		return nil
	}

	now := rl.now()
	window := rl.pruneLocked(source, now, limit)

	if len(window) >= limit.Requests {
		retry := window[0].Add(limit.Window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return &RateLimitedError{Source: source, RetryAfter: retry}
	}

	rl.admitted[source] = append(window, now)
	return nil
}

// Remaining returns how many admissions the source has left in the
// current window, or -1 when the source is unlimited.
func (rl *RateLimiter) Remaining(source string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limit, ok := rl.limits[source]
	if !ok {
		return -1
	}

	window := rl.pruneLocked(source, rl.now(), limit)
	r := limit.Requests - len(window)
	if r < 0 {
		r = 0
	}
	return r
}

// RetryAfter returns how long until the source's window frees a slot,
// zero when an Acquire would succeed now.
func (rl *RateLimiter) RetryAfter(source string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limit, ok := rl.limits[source]
	if !ok {
		return 0
	}

	now := rl.now()
	window := rl.pruneLocked(source, now, limit)
	if len(window) < limit.Requests {
		return 0
	}

	retry := window[0].Add(limit.Window).Sub(now)
	if retry < 0 {
		return 0
	}
	return retry
}

// Reset clears the window for a source, keeping its limit.
func (rl *RateLimiter) Reset(source string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.admitted, source)
}

func (rl *RateLimiter) pruneLocked(source string, now time.Time, limit RateLimit) []time.Time {
	cutoff := now.Add(-limit.Window)
	window := rl.admitted[source]
	valid := window[:0]
	for _, t := range window {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	rl.admitted[source] = valid
	return valid
}
