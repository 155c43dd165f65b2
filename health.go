package hrvstr

import (
	"sync"
	"time"
)

const (
	healthFailureThreshold = 3
	healthFailureWindow    = 5 * time.Minute
	healthUnhealthyPeriod  = 30 * time.Second
)

// HealthState describes a source's circuit state.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthHalfOpen  HealthState = "half_open"
)

// HealthTracker tracks per-source health using a circuit breaker
// pattern. A source that fails repeatedly inside the window is skipped
// until the cooldown elapses, after which one probe request is let
// through.
type HealthTracker struct {
	mu      sync.RWMutex
	sources map[string]*sourceHealth
	now     func() time.Time // test hook
}

type sourceHealth struct {
	state       HealthState
	failures    []time.Time // sliding window of failure timestamps
	unhealthyAt time.Time   // when state transitioned to unhealthy
}

// NewHealthTracker creates a new HealthTracker.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		sources: make(map[string]*sourceHealth),
		now:     time.Now,
	}
}

// GetHealth returns the current health state for a source.
func (h *HealthTracker) GetHealth(source string) HealthState {
	h.mu.RLock()
	sh, ok := h.sources[source]
	h.mu.RUnlock()

	if !ok {
		return HealthHealthy
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Check if unhealthy period has elapsed → transition to half-open.
	if sh.state == HealthUnhealthy && h.now().Sub(sh.unhealthyAt) >= healthUnhealthyPeriod {
		sh.state = HealthHalfOpen
	}

	return sh.state
}

// RecordSuccess records a successful fetch for a source.
func (h *HealthTracker) RecordSuccess(source string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sh := h.getOrCreate(source)
	sh.state = HealthHealthy
	sh.failures = sh.failures[:0]
}

// RecordFailure records a failed fetch for a source.
func (h *HealthTracker) RecordFailure(source string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sh := h.getOrCreate(source)
	if sh.state == HealthUnhealthy {
		return
	}

	now := h.now()

	// Prune old failures outside the window.
	cutoff := now.Add(-healthFailureWindow)
	valid := sh.failures[:0]
	for _, t := range sh.failures {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	sh.failures = append(valid, now)

	// Check threshold.
	if len(sh.failures) >= healthFailureThreshold {
		sh.state = HealthUnhealthy
		sh.unhealthyAt = now
	}
}

// States snapshots the current state of every tracked source.
func (h *HealthTracker) States() map[string]HealthState {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]HealthState, len(h.sources))
	for name, sh := range h.sources {
		out[name] = sh.state
	}
	return out
}

func (h *HealthTracker) getOrCreate(source string) *sourceHealth {
	sh, ok := h.sources[source]
	if !ok {
		sh = &sourceHealth{state: HealthHealthy}
		h.sources[source] = sh
	}
	return sh
}
