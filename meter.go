package hrvstr

import "time"

// Meter observes resolution and fetch events for monitoring/logging.
type Meter interface {
	// OnResolve is called once per Resolve call with its outcome.
	OnResolve(event ResolveEvent)

	// OnFetch is called per source fetch attempt inside a resolution.
	OnFetch(event FetchEvent)
}

// Resolution outcomes reported through ResolveEvent.Outcome.
const (
	OutcomeCacheHit   = "cache_hit"
	OutcomeSessionHit = "session_hit"
	OutcomeFetched    = "fetched"
	OutcomeDenied     = "denied"
	OutcomeError      = "error"
)

// ResolveEvent describes one arbiter decision.
type ResolveEvent struct {
	UserID      string
	Tier        Tier
	DataType    DataType
	TimeRange   TimeRange
	Outcome     string
	Code        string
	CreditsUsed int
	Duration    time.Duration
}

// FetchEvent describes the outcome of one source fetch.
type FetchEvent struct {
	Source   string
	DataType DataType
	Success  bool
	Entities int
	Duration time.Duration
	Error    error
}
