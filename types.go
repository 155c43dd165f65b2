package hrvstr

import (
	"encoding/json"
	"time"
)

// Params are the caller-supplied request parameters that, together with
// user, data type and time range, identify a cache row.
type Params struct {
	Tickers []string          `json:"tickers"`
	Options map[string]string `json:"options,omitempty"`
}

// Request is one resolution request against the arbiter.
type Request struct {
	UserID       string
	Tier         Tier
	Component    Component // optional; derived from DataType when empty
	DataType     DataType
	TimeRange    TimeRange
	Params       Params
	ForceRefresh bool
}

// Resolution is the response envelope. It carries the payload plus the
// provenance flags the UI needs to show data freshness without a second
// call.
type Resolution struct {
	Payload            json.RawMessage `json:"payload"`
	FromCache          bool            `json:"from_cache"`
	SessionActive      bool            `json:"session_active"`
	FreshlyFetched     bool            `json:"freshly_fetched"`
	CreditsUsed        int             `json:"credits_used"`
	ExpiresAt          time.Time       `json:"expires_at"`
	SecondsUntilExpiry int64           `json:"seconds_until_expiry"`
	Fingerprint        string          `json:"fingerprint"`
}

// SentimentPayload is the canonical shape persisted to cache and handed
// to downstream consumers (UI, explanation generator).
type SentimentPayload struct {
	Entities    []AggregatedEntity `json:"entities"`
	Summary     Summary            `json:"summary"`
	TimeRange   TimeRange          `json:"time_range"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// Stats are process-local arbiter counters, exposed for diagnostics.
type Stats struct {
	CacheHits      int64 `json:"cache_hits"`
	CacheMisses    int64 `json:"cache_misses"`
	SessionHits    int64 `json:"session_hits"`
	Fetches        int64 `json:"fetches"`
	FetchFailures  int64 `json:"fetch_failures"`
	CreditsCharged int64 `json:"credits_charged"`
}

// IntPtr returns a pointer to the given int.
func IntPtr(v int) *int { return &v }

// Float64Ptr returns a pointer to the given float64.
func Float64Ptr(v float64) *float64 { return &v }
