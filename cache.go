package hrvstr

import (
	"context"
	"fmt"
	"time"
)

// CacheKey is the 4-tuple identity of a cache row.
type CacheKey struct {
	UserID      string
	DataType    DataType
	TimeRange   TimeRange
	Fingerprint string
}

// String renders the key in its stable storage form.
func (k CacheKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.UserID, k.DataType, k.TimeRange, k.Fingerprint)
}

// CacheEntry is one stored resolution result.
type CacheEntry struct {
	Key            CacheKey
	Payload        []byte
	Tier           Tier
	CreditsCharged int
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Expired reports whether the entry is logically absent at the given
// instant.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// TTLRemaining returns how long the entry stays valid, zero when past.
func (e *CacheEntry) TTLRemaining(now time.Time) time.Duration {
	d := e.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// CacheStatus summarizes a user's cache rows for the status endpoint.
type CacheStatus struct {
	UserID     string           `json:"user_id"`
	Entries    int              `json:"entries"`
	ByDataType map[DataType]int `json:"by_data_type"`
	NextExpiry time.Time        `json:"next_expiry,omitempty"`
}

// CacheStore is keyed, expiring storage of resolution payloads.
// Implementations delegate concurrency control to their backing
// storage; entries whose ExpiresAt has passed behave as absent on Get
// even if physically present.
type CacheStore interface {
	// Get returns the entry and true, or false for missing or expired
	// rows.
	Get(ctx context.Context, key CacheKey, now time.Time) (*CacheEntry, bool, error)

	// Put upserts atomically by key. Concurrent puts to the same key
	// are last-writer-wins.
	Put(ctx context.Context, entry *CacheEntry) error

	// Delete removes one row. Deleting a missing row is not an error.
	Delete(ctx context.Context, key CacheKey) error

	// DeleteMatching removes a user's rows, optionally narrowed by
	// data type and/or time range (zero values match everything).
	// Returns the number of rows removed.
	DeleteMatching(ctx context.Context, userID string, dataType DataType, timeRange TimeRange) (int64, error)

	// Status reports a user's live rows.
	Status(ctx context.Context, userID string, now time.Time) (CacheStatus, error)

	// DeleteExpired sweeps rows whose expiry has passed. The sweep
	// must never remove a row written after the cutoff.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error
}
