package hrvstr

import (
	"context"
	"time"
)

// UnlockSession grants repeat access to a component without repeat
// charges until it expires.
type UnlockSession struct {
	ID             string
	UserID         string
	Component      Component
	Tier           Tier
	CreditsCharged int
	Metadata       map[string]string
	UnlockedAt     time.Time
	ExpiresAt      time.Time
}

// Active reports whether the session still grants access at the given
// instant.
func (s *UnlockSession) Active(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// SessionStore persists component unlock sessions.
type SessionStore interface {
	// Create persists a new session. Overlapping sessions for the same
	// user and component may coexist; Active resolves the winner.
	Create(ctx context.Context, session *UnlockSession) error

	// Active returns the most recently unlocked session that is still
	// unexpired for the user and component, or false when none exists.
	// Earlier overlapping sessions are ignored, not merged.
	Active(ctx context.Context, userID string, component Component, now time.Time) (*UnlockSession, bool, error)

	// DeleteExpired sweeps sessions whose expiry has passed and
	// returns the number removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error
}
