package hrvstr

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Maintenance and account operations. None of these sit on the request
// hot path.

// Unlock opens a time-boxed free-access session for a component,
// charging the tier's unlock price. While the session is active,
// Resolve fetches the component's data types without further debits.
func (a *Arbiter) Unlock(ctx context.Context, userID string, tier Tier, component Component) (*UnlockSession, error) {
	switch {
	case userID == "":
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	case !tier.Valid():
		return nil, fmt.Errorf("%w: unknown tier %q", ErrInvalidRequest, tier)
	case !component.Valid():
		return nil, fmt.Errorf("%w: unknown component %q", ErrInvalidRequest, component)
	}

	cost := UnlockCostOf(tier, component)
	var debitID string
	if cost > 0 {
		var account CreditAccount
		err := a.withRetry(ctx, "balance read", func() error {
			var err error
			account, err = a.ledger.Balance(ctx, userID)
			return err
		})
		if err != nil {
			return nil, err
		}
		if remaining := account.Remaining(); remaining < cost {
			return nil, &InsufficientCreditsError{Required: cost, Available: remaining}
		}

		debitID = uuid.New().String()
		err = a.withRetry(ctx, "debit", func() error {
			_, err := a.ledger.Debit(ctx, CreditTransaction{
				ID:        debitID,
				UserID:    userID,
				Action:    TxDebit,
				Amount:    cost,
				Component: component,
				Metadata:  map[string]string{"unlock": string(component)},
				CreatedAt: a.now(),
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		a.creditsCharged.Add(int64(cost))
	}

	now := a.now()
	sess := &UnlockSession{
		ID:             uuid.New().String(),
		UserID:         userID,
		Component:      component,
		Tier:           tier,
		CreditsCharged: cost,
		UnlockedAt:     now,
		ExpiresAt:      now.Add(a.cfg.SessionTTL(tier)),
	}
	if err := a.withRetry(ctx, "session create", func() error {
		return a.sessions.Create(ctx, sess)
	}); err != nil {
		if cost > 0 {
			a.reverse(userID, debitID, cost, "", component)
		}
		return nil, err
	}

	a.logger.Info("component unlocked",
		"user", userID,
		"component", component,
		"tier", tier,
		"credits", cost,
		"expires_at", sess.ExpiresAt)
	return sess, nil
}

// ClearCache removes a user's cache rows, optionally narrowed to one
// data type and/or time range (zero values match everything). Returns
// the number of rows removed.
func (a *Arbiter) ClearCache(ctx context.Context, userID string, dataType DataType, timeRange TimeRange) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}

	var deleted int64
	err := a.withRetry(ctx, "cache clear", func() error {
		var err error
		deleted, err = a.cache.DeleteMatching(ctx, userID, dataType, timeRange)
		return err
	})
	return deleted, err
}

// CacheStatus reports a user's live cache rows.
func (a *Arbiter) CacheStatus(ctx context.Context, userID string) (CacheStatus, error) {
	if userID == "" {
		return CacheStatus{}, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}

	var status CacheStatus
	err := a.withRetry(ctx, "cache status", func() error {
		var err error
		status, err = a.cache.Status(ctx, userID, a.now())
		return err
	})
	return status, err
}

// CleanupExpired sweeps expired cache entries and sessions, returning
// the total number of rows removed.
func (a *Arbiter) CleanupExpired(ctx context.Context) (int64, error) {
	now := a.now()

	var entries int64
	if err := a.withRetry(ctx, "cache sweep", func() error {
		var err error
		entries, err = a.cache.DeleteExpired(ctx, now)
		return err
	}); err != nil {
		return 0, err
	}

	var sessions int64
	if err := a.withRetry(ctx, "session sweep", func() error {
		var err error
		sessions, err = a.sessions.DeleteExpired(ctx, now)
		return err
	}); err != nil {
		return entries, err
	}

	total := entries + sessions
	if total > 0 {
		a.logger.Info("expired rows swept",
			"cache_entries", entries,
			"sessions", sessions)
	}
	return total, nil
}

// Healthy verifies every backing store is reachable.
func (a *Arbiter) Healthy(ctx context.Context) error {
	if err := a.cache.Ping(ctx); err != nil {
		return fmt.Errorf("hrvstr: cache store: %w", err)
	}
	if err := a.sessions.Ping(ctx); err != nil {
		return fmt.Errorf("hrvstr: session store: %w", err)
	}
	if err := a.ledger.Ping(ctx); err != nil {
		return fmt.Errorf("hrvstr: credit ledger: %w", err)
	}
	return nil
}

// SourceHealth snapshots the circuit state of every tracked source.
func (a *Arbiter) SourceHealth() map[string]HealthState {
	return a.health.States()
}

// Stats snapshots the arbiter's process-local counters.
func (a *Arbiter) Stats() Stats {
	return Stats{
		CacheHits:      a.cacheHits.Load(),
		CacheMisses:    a.cacheMisses.Load(),
		SessionHits:    a.sessionHits.Load(),
		Fetches:        a.fetches.Load(),
		FetchFailures:  a.fetchFailures.Load(),
		CreditsCharged: a.creditsCharged.Load(),
	}
}
