// Package postgres provides PostgreSQL-backed stores for hrvstr.
//
// Cache entries, unlock sessions and the credit ledger live in
// PostgreSQL tables, with the debit's check-and-write folded into a
// single conditional UPDATE. This makes the stores safe for
// multi-instance deployments and durable across restarts.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	hrvstr "github.com/codebymv/HRVSTR-sub001"
)

// base carries the pool and naming shared by the three stores.
type base struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

// Option configures the stores.
type Option func(*base)

// WithTablePrefix sets the table name prefix (default "hrvstr_").
func WithTablePrefix(prefix string) Option {
	return func(b *base) { b.tablePrefix = prefix }
}

func newBase(pool *pgxpool.Pool, opts []Option) base {
	b := base{pool: pool, tablePrefix: "hrvstr_"}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b base) cacheTable() string    { return b.tablePrefix + "cache" }
func (b base) sessionsTable() string { return b.tablePrefix + "sessions" }
func (b base) accountsTable() string { return b.tablePrefix + "accounts" }
func (b base) txTable() string       { return b.tablePrefix + "transactions" }

func (b base) Ping(ctx context.Context) error {
	if err := b.pool.Ping(ctx); err != nil {
		return fmt.Errorf("hrvstr/postgres: ping: %w", err)
	}
	return nil
}

// EnsureSchema creates every table the stores need if it doesn't exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, opts ...Option) error {
	b := newBase(pool, opts)
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			user_id TEXT NOT NULL,
			data_type TEXT NOT NULL,
			time_range TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			payload BYTEA NOT NULL,
			tier TEXT NOT NULL,
			credits_charged INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (user_id, data_type, time_range, fingerprint)
		);
		CREATE INDEX IF NOT EXISTS %[1]s_expiry_idx ON %[1]s (expires_at);

		CREATE TABLE IF NOT EXISTS %[2]s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			component TEXT NOT NULL,
			tier TEXT NOT NULL,
			credits_charged INT NOT NULL DEFAULT 0,
			metadata JSONB,
			unlocked_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[2]s_scope_idx ON %[2]s (user_id, component, expires_at);

		CREATE TABLE IF NOT EXISTS %[3]s (
			user_id TEXT PRIMARY KEY,
			tier TEXT NOT NULL DEFAULT 'free',
			monthly_allocation INT NOT NULL DEFAULT 0,
			purchased INT NOT NULL DEFAULT 0,
			used INT NOT NULL DEFAULT 0,
			cycle_reset_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS %[4]s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			action TEXT NOT NULL,
			amount INT NOT NULL,
			remaining_after INT NOT NULL,
			data_type TEXT NOT NULL DEFAULT '',
			component TEXT NOT NULL DEFAULT '',
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[4]s_user_idx ON %[4]s (user_id, created_at DESC);
	`, b.cacheTable(), b.sessionsTable(), b.accountsTable(), b.txTable())

	if _, err := pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("hrvstr/postgres: ensure schema: %w", err)
	}
	return nil
}

// CacheStore is a PostgreSQL-backed hrvstr.CacheStore.
type CacheStore struct {
	base
}

var _ hrvstr.CacheStore = (*CacheStore)(nil)

// NewCacheStore creates a PostgreSQL-backed cache store.
func NewCacheStore(pool *pgxpool.Pool, opts ...Option) *CacheStore {
	return &CacheStore{base: newBase(pool, opts)}
}

// Get returns the entry for key, treating expired rows as absent.
func (s *CacheStore) Get(ctx context.Context, key hrvstr.CacheKey, now time.Time) (*hrvstr.CacheEntry, bool, error) {
	entry := hrvstr.CacheEntry{Key: key}
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT payload, tier, credits_charged, created_at, expires_at FROM %s
			WHERE user_id = $1 AND data_type = $2 AND time_range = $3 AND fingerprint = $4
			AND expires_at > $5`, s.cacheTable()),
		key.UserID, key.DataType, key.TimeRange, key.Fingerprint, now,
	).Scan(&entry.Payload, &entry.Tier, &entry.CreditsCharged, &entry.CreatedAt, &entry.ExpiresAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("hrvstr/postgres: cache get: %w", err)
	}
	return &entry, true, nil
}

// Put upserts the entry; the last write wins on key collisions.
func (s *CacheStore) Put(ctx context.Context, entry *hrvstr.CacheEntry) error {
	if !entry.ExpiresAt.After(entry.CreatedAt) {
		return fmt.Errorf("hrvstr/postgres: cache put: entry expires before it is created")
	}

	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (user_id, data_type, time_range, fingerprint, payload, tier, credits_charged, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (user_id, data_type, time_range, fingerprint) DO UPDATE SET
				payload = EXCLUDED.payload,
				tier = EXCLUDED.tier,
				credits_charged = EXCLUDED.credits_charged,
				created_at = EXCLUDED.created_at,
				expires_at = EXCLUDED.expires_at`, s.cacheTable()),
		entry.Key.UserID, entry.Key.DataType, entry.Key.TimeRange, entry.Key.Fingerprint,
		entry.Payload, entry.Tier, entry.CreditsCharged, entry.CreatedAt, entry.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("hrvstr/postgres: cache put: %w", err)
	}
	return nil
}

func (s *CacheStore) Delete(ctx context.Context, key hrvstr.CacheKey) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1 AND data_type = $2 AND time_range = $3 AND fingerprint = $4`,
			s.cacheTable()),
		key.UserID, key.DataType, key.TimeRange, key.Fingerprint,
	)
	if err != nil {
		return fmt.Errorf("hrvstr/postgres: cache delete: %w", err)
	}
	return nil
}

func (s *CacheStore) DeleteMatching(ctx context.Context, userID string, dataType hrvstr.DataType, timeRange hrvstr.TimeRange) (int64, error) {
	q := fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1`, s.cacheTable())
	args := []any{userID}
	if dataType != "" {
		args = append(args, dataType)
		q += fmt.Sprintf(` AND data_type = $%d`, len(args))
	}
	if timeRange != "" {
		args = append(args, timeRange)
		q += fmt.Sprintf(` AND time_range = $%d`, len(args))
	}

	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("hrvstr/postgres: cache clear: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *CacheStore) Status(ctx context.Context, userID string, now time.Time) (hrvstr.CacheStatus, error) {
	status := hrvstr.CacheStatus{
		UserID:     userID,
		ByDataType: make(map[hrvstr.DataType]int),
	}

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT data_type, COUNT(*), MIN(expires_at) FROM %s
			WHERE user_id = $1 AND expires_at > $2 GROUP BY data_type`, s.cacheTable()),
		userID, now,
	)
	if err != nil {
		return status, fmt.Errorf("hrvstr/postgres: cache status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var dt hrvstr.DataType
		var count int
		var next time.Time
		if err := rows.Scan(&dt, &count, &next); err != nil {
			return status, fmt.Errorf("hrvstr/postgres: cache status: %w", err)
		}
		status.Entries += count
		status.ByDataType[dt] = count
		if status.NextExpiry.IsZero() || next.Before(status.NextExpiry) {
			status.NextExpiry = next
		}
	}
	if err := rows.Err(); err != nil {
		return status, fmt.Errorf("hrvstr/postgres: cache status: %w", err)
	}
	return status, nil
}

func (s *CacheStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= $1`, s.cacheTable()), now)
	if err != nil {
		return 0, fmt.Errorf("hrvstr/postgres: cache sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SessionStore is a PostgreSQL-backed hrvstr.SessionStore.
type SessionStore struct {
	base
}

var _ hrvstr.SessionStore = (*SessionStore)(nil)

// NewSessionStore creates a PostgreSQL-backed session store.
func NewSessionStore(pool *pgxpool.Pool, opts ...Option) *SessionStore {
	return &SessionStore{base: newBase(pool, opts)}
}

// Create persists a new unlock session.
func (s *SessionStore) Create(ctx context.Context, session *hrvstr.UnlockSession) error {
	meta, err := marshalMeta(session.Metadata)
	if err != nil {
		return fmt.Errorf("hrvstr/postgres: session create: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, user_id, component, tier, credits_charged, metadata, unlocked_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, s.sessionsTable()),
		session.ID, session.UserID, session.Component, session.Tier,
		session.CreditsCharged, meta, session.UnlockedAt, session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("hrvstr/postgres: session create: %w", err)
	}
	return nil
}

// Active returns the most recently unlocked live session for the user
// and component.
func (s *SessionStore) Active(ctx context.Context, userID string, component hrvstr.Component, now time.Time) (*hrvstr.UnlockSession, bool, error) {
	sess := hrvstr.UnlockSession{UserID: userID, Component: component}
	var meta []byte

	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT id, tier, credits_charged, metadata, unlocked_at, expires_at FROM %s
			WHERE user_id = $1 AND component = $2 AND expires_at > $3
			ORDER BY unlocked_at DESC LIMIT 1`, s.sessionsTable()),
		userID, component, now,
	).Scan(&sess.ID, &sess.Tier, &sess.CreditsCharged, &meta, &sess.UnlockedAt, &sess.ExpiresAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("hrvstr/postgres: session lookup: %w", err)
	}
	if sess.Metadata, err = unmarshalMeta(meta); err != nil {
		return nil, false, fmt.Errorf("hrvstr/postgres: session lookup: %w", err)
	}
	return &sess, true, nil
}

func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= $1`, s.sessionsTable()), now)
	if err != nil {
		return 0, fmt.Errorf("hrvstr/postgres: session sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ledger is a PostgreSQL-backed hrvstr.CreditLedger.
type Ledger struct {
	base
}

var (
	_ hrvstr.CreditLedger = (*Ledger)(nil)
	_ hrvstr.Provisioner  = (*Ledger)(nil)
)

// NewLedger creates a PostgreSQL-backed credit ledger.
func NewLedger(pool *pgxpool.Pool, opts ...Option) *Ledger {
	return &Ledger{base: newBase(pool, opts)}
}

// Provision creates or replaces an account with a fresh cycle.
func (s *Ledger) Provision(ctx context.Context, account hrvstr.CreditAccount) error {
	if account.UserID == "" {
		return fmt.Errorf("hrvstr/postgres: provision: user id is required")
	}
	if account.CycleResetAt.IsZero() {
		account.CycleResetAt = nextMonthStartUTC(time.Now())
	}
	if account.Tier == "" {
		account.Tier = hrvstr.TierFree
	}

	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (user_id, tier, monthly_allocation, purchased, used, cycle_reset_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_id) DO UPDATE SET
				tier = EXCLUDED.tier,
				monthly_allocation = EXCLUDED.monthly_allocation,
				purchased = EXCLUDED.purchased,
				used = EXCLUDED.used,
				cycle_reset_at = EXCLUDED.cycle_reset_at`, s.accountsTable()),
		account.UserID, account.Tier, account.MonthlyAllocation,
		account.Purchased, account.Used, account.CycleResetAt,
	)
	if err != nil {
		return fmt.Errorf("hrvstr/postgres: provision: %w", err)
	}
	return nil
}

// Balance returns the account for a user, zero-valued when unknown.
func (s *Ledger) Balance(ctx context.Context, userID string) (hrvstr.CreditAccount, error) {
	account := hrvstr.CreditAccount{UserID: userID}
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT tier, monthly_allocation, purchased, used, cycle_reset_at FROM %s WHERE user_id = $1`,
			s.accountsTable()),
		userID,
	).Scan(&account.Tier, &account.MonthlyAllocation, &account.Purchased, &account.Used, &account.CycleResetAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return hrvstr.CreditAccount{UserID: userID}, nil
	}
	if err != nil {
		return account, fmt.Errorf("hrvstr/postgres: balance: %w", err)
	}

	// Lazy reset check (read-only; the debit path performs the write).
	now := time.Now().UTC()
	if !now.Before(account.CycleResetAt) {
		account.Used = 0
		account.CycleResetAt = nextMonthStartUTC(now)
	}
	return account, nil
}

// Debit atomically consumes credits: the balance check and the write
// are one conditional UPDATE, so two racing debits can never both
// succeed against one affordable amount.
func (s *Ledger) Debit(ctx context.Context, t hrvstr.CreditTransaction) (hrvstr.CreditAccount, error) {
	if t.Amount <= 0 {
		return hrvstr.CreditAccount{}, fmt.Errorf("hrvstr/postgres: debit amount must be positive")
	}

	dbtx, err := s.pool.Begin(ctx)
	if err != nil {
		return hrvstr.CreditAccount{}, fmt.Errorf("hrvstr/postgres: begin tx: %w", err)
	}
	defer dbtx.Rollback(ctx)

	now := time.Now().UTC()

	// Lazy monthly reset.
	_, err = dbtx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET used = 0, cycle_reset_at = $1 WHERE user_id = $2 AND cycle_reset_at <= $3`,
			s.accountsTable()),
		nextMonthStartUTC(now), t.UserID, now,
	)
	if err != nil {
		return hrvstr.CreditAccount{}, fmt.Errorf("hrvstr/postgres: cycle reset: %w", err)
	}

	account := hrvstr.CreditAccount{UserID: t.UserID}
	err = dbtx.QueryRow(ctx,
		fmt.Sprintf(`UPDATE %s SET used = used + $1
			WHERE user_id = $2 AND (monthly_allocation + purchased - used) >= $1
			RETURNING tier, monthly_allocation, purchased, used, cycle_reset_at`, s.accountsTable()),
		t.Amount, t.UserID,
	).Scan(&account.Tier, &account.MonthlyAllocation, &account.Purchased, &account.Used, &account.CycleResetAt)

	if errors.Is(err, pgx.ErrNoRows) {
		// Rejected: read the balance for the error detail.
		var available int
		err = dbtx.QueryRow(ctx,
			fmt.Sprintf(`SELECT GREATEST(monthly_allocation + purchased - used, 0) FROM %s WHERE user_id = $1`,
				s.accountsTable()),
			t.UserID,
		).Scan(&available)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return hrvstr.CreditAccount{}, fmt.Errorf("hrvstr/postgres: balance check: %w", err)
		}
		return hrvstr.CreditAccount{}, &hrvstr.InsufficientCreditsError{Required: t.Amount, Available: available}
	}
	if err != nil {
		return hrvstr.CreditAccount{}, fmt.Errorf("hrvstr/postgres: debit: %w", err)
	}

	t.Action = hrvstr.TxDebit
	if err := s.insertTx(ctx, dbtx, t, account.Remaining()); err != nil {
		return hrvstr.CreditAccount{}, err
	}
	if err := dbtx.Commit(ctx); err != nil {
		return hrvstr.CreditAccount{}, fmt.Errorf("hrvstr/postgres: commit: %w", err)
	}
	return account, nil
}

// Credit grants credits; reversals undo a debit's consumption while
// purchases grow the purchased pool.
func (s *Ledger) Credit(ctx context.Context, t hrvstr.CreditTransaction) (hrvstr.CreditAccount, error) {
	if t.Amount <= 0 {
		return hrvstr.CreditAccount{}, fmt.Errorf("hrvstr/postgres: credit amount must be positive")
	}

	dbtx, err := s.pool.Begin(ctx)
	if err != nil {
		return hrvstr.CreditAccount{}, fmt.Errorf("hrvstr/postgres: begin tx: %w", err)
	}
	defer dbtx.Rollback(ctx)

	// A purchase may create the account.
	_, err = dbtx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (user_id, cycle_reset_at) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`,
			s.accountsTable()),
		t.UserID, nextMonthStartUTC(time.Now().UTC()),
	)
	if err != nil {
		return hrvstr.CreditAccount{}, fmt.Errorf("hrvstr/postgres: account upsert: %w", err)
	}

	var set string
	if t.Action == hrvstr.TxReversal {
		set = `used = GREATEST(used - $1, 0)`
	} else {
		t.Action = hrvstr.TxCredit
		set = `purchased = purchased + $1`
	}

	account := hrvstr.CreditAccount{UserID: t.UserID}
	err = dbtx.QueryRow(ctx,
		fmt.Sprintf(`UPDATE %s SET %s WHERE user_id = $2
			RETURNING tier, monthly_allocation, purchased, used, cycle_reset_at`, s.accountsTable(), set),
		t.Amount, t.UserID,
	).Scan(&account.Tier, &account.MonthlyAllocation, &account.Purchased, &account.Used, &account.CycleResetAt)
	if err != nil {
		return hrvstr.CreditAccount{}, fmt.Errorf("hrvstr/postgres: credit: %w", err)
	}

	if err := s.insertTx(ctx, dbtx, t, account.Remaining()); err != nil {
		return hrvstr.CreditAccount{}, err
	}
	if err := dbtx.Commit(ctx); err != nil {
		return hrvstr.CreditAccount{}, fmt.Errorf("hrvstr/postgres: commit: %w", err)
	}
	return account, nil
}

// Transactions lists a user's most recent ledger movements.
func (s *Ledger) Transactions(ctx context.Context, userID string, limit int) ([]hrvstr.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT id, action, amount, remaining_after, data_type, component, metadata, created_at
			FROM %s WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, s.txTable()),
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("hrvstr/postgres: transactions: %w", err)
	}
	defer rows.Close()

	var out []hrvstr.CreditTransaction
	for rows.Next() {
		tx := hrvstr.CreditTransaction{UserID: userID}
		var meta []byte
		if err := rows.Scan(&tx.ID, &tx.Action, &tx.Amount, &tx.RemainingAfter,
			&tx.DataType, &tx.Component, &meta, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("hrvstr/postgres: transactions: %w", err)
		}
		if tx.Metadata, err = unmarshalMeta(meta); err != nil {
			return nil, fmt.Errorf("hrvstr/postgres: transactions: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("hrvstr/postgres: transactions: %w", err)
	}
	return out, nil
}

func (s *Ledger) insertTx(ctx context.Context, dbtx pgx.Tx, t hrvstr.CreditTransaction, remaining int) error {
	meta, err := marshalMeta(t.Metadata)
	if err != nil {
		return fmt.Errorf("hrvstr/postgres: transaction log: %w", err)
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err = dbtx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, user_id, action, amount, remaining_after, data_type, component, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, s.txTable()),
		t.ID, t.UserID, t.Action, t.Amount, remaining, t.DataType, t.Component, meta, created,
	)
	if err != nil {
		return fmt.Errorf("hrvstr/postgres: transaction log: %w", err)
	}
	return nil
}

func marshalMeta(meta map[string]string) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	return json.Marshal(meta)
}

func unmarshalMeta(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var meta map[string]string
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func nextMonthStartUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
