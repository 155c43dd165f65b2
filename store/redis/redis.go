// Package redis provides Redis-backed stores for hrvstr.
//
// Cache entries and unlock sessions are plain keys with server-side
// expiry; credit accounts are hashes mutated through atomic Lua
// scripts. This makes the stores safe for multi-instance deployments.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	hrvstr "github.com/codebymv/HRVSTR-sub001"
)

// txLogCap bounds the per-user transaction log length.
const txLogCap = 1000

// base carries the client and key naming shared by the three stores.
type base struct {
	client    goredis.Cmdable
	keyPrefix string
}

// Option configures the stores.
type Option func(*base)

// WithKeyPrefix sets the Redis key prefix (default "hrvstr:").
func WithKeyPrefix(prefix string) Option {
	return func(b *base) { b.keyPrefix = prefix }
}

func newBase(client goredis.Cmdable, opts []Option) base {
	b := base{client: client, keyPrefix: "hrvstr:"}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b base) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("hrvstr/redis: ping: %w", err)
	}
	return nil
}

// scanKeys walks every key matching pattern and hands each page to fn.
func (b base) scanKeys(ctx context.Context, pattern string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// CacheStore is a Redis-backed hrvstr.CacheStore. Entries expire
// server-side; DeleteExpired is a no-op kept for interface parity.
type CacheStore struct {
	base
}

var _ hrvstr.CacheStore = (*CacheStore)(nil)

// NewCacheStore creates a Redis-backed cache store.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func NewCacheStore(client goredis.Cmdable, opts ...Option) *CacheStore {
	return &CacheStore{base: newBase(client, opts)}
}

func (s *CacheStore) cacheKey(key hrvstr.CacheKey) string {
	return s.keyPrefix + "cache:" + key.String()
}

type cacheEnvelope struct {
	Payload        []byte      `json:"payload"`
	Tier           hrvstr.Tier `json:"tier"`
	CreditsCharged int         `json:"credits_charged"`
	CreatedAt      time.Time   `json:"created_at"`
	ExpiresAt      time.Time   `json:"expires_at"`
}

// Get returns the entry for key, treating expired rows as absent.
func (s *CacheStore) Get(ctx context.Context, key hrvstr.CacheKey, now time.Time) (*hrvstr.CacheEntry, bool, error) {
	raw, err := s.client.Get(ctx, s.cacheKey(key)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("hrvstr/redis: cache get: %w", err)
	}

	var env cacheEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false, fmt.Errorf("hrvstr/redis: cache get: %w", err)
	}
	if !env.ExpiresAt.After(now) {
		return nil, false, nil
	}

	return &hrvstr.CacheEntry{
		Key:            key,
		Payload:        env.Payload,
		Tier:           env.Tier,
		CreditsCharged: env.CreditsCharged,
		CreatedAt:      env.CreatedAt,
		ExpiresAt:      env.ExpiresAt,
	}, true, nil
}

// Put upserts the entry with a TTL matching its expiry; the last write
// wins on key collisions.
func (s *CacheStore) Put(ctx context.Context, entry *hrvstr.CacheEntry) error {
	if !entry.ExpiresAt.After(entry.CreatedAt) {
		return fmt.Errorf("hrvstr/redis: cache put: entry expires before it is created")
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("hrvstr/redis: cache put: entry already expired")
	}

	raw, err := json.Marshal(cacheEnvelope{
		Payload:        entry.Payload,
		Tier:           entry.Tier,
		CreditsCharged: entry.CreditsCharged,
		CreatedAt:      entry.CreatedAt,
		ExpiresAt:      entry.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("hrvstr/redis: cache put: %w", err)
	}

	if err := s.client.Set(ctx, s.cacheKey(entry.Key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("hrvstr/redis: cache put: %w", err)
	}
	return nil
}

func (s *CacheStore) Delete(ctx context.Context, key hrvstr.CacheKey) error {
	if err := s.client.Del(ctx, s.cacheKey(key)).Err(); err != nil {
		return fmt.Errorf("hrvstr/redis: cache delete: %w", err)
	}
	return nil
}

func (s *CacheStore) DeleteMatching(ctx context.Context, userID string, dataType hrvstr.DataType, timeRange hrvstr.TimeRange) (int64, error) {
	dt := "*"
	if dataType != "" {
		dt = string(dataType)
	}
	tr := "*"
	if timeRange != "" {
		tr = string(timeRange)
	}
	pattern := s.keyPrefix + "cache:" + userID + ":" + dt + ":" + tr + ":*"

	var removed int64
	err := s.scanKeys(ctx, pattern, func(keys []string) error {
		n, err := s.client.Del(ctx, keys...).Result()
		removed += n
		return err
	})
	if err != nil {
		return removed, fmt.Errorf("hrvstr/redis: cache clear: %w", err)
	}
	return removed, nil
}

func (s *CacheStore) Status(ctx context.Context, userID string, now time.Time) (hrvstr.CacheStatus, error) {
	status := hrvstr.CacheStatus{
		UserID:     userID,
		ByDataType: make(map[hrvstr.DataType]int),
	}
	prefix := s.keyPrefix + "cache:"

	err := s.scanKeys(ctx, prefix+userID+":*", func(keys []string) error {
		for _, key := range keys {
			ttl, err := s.client.PTTL(ctx, key).Result()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				// Expired or removed between scan and lookup.
				continue
			}

			parts := strings.SplitN(strings.TrimPrefix(key, prefix), ":", 4)
			if len(parts) != 4 {
				continue
			}
			status.Entries++
			status.ByDataType[hrvstr.DataType(parts[1])]++

			expiry := now.Add(ttl)
			if status.NextExpiry.IsZero() || expiry.Before(status.NextExpiry) {
				status.NextExpiry = expiry
			}
		}
		return nil
	})
	if err != nil {
		return status, fmt.Errorf("hrvstr/redis: cache status: %w", err)
	}
	return status, nil
}

// DeleteExpired is a no-op: Redis evicts expired keys itself.
func (s *CacheStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

// SessionStore is a Redis-backed hrvstr.SessionStore. Sessions expire
// server-side; DeleteExpired is a no-op kept for interface parity.
type SessionStore struct {
	base
}

var _ hrvstr.SessionStore = (*SessionStore)(nil)

// NewSessionStore creates a Redis-backed session store.
func NewSessionStore(client goredis.Cmdable, opts ...Option) *SessionStore {
	return &SessionStore{base: newBase(client, opts)}
}

func (s *SessionStore) sessionKey(userID string, component hrvstr.Component, id string) string {
	return s.keyPrefix + "session:" + userID + ":" + string(component) + ":" + id
}

type sessionEnvelope struct {
	ID             string            `json:"id"`
	Tier           hrvstr.Tier       `json:"tier"`
	CreditsCharged int               `json:"credits_charged"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	UnlockedAt     time.Time         `json:"unlocked_at"`
	ExpiresAt      time.Time         `json:"expires_at"`
}

// Create persists a new unlock session with a TTL matching its expiry.
func (s *SessionStore) Create(ctx context.Context, session *hrvstr.UnlockSession) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("hrvstr/redis: session create: session already expired")
	}

	raw, err := json.Marshal(sessionEnvelope{
		ID:             session.ID,
		Tier:           session.Tier,
		CreditsCharged: session.CreditsCharged,
		Metadata:       session.Metadata,
		UnlockedAt:     session.UnlockedAt,
		ExpiresAt:      session.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("hrvstr/redis: session create: %w", err)
	}

	key := s.sessionKey(session.UserID, session.Component, session.ID)
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("hrvstr/redis: session create: %w", err)
	}
	return nil
}

// Active returns the most recently unlocked live session for the user
// and component.
func (s *SessionStore) Active(ctx context.Context, userID string, component hrvstr.Component, now time.Time) (*hrvstr.UnlockSession, bool, error) {
	var winner *hrvstr.UnlockSession

	pattern := s.sessionKey(userID, component, "*")
	err := s.scanKeys(ctx, pattern, func(keys []string) error {
		for _, key := range keys {
			raw, err := s.client.Get(ctx, key).Bytes()
			if err == goredis.Nil {
				continue
			}
			if err != nil {
				return err
			}

			var env sessionEnvelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return err
			}
			if !env.ExpiresAt.After(now) {
				continue
			}
			if winner != nil && env.UnlockedAt.Before(winner.UnlockedAt) {
				continue
			}
			winner = &hrvstr.UnlockSession{
				ID:             env.ID,
				UserID:         userID,
				Component:      component,
				Tier:           env.Tier,
				CreditsCharged: env.CreditsCharged,
				Metadata:       env.Metadata,
				UnlockedAt:     env.UnlockedAt,
				ExpiresAt:      env.ExpiresAt,
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("hrvstr/redis: session lookup: %w", err)
	}
	return winner, winner != nil, nil
}

// DeleteExpired is a no-op: Redis evicts expired keys itself.
func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

// Ledger is a Redis-backed hrvstr.CreditLedger. Accounts are hashes
// mutated through Lua scripts so the balance check and the write are
// one atomic step.
type Ledger struct {
	base
}

var (
	_ hrvstr.CreditLedger = (*Ledger)(nil)
	_ hrvstr.Provisioner  = (*Ledger)(nil)
)

// NewLedger creates a Redis-backed credit ledger.
func NewLedger(client goredis.Cmdable, opts ...Option) *Ledger {
	return &Ledger{base: newBase(client, opts)}
}

func (s *Ledger) accountKey(userID string) string {
	return s.keyPrefix + "account:" + userID
}

func (s *Ledger) txLogKey(userID string) string {
	return s.keyPrefix + "txlog:" + userID
}

// debitScript atomically consumes credits.
// KEYS[1] = account hash key
// ARGV[1] = amount
// ARGV[2] = now (unix seconds)
// ARGV[3] = next_cycle (unix seconds)
//
// Returns:
//
//	{1, allocation, purchased, used, reset_at} = debited OK
//	{0, available}                             = insufficient credits
//	{-1, 0}                                    = account not found
var debitScript = goredis.NewScript(`
local account_key = KEYS[1]
local amount = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local next_cycle = tonumber(ARGV[3])

if redis.call("EXISTS", account_key) == 0 then
    return {-1, 0}
end

-- Lazy monthly reset
local reset_at = tonumber(redis.call("HGET", account_key, "cycle_reset_at") or "0")
if now >= reset_at then
    redis.call("HSET", account_key, "used", "0", "cycle_reset_at", tostring(next_cycle))
end

local allocation = tonumber(redis.call("HGET", account_key, "monthly_allocation") or "0")
local purchased = tonumber(redis.call("HGET", account_key, "purchased") or "0")
local used = tonumber(redis.call("HGET", account_key, "used") or "0")
local available = allocation + purchased - used
if available < 0 then
    available = 0
end

if amount > available then
    return {0, available}
end

used = redis.call("HINCRBY", account_key, "used", amount)
reset_at = tonumber(redis.call("HGET", account_key, "cycle_reset_at"))
return {1, allocation, purchased, used, reset_at}
`)

// creditScript atomically grants credits, creating the account when
// missing. Reversals undo a debit's consumption; purchases grow the
// purchased pool.
// KEYS[1] = account hash key
// ARGV[1] = amount
// ARGV[2] = reversal ("1" or "0")
// ARGV[3] = next_cycle (unix seconds)
//
// Returns {allocation, purchased, used, reset_at}.
var creditScript = goredis.NewScript(`
local account_key = KEYS[1]
local amount = tonumber(ARGV[1])
local reversal = ARGV[2]
local next_cycle = tonumber(ARGV[3])

if redis.call("EXISTS", account_key) == 0 then
    redis.call("HSET", account_key,
        "tier", "free",
        "monthly_allocation", "0",
        "purchased", "0",
        "used", "0",
        "cycle_reset_at", tostring(next_cycle))
end

if reversal == "1" then
    local used = tonumber(redis.call("HGET", account_key, "used") or "0") - amount
    if used < 0 then
        used = 0
    end
    redis.call("HSET", account_key, "used", tostring(used))
else
    redis.call("HINCRBY", account_key, "purchased", amount)
end

local allocation = tonumber(redis.call("HGET", account_key, "monthly_allocation") or "0")
local purchased = tonumber(redis.call("HGET", account_key, "purchased") or "0")
local used = tonumber(redis.call("HGET", account_key, "used") or "0")
local reset_at = tonumber(redis.call("HGET", account_key, "cycle_reset_at") or "0")
return {allocation, purchased, used, reset_at}
`)

// Provision creates or replaces an account with a fresh cycle.
func (s *Ledger) Provision(ctx context.Context, account hrvstr.CreditAccount) error {
	if account.UserID == "" {
		return fmt.Errorf("hrvstr/redis: provision: user id is required")
	}
	if account.CycleResetAt.IsZero() {
		account.CycleResetAt = nextMonthStartUTC(time.Now())
	}
	if account.Tier == "" {
		account.Tier = hrvstr.TierFree
	}

	err := s.client.HSet(ctx, s.accountKey(account.UserID),
		"tier", string(account.Tier),
		"monthly_allocation", account.MonthlyAllocation,
		"purchased", account.Purchased,
		"used", account.Used,
		"cycle_reset_at", account.CycleResetAt.UTC().Unix(),
	).Err()
	if err != nil {
		return fmt.Errorf("hrvstr/redis: provision: %w", err)
	}
	return nil
}

// Balance returns the account for a user, zero-valued when unknown.
func (s *Ledger) Balance(ctx context.Context, userID string) (hrvstr.CreditAccount, error) {
	vals, err := s.client.HMGet(ctx, s.accountKey(userID),
		"tier", "monthly_allocation", "purchased", "used", "cycle_reset_at").Result()
	if err != nil {
		return hrvstr.CreditAccount{}, fmt.Errorf("hrvstr/redis: balance: %w", err)
	}

	// Account not found.
	if vals[0] == nil {
		return hrvstr.CreditAccount{UserID: userID}, nil
	}

	allocation, _ := strconv.Atoi(vals[1].(string))
	purchased, _ := strconv.Atoi(vals[2].(string))
	used, _ := strconv.Atoi(vals[3].(string))
	resetAt, _ := strconv.ParseInt(vals[4].(string), 10, 64)

	account := hrvstr.CreditAccount{
		UserID:            userID,
		Tier:              hrvstr.Tier(vals[0].(string)),
		MonthlyAllocation: allocation,
		Purchased:         purchased,
		Used:              used,
		CycleResetAt:      time.Unix(resetAt, 0).UTC(),
	}

	// Lazy reset check (read-only; the debit script performs the write).
	now := time.Now().UTC()
	if !now.Before(account.CycleResetAt) {
		account.Used = 0
		account.CycleResetAt = nextMonthStartUTC(now)
	}
	return account, nil
}

// Debit atomically consumes credits through the debit script; two
// racing debits can never both succeed against one affordable amount.
func (s *Ledger) Debit(ctx context.Context, t hrvstr.CreditTransaction) (hrvstr.CreditAccount, error) {
	if t.Amount <= 0 {
		return hrvstr.CreditAccount{}, fmt.Errorf("hrvstr/redis: debit amount must be positive")
	}

	now := time.Now().UTC()
	vals, err := debitScript.Run(ctx, s.client,
		[]string{s.accountKey(t.UserID)},
		t.Amount, now.Unix(), nextMonthStartUTC(now).Unix(),
	).Int64Slice()
	if err != nil {
		return hrvstr.CreditAccount{}, fmt.Errorf("hrvstr/redis: debit: %w", err)
	}
	if len(vals) < 2 {
		return hrvstr.CreditAccount{}, fmt.Errorf("hrvstr/redis: unexpected debit result: %v", vals)
	}

	switch vals[0] {
	case 1:
		account := hrvstr.CreditAccount{
			UserID:            t.UserID,
			MonthlyAllocation: int(vals[1]),
			Purchased:         int(vals[2]),
			Used:              int(vals[3]),
			CycleResetAt:      time.Unix(vals[4], 0).UTC(),
		}
		if tier, err := s.client.HGet(ctx, s.accountKey(t.UserID), "tier").Result(); err == nil {
			account.Tier = hrvstr.Tier(tier)
		}

		t.Action = hrvstr.TxDebit
		if err := s.appendLog(ctx, t, account.Remaining()); err != nil {
			return hrvstr.CreditAccount{}, err
		}
		return account, nil
	case 0:
		return hrvstr.CreditAccount{}, &hrvstr.InsufficientCreditsError{Required: t.Amount, Available: int(vals[1])}
	case -1:
		return hrvstr.CreditAccount{}, &hrvstr.InsufficientCreditsError{Required: t.Amount, Available: 0}
	default:
		return hrvstr.CreditAccount{}, fmt.Errorf("hrvstr/redis: unexpected debit result: %d", vals[0])
	}
}

// Credit grants credits through the credit script.
func (s *Ledger) Credit(ctx context.Context, t hrvstr.CreditTransaction) (hrvstr.CreditAccount, error) {
	if t.Amount <= 0 {
		return hrvstr.CreditAccount{}, fmt.Errorf("hrvstr/redis: credit amount must be positive")
	}

	reversal := "0"
	if t.Action == hrvstr.TxReversal {
		reversal = "1"
	} else {
		t.Action = hrvstr.TxCredit
	}

	now := time.Now().UTC()
	vals, err := creditScript.Run(ctx, s.client,
		[]string{s.accountKey(t.UserID)},
		t.Amount, reversal, nextMonthStartUTC(now).Unix(),
	).Int64Slice()
	if err != nil {
		return hrvstr.CreditAccount{}, fmt.Errorf("hrvstr/redis: credit: %w", err)
	}
	if len(vals) != 4 {
		return hrvstr.CreditAccount{}, fmt.Errorf("hrvstr/redis: unexpected credit result: %v", vals)
	}

	account := hrvstr.CreditAccount{
		UserID:            t.UserID,
		MonthlyAllocation: int(vals[0]),
		Purchased:         int(vals[1]),
		Used:              int(vals[2]),
		CycleResetAt:      time.Unix(vals[3], 0).UTC(),
	}
	if tier, err := s.client.HGet(ctx, s.accountKey(t.UserID), "tier").Result(); err == nil {
		account.Tier = hrvstr.Tier(tier)
	}

	if err := s.appendLog(ctx, t, account.Remaining()); err != nil {
		return hrvstr.CreditAccount{}, err
	}
	return account, nil
}

// Transactions lists a user's most recent ledger movements.
func (s *Ledger) Transactions(ctx context.Context, userID string, limit int) ([]hrvstr.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}

	raw, err := s.client.LRange(ctx, s.txLogKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("hrvstr/redis: transactions: %w", err)
	}

	out := make([]hrvstr.CreditTransaction, 0, len(raw))
	for _, item := range raw {
		var tx hrvstr.CreditTransaction
		if err := json.Unmarshal([]byte(item), &tx); err != nil {
			return nil, fmt.Errorf("hrvstr/redis: transactions: %w", err)
		}
		out = append(out, tx)
	}
	return out, nil
}

// appendLog records a transaction. It follows the balance script, so
// a failure between the two loses the log line, never the balance.
func (s *Ledger) appendLog(ctx context.Context, t hrvstr.CreditTransaction, remaining int) error {
	t.RemainingAfter = remaining
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("hrvstr/redis: transaction log: %w", err)
	}

	key := s.txLogKey(t.UserID)
	if err := s.client.LPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("hrvstr/redis: transaction log: %w", err)
	}
	if err := s.client.LTrim(ctx, key, 0, txLogCap-1).Err(); err != nil {
		return fmt.Errorf("hrvstr/redis: transaction log: %w", err)
	}
	return nil
}

func nextMonthStartUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
