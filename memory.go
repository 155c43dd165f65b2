package hrvstr

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// In-memory store implementations. They back single-process
// deployments and tests; multi-instance deployments use the postgres
// or redis stores, which delegate concurrency control to the backing
// storage.

// MemoryCacheStore is an in-memory CacheStore with lazy eviction.
type MemoryCacheStore struct {
	mu      sync.Mutex
	entries map[string]CacheEntry
}

var _ CacheStore = (*MemoryCacheStore)(nil)

// NewMemoryCacheStore creates an empty in-memory cache store.
func NewMemoryCacheStore() *MemoryCacheStore {
	return &MemoryCacheStore{entries: make(map[string]CacheEntry)}
}

func (s *MemoryCacheStore) Get(_ context.Context, key CacheKey, now time.Time) (*CacheEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key.String()]
	if !ok {
		return nil, false, nil
	}
	if entry.Expired(now) {
		delete(s.entries, key.String())
		return nil, false, nil
	}
	return &entry, true, nil
}

func (s *MemoryCacheStore) Put(_ context.Context, entry *CacheEntry) error {
	if !entry.ExpiresAt.After(entry.CreatedAt) {
		return fmt.Errorf("hrvstr: cache: entry expires before it is created")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Key.String()] = *entry
	return nil
}

func (s *MemoryCacheStore) Delete(_ context.Context, key CacheKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key.String())
	return nil
}

func (s *MemoryCacheStore) DeleteMatching(_ context.Context, userID string, dataType DataType, timeRange TimeRange) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for k, entry := range s.entries {
		if entry.Key.UserID != userID {
			continue
		}
		if dataType != "" && entry.Key.DataType != dataType {
			continue
		}
		if timeRange != "" && entry.Key.TimeRange != timeRange {
			continue
		}
		delete(s.entries, k)
		deleted++
	}
	return deleted, nil
}

func (s *MemoryCacheStore) Status(_ context.Context, userID string, now time.Time) (CacheStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := CacheStatus{
		UserID:     userID,
		ByDataType: make(map[DataType]int),
	}
	for _, entry := range s.entries {
		if entry.Key.UserID != userID || entry.Expired(now) {
			continue
		}
		status.Entries++
		status.ByDataType[entry.Key.DataType]++
		if status.NextExpiry.IsZero() || entry.ExpiresAt.Before(status.NextExpiry) {
			status.NextExpiry = entry.ExpiresAt
		}
	}
	return status, nil
}

func (s *MemoryCacheStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for k, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, k)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryCacheStore) Ping(context.Context) error { return nil }

// MemorySessionStore is an in-memory SessionStore.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[sessionScope][]UnlockSession
}

type sessionScope struct {
	userID    string
	component Component
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[sessionScope][]UnlockSession)}
}

func (s *MemorySessionStore) Create(_ context.Context, session *UnlockSession) error {
	if session.ID == "" || session.UserID == "" {
		return fmt.Errorf("hrvstr: session: id and user id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	scope := sessionScope{session.UserID, session.Component}
	s.sessions[scope] = append(s.sessions[scope], *session)
	return nil
}

func (s *MemorySessionStore) Active(_ context.Context, userID string, component Component, now time.Time) (*UnlockSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.sessions[sessionScope{userID, component}]

	var winner *UnlockSession
	for i := range list {
		sess := &list[i]
		if !sess.Active(now) {
			continue
		}
		// Most recently unlocked wins; earlier overlaps are ignored.
		if winner == nil || !sess.UnlockedAt.Before(winner.UnlockedAt) {
			winner = sess
		}
	}
	if winner == nil {
		return nil, false, nil
	}
	out := *winner
	return &out, true, nil
}

func (s *MemorySessionStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for scope, list := range s.sessions {
		kept := list[:0]
		for _, sess := range list {
			if sess.Active(now) {
				kept = append(kept, sess)
			} else {
				deleted++
			}
		}
		if len(kept) == 0 {
			delete(s.sessions, scope)
		} else {
			s.sessions[scope] = kept
		}
	}
	return deleted, nil
}

func (s *MemorySessionStore) Ping(context.Context) error { return nil }

// MemoryLedger is an in-memory CreditLedger with lazy monthly reset.
type MemoryLedger struct {
	mu       sync.Mutex
	accounts map[string]*CreditAccount
	txs      map[string][]CreditTransaction
}

var (
	_ CreditLedger = (*MemoryLedger)(nil)
	_ Provisioner  = (*MemoryLedger)(nil)
)

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts: make(map[string]*CreditAccount),
		txs:      make(map[string][]CreditTransaction),
	}
}

// Provision creates or replaces an account with a fresh cycle.
func (s *MemoryLedger) Provision(_ context.Context, account CreditAccount) error {
	if account.UserID == "" {
		return fmt.Errorf("hrvstr: ledger: user id is required")
	}
	if account.CycleResetAt.IsZero() {
		account.CycleResetAt = nextMonthStartUTC(time.Now())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.UserID] = &account
	return nil
}

func (s *MemoryLedger) Balance(_ context.Context, userID string) (CreditAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[userID]
	if !ok {
		// Unknown users get a zero balance, which rejects any debit.
		return CreditAccount{UserID: userID}, nil
	}
	s.maybeReset(account)
	return *account, nil
}

func (s *MemoryLedger) Debit(_ context.Context, tx CreditTransaction) (CreditAccount, error) {
	if tx.Amount <= 0 {
		return CreditAccount{}, fmt.Errorf("hrvstr: ledger: debit amount must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[tx.UserID]
	if !ok {
		return CreditAccount{}, &InsufficientCreditsError{Required: tx.Amount, Available: 0}
	}
	s.maybeReset(account)

	if remaining := account.Remaining(); remaining < tx.Amount {
		return CreditAccount{}, &InsufficientCreditsError{Required: tx.Amount, Available: remaining}
	}
	account.Used += tx.Amount

	tx.Action = TxDebit
	s.appendTx(account, tx)
	return *account, nil
}

func (s *MemoryLedger) Credit(_ context.Context, tx CreditTransaction) (CreditAccount, error) {
	if tx.Amount <= 0 {
		return CreditAccount{}, fmt.Errorf("hrvstr: ledger: credit amount must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[tx.UserID]
	if !ok {
		// A purchase creates the account.
		account = &CreditAccount{UserID: tx.UserID, CycleResetAt: nextMonthStartUTC(time.Now())}
		s.accounts[tx.UserID] = account
	}
	s.maybeReset(account)

	if tx.Action == TxReversal {
		// A reversal undoes a debit's consumption.
		account.Used -= tx.Amount
		if account.Used < 0 {
			account.Used = 0
		}
	} else {
		tx.Action = TxCredit
		account.Purchased += tx.Amount
	}

	s.appendTx(account, tx)
	return *account, nil
}

func (s *MemoryLedger) Transactions(_ context.Context, userID string, limit int) ([]CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.txs[userID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}

	// Stored oldest first; returned newest first.
	out := make([]CreditTransaction, 0, limit)
	for i := len(all) - 1; i >= len(all)-limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *MemoryLedger) Ping(context.Context) error { return nil }

func (s *MemoryLedger) appendTx(account *CreditAccount, tx CreditTransaction) {
	tx.RemainingAfter = account.Remaining()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	s.txs[account.UserID] = append(s.txs[account.UserID], tx)
}

func (s *MemoryLedger) maybeReset(account *CreditAccount) {
	now := time.Now().UTC()
	if !account.CycleResetAt.IsZero() && now.After(account.CycleResetAt) {
		account.Used = 0
		account.CycleResetAt = nextMonthStartUTC(now)
	}
}

func nextMonthStartUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}
