//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	hrvstr "github.com/codebymv/HRVSTR-sub001"
	storepg "github.com/codebymv/HRVSTR-sub001/store/postgres"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "postgres://localhost:5432/hrvstr_test?sslmode=disable"
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("pgxpool: %v", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		t.Fatalf("postgres not available: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

// testPrefix gives every test its own tables.
func testPrefix(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	prefix := fmt.Sprintf("test_%s_", t.Name())

	ctx := context.Background()
	if err := storepg.EnsureSchema(ctx, pool, storepg.WithTablePrefix(prefix)); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(ctx, fmt.Sprintf(
			"DROP TABLE IF EXISTS %[1]scache, %[1]ssessions, %[1]saccounts, %[1]stransactions", prefix))
	})
	return prefix
}

func testEntry(user, fp string, ttl time.Duration) *hrvstr.CacheEntry {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &hrvstr.CacheEntry{
		Key: hrvstr.CacheKey{
			UserID:      user,
			DataType:    hrvstr.DataTickerSentiment,
			TimeRange:   hrvstr.Range1Week,
			Fingerprint: fp,
		},
		Payload:        []byte(`{"entities":[{"ticker":"AAPL","score":0.4}]}`),
		Tier:           hrvstr.TierPro,
		CreditsCharged: 5,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
}

func TestCachePutGetDelete(t *testing.T) {
	pool := newTestPool(t)
	prefix := testPrefix(t, pool)
	store := storepg.NewCacheStore(pool, storepg.WithTablePrefix(prefix))
	ctx := context.Background()

	entry := testEntry("u1", "fp1", time.Hour)
	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := store.Get(ctx, entry.Key, time.Now().UTC())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(got.Payload) != string(entry.Payload) {
		t.Fatalf("payload mismatch: %s", got.Payload)
	}
	if got.Tier != hrvstr.TierPro || got.CreditsCharged != 5 {
		t.Fatalf("unexpected entry: %+v", got)
	}

	if err := store.Delete(ctx, entry.Key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, ok, err = store.Get(ctx, entry.Key, time.Now().UTC())
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if ok {
		t.Fatal("expected miss after delete")
	}
}

func TestCacheExpiredIsMiss(t *testing.T) {
	pool := newTestPool(t)
	prefix := testPrefix(t, pool)
	store := storepg.NewCacheStore(pool, storepg.WithTablePrefix(prefix))
	ctx := context.Background()

	entry := testEntry("u1", "fp1", time.Minute)
	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("put: %v", err)
	}

	_, ok, err := store.Get(ctx, entry.Key, entry.ExpiresAt.Add(time.Second))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected expired row to read as a miss")
	}
}

func TestCacheUpsertReplaces(t *testing.T) {
	pool := newTestPool(t)
	prefix := testPrefix(t, pool)
	store := storepg.NewCacheStore(pool, storepg.WithTablePrefix(prefix))
	ctx := context.Background()

	entry := testEntry("u1", "fp1", time.Hour)
	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("first put: %v", err)
	}

	entry.Payload = []byte(`{"entities":[]}`)
	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("second put: %v", err)
	}

	got, ok, _ := store.Get(ctx, entry.Key, time.Now().UTC())
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got.Payload) != `{"entities":[]}` {
		t.Fatalf("expected replaced payload, got %s", got.Payload)
	}
}

func TestCacheDeleteMatching(t *testing.T) {
	pool := newTestPool(t)
	prefix := testPrefix(t, pool)
	store := storepg.NewCacheStore(pool, storepg.WithTablePrefix(prefix))
	ctx := context.Background()

	a := testEntry("u1", "fp1", time.Hour)
	b := testEntry("u1", "fp2", time.Hour)
	b.Key.DataType = hrvstr.DataMarketSentiment
	c := testEntry("u2", "fp3", time.Hour)
	for _, e := range []*hrvstr.CacheEntry{a, b, c} {
		if err := store.Put(ctx, e); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	n, err := store.DeleteMatching(ctx, "u1", hrvstr.DataTickerSentiment, "")
	if err != nil {
		t.Fatalf("delete matching: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}

	n, err = store.DeleteMatching(ctx, "u1", "", "")
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}

	// The other user's row survived.
	_, ok, _ := store.Get(ctx, c.Key, time.Now().UTC())
	if !ok {
		t.Fatal("expected u2 row to survive")
	}
}

func TestCacheStatusAndSweep(t *testing.T) {
	pool := newTestPool(t)
	prefix := testPrefix(t, pool)
	store := storepg.NewCacheStore(pool, storepg.WithTablePrefix(prefix))
	ctx := context.Background()

	live := testEntry("u1", "fp1", time.Hour)
	dead := testEntry("u1", "fp2", time.Millisecond)
	if err := store.Put(ctx, live); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, dead); err != nil {
		t.Fatalf("put: %v", err)
	}

	status, err := store.Status(ctx, "u1", time.Now().UTC().Add(time.Second))
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Entries != 1 {
		t.Fatalf("expected 1 live entry, got %d", status.Entries)
	}
	if status.ByDataType[hrvstr.DataTickerSentiment] != 1 {
		t.Fatalf("unexpected by-type counts: %+v", status.ByDataType)
	}

	n, err := store.DeleteExpired(ctx, time.Now().UTC().Add(time.Second))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept, got %d", n)
	}

	_, ok, _ := store.Get(ctx, live.Key, time.Now().UTC())
	if !ok {
		t.Fatal("sweep must not remove live rows")
	}
}

func TestSessionActivePicksMostRecent(t *testing.T) {
	pool := newTestPool(t)
	prefix := testPrefix(t, pool)
	store := storepg.NewSessionStore(pool, storepg.WithTablePrefix(prefix))
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	old := &hrvstr.UnlockSession{
		ID: "s1", UserID: "u1", Component: hrvstr.ComponentSentiment,
		Tier: hrvstr.TierPro, CreditsCharged: 5,
		UnlockedAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour),
	}
	recent := &hrvstr.UnlockSession{
		ID: "s2", UserID: "u1", Component: hrvstr.ComponentSentiment,
		Tier: hrvstr.TierPro, CreditsCharged: 5,
		UnlockedAt: now, ExpiresAt: now.Add(2 * time.Hour),
	}
	for _, s := range []*hrvstr.UnlockSession{old, recent} {
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	got, ok, err := store.Active(ctx, "u1", hrvstr.ComponentSentiment, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if !ok {
		t.Fatal("expected an active session")
	}
	if got.ID != "s2" {
		t.Fatalf("expected most recent session, got %s", got.ID)
	}

	// Other scopes see nothing.
	_, ok, _ = store.Active(ctx, "u1", hrvstr.ComponentFilings, now)
	if ok {
		t.Fatal("expected no session for other component")
	}
}

func TestSessionExpiryAndSweep(t *testing.T) {
	pool := newTestPool(t)
	prefix := testPrefix(t, pool)
	store := storepg.NewSessionStore(pool, storepg.WithTablePrefix(prefix))
	ctx := context.Background()

	now := time.Now().UTC()
	sess := &hrvstr.UnlockSession{
		ID: "s1", UserID: "u1", Component: hrvstr.ComponentSentiment,
		Tier: hrvstr.TierFree, UnlockedAt: now, ExpiresAt: now.Add(time.Minute),
	}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, ok, _ := store.Active(ctx, "u1", hrvstr.ComponentSentiment, now.Add(2*time.Minute))
	if ok {
		t.Fatal("expected expired session to be inactive")
	}

	n, err := store.DeleteExpired(ctx, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept, got %d", n)
	}
}

func TestLedgerProvisionAndBalance(t *testing.T) {
	pool := newTestPool(t)
	prefix := testPrefix(t, pool)
	ledger := storepg.NewLedger(pool, storepg.WithTablePrefix(prefix))
	ctx := context.Background()

	err := ledger.Provision(ctx, hrvstr.CreditAccount{
		UserID: "u1", Tier: hrvstr.TierElite, MonthlyAllocation: 2000,
	})
	if err != nil {
		t.Fatalf("provision: %v", err)
	}

	account, err := ledger.Balance(ctx, "u1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if account.Tier != hrvstr.TierElite || account.Remaining() != 2000 {
		t.Fatalf("unexpected account: %+v", account)
	}

	// Unknown users read as zero-valued accounts.
	account, err = ledger.Balance(ctx, "nobody")
	if err != nil {
		t.Fatalf("balance unknown: %v", err)
	}
	if account.Remaining() != 0 {
		t.Fatalf("expected empty balance, got %+v", account)
	}
}

func TestLedgerDebitAndInsufficient(t *testing.T) {
	pool := newTestPool(t)
	prefix := testPrefix(t, pool)
	ledger := storepg.NewLedger(pool, storepg.WithTablePrefix(prefix))
	ctx := context.Background()

	if err := ledger.Provision(ctx, hrvstr.CreditAccount{
		UserID: "u1", Tier: hrvstr.TierPro, MonthlyAllocation: 100,
	}); err != nil {
		t.Fatalf("provision: %v", err)
	}

	account, err := ledger.Debit(ctx, hrvstr.CreditTransaction{
		UserID: "u1", Amount: 30, DataType: hrvstr.DataTickerSentiment,
	})
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if account.Remaining() != 70 {
		t.Fatalf("expected remaining=70, got %d", account.Remaining())
	}

	_, err = ledger.Debit(ctx, hrvstr.CreditTransaction{UserID: "u1", Amount: 100})
	var ice *hrvstr.InsufficientCreditsError
	if !errors.As(err, &ice) {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if ice.Required != 100 || ice.Available != 70 {
		t.Fatalf("unexpected error detail: %+v", ice)
	}

	// Unknown accounts hold nothing.
	_, err = ledger.Debit(ctx, hrvstr.CreditTransaction{UserID: "ghost", Amount: 1})
	if !errors.As(err, &ice) || ice.Available != 0 {
		t.Fatalf("expected zero available for unknown user, got %v", err)
	}
}

func TestLedgerCreditAndReversal(t *testing.T) {
	pool := newTestPool(t)
	prefix := testPrefix(t, pool)
	ledger := storepg.NewLedger(pool, storepg.WithTablePrefix(prefix))
	ctx := context.Background()

	if err := ledger.Provision(ctx, hrvstr.CreditAccount{
		UserID: "u1", Tier: hrvstr.TierPro, MonthlyAllocation: 100,
	}); err != nil {
		t.Fatalf("provision: %v", err)
	}

	if _, err := ledger.Debit(ctx, hrvstr.CreditTransaction{UserID: "u1", Amount: 20}); err != nil {
		t.Fatalf("debit: %v", err)
	}

	account, err := ledger.Credit(ctx, hrvstr.CreditTransaction{
		UserID: "u1", Action: hrvstr.TxReversal, Amount: 20,
	})
	if err != nil {
		t.Fatalf("reversal: %v", err)
	}
	if account.Used != 0 || account.Remaining() != 100 {
		t.Fatalf("expected reversal to restore balance, got %+v", account)
	}

	// Over-reversal floors at zero.
	account, err = ledger.Credit(ctx, hrvstr.CreditTransaction{
		UserID: "u1", Action: hrvstr.TxReversal, Amount: 50,
	})
	if err != nil {
		t.Fatalf("over-reversal: %v", err)
	}
	if account.Used != 0 {
		t.Fatalf("expected used=0, got %d", account.Used)
	}

	// Purchases grow the purchased pool and create missing accounts.
	account, err = ledger.Credit(ctx, hrvstr.CreditTransaction{UserID: "u2", Amount: 40})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if account.Purchased != 40 || account.Remaining() != 40 {
		t.Fatalf("unexpected account after purchase: %+v", account)
	}
}

func TestLedgerMonthlyReset(t *testing.T) {
	pool := newTestPool(t)
	prefix := testPrefix(t, pool)
	ledger := storepg.NewLedger(pool, storepg.WithTablePrefix(prefix))
	ctx := context.Background()

	if err := ledger.Provision(ctx, hrvstr.CreditAccount{
		UserID: "u1", Tier: hrvstr.TierFree, MonthlyAllocation: 100,
	}); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if _, err := ledger.Debit(ctx, hrvstr.CreditTransaction{UserID: "u1", Amount: 100}); err != nil {
		t.Fatalf("debit: %v", err)
	}

	// Push the cycle boundary into the past.
	_, err := pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %saccounts SET cycle_reset_at = $1 WHERE user_id = 'u1'`, prefix),
		time.Now().UTC().Add(-time.Hour),
	)
	if err != nil {
		t.Fatalf("set cycle_reset_at: %v", err)
	}

	// The next debit triggers the reset and succeeds.
	account, err := ledger.Debit(ctx, hrvstr.CreditTransaction{UserID: "u1", Amount: 50})
	if err != nil {
		t.Fatalf("expected debit after reset, got: %v", err)
	}
	if account.Used != 50 || account.Remaining() != 50 {
		t.Fatalf("unexpected account after reset: %+v", account)
	}
	if !account.CycleResetAt.After(time.Now().UTC()) {
		t.Fatalf("expected future cycle boundary, got %s", account.CycleResetAt)
	}
}

func TestLedgerConcurrentDebitsNoOverspend(t *testing.T) {
	pool := newTestPool(t)
	prefix := testPrefix(t, pool)
	ledger := storepg.NewLedger(pool, storepg.WithTablePrefix(prefix))
	ctx := context.Background()

	if err := ledger.Provision(ctx, hrvstr.CreditAccount{
		UserID: "u1", Tier: hrvstr.TierPro, MonthlyAllocation: 10,
	}); err != nil {
		t.Fatalf("provision: %v", err)
	}

	var wg sync.WaitGroup
	var successCount atomic.Int64

	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Debit(ctx, hrvstr.CreditTransaction{UserID: "u1", Amount: 1})
			if err == nil {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != 10 {
		t.Fatalf("expected exactly 10 successful debits, got %d", successCount.Load())
	}

	account, err := ledger.Balance(ctx, "u1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if account.Remaining() != 0 {
		t.Fatalf("expected remaining=0, got %d", account.Remaining())
	}
}

func TestLedgerTransactionsNewestFirst(t *testing.T) {
	pool := newTestPool(t)
	prefix := testPrefix(t, pool)
	ledger := storepg.NewLedger(pool, storepg.WithTablePrefix(prefix))
	ctx := context.Background()

	if err := ledger.Provision(ctx, hrvstr.CreditAccount{
		UserID: "u1", Tier: hrvstr.TierPro, MonthlyAllocation: 100,
	}); err != nil {
		t.Fatalf("provision: %v", err)
	}

	base := time.Now().UTC().Add(-time.Minute)
	for i, amount := range []int{10, 20, 30} {
		_, err := ledger.Debit(ctx, hrvstr.CreditTransaction{
			UserID:    "u1",
			Amount:    amount,
			Metadata:  map[string]string{"seq": fmt.Sprint(i)},
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("debit %d: %v", i, err)
		}
	}

	txs, err := ledger.Transactions(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	if txs[0].Amount != 30 || txs[1].Amount != 20 {
		t.Fatalf("expected newest first, got %d then %d", txs[0].Amount, txs[1].Amount)
	}
	if txs[0].Action != hrvstr.TxDebit {
		t.Fatalf("unexpected action: %s", txs[0].Action)
	}
	if txs[0].RemainingAfter != 40 {
		t.Fatalf("expected remaining_after=40, got %d", txs[0].RemainingAfter)
	}
	if txs[0].Metadata["seq"] != "2" {
		t.Fatalf("unexpected metadata: %+v", txs[0].Metadata)
	}
}

func TestTablePrefixIsolation(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	if err := storepg.EnsureSchema(ctx, pool, storepg.WithTablePrefix("test_iso1_")); err != nil {
		t.Fatalf("ensure schema iso1: %v", err)
	}
	if err := storepg.EnsureSchema(ctx, pool, storepg.WithTablePrefix("test_iso2_")); err != nil {
		t.Fatalf("ensure schema iso2: %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(ctx, `DROP TABLE IF EXISTS
			test_iso1_cache, test_iso1_sessions, test_iso1_accounts, test_iso1_transactions,
			test_iso2_cache, test_iso2_sessions, test_iso2_accounts, test_iso2_transactions`)
	})

	l1 := storepg.NewLedger(pool, storepg.WithTablePrefix("test_iso1_"))
	l2 := storepg.NewLedger(pool, storepg.WithTablePrefix("test_iso2_"))

	if err := l1.Provision(ctx, hrvstr.CreditAccount{UserID: "u1", MonthlyAllocation: 100}); err != nil {
		t.Fatalf("provision l1: %v", err)
	}
	if err := l2.Provision(ctx, hrvstr.CreditAccount{UserID: "u1", MonthlyAllocation: 200}); err != nil {
		t.Fatalf("provision l2: %v", err)
	}

	a1, _ := l1.Balance(ctx, "u1")
	a2, _ := l2.Balance(ctx, "u1")
	if a1.Remaining() != 100 {
		t.Fatalf("l1 expected 100, got %d", a1.Remaining())
	}
	if a2.Remaining() != 200 {
		t.Fatalf("l2 expected 200, got %d", a2.Remaining())
	}
}
