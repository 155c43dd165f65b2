package hrvstr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// storageRetryDelay is the pause before the single retry of a
	// failed cache/session/ledger call.
	storageRetryDelay = 100 * time.Millisecond

	// defaultFetchTimeout bounds one source fetch attempt when the
	// source config does not set its own timeout.
	defaultFetchTimeout = 15 * time.Second
)

// Arbiter is the data-access decision point. It composes the session
// tracker, cache store, credit ledger, rate limiter and source
// fetchers into the single resolution procedure exposed as Resolve.
type Arbiter struct {
	cfg      Config
	fetchers map[string]SourceFetcher
	byType   map[DataType][]SourceFetcher
	cache    CacheStore
	sessions SessionStore
	ledger   CreditLedger
	agg      *Aggregator
	limiter  *RateLimiter
	health   *HealthTracker
	meter    Meter
	logger   *slog.Logger
	now      func() time.Time

	cacheHits      atomic.Int64
	cacheMisses    atomic.Int64
	sessionHits    atomic.Int64
	fetches        atomic.Int64
	fetchFailures  atomic.Int64
	creditsCharged atomic.Int64
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithCacheStore sets the cache store.
func WithCacheStore(s CacheStore) Option {
	return func(a *Arbiter) { a.cache = s }
}

// WithSessionStore sets the session store.
func WithSessionStore(s SessionStore) Option {
	return func(a *Arbiter) { a.sessions = s }
}

// WithLedger sets the credit ledger.
func WithLedger(l CreditLedger) Option {
	return func(a *Arbiter) { a.ledger = l }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(a *Arbiter) { a.meter = m }
}

// WithRateLimiter sets the per-source rate limiter.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(a *Arbiter) { a.limiter = rl }
}

// WithHealthTracker sets the per-source health tracker.
func WithHealthTracker(h *HealthTracker) Option {
	return func(a *Arbiter) { a.health = h }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Arbiter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Arbiter) { a.now = now }
}

// New creates an Arbiter with the given config and source fetchers.
// Default components (in-memory stores, NoopMeter-equivalent metering,
// slog.Default) are used unless overridden via options.
func New(cfg Config, fetchers []SourceFetcher, opts ...Option) (*Arbiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(fetchers) == 0 {
		return nil, fmt.Errorf("hrvstr: at least one source fetcher is required")
	}

	byName := make(map[string]SourceFetcher, len(fetchers))
	for _, f := range fetchers {
		byName[f.Name()] = f
	}

	a := &Arbiter{
		cfg:      cfg,
		fetchers: byName,
		byType:   fetchersByType(byName),
		health:   NewHealthTracker(),
		logger:   slog.Default(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(a)
	}

	// Apply defaults after options.
	if a.cache == nil {
		a.cache = NewMemoryCacheStore()
	}
	if a.sessions == nil {
		a.sessions = NewMemorySessionStore()
	}
	if a.ledger == nil {
		a.ledger = NewMemoryLedger()
	}
	if a.meter == nil {
		a.meter = noopMeter{}
	}
	if a.limiter == nil {
		a.limiter = NewRateLimiter()
		for _, src := range cfg.Sources {
			if src.MaxRequests > 0 {
				a.limiter.SetLimit(src.Name, RateLimit{
					Requests: src.MaxRequests,
					Window:   time.Duration(src.WindowSeconds) * time.Second,
				})
			}
		}
	}

	aggOpts := []AggregatorOption{WithAggregatorLogger(a.logger)}
	if cfg.WeightedAggregation {
		weights := cfg.ReliabilityWeights()
		if weights == nil {
			weights = DefaultReliabilityWeights()
		}
		aggOpts = append(aggOpts, WithReliabilityWeights(weights))
	}
	a.agg = NewAggregator(aggOpts...)

	return a, nil
}

// Resolve runs the access decision procedure for one request: session
// check, cache check, tier limits, credit debit, rate-limited fetch,
// cache write — strictly in that order, short-circuiting at the first
// step that can answer.
func (a *Arbiter) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	start := time.Now()
	res, err := a.resolve(ctx, req)

	ev := ResolveEvent{
		UserID:    req.UserID,
		Tier:      req.Tier,
		DataType:  req.DataType,
		TimeRange: req.TimeRange,
		Duration:  time.Since(start),
	}
	switch {
	case err != nil && IsFatal(err):
		ev.Outcome = OutcomeDenied
		ev.Code = CodeOf(err)
	case err != nil:
		ev.Outcome = OutcomeError
		ev.Code = CodeOf(err)
	case res.FromCache:
		ev.Outcome = OutcomeCacheHit
	case res.SessionActive:
		ev.Outcome = OutcomeSessionHit
		ev.CreditsUsed = res.CreditsUsed
	default:
		ev.Outcome = OutcomeFetched
		ev.CreditsUsed = res.CreditsUsed
	}
	a.meter.OnResolve(ev)

	return res, err
}

func (a *Arbiter) resolve(ctx context.Context, req Request) (*Resolution, error) {
	component, err := a.validate(&req)
	if err != nil {
		return nil, a.fail(req, err)
	}

	now := a.now()
	key := CacheKey{
		UserID:      req.UserID,
		DataType:    req.DataType,
		TimeRange:   req.TimeRange,
		Fingerprint: Fingerprint(req.Params),
	}

	// Session first: even a force refresh fetches free under an
	// active unlock.
	var sess *UnlockSession
	var sessionActive bool
	err = a.withRetry(ctx, "session lookup", func() error {
		var err error
		sess, sessionActive, err = a.sessions.Active(ctx, req.UserID, component, now)
		return err
	})
	if err != nil {
		return nil, a.fail(req, err)
	}

	// A cache hit short-circuits billing regardless of session state.
	// Force refresh never reads cache.
	if !req.ForceRefresh {
		var entry *CacheEntry
		var hit bool
		err = a.withRetry(ctx, "cache read", func() error {
			var err error
			entry, hit, err = a.cache.Get(ctx, key, a.now())
			return err
		})
		if err != nil {
			return nil, a.fail(req, err)
		}
		if hit {
			a.cacheHits.Add(1)
			return &Resolution{
				Payload:            entry.Payload,
				FromCache:          true,
				SessionActive:      sessionActive,
				ExpiresAt:          entry.ExpiresAt,
				SecondsUntilExpiry: int64(entry.TTLRemaining(a.now()).Seconds()),
				Fingerprint:        key.Fingerprint,
			}, nil
		}
		a.cacheMisses.Add(1)
	}

	// An active session already paid for access: fetch free.
	if sessionActive {
		a.sessionHits.Add(1)
		a.logger.Debug("session grants free fetch",
			"user", req.UserID,
			"component", component,
			"session", sess.ID)

		payload, expiresAt, err := a.fetchAndStore(ctx, req, key, 0)
		if err != nil {
			return nil, a.fail(req, err)
		}
		return &Resolution{
			Payload:            payload,
			FreshlyFetched:     true,
			SessionActive:      true,
			ExpiresAt:          expiresAt,
			SecondsUntilExpiry: int64(expiresAt.Sub(a.now()).Seconds()),
			Fingerprint:        key.Fingerprint,
		}, nil
	}

	// Charged path: gate, price, debit, fetch.
	if min := req.DataType.MinTier(); !req.Tier.AtLeast(min) {
		return nil, a.fail(req, fmt.Errorf("%w: %s requires tier %s or above",
			ErrTierRestriction, req.DataType, min))
	}
	if limit := a.cfg.MaxTickers(req.Tier); len(req.Params.Tickers) > limit {
		return nil, a.fail(req, &TierLimitError{
			Tier:      req.Tier,
			Requested: len(req.Params.Tickers),
			Limit:     limit,
		})
	}
	if len(a.byType[req.DataType]) == 0 {
		return nil, a.fail(req, fmt.Errorf("%w: no source covers %s",
			ErrSourceUnavailable, req.DataType))
	}

	cost := a.cfg.CostOf(req.Tier, req.DataType, req.TimeRange)
	var debitID string
	if cost > 0 {
		var account CreditAccount
		err = a.withRetry(ctx, "balance read", func() error {
			var err error
			account, err = a.ledger.Balance(ctx, req.UserID)
			return err
		})
		if err != nil {
			return nil, a.fail(req, err)
		}
		if remaining := account.Remaining(); remaining < cost {
			return nil, a.fail(req, &InsufficientCreditsError{
				Required:  cost,
				Available: remaining,
			})
		}

		debitID = uuid.New().String()
		err = a.withRetry(ctx, "debit", func() error {
			_, err := a.ledger.Debit(ctx, CreditTransaction{
				ID:        debitID,
				UserID:    req.UserID,
				Action:    TxDebit,
				Amount:    cost,
				DataType:  req.DataType,
				Component: component,
				CreatedAt: a.now(),
			})
			return err
		})
		if err != nil {
			return nil, a.fail(req, err)
		}
		a.creditsCharged.Add(int64(cost))
	}

	payload, expiresAt, err := a.fetchAndStore(ctx, req, key, cost)
	if err != nil {
		// The fetch never happened or failed entirely; hand the
		// credits back.
		if cost > 0 {
			a.reverse(req.UserID, debitID, cost, req.DataType, component)
		}
		return nil, a.fail(req, err)
	}

	return &Resolution{
		Payload:            payload,
		FreshlyFetched:     true,
		CreditsUsed:        cost,
		ExpiresAt:          expiresAt,
		SecondsUntilExpiry: int64(expiresAt.Sub(a.now()).Seconds()),
		Fingerprint:        key.Fingerprint,
	}, nil
}

// validate checks the request and resolves its component.
func (a *Arbiter) validate(req *Request) (Component, error) {
	switch {
	case req.UserID == "":
		return "", fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	case !req.Tier.Valid():
		return "", fmt.Errorf("%w: unknown tier %q", ErrInvalidRequest, req.Tier)
	case !req.DataType.Valid():
		return "", fmt.Errorf("%w: unknown data type %q", ErrInvalidRequest, req.DataType)
	case !req.TimeRange.Valid():
		return "", fmt.Errorf("%w: unknown time range %q", ErrInvalidRequest, req.TimeRange)
	}

	component := req.DataType.Component()
	if req.Component != "" && req.Component != component {
		return "", fmt.Errorf("%w: data type %s belongs to component %s, not %s",
			ErrInvalidRequest, req.DataType, component, req.Component)
	}
	return component, nil
}

// fetchAndStore fans out to every eligible source, aggregates, caches
// best-effort and returns the serialized payload with its expiry.
func (a *Arbiter) fetchAndStore(ctx context.Context, req Request, key CacheKey, credits int) ([]byte, time.Time, error) {
	outcomes := a.fanOut(ctx, req)

	// Cancellation must surface as such, not as a source failure, and
	// must leave no partial cache entry behind.
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, err
	}

	succeeded := 0
	for _, o := range outcomes {
		if o.OK() {
			succeeded++
		}
	}
	if succeeded == 0 {
		return nil, time.Time{}, fmt.Errorf("%w: %d sources attempted",
			ErrAllSourcesFailed, len(outcomes))
	}

	entities := a.agg.Merge(outcomes)
	payload := SentimentPayload{
		Entities:    entities,
		Summary:     Summarize(entities),
		TimeRange:   req.TimeRange,
		GeneratedAt: a.now(),
	}
	raw, err := MarshalPayload(payload)
	if err != nil {
		return nil, time.Time{}, err
	}

	now := a.now()
	entry := &CacheEntry{
		Key:            key,
		Payload:        raw,
		Tier:           req.Tier,
		CreditsCharged: credits,
		CreatedAt:      now,
		ExpiresAt:      now.Add(a.cfg.CacheTTL(req.Tier)),
	}

	// Caching is best-effort: a write failure is logged, never
	// surfaced, and the fetched payload is still returned.
	if err := a.withRetry(ctx, "cache write", func() error {
		return a.cache.Put(ctx, entry)
	}); err != nil {
		a.logger.Warn("cache write failed",
			"user", req.UserID,
			"data_type", req.DataType,
			"error", err)
	}

	return raw, entry.ExpiresAt, nil
}

// fanOut issues one fetch per eligible source in parallel and settles
// all of them: a failed or timed-out branch fills its outcome slot and
// never cancels its siblings.
func (a *Arbiter) fanOut(ctx context.Context, req Request) map[string]FetchOutcome {
	eligible := a.byType[req.DataType]

	var wg sync.WaitGroup
	slots := make([]FetchOutcome, len(eligible))
	for i, f := range eligible {
		wg.Add(1)
		go func(i int, f SourceFetcher) {
			defer wg.Done()
			slots[i] = a.fetchOne(ctx, f, req)
		}(i, f)
	}
	wg.Wait()

	outcomes := make(map[string]FetchOutcome, len(slots))
	for _, o := range slots {
		outcomes[o.Source] = o
	}
	return outcomes
}

// fetchOne runs one source's gated, rate-limited, retried fetch.
func (a *Arbiter) fetchOne(ctx context.Context, f SourceFetcher, req Request) FetchOutcome {
	name := f.Name()

	// Circuit open: skip without counting a fresh failure.
	if a.health.GetHealth(name) == HealthUnhealthy {
		return FetchOutcome{Source: name, Err: &SourceError{
			Source: name,
			Code:   CodeSourceUnavailable,
			Err:    fmt.Errorf("%w: circuit open", ErrSourceUnavailable),
		}}
	}

	srcCfg, _ := a.cfg.Source(name)
	timeout := defaultFetchTimeout
	if srcCfg.TimeoutSeconds > 0 {
		timeout = time.Duration(srcCfg.TimeoutSeconds) * time.Second
	}

	var results map[string]SourceResult
	start := time.Now()
	err := srcCfg.Backoff.Policy().Retry(ctx, func() error {
		if err := a.limiter.Acquire(name); err != nil {
			return err
		}
		tctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		r, err := f.Fetch(tctx, req.Params.Tickers, req.TimeRange)
		if err != nil {
			return err
		}
		results = r
		return nil
	})
	duration := time.Since(start)

	if err != nil {
		a.fetchFailures.Add(1)
		a.health.RecordFailure(name)
		srcErr := classifySourceError(name, err)
		a.meter.OnFetch(FetchEvent{
			Source:   name,
			DataType: req.DataType,
			Success:  false,
			Duration: duration,
			Error:    srcErr,
		})
		return FetchOutcome{Source: name, Err: srcErr}
	}

	clean := a.sanitize(name, results)
	a.fetches.Add(1)
	a.health.RecordSuccess(name)
	a.meter.OnFetch(FetchEvent{
		Source:   name,
		DataType: req.DataType,
		Success:  true,
		Entities: len(clean),
		Duration: duration,
	})
	return FetchOutcome{Source: name, Results: clean}
}

// sanitize drops results the strict payload codec would reject rather
// than repairing them downstream.
func (a *Arbiter) sanitize(source string, results map[string]SourceResult) map[string]SourceResult {
	clean := make(map[string]SourceResult, len(results))
	for key, res := range results {
		if key == "" {
			continue
		}
		if math.IsNaN(res.Score) || math.IsInf(res.Score, 0) {
			a.logger.Warn("dropping non-finite score",
				"source", source,
				"entity", key)
			continue
		}
		if res.Confidence != nil {
			if c := *res.Confidence; math.IsNaN(c) || math.IsInf(c, 0) {
				res.Confidence = nil
			}
		}
		res.Source = source
		if res.EntityKey == "" {
			res.EntityKey = key
		}
		clean[key] = res
	}
	return clean
}

// classifySourceError folds an arbitrary fetch failure into the
// SourceError taxonomy, preserving an existing classification.
func classifySourceError(source string, err error) *SourceError {
	var srcErr *SourceError
	if errors.As(err, &srcErr) {
		return srcErr
	}

	code := CodeSourceUnavailable
	wrapped := err
	switch {
	case errors.Is(err, ErrRateLimited):
		code = CodeRateLimited
	case errors.Is(err, context.DeadlineExceeded):
		wrapped = fmt.Errorf("%w: timed out: %v", ErrSourceUnavailable, err)
	case errors.Is(err, context.Canceled):
		code = CodeCancelled
	default:
		wrapped = fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return &SourceError{Source: source, Code: code, Err: wrapped}
}

// reverse hands debited credits back after a fetch that produced
// nothing. Best-effort: a failed reversal is logged for manual
// reconciliation, never surfaced.
func (a *Arbiter) reverse(userID, debitID string, amount int, dataType DataType, component Component) {
	// The request context may already be cancelled; the reversal must
	// still go through.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := a.ledger.Credit(ctx, CreditTransaction{
		ID:        uuid.New().String(),
		UserID:    userID,
		Action:    TxReversal,
		Amount:    amount,
		DataType:  dataType,
		Component: component,
		Metadata:  map[string]string{"reverses": debitID},
		CreatedAt: a.now(),
	})
	if err != nil {
		a.logger.Error("credit reversal failed",
			"user", userID,
			"debit", debitID,
			"amount", amount,
			"error", err)
		return
	}
	a.creditsCharged.Add(int64(-amount))
}

// withRetry runs a storage operation, retrying once after a short
// delay. Classified rejections pass through untouched; a persistent
// storage failure surfaces as ErrInternal.
func (a *Arbiter) withRetry(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil || IsFatal(err) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	a.logger.Warn("storage operation failed, retrying",
		"op", op,
		"error", err)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(storageRetryDelay):
	}

	err = fn()
	if err == nil || IsFatal(err) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrInternal, op, err)
}

func (a *Arbiter) fail(req Request, err error) error {
	return &ArbiterError{Err: err, UserID: req.UserID, DataType: req.DataType}
}

// fetchersByType indexes fetchers by the data types they serve, in
// stable name order so fan-out slots are deterministic.
func fetchersByType(byName map[string]SourceFetcher) map[DataType][]SourceFetcher {
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	byType := make(map[DataType][]SourceFetcher)
	for _, name := range names {
		f := byName[name]
		for _, dt := range f.DataTypes() {
			byType[dt] = append(byType[dt], f)
		}
	}
	return byType
}

// noopMeter is the default meter.
type noopMeter struct{}

func (noopMeter) OnResolve(ResolveEvent) {}
func (noopMeter) OnFetch(FetchEvent)     {}
