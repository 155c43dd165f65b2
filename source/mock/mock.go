package mock

import (
	"context"
	"sync/atomic"
	"time"

	hrvstr "github.com/codebymv/HRVSTR-sub001"
)

// Fetcher is a mock sentiment source for testing.
type Fetcher struct {
	name       string
	dataTypes  []hrvstr.DataType
	latency    time.Duration
	failAfter  int
	callCount  atomic.Int64
	staticErr  error
	score      float64
	confidence *float64
	volume     hrvstr.VolumeMetrics
	resultFunc func(entityKeys []string, timeRange hrvstr.TimeRange) (map[string]hrvstr.SourceResult, error)
	now        func() time.Time
}

var _ hrvstr.SourceFetcher = (*Fetcher)(nil)

// Option configures a mock Fetcher.
type Option func(*Fetcher)

// New creates a mock fetcher with the given options.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		name:      "mock",
		dataTypes: []hrvstr.DataType{hrvstr.DataTickerSentiment, hrvstr.DataMarketSentiment},
		score:     0.25,
		volume:    hrvstr.VolumeMetrics{Posts: 5, Comments: 20},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithName sets the source name.
func WithName(name string) Option {
	return func(f *Fetcher) { f.name = name }
}

// WithDataTypes sets the data types the source contributes to.
func WithDataTypes(types ...hrvstr.DataType) Option {
	return func(f *Fetcher) { f.dataTypes = types }
}

// WithLatency adds simulated latency to each fetch.
func WithLatency(d time.Duration) Option {
	return func(f *Fetcher) { f.latency = d }
}

// WithFailAfter makes the fetcher fail after N successful fetches.
func WithFailAfter(n int) Option {
	return func(f *Fetcher) { f.failAfter = n }
}

// WithError makes the fetcher always return this error.
func WithError(err error) Option {
	return func(f *Fetcher) { f.staticErr = err }
}

// WithScore sets the score reported for every entity.
func WithScore(score float64) Option {
	return func(f *Fetcher) { f.score = score }
}

// WithConfidence sets the confidence reported for every entity.
func WithConfidence(confidence float64) Option {
	return func(f *Fetcher) { f.confidence = &confidence }
}

// WithVolume sets the volume reported for every entity.
func WithVolume(v hrvstr.VolumeMetrics) Option {
	return func(f *Fetcher) { f.volume = v }
}

// WithResultFunc sets a custom result function.
func WithResultFunc(fn func(entityKeys []string, timeRange hrvstr.TimeRange) (map[string]hrvstr.SourceResult, error)) Option {
	return func(f *Fetcher) { f.resultFunc = fn }
}

// WithClock sets the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

func (f *Fetcher) Name() string { return f.name }

func (f *Fetcher) DataTypes() []hrvstr.DataType { return f.dataTypes }

func (f *Fetcher) Fetch(ctx context.Context, entityKeys []string, timeRange hrvstr.TimeRange) (map[string]hrvstr.SourceResult, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	count := f.callCount.Add(1)

	if f.staticErr != nil {
		return nil, f.staticErr
	}

	if f.failAfter > 0 && int(count) > f.failAfter {
		return nil, hrvstr.ErrSourceUnavailable
	}

	if f.resultFunc != nil {
		return f.resultFunc(entityKeys, timeRange)
	}

	results := make(map[string]hrvstr.SourceResult, len(entityKeys))
	for _, key := range entityKeys {
		results[key] = hrvstr.SourceResult{
			Source:     f.name,
			EntityKey:  key,
			Score:      f.score,
			Confidence: f.confidence,
			Volume:     f.volume,
			Timestamp:  f.now(),
		}
	}
	return results, nil
}

// CallCount returns the number of fetches made against the source.
func (f *Fetcher) CallCount() int64 { return f.callCount.Load() }
