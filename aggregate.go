package hrvstr

import (
	"log/slog"
	"math"
	"sort"
	"time"
)

// defaultReliability is assumed for sources missing from a weight map.
const defaultReliability = 0.5

// DefaultReliabilityWeights returns per-source trust factors for
// weighted aggregation. Higher means the source's scores move the
// merged score more.
func DefaultReliabilityWeights() map[string]float64 {
	return map[string]float64{
		"reddit":  0.7,
		"finviz":  0.9,
		"news":    0.85,
		"yahoo":   0.8,
		"twitter": 0.6,
	}
}

// Aggregator merges per-source fetch outcomes into one record per
// entity. Failed sources are excluded entirely, never folded in as a
// neutral score.
type Aggregator struct {
	logger  *slog.Logger
	weights map[string]float64 // nil = plain arithmetic mean
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithAggregatorLogger sets the logger for excluded-source reporting.
func WithAggregatorLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithReliabilityWeights switches score and confidence merging to
// reliability-weighted means using the given per-source factors.
func WithReliabilityWeights(weights map[string]float64) AggregatorOption {
	return func(a *Aggregator) { a.weights = weights }
}

// NewAggregator creates an Aggregator.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Merge folds outcomes into aggregated entities, strongest signal
// first (descending absolute score, entity key breaking ties). An
// entity appears only when at least one source succeeded for it; a
// timed-out or failed source contributes nothing.
func (a *Aggregator) Merge(outcomes map[string]FetchOutcome) []AggregatedEntity {
	// Fold in stable source order so weighted rounding is
	// deterministic across runs.
	names := make([]string, 0, len(outcomes))
	for name := range outcomes {
		names = append(names, name)
	}
	sort.Strings(names)

	merged := make(map[string]*entityFold)
	for _, name := range names {
		outcome := outcomes[name]
		if !outcome.OK() {
			a.logger.Warn("source excluded from aggregation",
				"source", name,
				"code", outcome.Err.Code,
				"error", outcome.Err)
			continue
		}
		for key, res := range outcome.Results {
			f, ok := merged[key]
			if !ok {
				f = &entityFold{key: key}
				merged[key] = f
			}
			f.add(name, res, a.weight(name))
		}
	}

	out := make([]AggregatedEntity, 0, len(merged))
	for _, f := range merged {
		out = append(out, f.finish())
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := math.Abs(out[i].Score), math.Abs(out[j].Score)
		if ai != aj {
			return ai > aj
		}
		return out[i].EntityKey < out[j].EntityKey
	})
	return out
}

func (a *Aggregator) weight(source string) float64 {
	if a.weights == nil {
		return 1
	}
	if w, ok := a.weights[source]; ok {
		return w
	}
	return defaultReliability
}

// entityFold accumulates one entity's contributions across sources.
type entityFold struct {
	key         string
	scoreSum    float64
	scoreWeight float64
	confSum     float64
	confWeight  float64
	volume      VolumeMetrics
	sources     []string
	latest      time.Time // newest contributing timestamp
}

func (f *entityFold) add(source string, res SourceResult, weight float64) {
	f.scoreSum += res.Score * weight
	f.scoreWeight += weight
	if res.Confidence != nil {
		// Weighted runs also damp confidence by source trust, scaled
		// into [0.5w, w] so even a perfect source keeps some doubt.
		c := *res.Confidence
		if weight != 1 {
			c *= 0.5 + weight*0.5
		}
		f.confSum += c * weight
		f.confWeight += weight
	}
	f.volume = f.volume.Add(res.Volume)
	f.sources = append(f.sources, source)
	if res.Timestamp.After(f.latest) {
		f.latest = res.Timestamp
	}
}

func (f *entityFold) finish() AggregatedEntity {
	score := 0.0
	if f.scoreWeight > 0 {
		score = f.scoreSum / f.scoreWeight
	}

	var confidence float64
	if f.confWeight > 0 {
		confidence = f.confSum / f.confWeight
	} else {
		confidence = VolumeConfidence(f.volume)
	}

	return AggregatedEntity{
		EntityKey:  f.key,
		Score:      score,
		Confidence: confidence,
		Label:      ScoreLabel(score),
		Strength:   ScoreStrength(score),
		Volume:     f.volume,
		Sources:    f.sources,
		Timestamp:  f.latest,
	}
}
