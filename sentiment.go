package hrvstr

import "time"

// Sentiment labels.
const (
	LabelBullish = "bullish"
	LabelBearish = "bearish"
	LabelNeutral = "neutral"
)

// Label thresholds. Every component that labels a score goes through
// ScoreLabel; nothing re-derives these locally.
const (
	bullishThreshold = 0.15
	bearishThreshold = -0.15
)

// ScoreLabel converts a sentiment score to its label.
func ScoreLabel(score float64) string {
	switch {
	case score > bullishThreshold:
		return LabelBullish
	case score < bearishThreshold:
		return LabelBearish
	default:
		return LabelNeutral
	}
}

// Strength bands for the magnitude of a score. The weak band starts at
// the label threshold so a "weak" score is never labeled neutral.
const (
	StrengthStrong   = "strong"
	StrengthModerate = "moderate"
	StrengthWeak     = "weak"
	StrengthNeutral  = "neutral"
)

// ScoreStrength converts a sentiment score's magnitude to a strength
// band.
func ScoreStrength(score float64) string {
	abs := score
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 0.7:
		return StrengthStrong
	case abs >= 0.4:
		return StrengthModerate
	case abs > bullishThreshold:
		return StrengthWeak
	default:
		return StrengthNeutral
	}
}

// VolumeMetrics counts the underlying signals behind a sentiment score.
type VolumeMetrics struct {
	Posts    int `json:"posts"`
	Comments int `json:"comments"`
	News     int `json:"news"`
}

// Total returns the combined signal count.
func (v VolumeMetrics) Total() int { return v.Posts + v.Comments + v.News }

// Add returns the element-wise sum of two volume metrics.
func (v VolumeMetrics) Add(o VolumeMetrics) VolumeMetrics {
	return VolumeMetrics{
		Posts:    v.Posts + o.Posts,
		Comments: v.Comments + o.Comments,
		News:     v.News + o.News,
	}
}

// Confidence fallback when no contributing source supplies one: a fixed
// baseline plus a small bonus per observed signal, capped.
const (
	confidenceBaseline    = 30.0
	confidencePerSignal   = 0.2
	confidenceVolumeLimit = 70.0
)

// VolumeConfidence derives a confidence value from observed volume
// alone, for entities whose sources supply none.
func VolumeConfidence(v VolumeMetrics) float64 {
	c := confidenceBaseline + confidencePerSignal*float64(v.Total())
	if c > confidenceVolumeLimit {
		return confidenceVolumeLimit
	}
	return c
}

// SourceResult is one source's sentiment reading for one entity.
// Confidence is 0..100; nil means the source does not report one.
type SourceResult struct {
	Source     string        `json:"source"`
	EntityKey  string        `json:"ticker"`
	Score      float64       `json:"score"`
	Confidence *float64      `json:"confidence,omitempty"`
	Volume     VolumeMetrics `json:"volume"`
	Timestamp  time.Time     `json:"timestamp"`
}

// AggregatedEntity is the fold of all successful SourceResults for one
// entity key.
type AggregatedEntity struct {
	EntityKey  string        `json:"ticker"`
	Score      float64       `json:"score"`
	Confidence float64       `json:"confidence"`
	Label      string        `json:"label"`
	Strength   string        `json:"strength"`
	Volume     VolumeMetrics `json:"volume"`
	Sources    []string      `json:"sources"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Summary describes a set of aggregated entities in one block: label
// distribution plus averages.
type Summary struct {
	Total         int     `json:"total"`
	Bullish       int     `json:"bullish"`
	Bearish       int     `json:"bearish"`
	Neutral       int     `json:"neutral"`
	AvgScore      float64 `json:"avg_score"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// Summarize computes the distribution and averages for a set of
// entities.
func Summarize(entities []AggregatedEntity) Summary {
	s := Summary{Total: len(entities)}
	if len(entities) == 0 {
		return s
	}
	var scoreSum, confSum float64
	for _, e := range entities {
		switch e.Label {
		case LabelBullish:
			s.Bullish++
		case LabelBearish:
			s.Bearish++
		default:
			s.Neutral++
		}
		scoreSum += e.Score
		confSum += e.Confidence
	}
	s.AvgScore = scoreSum / float64(len(entities))
	s.AvgConfidence = confSum / float64(len(entities))
	return s
}
