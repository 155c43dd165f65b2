package meter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	hrvstr "github.com/codebymv/HRVSTR-sub001"
)

// PromMeter exports arbiter events as Prometheus metrics.
type PromMeter struct {
	resolutions    *prometheus.CounterVec
	creditsCharged prometheus.Counter
	resolveLatency prometheus.Histogram
	fetches        *prometheus.CounterVec
	fetchLatency   *prometheus.HistogramVec
}

var _ hrvstr.Meter = (*PromMeter)(nil)

// NewPromMeter registers the meter's collectors with reg. If reg is
// nil, the default registerer is used.
func NewPromMeter(reg prometheus.Registerer) *PromMeter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PromMeter{
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hrvstr_resolutions_total",
			Help: "Total resolutions, labelled by outcome and data type.",
		}, []string{"outcome", "data_type"}),

		creditsCharged: factory.NewCounter(prometheus.CounterOpts{
			Name: "hrvstr_credits_charged_total",
			Help: "Total credits debited across all users.",
		}),

		resolveLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hrvstr_resolve_duration_ms",
			Help:    "End-to-end resolve latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}),

		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hrvstr_source_fetches_total",
			Help: "Total source fetch attempts, labelled by source and status.",
		}, []string{"source", "status"}),

		fetchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hrvstr_source_fetch_duration_ms",
			Help:    "Source fetch latency in milliseconds, labelled by source.",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"source"}),
	}
}

func (m *PromMeter) OnResolve(e hrvstr.ResolveEvent) {
	m.resolutions.WithLabelValues(e.Outcome, string(e.DataType)).Inc()
	m.resolveLatency.Observe(float64(e.Duration.Milliseconds()))
	if e.CreditsUsed > 0 {
		m.creditsCharged.Add(float64(e.CreditsUsed))
	}
}

func (m *PromMeter) OnFetch(e hrvstr.FetchEvent) {
	status := "ok"
	if !e.Success {
		status = "error"
	}
	m.fetches.WithLabelValues(e.Source, status).Inc()
	m.fetchLatency.WithLabelValues(e.Source).Observe(float64(e.Duration.Milliseconds()))
}
