package meter

import (
	"log/slog"

	hrvstr "github.com/codebymv/HRVSTR-sub001"
)

// LogMeter logs arbiter events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ hrvstr.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnResolve(e hrvstr.ResolveEvent) {
	if e.Outcome == hrvstr.OutcomeDenied || e.Outcome == hrvstr.OutcomeError {
		m.Logger.Warn("resolve",
			"user", e.UserID,
			"tier", e.Tier,
			"data_type", e.DataType,
			"time_range", e.TimeRange,
			"outcome", e.Outcome,
			"code", e.Code,
			"duration_ms", e.Duration.Milliseconds(),
		)
		return
	}
	m.Logger.Info("resolve",
		"user", e.UserID,
		"tier", e.Tier,
		"data_type", e.DataType,
		"time_range", e.TimeRange,
		"outcome", e.Outcome,
		"credits_used", e.CreditsUsed,
		"duration_ms", e.Duration.Milliseconds(),
	)
}

func (m *LogMeter) OnFetch(e hrvstr.FetchEvent) {
	if e.Success {
		m.Logger.Info("fetch",
			"source", e.Source,
			"data_type", e.DataType,
			"entities", e.Entities,
			"duration_ms", e.Duration.Milliseconds(),
		)
	} else {
		m.Logger.Warn("fetch_error",
			"source", e.Source,
			"data_type", e.DataType,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Error,
		)
	}
}
