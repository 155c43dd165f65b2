package meter

import hrvstr "github.com/codebymv/HRVSTR-sub001"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ hrvstr.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnResolve(hrvstr.ResolveEvent) {}
func (m *NoopMeter) OnFetch(hrvstr.FetchEvent)     {}
