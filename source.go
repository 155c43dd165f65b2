package hrvstr

import "context"

// DataType identifies one kind of aggregated data a caller can request.
type DataType string

const (
	DataTickerSentiment       DataType = "ticker_sentiment"
	DataMarketSentiment       DataType = "market_sentiment"
	DataInsiderTrades         DataType = "insider_trades"
	DataInstitutionalHoldings DataType = "institutional_holdings"
	DataUpcomingEarnings      DataType = "upcoming_earnings"
	DataEarningsAnalysis      DataType = "earnings_analysis"
)

// Valid reports whether d is a known data type.
func (d DataType) Valid() bool {
	_, ok := dataTypeComponent[d]
	return ok
}

// Component is a logical feature group for session matching. Several
// data types map onto one component.
type Component string

const (
	ComponentSentiment Component = "sentiment_analysis"
	ComponentFilings   Component = "sec_filings"
	ComponentEarnings  Component = "earnings_analysis"
)

// Valid reports whether c is a known component.
func (c Component) Valid() bool {
	switch c {
	case ComponentSentiment, ComponentFilings, ComponentEarnings:
		return true
	}
	return false
}

var dataTypeComponent = map[DataType]Component{
	DataTickerSentiment:       ComponentSentiment,
	DataMarketSentiment:       ComponentSentiment,
	DataInsiderTrades:         ComponentFilings,
	DataInstitutionalHoldings: ComponentFilings,
	DataUpcomingEarnings:      ComponentEarnings,
	DataEarningsAnalysis:      ComponentEarnings,
}

// Component returns the feature group an unlock session must cover to
// grant free access to this data type.
func (d DataType) Component() Component { return dataTypeComponent[d] }

// TimeRange is the lookback window of a request.
type TimeRange string

const (
	Range1Day    TimeRange = "1d"
	Range3Days   TimeRange = "3d"
	Range1Week   TimeRange = "1w"
	Range1Month  TimeRange = "1m"
	Range3Months TimeRange = "3m"
	Range6Months TimeRange = "6m"
)

// Valid reports whether r is a known time range.
func (r TimeRange) Valid() bool {
	_, ok := rangeMultiplier[r]
	return ok
}

// SourceFetcher is the interface external data source adapters must
// implement. Adapters own their network client, parsing and retry
// behavior; the arbiter owns rate limiting and health gating.
type SourceFetcher interface {
	// Name returns the source identifier (e.g. "reddit", "finviz").
	Name() string

	// DataTypes returns the data types this source can contribute to.
	DataTypes() []DataType

	// Fetch returns one SourceResult per entity key the source has
	// signal for. Keys with no signal are simply absent. A returned
	// error fails this source only, never the whole request.
	Fetch(ctx context.Context, entityKeys []string, timeRange TimeRange) (map[string]SourceResult, error)
}

// FetchOutcome is the settled result of one source's fetch branch:
// either a result map or a classified failure, never both.
type FetchOutcome struct {
	Source  string
	Results map[string]SourceResult
	Err     *SourceError
}

// OK reports whether the branch settled successfully.
func (o FetchOutcome) OK() bool { return o.Err == nil }
