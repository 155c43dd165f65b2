package hrvstr

// Credit pricing is a pure lookup: a base cost per data type, scaled by
// the requested time range and discounted by tier. The tables live here
// so every component prices an operation identically.

var baseCost = map[DataType]int{
	DataTickerSentiment:       5,
	DataMarketSentiment:       8,
	DataInsiderTrades:         6,
	DataInstitutionalHoldings: 8,
	DataUpcomingEarnings:      4,
	DataEarningsAnalysis:      10,
}

var rangeMultiplier = map[TimeRange]int{
	Range1Day:    1,
	Range3Days:   1,
	Range1Week:   2,
	Range1Month:  3,
	Range3Months: 4,
	Range6Months: 5,
}

// Tier discounts are expressed as divisors so the table stays integral.
// The top tier pays nothing.
var tierCostDivisor = map[Tier]int{
	TierFree:          1,
	TierPro:           2,
	TierElite:         4,
	TierInstitutional: 0, // free
}

// CostOf returns the credit cost of a fresh fetch for (tier, dataType,
// timeRange). Unknown data types or ranges price at zero so a
// misconfigured caller fails on validation, not on billing.
func CostOf(tier Tier, dataType DataType, timeRange TimeRange) int {
	base, ok := baseCost[dataType]
	if !ok {
		return 0
	}
	return costFrom(base, tier, timeRange)
}

// costFrom prices a fetch from an explicit base cost, used when config
// overrides the table.
func costFrom(base int, tier Tier, timeRange TimeRange) int {
	mult, ok := rangeMultiplier[timeRange]
	if !ok {
		return 0
	}
	div, ok := tierCostDivisor[tier]
	if !ok {
		div = 1
	}
	if div == 0 {
		return 0
	}
	// Ceiling division: discounted fetches are never rounded down to free.
	return (base*mult + div - 1) / div
}

var unlockCost = map[Component]int{
	ComponentSentiment: 10,
	ComponentFilings:   15,
	ComponentEarnings:  12,
}

// UnlockCostOf returns the one-time credit price of opening a session
// for a component at the given tier. The same tier divisor applies.
func UnlockCostOf(tier Tier, component Component) int {
	base, ok := unlockCost[component]
	if !ok {
		return 0
	}
	div, ok := tierCostDivisor[tier]
	if !ok {
		div = 1
	}
	if div == 0 {
		return 0
	}
	return (base + div - 1) / div
}
