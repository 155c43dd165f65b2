package hrvstr

import "time"

// Tier is a user's subscription level. It determines cache TTL, credit
// cost, session length and data-volume limits.
type Tier string

const (
	TierFree          Tier = "free"
	TierPro           Tier = "pro"
	TierElite         Tier = "elite"
	TierInstitutional Tier = "institutional"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPro, TierElite, TierInstitutional:
		return true
	}
	return false
}

// Cache TTLs are intentionally inverted: higher tiers get shorter TTLs
// because they want fresher data and can refresh credit-free under an
// active session.
var tierCacheTTL = map[Tier]time.Duration{
	TierFree:          3 * time.Hour,
	TierPro:           time.Hour,
	TierElite:         30 * time.Minute,
	TierInstitutional: 15 * time.Minute,
}

// CacheTTL returns how long a fresh fetch stays valid for this tier.
// Unknown tiers fall back to the free tier's TTL.
func (t Tier) CacheTTL() time.Duration {
	if ttl, ok := tierCacheTTL[t]; ok {
		return ttl
	}
	return tierCacheTTL[TierFree]
}

// Session TTLs grow with tier: an unlock buys a longer free-access
// window on the paid plans.
var tierSessionTTL = map[Tier]time.Duration{
	TierFree:          30 * time.Minute,
	TierPro:           2 * time.Hour,
	TierElite:         4 * time.Hour,
	TierInstitutional: 8 * time.Hour,
}

// SessionTTL returns how long an unlock session stays active for this
// tier.
func (t Tier) SessionTTL() time.Duration {
	if ttl, ok := tierSessionTTL[t]; ok {
		return ttl
	}
	return tierSessionTTL[TierFree]
}

var tierMaxTickers = map[Tier]int{
	TierFree:          5,
	TierPro:           25,
	TierElite:         50,
	TierInstitutional: 200,
}

// MaxTickers returns the per-request entity limit for this tier.
func (t Tier) MaxTickers() int {
	if n, ok := tierMaxTickers[t]; ok {
		return n
	}
	return tierMaxTickers[TierFree]
}

var tierRank = map[Tier]int{
	TierFree:          0,
	TierPro:           1,
	TierElite:         2,
	TierInstitutional: 3,
}

// AtLeast reports whether t sits at or above min in the tier ladder.
func (t Tier) AtLeast(min Tier) bool {
	return tierRank[t] >= tierRank[min]
}

// Institutional-grade data types are gated behind the paid plans;
// everything absent here is open to every tier.
var dataTypeMinTier = map[DataType]Tier{
	DataInstitutionalHoldings: TierPro,
	DataEarningsAnalysis:      TierPro,
}

// MinTier returns the lowest tier allowed to fetch this data type
// fresh. Cached and session-covered reads are not gated.
func (d DataType) MinTier() Tier {
	if min, ok := dataTypeMinTier[d]; ok {
		return min
	}
	return TierFree
}
