package hrvstr_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	hrvstr "github.com/codebymv/HRVSTR-sub001"
)

func TestTier_Valid(t *testing.T) {
	for _, tier := range []hrvstr.Tier{
		hrvstr.TierFree, hrvstr.TierPro, hrvstr.TierElite, hrvstr.TierInstitutional,
	} {
		assert.True(t, tier.Valid(), "tier %q", tier)
	}
	assert.False(t, hrvstr.Tier("gold").Valid())
	assert.False(t, hrvstr.Tier("").Valid())
}

// Cache TTLs shrink as tiers rise: paid users trade cache longevity for
// freshness.
func TestTier_CacheTTL(t *testing.T) {
	assert.Equal(t, 3*time.Hour, hrvstr.TierFree.CacheTTL())
	assert.Equal(t, time.Hour, hrvstr.TierPro.CacheTTL())
	assert.Equal(t, 30*time.Minute, hrvstr.TierElite.CacheTTL())
	assert.Equal(t, 15*time.Minute, hrvstr.TierInstitutional.CacheTTL())

	// Unknown tiers get the conservative free-tier TTL.
	assert.Equal(t, 3*time.Hour, hrvstr.Tier("gold").CacheTTL())
}

// Session TTLs grow the other way: an unlock buys more time on paid
// plans.
func TestTier_SessionTTL(t *testing.T) {
	assert.Equal(t, 30*time.Minute, hrvstr.TierFree.SessionTTL())
	assert.Equal(t, 2*time.Hour, hrvstr.TierPro.SessionTTL())
	assert.Equal(t, 4*time.Hour, hrvstr.TierElite.SessionTTL())
	assert.Equal(t, 8*time.Hour, hrvstr.TierInstitutional.SessionTTL())
	assert.Equal(t, 30*time.Minute, hrvstr.Tier("gold").SessionTTL())
}

func TestTier_MaxTickers(t *testing.T) {
	assert.Equal(t, 5, hrvstr.TierFree.MaxTickers())
	assert.Equal(t, 25, hrvstr.TierPro.MaxTickers())
	assert.Equal(t, 50, hrvstr.TierElite.MaxTickers())
	assert.Equal(t, 200, hrvstr.TierInstitutional.MaxTickers())
	assert.Equal(t, 5, hrvstr.Tier("gold").MaxTickers())
}

func TestTier_AtLeast(t *testing.T) {
	assert.True(t, hrvstr.TierFree.AtLeast(hrvstr.TierFree))
	assert.False(t, hrvstr.TierFree.AtLeast(hrvstr.TierPro))
	assert.True(t, hrvstr.TierPro.AtLeast(hrvstr.TierPro))
	assert.True(t, hrvstr.TierInstitutional.AtLeast(hrvstr.TierElite))
	assert.False(t, hrvstr.TierElite.AtLeast(hrvstr.TierInstitutional))
}

func TestDataType_MinTier(t *testing.T) {
	assert.Equal(t, hrvstr.TierPro, hrvstr.DataInstitutionalHoldings.MinTier())
	assert.Equal(t, hrvstr.TierPro, hrvstr.DataEarningsAnalysis.MinTier())
	assert.Equal(t, hrvstr.TierFree, hrvstr.DataTickerSentiment.MinTier())
	assert.Equal(t, hrvstr.TierFree, hrvstr.DataInsiderTrades.MinTier())
}
