package hrvstr_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hrvstr "github.com/codebymv/HRVSTR-sub001"
)

func TestPayloadCodec_RoundTrip(t *testing.T) {
	in := hrvstr.SentimentPayload{
		Entities: []hrvstr.AggregatedEntity{{
			EntityKey:  "AAPL",
			Score:      0.42,
			Confidence: 81.5,
			Label:      "bullish",
			Strength:   "moderate",
			Volume:     hrvstr.VolumeMetrics{Posts: 10, Comments: 40, News: 2},
			Sources:    []string{"finviz", "reddit"},
			Timestamp:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		}},
		TimeRange:   hrvstr.Range1Week,
		GeneratedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := hrvstr.MarshalPayload(in)
	require.NoError(t, err)

	var out hrvstr.SentimentPayload
	require.NoError(t, hrvstr.UnmarshalPayload(data, &out))
	assert.Equal(t, in, out)
}

// The encoder is strict: values JSON cannot represent fail the
// operation instead of being repaired.
func TestPayloadCodec_RejectsNonFiniteScores(t *testing.T) {
	for _, score := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := hrvstr.MarshalPayload(hrvstr.AggregatedEntity{
			EntityKey: "AAPL",
			Score:     score,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, hrvstr.ErrSerialization)
	}
}

func TestPayloadCodec_RejectsMalformedInput(t *testing.T) {
	var out hrvstr.SentimentPayload
	err := hrvstr.UnmarshalPayload([]byte(`{"entities": [`), &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, hrvstr.ErrSerialization)

	err = hrvstr.UnmarshalPayload([]byte(`{"entities": "not-a-list"}`), &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, hrvstr.ErrSerialization)
}

// Byte-identical output for identical input keeps cache writes
// idempotent.
func TestPayloadCodec_Deterministic(t *testing.T) {
	payload := map[string]any{"b": 2, "a": 1, "c": []string{"x", "y"}}

	first, err := hrvstr.MarshalPayload(payload)
	require.NoError(t, err)
	second, err := hrvstr.MarshalPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
