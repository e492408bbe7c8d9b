package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hicksonhaziel/xandviz/timeseries"
)

func f(v float64) *float64 { return &v }

func TestSummarize(t *testing.T) {
	assert.Nil(t, Summarize(nil))

	single := Summarize([]float64{42})
	require.NotNil(t, single)
	assert.Equal(t, FieldStats{Min: 42, Max: 42, Avg: 42, Current: 42, Previous: 42, Change: 0}, *single)

	st := Summarize([]float64{10, 30, 5, 15})
	assert.Equal(t, 5.0, st.Min)
	assert.Equal(t, 30.0, st.Max)
	assert.Equal(t, 15.0, st.Avg)
	assert.Equal(t, 15.0, st.Current)
	assert.Equal(t, 10.0, st.Previous)
	assert.Equal(t, 5.0, st.Change)
}

func TestNodeStatsFiltersMissingFields(t *testing.T) {
	assert.Nil(t, NodeStats(nil))

	st := NodeStats([]timeseries.MetricSnapshot{
		{TimestampMs: 1, Uptime: 100, Score: 60, CPUPercent: f(10)},
		{TimestampMs: 2, Uptime: 200, Score: 70},
		{TimestampMs: 3, Uptime: 300, Score: 80, CPUPercent: f(30)},
	})
	require.NotNil(t, st)
	assert.Equal(t, 200.0, st.Uptime.Avg)
	assert.Equal(t, 20.0, st.Score.Change)
	assert.Equal(t, 20.0, st.CPUPercent.Avg)
	assert.Equal(t, 20.0, st.CPUPercent.Change)
	assert.Nil(t, st.RAMPercent)
	assert.Nil(t, st.XanScore)
	assert.Nil(t, st.StoragePercent)
}

func TestCreditStats(t *testing.T) {
	assert.Nil(t, CreditStats(nil))

	st := CreditStats([]timeseries.CreditSnapshot{
		{TimestampMs: 0, Credits: 300},
		{TimestampMs: 1_800_000, Credits: 350},
		{TimestampMs: 3 * 3_600_000, Credits: 400},
	})
	require.NotNil(t, st)
	assert.Equal(t, 100.0, st.Change)
	assert.Equal(t, 33.33, st.PercentChange)
	assert.Equal(t, 33.33, st.EarningRate)
	assert.Equal(t, 300.0, st.Min)
	assert.Equal(t, 400.0, st.Max)
	assert.Equal(t, 350.0, st.Avg)
}

func TestCreditStatsDegenerate(t *testing.T) {
	// Same timestamp: no rate.
	st := CreditStats([]timeseries.CreditSnapshot{
		{TimestampMs: 5000, Credits: 10},
		{TimestampMs: 5000, Credits: 20},
	})
	assert.Equal(t, 0.0, st.EarningRate)
	assert.Equal(t, 100.0, st.PercentChange)

	// Zero starting balance: no percent change.
	st = CreditStats([]timeseries.CreditSnapshot{
		{TimestampMs: 0, Credits: 0},
		{TimestampMs: 3_600_000, Credits: 50},
	})
	assert.Equal(t, 0.0, st.PercentChange)
	assert.Equal(t, 50.0, st.EarningRate)
}
