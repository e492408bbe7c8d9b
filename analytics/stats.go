// Package analytics derives windowed statistics from stored node metrics and pod credits.
package analytics

import (
	"math"

	"github.com/hicksonhaziel/xandviz/timeseries"
)

// FieldStats summarizes one numeric field over an ascending history.
type FieldStats struct {
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Avg      float64 `json:"avg"`
	Current  float64 `json:"current"`
	Previous float64 `json:"previous"`
	Change   float64 `json:"change"`
}

// Summarize returns nil for an empty slice. Current is the last value, Previous the first.
func Summarize(values []float64) *FieldStats {
	if len(values) == 0 {
		return nil
	}
	st := &FieldStats{Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
		sum += v
	}
	st.Avg = sum / float64(len(values))
	st.Previous = values[0]
	st.Current = values[len(values)-1]
	st.Change = st.Current - st.Previous
	return st
}

// NodeMetricStats holds per-field summaries; a field is nil when no snapshot carried it.
type NodeMetricStats struct {
	Uptime         *FieldStats `json:"uptime"`
	Score          *FieldStats `json:"score"`
	XanScore       *FieldStats `json:"xanScore"`
	CPUPercent     *FieldStats `json:"cpuPercent"`
	RAMPercent     *FieldStats `json:"ramPercent"`
	StoragePercent *FieldStats `json:"storagePercent"`
}

func NodeStats(history []timeseries.MetricSnapshot) *NodeMetricStats {
	if len(history) == 0 {
		return nil
	}
	var uptime, score, xan, cpu, ram, storage []float64
	for _, h := range history {
		uptime = append(uptime, h.Uptime)
		score = append(score, h.Score)
		xan = appendPresent(xan, h.XanScore)
		cpu = appendPresent(cpu, h.CPUPercent)
		ram = appendPresent(ram, h.RAMPercent)
		storage = appendPresent(storage, h.StorageUsagePercent)
	}
	return &NodeMetricStats{
		Uptime:         Summarize(uptime),
		Score:          Summarize(score),
		XanScore:       Summarize(xan),
		CPUPercent:     Summarize(cpu),
		RAMPercent:     Summarize(ram),
		StoragePercent: Summarize(storage),
	}
}

func appendPresent(dst []float64, v *float64) []float64 {
	if v == nil {
		return dst
	}
	return append(dst, *v)
}

// CreditSummary is FieldStats plus the credit-specific derived rates.
type CreditSummary struct {
	Current       float64 `json:"current"`
	Previous      float64 `json:"previous"`
	Change        float64 `json:"change"`
	PercentChange float64 `json:"percentChange"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	Avg           float64 `json:"avg"`
	// EarningRate is credits per hour between the first and last snapshot.
	EarningRate float64 `json:"earningRate"`
}

func CreditStats(history []timeseries.CreditSnapshot) *CreditSummary {
	if len(history) == 0 {
		return nil
	}
	values := make([]float64, len(history))
	for i, h := range history {
		values[i] = h.Credits
	}
	st := Summarize(values)
	out := &CreditSummary{
		Current:       st.Current,
		Previous:      st.Previous,
		Change:        st.Change,
		PercentChange: percentChange(st.Change, st.Previous),
		Min:           st.Min,
		Max:           st.Max,
		Avg:           st.Avg,
	}
	hours := float64(history[len(history)-1].TimestampMs-history[0].TimestampMs) / float64(3_600_000)
	if hours > 0 {
		out.EarningRate = round2(st.Change / hours)
	}
	return out
}

// percentChange is rounded to two decimals and 0 when previous is not positive.
func percentChange(change, previous float64) float64 {
	if previous <= 0 {
		return 0
	}
	return round2(change / previous * 100)
}

func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}
