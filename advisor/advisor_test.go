package advisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hicksonhaziel/xandviz/pnode"
	"github.com/hicksonhaziel/xandviz/scoring"
)

func categories(recs []Recommendation) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Category
	}
	return out
}

func TestRecommend_HealthyNode(t *testing.T) {
	node := pnode.NodeRecord{
		Version:             "0.8.0",
		Status:              pnode.StatusActive,
		UptimeSeconds:       300000,
		StorageUsagePercent: 40,
	}
	recs := Recommend(node, scoring.Breakdown{Total: 97.3}, scoring.NetworkAverages{AvgUptime: 1000}, scoring.DefaultPolicy())
	require.Len(t, recs, 1)
	assert.Equal(t, "general", recs[0].Category)
	assert.Equal(t, SeverityInfo, recs[0].Severity)
	assert.Equal(t, "Excellent performance! XandScore: 97.3/100", recs[0].Message)
}

func TestRecommend_EveryRule(t *testing.T) {
	node := pnode.NodeRecord{
		Version:             "0.7.1",
		Status:              pnode.StatusOffline,
		UptimeSeconds:       30000,
		StorageUsagePercent: 95,
		Private:             true,
	}
	recs := Recommend(node, scoring.Breakdown{Total: 20}, scoring.NetworkAverages{AvgUptime: 200000}, scoring.DefaultPolicy())

	assert.Equal(t, []string{"connectivity", "uptime", "storage", "version", "performance", "visibility"}, categories(recs))
	assert.Equal(t, SeverityCritical, recs[0].Severity)
	assert.Equal(t, "Uptime is 10.0%, below recommended 95%+.", recs[1].Message)
	assert.Equal(t, SeverityHigh, recs[2].Severity)
	assert.Equal(t, "Running version 0.7.1, latest is 0.8.0.", recs[3].Message)
}

func TestRecommend_StorageWarningIsMedium(t *testing.T) {
	node := pnode.NodeRecord{Version: "0.8.0", Status: pnode.StatusActive, UptimeSeconds: 300000, StorageUsagePercent: 85}
	recs := Recommend(node, scoring.Breakdown{Total: 80}, scoring.NetworkAverages{}, scoring.DefaultPolicy())
	require.Len(t, recs, 1)
	assert.Equal(t, SeverityMedium, recs[0].Severity)
	assert.Equal(t, "Storage usage is 85.0%.", recs[0].Message)
}

func TestRecommend_SortedBySeverity(t *testing.T) {
	node := pnode.NodeRecord{
		Version:             "0.6.0",
		Status:              pnode.StatusOffline,
		UptimeSeconds:       0,
		StorageUsagePercent: 99,
		Private:             true,
	}
	recs := Recommend(node, scoring.Breakdown{Total: 95}, scoring.NetworkAverages{AvgUptime: 100}, scoring.DefaultPolicy())
	for i := 1; i < len(recs); i++ {
		assert.LessOrEqual(t, severityRank[recs[i-1].Severity], severityRank[recs[i].Severity])
	}
	assert.Equal(t, SeverityInfo, recs[len(recs)-1].Severity)
}
