// Package advisor turns a node's score breakdown into prioritized recommendations.
package advisor

import (
	"fmt"
	"sort"

	"github.com/hicksonhaziel/xandviz/pnode"
	"github.com/hicksonhaziel/xandviz/scoring"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
	SeverityInfo:     4,
}

type Recommendation struct {
	Category string   `json:"category"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Action   string   `json:"action"`
}

// Rule thresholds.
const (
	minUptimePercent = 90
	storageCritical  = 90
	storageWarning   = 80
	uptimeGapSeconds = 5
	excellentScore   = 90
)

// Recommend evaluates every rule against the node and returns the matches ordered
// by severity. Rules at the same severity keep their evaluation order.
func Recommend(node pnode.NodeRecord, score scoring.Breakdown, avg scoring.NetworkAverages, policy scoring.Policy) []Recommendation {
	recs := []Recommendation{}

	if node.Status == pnode.StatusOffline {
		recs = append(recs, Recommendation{
			Category: "connectivity",
			Severity: SeverityCritical,
			Message:  "Node is currently offline.",
			Action:   "Check network connectivity and node service status immediately.",
		})
	}

	if pct := policy.UptimePercent(node.UptimeSeconds); pct < minUptimePercent {
		recs = append(recs, Recommendation{
			Category: "uptime",
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("Uptime is %.1f%%, below recommended 95%%+.", pct),
			Action:   "Review system logs and ensure stable network connectivity.",
		})
	}

	switch usage := node.StorageUsagePercent; {
	case usage > storageCritical:
		recs = append(recs, Recommendation{
			Category: "storage",
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("Storage usage is critically high at %.1f%%.", usage),
			Action:   "Expand storage capacity or archive old data immediately.",
		})
	case usage > storageWarning:
		recs = append(recs, Recommendation{
			Category: "storage",
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("Storage usage is %.1f%%.", usage),
			Action:   "Plan for storage expansion soon.",
		})
	}

	if latest := policy.Latest(); latest != "" && node.Version != latest {
		recs = append(recs, Recommendation{
			Category: "version",
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("Running version %s, latest is %s.", node.Version, latest),
			Action:   "Schedule an upgrade to the latest stable release.",
		})
	}

	if node.UptimeSeconds < avg.AvgUptime-uptimeGapSeconds {
		recs = append(recs, Recommendation{
			Category: "performance",
			Severity: SeverityMedium,
			Message:  "Node uptime is below network average.",
			Action:   "Investigate potential reliability issues.",
		})
	}

	if score.Total >= excellentScore {
		recs = append(recs, Recommendation{
			Category: "general",
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("Excellent performance! XandScore: %.1f/100", score.Total),
			Action:   "Maintain current configuration and monitoring.",
		})
	}

	if node.Private {
		recs = append(recs, Recommendation{
			Category: "visibility",
			Severity: SeverityInfo,
			Message:  "Node is private; advanced metrics unavailable.",
			Action:   "Consider making the node public for enhanced monitoring.",
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return severityRank[recs[i].Severity] < severityRank[recs[j].Severity]
	})
	return recs
}
