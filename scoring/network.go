package scoring

import (
	"sort"

	"github.com/hicksonhaziel/xandviz/pnode"
)

// Share is one bucket of a distribution.
type Share struct {
	Label      string  `json:"label"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// Health summarizes the network in one word.
type Health struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type TopPerformer struct {
	ID     string  `json:"id"`
	Pubkey string  `json:"pubkey"`
	Score  float64 `json:"score"`
}

// NetworkStats aggregates a scored node set for the overview endpoints.
type NetworkStats struct {
	Total              int            `json:"total"`
	Active             int            `json:"active"`
	Syncing            int            `json:"syncing"`
	Offline            int            `json:"offline"`
	Public             int            `json:"public"`
	Private            int            `json:"private"`
	AvgScore           float64        `json:"avgScore"`
	AvgUptime          float64        `json:"avgUptime"`
	TotalStorage       float64        `json:"totalStorage"`
	UsedStorage        float64        `json:"usedStorage"`
	UtilizationPercent float64        `json:"utilizationPercent"`
	Versions           []Share        `json:"versions"`
	Grades             []Share        `json:"grades"`
	TopPerformers      []TopPerformer `json:"topPerformers"`
	Health             Health         `json:"health"`
}

// topPerformerCount bounds NetworkStats.TopPerformers.
const topPerformerCount = 10

// Summarize builds NetworkStats from scored nodes. All ratios are 0 for an empty set.
func Summarize(nodes []ScoredNode) NetworkStats {
	st := NetworkStats{
		Versions:      []Share{},
		Grades:        []Share{},
		TopPerformers: []TopPerformer{},
	}
	st.Total = len(nodes)

	versions := make(map[string]int)
	grades := make(map[string]int)
	var scoreSum, uptimeSum float64
	for _, n := range nodes {
		switch n.Status {
		case pnode.StatusActive:
			st.Active++
		case pnode.StatusSyncing:
			st.Syncing++
		default:
			st.Offline++
		}
		if n.IsPublic {
			st.Public++
		} else {
			st.Private++
		}
		scoreSum += n.Score
		uptimeSum += sanitize(n.UptimeSeconds)
		st.TotalStorage += sanitize(n.StorageCommitted)
		st.UsedStorage += sanitize(n.StorageUsed)
		versions[n.Version]++
		g, _ := GradeFor(n.Score)
		grades[g]++
	}
	if st.Total == 0 {
		st.Health = healthFor(0, 0)
		return st
	}

	count := float64(st.Total)
	st.AvgScore = round1(scoreSum / count)
	st.AvgUptime = uptimeSum / count
	if st.TotalStorage > 0 {
		st.UtilizationPercent = round2(st.UsedStorage / st.TotalStorage * 100)
	}

	for v, c := range versions {
		st.Versions = append(st.Versions, Share{Label: v, Count: c, Percentage: round2(float64(c) / count * 100)})
	}
	sort.Slice(st.Versions, func(i, j int) bool {
		if st.Versions[i].Count != st.Versions[j].Count {
			return st.Versions[i].Count > st.Versions[j].Count
		}
		return st.Versions[i].Label < st.Versions[j].Label
	})

	for _, r := range gradeRanges {
		c := grades[r.grade]
		st.Grades = append(st.Grades, Share{Label: r.label, Count: c, Percentage: round2(float64(c) / count * 100)})
	}

	sorted := make([]ScoredNode, len(nodes))
	copy(sorted, nodes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	for i := 0; i < len(sorted) && i < topPerformerCount; i++ {
		st.TopPerformers = append(st.TopPerformers, TopPerformer{
			ID:     sorted[i].ID,
			Pubkey: sorted[i].Pubkey,
			Score:  sorted[i].Score,
		})
	}

	st.Health = healthFor(scoreSum/count, float64(st.Active)/count*100)
	return st
}

func healthFor(avgScore, activePercent float64) Health {
	switch {
	case avgScore >= 85 && activePercent >= 90:
		return Health{Status: "excellent", Message: "Network is performing excellently"}
	case avgScore >= 75 && activePercent >= 80:
		return Health{Status: "good", Message: "Network is performing well"}
	case avgScore >= 65 && activePercent >= 70:
		return Health{Status: "fair", Message: "Network performance is fair"}
	default:
		return Health{Status: "poor", Message: "Network needs attention"}
	}
}

// Percentile returns the share of dataset values <= value, in percent.
func Percentile(value float64, dataset []float64) float64 {
	if len(dataset) == 0 {
		return 0
	}
	n := 0
	for _, v := range dataset {
		if v <= value {
			n++
		}
	}
	return float64(n) / float64(len(dataset)) * 100
}
