// Package scoring computes the XandScore, a bounded 0-100 composite of uptime,
// gossip freshness, committed storage, software version and reliability.
package scoring

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/hicksonhaziel/xandviz/pnode"
)

// Component maxima. They sum to 100.
const (
	MaxUptime      = 30
	MaxResponse    = 25
	MaxStorage     = 20
	MaxVersion     = 15
	MaxReliability = 10
	MaxTotal       = 100
)

// StalenessCeiling is the last-seen age at which the response component reaches 0.
const StalenessCeiling = 5 * time.Minute

// NetworkAverages are recomputed for every node set being scored.
type NetworkAverages struct {
	AvgUptime           float64 `json:"uptime"`
	AvgStorageCommitted float64 `json:"storage"`
	ActiveNodeCount     int     `json:"activeNodeCount"`
}

// Breakdown is the per-component XandScore of one node.
type Breakdown struct {
	Total        float64 `json:"total"`
	Uptime       float64 `json:"uptime"`
	ResponseTime float64 `json:"responseTime"`
	Storage      float64 `json:"storage"`
	Version      float64 `json:"version"`
	Reliability  float64 `json:"reliability"`
	Grade        string  `json:"grade"`
	Color        string  `json:"color"`
}

// ScoredNode pairs a node with its breakdown.
type ScoredNode struct {
	pnode.NodeRecord
	Score          float64   `json:"score"`
	ScoreBreakdown Breakdown `json:"scoreBreakdown"`
}

// Engine scores nodes under a swappable Policy. It is safe for concurrent use.
type Engine struct {
	policy atomic.Pointer[Policy]
}

func NewEngine(p Policy) *Engine {
	e := &Engine{}
	e.SetPolicy(p)
	return e
}

// SetPolicy replaces the policy used by subsequent Score calls.
func (e *Engine) SetPolicy(p Policy) {
	cp := p
	cp.VersionPoints = make(map[string]float64, len(p.VersionPoints))
	for k, v := range p.VersionPoints {
		cp.VersionPoints[k] = v
	}
	e.policy.Store(&cp)
}

func (e *Engine) Policy() Policy { return *e.policy.Load() }

// Score scores a node against the current wall clock.
func (e *Engine) Score(node pnode.NodeRecord, avg NetworkAverages) Breakdown {
	return e.ScoreAt(node, avg, time.Now())
}

// ScoreAt scores a node as of now. It never fails: missing or malformed numbers count as 0.
func (e *Engine) ScoreAt(node pnode.NodeRecord, avg NetworkAverages, now time.Time) Breakdown {
	p := e.Policy()

	uptime := sanitize(node.UptimeSeconds)
	uptimeScore := math.Min(MaxUptime, uptime/p.uptimeCap()*MaxUptime)

	ageMs := math.Max(0, float64(now.UnixMilli()-node.LastSeenMs))
	responseScore := math.Max(0, MaxResponse*(1-ageMs/float64(StalenessCeiling.Milliseconds())))

	storageScore := 0.0
	if avgStorage := sanitize(avg.AvgStorageCommitted); avgStorage > 0 {
		storageScore = math.Min(MaxStorage, sanitize(node.StorageCommitted)/avgStorage*MaxStorage)
	}

	versionScore := p.VersionScore(node.Version)
	reliabilityScore := reliability(node, avg)

	total := math.Min(MaxTotal, uptimeScore+responseScore+storageScore+versionScore+reliabilityScore)
	grade, color := GradeFor(total)

	return Breakdown{
		Total:        round1(total),
		Uptime:       round1(uptimeScore),
		ResponseTime: round1(responseScore),
		Storage:      round1(storageScore),
		Version:      round1(versionScore),
		Reliability:  round1(reliabilityScore),
		Grade:        grade,
		Color:        color,
	}
}

// ScoreAll computes network averages once and scores every node, preserving input order.
func (e *Engine) ScoreAll(nodes []pnode.NodeRecord, now time.Time) ([]ScoredNode, NetworkAverages) {
	avg := Averages(nodes)
	out := make([]ScoredNode, len(nodes))
	for i, n := range nodes {
		b := e.ScoreAt(n, avg, now)
		out[i] = ScoredNode{NodeRecord: n, Score: b.Total, ScoreBreakdown: b}
	}
	return out, avg
}

func reliability(node pnode.NodeRecord, avg NetworkAverages) float64 {
	score := 0.0
	switch node.Status {
	case pnode.StatusActive:
		score += 5
	case pnode.StatusSyncing:
		score += 2
	}

	usage := sanitize(node.StorageUsagePercent)
	switch {
	case usage < 80:
		score += 3
	case usage < 90:
		score += 1
	}

	if sanitize(node.UptimeSeconds) > sanitize(avg.AvgUptime) {
		score += 2
	}
	return math.Min(MaxReliability, score)
}

// Averages computes network-wide means over nodes. Empty input yields all zeros.
func Averages(nodes []pnode.NodeRecord) NetworkAverages {
	if len(nodes) == 0 {
		return NetworkAverages{}
	}
	var uptime, storage float64
	active := 0
	for _, n := range nodes {
		uptime += sanitize(n.UptimeSeconds)
		storage += sanitize(n.StorageCommitted)
		if n.Status == pnode.StatusActive {
			active++
		}
	}
	count := float64(len(nodes))
	return NetworkAverages{
		AvgUptime:           uptime / count,
		AvgStorageCommitted: storage / count,
		ActiveNodeCount:     active,
	}
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	v = sanitize(v)
	return math.Max(lo, math.Min(hi, v))
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round2(v float64) float64 { return math.Round(v*100) / 100 }
