package analytics

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hicksonhaziel/xandviz/timeseries"
)

// Change describes the endpoints of a windowed credit range.
type Change struct {
	Current       float64 `json:"current"`
	Previous      float64 `json:"previous"`
	Change        float64 `json:"change"`
	PercentChange float64 `json:"percentChange"`
}

type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

type NodeHistoryStats struct {
	DataPoints int              `json:"dataPoints"`
	TimeRange  TimeRange        `json:"timeRange"`
	Metrics    *NodeMetricStats `json:"metrics,omitempty"`
}

type NodeHistory struct {
	Pubkey  string                      `json:"pubkey"`
	History []timeseries.MetricSnapshot `json:"history"`
	Stats   NodeHistoryStats            `json:"stats"`
}

type PodChanges struct {
	Last10Min *Change `json:"last10min"`
	Last7Days *Change `json:"last7days"`
}

type PodHistoryStats struct {
	DataPoints int            `json:"dataPoints"`
	TimeRange  TimeRange      `json:"timeRange"`
	Credits    *CreditSummary `json:"credits,omitempty"`
	Changes    *PodChanges    `json:"changes,omitempty"`
}

type PodHistory struct {
	PodID   string                      `json:"podId"`
	History []timeseries.CreditSnapshot `json:"history"`
	Stats   PodHistoryStats             `json:"stats"`
}

// Service answers history queries against the time-series store.
type Service struct {
	history *timeseries.History
	now     func() time.Time
}

func NewService(history *timeseries.History, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{history: history, now: now}
}

// NodeHistory returns the node's snapshots in range plus field statistics.
// An entity without data yields an empty history and zero data points.
func (s *Service) NodeHistory(ctx context.Context, pubkey string, q Query) (*NodeHistory, error) {
	start, end := q.resolve(s.now())
	hist, err := s.history.NodeHistory(ctx, pubkey, start, end)
	if err != nil {
		return nil, fmt.Errorf("node history %s: %w", pubkey, err)
	}
	out := &NodeHistory{Pubkey: pubkey, History: hist}
	if len(hist) == 0 {
		out.Stats.TimeRange = TimeRange{Start: start, End: end}
		return out, nil
	}
	out.Stats = NodeHistoryStats{
		DataPoints: len(hist),
		TimeRange:  TimeRange{Start: hist[0].TimestampMs, End: hist[len(hist)-1].TimestampMs},
		Metrics:    NodeStats(hist),
	}
	return out, nil
}

// PodCreditsHistory returns the pod's credit snapshots in range with credit
// statistics and the trailing 10 minute and 7 day changes.
func (s *Service) PodCreditsHistory(ctx context.Context, podID string, q Query) (*PodHistory, error) {
	start, end := q.resolve(s.now())
	hist, err := s.history.PodHistory(ctx, podID, start, end)
	if err != nil {
		return nil, fmt.Errorf("pod history %s: %w", podID, err)
	}
	out := &PodHistory{PodID: podID, History: hist}
	if len(hist) == 0 {
		out.Stats.TimeRange = TimeRange{Start: start, End: end}
		return out, nil
	}
	changes, err := s.podChanges(ctx, podID)
	if err != nil {
		return nil, err
	}
	out.Stats = PodHistoryStats{
		DataPoints: len(hist),
		TimeRange:  TimeRange{Start: hist[0].TimestampMs, End: hist[len(hist)-1].TimestampMs},
		Credits:    CreditStats(hist),
		Changes:    changes,
	}
	return out, nil
}

// ChangeOverPeriod compares the first and last credit snapshot of the trailing
// period. It returns nil when the window holds no data.
func (s *Service) ChangeOverPeriod(ctx context.Context, podID string, period Period) (*Change, error) {
	start, end := period.Window(s.now())
	hist, err := s.history.PodHistory(ctx, podID, start, end)
	if err != nil {
		return nil, fmt.Errorf("pod change %s: %w", podID, err)
	}
	if len(hist) == 0 {
		return nil, nil
	}
	current, previous := hist[len(hist)-1].Credits, hist[0].Credits
	return &Change{
		Current:       current,
		Previous:      previous,
		Change:        current - previous,
		PercentChange: percentChange(current-previous, previous),
	}, nil
}

func (s *Service) podChanges(ctx context.Context, podID string) (*PodChanges, error) {
	short, err := s.ChangeOverPeriod(ctx, podID, Period10Min)
	if err != nil {
		return nil, err
	}
	long, err := s.ChangeOverPeriod(ctx, podID, Period7D)
	if err != nil {
		return nil, err
	}
	return &PodChanges{Last10Min: short, Last7Days: long}, nil
}

type NodeLatest struct {
	Pubkey string                     `json:"pubkey"`
	Latest *timeseries.MetricSnapshot `json:"latest"`
}

type PodLatest struct {
	PodID       string                     `json:"podId"`
	Latest      *timeseries.CreditSnapshot `json:"latest"`
	Change10Min *Change                    `json:"change10min"`
	Change7Days *Change                    `json:"change7days"`
}

type NodesOverview struct {
	Total   int          `json:"total"`
	Tracked int          `json:"tracked"`
	Data    []NodeLatest `json:"data"`
}

type PodsOverview struct {
	Total   int         `json:"total"`
	Tracked int         `json:"tracked"`
	Data    []PodLatest `json:"data"`
}

type Overview struct {
	Nodes     NodesOverview `json:"nodes"`
	Pods      PodsOverview  `json:"pods"`
	Timestamp int64         `json:"timestamp"`
}

// DefaultOverviewLimit caps entities per kind when no limit is given.
const DefaultOverviewLimit = 10

const overviewWorkers = 8

// Overview lists tracked entities with their latest snapshot, up to limit per kind.
func (s *Service) Overview(ctx context.Context, limit int) (*Overview, error) {
	if limit <= 0 {
		limit = DefaultOverviewLimit
	}
	pubkeys, err := s.history.TrackedNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("overview: %w", err)
	}
	podIDs, err := s.history.TrackedPods(ctx)
	if err != nil {
		return nil, fmt.Errorf("overview: %w", err)
	}

	nodes := make([]NodeLatest, min(limit, len(pubkeys)))
	pods := make([]PodLatest, min(limit, len(podIDs)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(overviewWorkers)
	for i := range nodes {
		pubkey := pubkeys[i]
		g.Go(func() error {
			latest, err := s.history.LatestMetric(gctx, pubkey)
			if err != nil {
				return err
			}
			nodes[i] = NodeLatest{Pubkey: pubkey, Latest: latest}
			return nil
		})
	}
	for i := range pods {
		podID := podIDs[i]
		g.Go(func() error {
			latest, err := s.history.LatestCredits(gctx, podID)
			if err != nil {
				return err
			}
			changes, err := s.podChanges(gctx, podID)
			if err != nil {
				return err
			}
			pods[i] = PodLatest{PodID: podID, Latest: latest, Change10Min: changes.Last10Min, Change7Days: changes.Last7Days}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("overview: %w", err)
	}

	out := &Overview{
		Nodes:     NodesOverview{Total: len(pubkeys), Data: nodes},
		Pods:      PodsOverview{Total: len(podIDs), Data: pods},
		Timestamp: s.now().UnixMilli(),
	}
	for _, n := range nodes {
		if n.Latest != nil {
			out.Nodes.Tracked++
		}
	}
	for _, p := range pods {
		if p.Latest != nil {
			out.Pods.Tracked++
		}
	}
	return out, nil
}
