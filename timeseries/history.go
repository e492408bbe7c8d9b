package timeseries

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// MetricSnapshot is one node-scoped sample. Hardware fields are absent for private nodes.
type MetricSnapshot struct {
	TimestampMs         int64    `json:"timestamp"`
	Uptime              float64  `json:"uptime"`
	Score               float64  `json:"score"`
	XanScore            *float64 `json:"xanScore,omitempty"`
	StorageCommitted    *float64 `json:"storageCommitted,omitempty"`
	StorageUsed         *float64 `json:"storageUsed,omitempty"`
	StorageUsagePercent *float64 `json:"storageUsagePercent,omitempty"`
	RAMTotal            *float64 `json:"ramTotal,omitempty"`
	RAMUsed             *float64 `json:"ramUsed,omitempty"`
	RAMPercent          *float64 `json:"ramPercent,omitempty"`
	CPUPercent          *float64 `json:"cpuPercent,omitempty"`
}

// CreditSnapshot is one pod-scoped credit sample.
type CreditSnapshot struct {
	TimestampMs int64   `json:"timestamp"`
	Credits     float64 `json:"credits"`
	PodID       string  `json:"podId"`
}

// NodeMetric pairs a pubkey with its snapshot for batch appends.
type NodeMetric struct {
	Pubkey   string
	Snapshot MetricSnapshot
}

// PodCredit pairs a pod with its credit balance for batch appends.
type PodCredit struct {
	PodID   string
	Credits float64
}

// History is the typed view over a Store for node metrics and pod credits.
// Entries that fail to decode are logged and skipped.
type History struct {
	store Store
	now   func() time.Time
	log   *zap.SugaredLogger
}

func NewHistory(store Store, now func() time.Time) *History {
	if now == nil {
		now = time.Now
	}
	return &History{store: store, now: now, log: zap.NewNop().Sugar()}
}

func (h *History) SetLogger(log *zap.SugaredLogger) {
	if log != nil {
		h.log = log
	}
}

func (h *History) Store() Store { return h.store }

func (h *History) stamp(ts int64) int64 {
	if ts != 0 {
		return ts
	}
	return h.now().UnixMilli()
}

func (h *History) AppendMetric(ctx context.Context, pubkey string, snap MetricSnapshot) error {
	snap.TimestampMs = h.stamp(snap.TimestampMs)
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return h.store.Append(ctx, NodeMetrics, pubkey, Entry{TimestampMs: snap.TimestampMs, Data: data})
}

// AppendMetrics stores a batch under a single timestamp unless a snapshot carries its own.
func (h *History) AppendMetrics(ctx context.Context, batch []NodeMetric) error {
	if len(batch) == 0 {
		return nil
	}
	ts := h.now().UnixMilli()
	entries := make([]Entry, 0, len(batch))
	for _, m := range batch {
		snap := m.Snapshot
		if snap.TimestampMs == 0 {
			snap.TimestampMs = ts
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{EntityID: m.Pubkey, TimestampMs: snap.TimestampMs, Data: data})
	}
	return h.store.BatchAppend(ctx, NodeMetrics, entries)
}

func (h *History) NodeHistory(ctx context.Context, pubkey string, start, end int64) ([]MetricSnapshot, error) {
	return rangeDecoded[MetricSnapshot](ctx, h, NodeMetrics, pubkey, start, end)
}

func (h *History) LatestMetric(ctx context.Context, pubkey string) (*MetricSnapshot, error) {
	return latestDecoded[MetricSnapshot](ctx, h, NodeMetrics, pubkey)
}

func (h *History) TrackedNodes(ctx context.Context) ([]string, error) {
	return h.store.ListEntities(ctx, NodeMetrics)
}

func (h *History) AppendCredits(ctx context.Context, podID string, credits float64) error {
	snap := CreditSnapshot{TimestampMs: h.now().UnixMilli(), Credits: credits, PodID: podID}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return h.store.Append(ctx, PodCredits, podID, Entry{TimestampMs: snap.TimestampMs, Data: data})
}

func (h *History) AppendCreditsBatch(ctx context.Context, batch []PodCredit) error {
	if len(batch) == 0 {
		return nil
	}
	ts := h.now().UnixMilli()
	entries := make([]Entry, 0, len(batch))
	for _, p := range batch {
		data, err := json.Marshal(CreditSnapshot{TimestampMs: ts, Credits: p.Credits, PodID: p.PodID})
		if err != nil {
			return err
		}
		entries = append(entries, Entry{EntityID: p.PodID, TimestampMs: ts, Data: data})
	}
	return h.store.BatchAppend(ctx, PodCredits, entries)
}

func (h *History) PodHistory(ctx context.Context, podID string, start, end int64) ([]CreditSnapshot, error) {
	return rangeDecoded[CreditSnapshot](ctx, h, PodCredits, podID, start, end)
}

func (h *History) LatestCredits(ctx context.Context, podID string) (*CreditSnapshot, error) {
	return latestDecoded[CreditSnapshot](ctx, h, PodCredits, podID)
}

func (h *History) TrackedPods(ctx context.Context) ([]string, error) {
	return h.store.ListEntities(ctx, PodCredits)
}

func decode(e Entry, dst any) error {
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("timeseries: decode %s@%d: %w", e.EntityID, e.TimestampMs, err)
	}
	return nil
}

func rangeDecoded[T any](ctx context.Context, h *History, series Series, entityID string, start, end int64) ([]T, error) {
	entries, err := h.store.Range(ctx, series, entityID, start, end)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		var v T
		if err := decode(e, &v); err != nil {
			h.log.Warnf("timeseries: skip %s: %v", series, err)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// latestDecoded falls back to scanning the whole series, newest first, when the
// newest entry does not decode.
func latestDecoded[T any](ctx context.Context, h *History, series Series, entityID string) (*T, error) {
	e, err := h.store.Latest(ctx, series, entityID)
	if err != nil || e == nil {
		return nil, err
	}
	var v T
	if err := decode(*e, &v); err == nil {
		return &v, nil
	}

	entries, err := h.store.Range(ctx, series, entityID, math.MinInt64, math.MaxInt64)
	if err != nil {
		return nil, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		var v T
		if err := decode(entries[i], &v); err != nil {
			h.log.Warnf("timeseries: skip %s: %v", series, err)
			continue
		}
		return &v, nil
	}
	return nil, nil
}
