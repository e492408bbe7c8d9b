// Package timeseries keeps per-entity, time-ordered metric logs with a short live
// retention window and a long entity TTL.
package timeseries

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Series names a key space of entities.
type Series string

const (
	NodeMetrics Series = "node:metrics"
	PodCredits  Series = "pod:credits"
)

const (
	// DefaultRetention bounds the live range of each entity.
	DefaultRetention = 7 * 24 * time.Hour
	// DefaultEntityTTL is how long an idle entity is kept before it disappears.
	DefaultEntityTTL = 60 * 24 * time.Hour
)

// Entry is one stored snapshot. Data is the JSON-encoded snapshot.
type Entry struct {
	EntityID    string          `json:"entityId"`
	TimestampMs int64           `json:"timestamp"`
	Data        json.RawMessage `json:"data"`
}

// Store is the time-series backend. Implementations are safe for concurrent use.
//
// Entries of one entity are kept sorted by TimestampMs; equal timestamps keep
// insertion order. Every append refreshes the entity TTL and prunes entries older
// than the retention window, except that the newest entry is never pruned.
type Store interface {
	Append(ctx context.Context, series Series, entityID string, e Entry) error
	// BatchAppend appends entries of possibly many entities; each Entry carries its EntityID.
	BatchAppend(ctx context.Context, series Series, entries []Entry) error
	// Range returns entries with start <= TimestampMs <= end in ascending order.
	Range(ctx context.Context, series Series, entityID string, start, end int64) ([]Entry, error)
	// Latest returns the newest entry, or nil when the entity has no history.
	Latest(ctx context.Context, series Series, entityID string) (*Entry, error)
	ListEntities(ctx context.Context, series Series) ([]string, error)
}

// Options tune retention. Zero values fall back to the defaults.
type Options struct {
	Retention time.Duration
	EntityTTL time.Duration
	Now       func() time.Time
	Log       *zap.SugaredLogger
}

func (o Options) withDefaults() Options {
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.EntityTTL <= 0 {
		o.EntityTTL = DefaultEntityTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Log == nil {
		o.Log = zap.NewNop().Sugar()
	}
	return o
}

// pruneCutoff is the exclusive lower bound kept after appending an entry at newestMs.
// Capping it at the appended timestamp keeps at least that entry (and anything newer).
func pruneCutoff(now time.Time, retention time.Duration, newestMs int64) int64 {
	cutoff := now.Add(-retention).UnixMilli()
	if newestMs < cutoff {
		return newestMs
	}
	return cutoff
}

// groupByEntity splits a batch per entity, stamping missing timestamps.
func groupByEntity(entries []Entry, nowMs int64) (order []string, groups map[string][]Entry) {
	groups = make(map[string][]Entry)
	for _, e := range entries {
		if e.TimestampMs == 0 {
			e.TimestampMs = nowMs
		}
		if _, ok := groups[e.EntityID]; !ok {
			order = append(order, e.EntityID)
		}
		groups[e.EntityID] = append(groups[e.EntityID], e)
	}
	return order, groups
}

func maxTimestamp(entries []Entry) int64 {
	var max int64
	for i, e := range entries {
		if i == 0 || e.TimestampMs > max {
			max = e.TimestampMs
		}
	}
	return max
}
