package timeseries

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memSeries struct {
	entries   []Entry
	expiresAt time.Time
}

// Memory is an in-process Store, used when Redis is not configured and in tests.
type Memory struct {
	mu   sync.RWMutex
	opts Options
	data map[string]*memSeries // key: series + ":" + entityID
}

func NewMemory(opts Options) *Memory {
	return &Memory{opts: opts.withDefaults(), data: make(map[string]*memSeries)}
}

func memKey(series Series, entityID string) string { return string(series) + ":" + entityID }

func (m *Memory) Append(ctx context.Context, series Series, entityID string, e Entry) error {
	e.EntityID = entityID
	return m.BatchAppend(ctx, series, []Entry{e})
}

func (m *Memory) BatchAppend(_ context.Context, series Series, entries []Entry) error {
	now := m.opts.Now()
	order, groups := groupByEntity(entries, now.UnixMilli())

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range order {
		key := memKey(series, id)
		s, ok := m.data[key]
		if !ok || !now.Before(s.expiresAt) {
			s = &memSeries{}
			m.data[key] = s
		}
		group := groups[id]
		for _, e := range group {
			e.Data = append([]byte(nil), e.Data...)
			i := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].TimestampMs > e.TimestampMs })
			s.entries = append(s.entries, Entry{})
			copy(s.entries[i+1:], s.entries[i:])
			s.entries[i] = e
		}
		s.expiresAt = now.Add(m.opts.EntityTTL)

		cutoff := pruneCutoff(now, m.opts.Retention, maxTimestamp(group))
		drop := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].TimestampMs >= cutoff })
		if drop > 0 {
			s.entries = append([]Entry(nil), s.entries[drop:]...)
		}
	}
	return nil
}

func (m *Memory) live(series Series, entityID string) *memSeries {
	s, ok := m.data[memKey(series, entityID)]
	if !ok || !m.opts.Now().Before(s.expiresAt) {
		return nil
	}
	return s
}

func (m *Memory) Range(_ context.Context, series Series, entityID string, start, end int64) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Entry{}
	s := m.live(series, entityID)
	if s == nil {
		return out, nil
	}
	for _, e := range s.entries {
		if e.TimestampMs < start || e.TimestampMs > end {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *Memory) Latest(_ context.Context, series Series, entityID string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.live(series, entityID)
	if s == nil || len(s.entries) == 0 {
		return nil, nil
	}
	e := s.entries[len(s.entries)-1]
	return &e, nil
}

func (m *Memory) ListEntities(_ context.Context, series Series) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := string(series) + ":"
	now := m.opts.Now()
	ids := []string{}
	for key, s := range m.data {
		if !strings.HasPrefix(key, prefix) || !now.Before(s.expiresAt) {
			continue
		}
		ids = append(ids, strings.TrimPrefix(key, prefix))
	}
	sort.Strings(ids)
	return ids, nil
}

// Sweep removes expired entities. Reads already ignore them; this only reclaims memory.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.opts.Now()
	n := 0
	for key, s := range m.data {
		if !now.Before(s.expiresAt) {
			delete(m.data, key)
			n++
		}
	}
	return n
}
