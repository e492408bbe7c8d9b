package timeseries

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

// Clock is a manually advanced time source for store tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock { return &Clock{now: start} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Factory builds a fresh store using opts. The returned func moves any server-side
// TTL clock forward alongside opts.Now; it may be nil.
type Factory func(t *testing.T, opts Options) (Store, func(time.Duration))

// TestSuite runs a suite of tests against a store implementation.
func TestSuite(t *testing.T, newStore Factory) {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	setup := func(t *testing.T) (Store, *Clock, func(time.Duration)) {
		clock := NewClock(start)
		s, ttl := newStore(t, Options{Now: clock.Now})
		advance := func(d time.Duration) {
			clock.Advance(d)
			if ttl != nil {
				ttl(d)
			}
		}
		return s, clock, advance
	}
	entry := func(ts int64, v int) Entry {
		return Entry{TimestampMs: ts, Data: json.RawMessage(fmt.Sprintf(`{"v":%d}`, v))}
	}
	values := func(t *testing.T, entries []Entry) []int {
		t.Helper()
		out := make([]int, 0, len(entries))
		for _, e := range entries {
			var d struct{ V int }
			if err := json.Unmarshal(e.Data, &d); err != nil {
				t.Fatalf("bad entry data %q: %s", e.Data, err)
			}
			out = append(out, d.V)
		}
		return out
	}
	equal := func(a, b []int) bool {
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}
	nowMs := start.UnixMilli()

	t.Run("Empty", func(t *testing.T) {
		s, _, _ := setup(t)
		got, err := s.Range(ctx, NodeMetrics, "nobody", 0, nowMs)
		if err != nil {
			t.Fatalf("unexpected error: %s", err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("expected empty non-nil range, got %v", got)
		}
		latest, err := s.Latest(ctx, NodeMetrics, "nobody")
		if err != nil || latest != nil {
			t.Errorf("expected nil latest, got %v %v", latest, err)
		}
		ids, err := s.ListEntities(ctx, NodeMetrics)
		if err != nil || len(ids) != 0 {
			t.Errorf("expected no entities, got %v %v", ids, err)
		}
	})

	t.Run("OrderedRange", func(t *testing.T) {
		s, _, _ := setup(t)
		for i, off := range []int64{-3000, -1000, -2000, 0} {
			if err := s.Append(ctx, NodeMetrics, "a", entry(nowMs+off, i)); err != nil {
				t.Fatalf("append: %s", err)
			}
		}
		got, err := s.Range(ctx, NodeMetrics, "a", 0, nowMs)
		if err != nil {
			t.Fatalf("range: %s", err)
		}
		if v := values(t, got); !equal(v, []int{0, 2, 1, 3}) {
			t.Errorf("wrong order: %v", v)
		}
		for i := 1; i < len(got); i++ {
			if got[i-1].TimestampMs > got[i].TimestampMs {
				t.Errorf("not ascending at %d", i)
			}
		}
		if got[0].EntityID != "a" {
			t.Errorf("entity id not set: %q", got[0].EntityID)
		}

		// Bounds are inclusive.
		got, _ = s.Range(ctx, NodeMetrics, "a", nowMs-2000, nowMs-1000)
		if v := values(t, got); !equal(v, []int{2, 1}) {
			t.Errorf("inclusive bounds: %v", v)
		}
		got, _ = s.Range(ctx, NodeMetrics, "a", nowMs+1, nowMs+5000)
		if len(got) != 0 {
			t.Errorf("expected nothing after now, got %d", len(got))
		}

		latest, err := s.Latest(ctx, NodeMetrics, "a")
		if err != nil || latest == nil {
			t.Fatalf("latest: %v %v", latest, err)
		}
		if latest.TimestampMs != nowMs {
			t.Errorf("latest timestamp %d, want %d", latest.TimestampMs, nowMs)
		}
	})

	t.Run("DuplicateTimestamps", func(t *testing.T) {
		s, _, _ := setup(t)
		for _, v := range []int{7, 8, 7} {
			if err := s.Append(ctx, PodCredits, "pod", entry(nowMs, v)); err != nil {
				t.Fatalf("append: %s", err)
			}
		}
		got, _ := s.Range(ctx, PodCredits, "pod", nowMs, nowMs)
		if v := values(t, got); !equal(v, []int{7, 8, 7}) {
			t.Errorf("duplicates not kept in insertion order: %v", v)
		}
		latest, _ := s.Latest(ctx, PodCredits, "pod")
		if v := values(t, []Entry{*latest}); v[0] != 7 {
			t.Errorf("latest should be the last inserted, got %v", v)
		}
	})

	t.Run("Retention", func(t *testing.T) {
		s, clock, advance := setup(t)
		if err := s.Append(ctx, NodeMetrics, "a", entry(clock.Now().UnixMilli(), 1)); err != nil {
			t.Fatal(err)
		}
		advance(8 * 24 * time.Hour)
		if err := s.Append(ctx, NodeMetrics, "a", entry(clock.Now().UnixMilli(), 2)); err != nil {
			t.Fatal(err)
		}
		got, _ := s.Range(ctx, NodeMetrics, "a", 0, clock.Now().UnixMilli())
		if v := values(t, got); !equal(v, []int{2}) {
			t.Errorf("expected only the fresh entry, got %v", v)
		}
	})

	t.Run("StaleAppendKeepsLatest", func(t *testing.T) {
		s, clock, advance := setup(t)
		advance(30 * 24 * time.Hour)
		if err := s.Append(ctx, NodeMetrics, "a", entry(nowMs, 1)); err != nil {
			t.Fatal(err)
		}
		latest, err := s.Latest(ctx, NodeMetrics, "a")
		if err != nil || latest == nil {
			t.Fatalf("stale append was pruned: %v %v", latest, err)
		}
		if latest.TimestampMs != nowMs {
			t.Errorf("latest %d, want %d", latest.TimestampMs, nowMs)
		}

		// A newer point survives a later stale append.
		if err := s.Append(ctx, NodeMetrics, "b", entry(clock.Now().UnixMilli(), 2)); err != nil {
			t.Fatal(err)
		}
		if err := s.Append(ctx, NodeMetrics, "b", entry(nowMs, 3)); err != nil {
			t.Fatal(err)
		}
		got, _ := s.Range(ctx, NodeMetrics, "b", 0, clock.Now().UnixMilli())
		if v := values(t, got); !equal(v, []int{3, 2}) {
			t.Errorf("unexpected entries %v", v)
		}
	})

	t.Run("EntityTTL", func(t *testing.T) {
		s, clock, advance := setup(t)
		if err := s.Append(ctx, PodCredits, "gone", entry(clock.Now().UnixMilli(), 1)); err != nil {
			t.Fatal(err)
		}
		advance(30 * 24 * time.Hour)
		if err := s.Append(ctx, PodCredits, "kept", entry(clock.Now().UnixMilli(), 1)); err != nil {
			t.Fatal(err)
		}
		advance(31 * 24 * time.Hour)
		ids, err := s.ListEntities(ctx, PodCredits)
		if err != nil {
			t.Fatal(err)
		}
		if len(ids) != 1 || ids[0] != "kept" {
			t.Errorf("expected only kept entity, got %v", ids)
		}
		if latest, _ := s.Latest(ctx, PodCredits, "gone"); latest != nil {
			t.Errorf("expired entity still readable: %v", latest)
		}
	})

	t.Run("BatchAppend", func(t *testing.T) {
		s, _, _ := setup(t)
		batch := []Entry{
			{EntityID: "x", TimestampMs: nowMs - 10, Data: json.RawMessage(`{"v":1}`)},
			{EntityID: "y", TimestampMs: nowMs, Data: json.RawMessage(`{"v":2}`)},
			{EntityID: "x", TimestampMs: nowMs, Data: json.RawMessage(`{"v":3}`)},
		}
		if err := s.BatchAppend(ctx, NodeMetrics, batch); err != nil {
			t.Fatal(err)
		}
		if err := s.BatchAppend(ctx, NodeMetrics, nil); err != nil {
			t.Errorf("empty batch: %s", err)
		}
		got, _ := s.Range(ctx, NodeMetrics, "x", 0, nowMs)
		if v := values(t, got); !equal(v, []int{1, 3}) {
			t.Errorf("x: %v", v)
		}
		ids, _ := s.ListEntities(ctx, NodeMetrics)
		if len(ids) != 2 || ids[0] != "x" || ids[1] != "y" {
			t.Errorf("entities: %v", ids)
		}
	})

	t.Run("SeriesIsolation", func(t *testing.T) {
		s, _, _ := setup(t)
		if err := s.Append(ctx, NodeMetrics, "same", entry(nowMs, 1)); err != nil {
			t.Fatal(err)
		}
		if err := s.Append(ctx, PodCredits, "same", entry(nowMs, 2)); err != nil {
			t.Fatal(err)
		}
		got, _ := s.Range(ctx, PodCredits, "same", 0, nowMs)
		if v := values(t, got); !equal(v, []int{2}) {
			t.Errorf("series leaked: %v", v)
		}
	})

	t.Run("ConcurrentAppends", func(t *testing.T) {
		s, _, _ := setup(t)
		const workers, per = 8, 25
		var wg sync.WaitGroup
		errs := make(chan error, workers*per)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < per; i++ {
					errs <- s.Append(ctx, NodeMetrics, "busy", entry(nowMs-int64(i), w*per+i))
				}
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("append: %s", err)
			}
		}
		got, _ := s.Range(ctx, NodeMetrics, "busy", 0, nowMs)
		if len(got) != workers*per {
			t.Fatalf("got %d entries, want %d", len(got), workers*per)
		}
		for i := 1; i < len(got); i++ {
			if got[i-1].TimestampMs > got[i].TimestampMs {
				t.Fatalf("not ascending at %d", i)
			}
		}
	})
}
