package engine

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hicksonhaziel/xandviz/cache"
	"github.com/hicksonhaziel/xandviz/config"
	"github.com/hicksonhaziel/xandviz/messaging"
	"github.com/hicksonhaziel/xandviz/prpc"
	"github.com/hicksonhaziel/xandviz/store"
	"github.com/hicksonhaziel/xandviz/timeseries"
)

const testPubkey = "AbCdEfGhIjKlMnOpQrStUvWxYz0123456789abcd"

type fixture struct {
	eng   *Engine
	db    *store.DB
	cache *cache.Memory
	down  *atomic.Bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	down := new(atomic.Bool)
	rpc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":{"pods":[
			{"pubkey":%q,"version":"0.8.0","uptime":90000,"last_seen_timestamp":%d,"address":"10.0.0.1:9001","rpc_port":6000,"is_public":false,"storage_committed":100,"storage_used":10,"storage_usage_percent":10}
		]}}`, testPubkey, time.Now().Unix())
	}))
	t.Cleanup(rpc.Close)
	credits := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"pods_credits":[{"pod_id":"pod-1","credits":120}]}`)
	}))
	t.Cleanup(credits.Close)

	db, err := store.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "engine.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mem := cache.NewMemory()
	cfg := config.Defaults()
	cfg.Collector.Enabled = false
	eng := New(Config{
		AppConfig:  cfg,
		DB:         db,
		Cache:      mem,
		TimeSeries: timeseries.NewMemory(timeseries.Options{}),
		PRPC:       prpc.NewClient(prpc.Options{Endpoint: rpc.URL}),
		Credits:    prpc.NewCreditsClient(credits.URL, time.Second),
	})
	return &fixture{eng: eng, db: db, cache: mem, down: down}
}

func TestEngineCollect(t *testing.T) {
	f := newFixture(t)
	f.eng.Start()
	defer f.eng.Stop()

	var mu sync.Mutex
	var events []messaging.CollectionCompleted
	f.eng.Events.Subscribe(func(evt Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, evt.Payload.(messaging.CollectionCompleted))
	}, EventCollectionCompleted)

	res, ran, err := f.eng.Collect(t.Context(), store.SourceAPI)
	require.NoError(t, err)
	require.True(t, ran)
	assert.Equal(t, 1, res.NodesProcessed)
	assert.Equal(t, 1, res.PodsProcessed)

	run, err := f.db.GetRun(res.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.SourceAPI, run.Source)
	assert.Equal(t, 1, run.NodesProcessed)

	mu.Lock()
	require.Len(t, events, 1)
	assert.Equal(t, res.RunID, events[0].RunID)
	mu.Unlock()

	snap, err := f.eng.History().LatestMetric(t.Context(), testPubkey)
	require.NoError(t, err)
	require.NotNil(t, snap)
	credit, err := f.eng.History().LatestCredits(t.Context(), "pod-1")
	require.NoError(t, err)
	require.NotNil(t, credit)
	assert.Equal(t, 120.0, credit.Credits)
}

func TestApplyConfigReloadsPolicy(t *testing.T) {
	f := newFixture(t)
	f.eng.Start()
	defer f.eng.Stop()

	require.NoError(t, f.cache.Set(t.Context(), cache.KeyLeaderboard, []int{1}, time.Minute))
	var reloads atomic.Int32
	f.eng.Events.Subscribe(func(Event) { reloads.Add(1) }, EventPolicyReloaded)

	next := config.Defaults()
	next.Scoring.Versions = map[string]float64{"0.9.0": 15, "0.8.0": 12}
	next.Scoring.LatestVersion = "0.9.0"
	f.eng.ApplyConfig(next)

	assert.Equal(t, "0.9.0", f.eng.Scorer().Policy().Latest())
	assert.Equal(t, 12.0, f.eng.Scorer().Policy().VersionScore("0.8.0"))
	assert.EqualValues(t, 1, reloads.Load())

	var cached []int
	ok, err := f.cache.Get(t.Context(), cache.KeyLeaderboard, &cached)
	require.NoError(t, err)
	assert.False(t, ok, "leaderboard cache invalidated")

	audit, err := f.db.ListEntityAudit("policy", "scoring")
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Contains(t, audit[0].NewValue, "latest=0.9.0")

	f.eng.ApplyConfig(next)
	assert.EqualValues(t, 1, reloads.Load(), "unchanged policy is not reapplied")
}

func TestHealthTransitions(t *testing.T) {
	f := newFixture(t)
	mr, err := miniredis.Run()
	require.NoError(t, err)
	f.eng.redis = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { f.eng.redis.Close() })

	var mu sync.Mutex
	var seen []EventType
	f.eng.Events.Subscribe(func(evt Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, evt.Type)
	})

	h := f.eng.Health(t.Context())
	assert.Equal(t, StateOK, h.Upstream.Status)
	assert.Equal(t, StateOK, h.Redis.Status)
	assert.Equal(t, StateDisabled, h.Messaging.Status)
	assert.True(t, h.Healthy())

	f.down.Store(true)
	mr.Close()
	h = f.eng.Health(t.Context())
	assert.Equal(t, StateDown, h.Upstream.Status)
	assert.Equal(t, StateDown, h.Redis.Status)
	assert.False(t, h.Healthy())
	assert.Equal(t, h, f.eng.LastHealth())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{
		EventUpstreamConnected, EventRedisConnected,
		EventUpstreamDisconnected, EventRedisDisconnected,
	}, seen)
}

func TestEventBus(t *testing.T) {
	bus := NewEventBus(nil)
	var all, filtered int
	bus.Subscribe(func(Event) { all++ })
	id := bus.Subscribe(func(Event) { filtered++ }, EventPolicyReloaded)
	bus.Subscribe(func(Event) { panic("boom") }, EventCollectionCompleted)

	bus.Emit(Event{Type: EventCollectionCompleted})
	bus.Emit(Event{Type: EventPolicyReloaded})
	assert.Equal(t, 2, all)
	assert.Equal(t, 1, filtered)

	bus.Unsubscribe(id)
	assert.Equal(t, 2, bus.Len())
	bus.Emit(Event{Type: EventPolicyReloaded})
	assert.Equal(t, 1, filtered)
	assert.Equal(t, "policy-reloaded", EventPolicyReloaded.String())
	assert.Equal(t, "unknown", EventType(99).String())
}
