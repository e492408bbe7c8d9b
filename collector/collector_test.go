package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hicksonhaziel/xandviz/cache"
	"github.com/hicksonhaziel/xandviz/messaging"
	"github.com/hicksonhaziel/xandviz/pnode"
	"github.com/hicksonhaziel/xandviz/scoring"
	"github.com/hicksonhaziel/xandviz/store"
	"github.com/hicksonhaziel/xandviz/timeseries"
)

type fakeNodes struct {
	mu       sync.Mutex
	nodes    []pnode.NodeRecord
	err      error
	failFor  map[string]bool
	statsHit int
}

func (f *fakeNodes) GetClusterNodes(context.Context) ([]pnode.NodeRecord, error) {
	return f.nodes, f.err
}

func (f *fakeNodes) GetStats(_ context.Context, n pnode.NodeRecord) (*pnode.Stats, error) {
	f.mu.Lock()
	f.statsHit++
	f.mu.Unlock()
	if f.failFor[n.Pubkey] {
		return nil, fmt.Errorf("timeout")
	}
	cpu, total, used := 12.5, 1000.0, 250.0
	return &pnode.Stats{CPUPercent: &cpu, RAMTotal: &total, RAMUsed: &used}, nil
}

type fakeCredits struct {
	credits []pnode.CreditEntry
	err     error
}

func (f *fakeCredits) GetPodCredits(context.Context) ([]pnode.CreditEntry, error) {
	return f.credits, f.err
}

type recorder struct {
	mu       sync.Mutex
	created  []*store.CollectionRun
	finished []store.CollectionRun
	events   []messaging.CollectionCompleted
	topics   []string
	envs     []*messaging.Envelope
}

func (r *recorder) CreateRun(run *store.CollectionRun) error {
	r.created = append(r.created, run)
	return nil
}

func (r *recorder) FinishRun(run *store.CollectionRun) error {
	r.finished = append(r.finished, *run)
	return nil
}

func (r *recorder) EmitCollectionCompleted(ev messaging.CollectionCompleted) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) PublishEnvelope(_ context.Context, topic string, env *messaging.Envelope) error {
	r.topics = append(r.topics, topic)
	r.envs = append(r.envs, env)
	return nil
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func node(pubkey string, public bool) pnode.NodeRecord {
	return pnode.NodeRecord{
		Pubkey:              pubkey,
		Version:             "0.8.0",
		Status:              pnode.StatusActive,
		UptimeSeconds:       86400,
		LastSeenMs:          now.Add(-5 * time.Second).UnixMilli(),
		IPAddress:           "10.0.0.1",
		RPCPort:             6000,
		IsPublic:            public,
		StorageCommitted:    1e9,
		StorageUsed:         2e8,
		StorageUsagePercent: 20,
	}
}

func newCollector(t *testing.T, nodes *fakeNodes, credits CreditSource, opts Options) (*Collector, *timeseries.History) {
	t.Helper()
	clock := func() time.Time { return now }
	ts := timeseries.NewMemory(timeseries.Options{Now: clock})
	h := timeseries.NewHistory(ts, clock)
	c := New(nodes, credits, scoring.NewEngine(scoring.DefaultPolicy()), h, opts)
	c.now = clock
	return c, h
}

func TestCollectAndStoreSnapshot(t *testing.T) {
	nodes := &fakeNodes{}
	c, h := newCollector(t, nodes, nil, Options{})

	in := []pnode.NodeRecord{node("pub-a", true), node("priv-b", false)}
	credits := []pnode.CreditEntry{{PodID: "pod-1", Credits: 10}, {PodID: "", Credits: 3}, {PodID: "pod-2", Credits: 20}}

	res, err := c.CollectAndStoreSnapshot(t.Context(), in, credits)
	require.NoError(t, err)
	assert.Equal(t, 2, res.NodesSeen)
	assert.Equal(t, 2, res.NodesProcessed)
	assert.Equal(t, 0, res.NodesFailed)
	assert.Equal(t, 2, res.PodsProcessed)
	assert.Equal(t, now.UnixMilli(), res.Timestamp)
	assert.Equal(t, 1, nodes.statsHit, "only public nodes fetch stats")

	pub, err := h.LatestMetric(t.Context(), "pub-a")
	require.NoError(t, err)
	require.NotNil(t, pub)
	assert.Equal(t, now.UnixMilli(), pub.TimestampMs)
	assert.Greater(t, pub.Score, 0.0)
	require.NotNil(t, pub.XanScore)
	assert.Equal(t, pub.Score, *pub.XanScore)
	require.NotNil(t, pub.CPUPercent)
	assert.Equal(t, 12.5, *pub.CPUPercent)
	require.NotNil(t, pub.RAMPercent)
	assert.Equal(t, 25.0, *pub.RAMPercent)

	priv, err := h.LatestMetric(t.Context(), "priv-b")
	require.NoError(t, err)
	require.NotNil(t, priv)
	assert.Nil(t, priv.CPUPercent)
	assert.Nil(t, priv.RAMPercent)
	require.NotNil(t, priv.StorageCommitted)
	assert.Equal(t, 1e9, *priv.StorageCommitted)

	pods, err := h.TrackedPods(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"pod-1", "pod-2"}, pods)
}

func TestCollectKeepsNodesWithoutStats(t *testing.T) {
	nodes := &fakeNodes{failFor: map[string]bool{"pub-bad": true}}
	c, h := newCollector(t, nodes, nil, Options{Workers: 2})

	in := []pnode.NodeRecord{node("pub-a", true), node("pub-bad", true), node("pub-c", true)}
	res, err := c.CollectAndStoreSnapshot(t.Context(), in, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.NodesProcessed)
	assert.Equal(t, 0, res.NodesFailed)

	tracked, err := h.TrackedNodes(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"pub-a", "pub-bad", "pub-c"}, tracked)

	bad, err := h.LatestMetric(t.Context(), "pub-bad")
	require.NoError(t, err)
	require.NotNil(t, bad)
	assert.Equal(t, in[1].UptimeSeconds, bad.Uptime)
	assert.NotNil(t, bad.XanScore)
	assert.NotNil(t, bad.StorageCommitted)
	assert.Nil(t, bad.CPUPercent)
	assert.Nil(t, bad.RAMPercent)
	assert.Nil(t, bad.RAMTotal)

	good, err := h.LatestMetric(t.Context(), "pub-a")
	require.NoError(t, err)
	require.NotNil(t, good.CPUPercent)
	assert.Equal(t, 12.5, *good.CPUPercent)
}

func TestCollectCountsCanceledNodesAsFailed(t *testing.T) {
	c, h := newCollector(t, &fakeNodes{}, nil, Options{})
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	res, err := c.CollectAndStoreSnapshot(ctx, []pnode.NodeRecord{node("priv-a", false)}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.NodesProcessed)
	assert.Equal(t, 1, res.NodesFailed)

	tracked, err := h.TrackedNodes(t.Context())
	require.NoError(t, err)
	assert.Empty(t, tracked)
}

func TestCollectUsesCachedXanScore(t *testing.T) {
	mem := cache.NewMemory()
	require.NoError(t, mem.Set(t.Context(), cache.ScoreKey("priv-b"), 42.5, time.Minute))
	c, h := newCollector(t, &fakeNodes{}, nil, Options{Cache: mem})

	_, err := c.CollectAndStoreSnapshot(t.Context(), []pnode.NodeRecord{node("priv-b", false), node("priv-c", false)}, nil)
	require.NoError(t, err)

	b, err := h.LatestMetric(t.Context(), "priv-b")
	require.NoError(t, err)
	assert.Equal(t, 42.5, *b.XanScore)

	cc, err := h.LatestMetric(t.Context(), "priv-c")
	require.NoError(t, err)
	var cached float64
	ok, err := mem.Get(t.Context(), cache.ScoreKey("priv-c"), &cached)
	require.NoError(t, err)
	require.True(t, ok, "miss is written back")
	assert.Equal(t, cc.Score, cached)
}

func TestCollectEmptyInput(t *testing.T) {
	c, _ := newCollector(t, &fakeNodes{}, nil, Options{})
	res, err := c.CollectAndStoreSnapshot(t.Context(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Result{Timestamp: now.UnixMilli()}, res)
}

func TestRunOnceRecordsAndAnnounces(t *testing.T) {
	rec := &recorder{}
	nodes := &fakeNodes{nodes: []pnode.NodeRecord{node("priv-a", false)}}
	credits := &fakeCredits{credits: []pnode.CreditEntry{{PodID: "pod-1", Credits: 5}}}
	c, _ := newCollector(t, nodes, credits, Options{Runs: rec, Emitter: rec, Publisher: rec, Topic: "xandviz.collections"})

	res, err := c.RunOnce(t.Context(), store.SourceAPI)
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 1, res.NodesProcessed)
	assert.Equal(t, 1, res.PodsProcessed)

	require.Len(t, rec.created, 1)
	require.Len(t, rec.finished, 1)
	assert.Equal(t, res.RunID, rec.finished[0].ID)
	assert.Equal(t, store.SourceAPI, rec.finished[0].Source)
	assert.Equal(t, 1, rec.finished[0].NodesProcessed)
	assert.Empty(t, rec.finished[0].Error)
	require.NotNil(t, rec.finished[0].FinishedAt)

	require.Len(t, rec.events, 1)
	assert.Equal(t, res.RunID, rec.events[0].RunID)
	require.Len(t, rec.envs, 1)
	assert.Equal(t, "xandviz.collections", rec.topics[0])
	assert.Equal(t, messaging.TypeCollectionCompleted, rec.envs[0].MsgType)
}

func TestRunOnceUpstreamFailure(t *testing.T) {
	rec := &recorder{}
	nodes := &fakeNodes{err: fmt.Errorf("%w: refused", pnode.ErrUpstreamUnavailable)}
	c, _ := newCollector(t, nodes, nil, Options{Runs: rec, Emitter: rec})

	_, err := c.RunOnce(t.Context(), store.SourceCLI)
	require.Error(t, err)
	assert.True(t, errors.Is(err, pnode.ErrUpstreamUnavailable))
	require.Len(t, rec.finished, 1)
	assert.Contains(t, rec.finished[0].Error, "fetch nodes")
	require.Len(t, rec.events, 1)
	assert.NotEmpty(t, rec.events[0].Error)
}

func TestRunOnceCreditFailureContinues(t *testing.T) {
	nodes := &fakeNodes{nodes: []pnode.NodeRecord{node("priv-a", false)}}
	credits := &fakeCredits{err: pnode.ErrUpstreamUnavailable}
	c, _ := newCollector(t, nodes, credits, Options{})

	res, err := c.RunOnce(t.Context(), store.SourceSchedule)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NodesProcessed)
	assert.Equal(t, 0, res.PodsProcessed)
}

func TestTriggerSkipsWhileRunning(t *testing.T) {
	c, _ := newCollector(t, &fakeNodes{}, nil, Options{})
	c.running.Store(true)
	_, ran, err := c.Trigger(t.Context(), store.SourceAPI)
	assert.NoError(t, err)
	assert.False(t, ran)

	c.running.Store(false)
	_, ran, err = c.Trigger(t.Context(), store.SourceAPI)
	assert.NoError(t, err)
	assert.True(t, ran)
}

func TestStartStop(t *testing.T) {
	rec := &recorder{}
	c, _ := newCollector(t, &fakeNodes{nodes: []pnode.NodeRecord{node("priv-a", false)}}, nil, Options{Interval: 10 * time.Millisecond, Emitter: rec})
	c.Start()
	c.Start()
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.events) > 0
	}, 2*time.Second, 5*time.Millisecond)
	c.Stop()
	c.Stop()
}
