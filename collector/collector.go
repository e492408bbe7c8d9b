// Package collector snapshots node metrics and pod credits into the time-series
// store on a fixed interval.
package collector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hicksonhaziel/xandviz/cache"
	"github.com/hicksonhaziel/xandviz/messaging"
	"github.com/hicksonhaziel/xandviz/metrics"
	"github.com/hicksonhaziel/xandviz/pnode"
	"github.com/hicksonhaziel/xandviz/scoring"
	"github.com/hicksonhaziel/xandviz/store"
	"github.com/hicksonhaziel/xandviz/timeseries"
)

const (
	DefaultWorkers  = 8
	DefaultInterval = 10 * time.Minute
	DefaultScoreTTL = 60 * time.Second
	publishTimeout  = 5 * time.Second
)

// NodeSource lists cluster nodes and fetches get-stats for public ones.
type NodeSource interface {
	GetClusterNodes(ctx context.Context) ([]pnode.NodeRecord, error)
	GetStats(ctx context.Context, node pnode.NodeRecord) (*pnode.Stats, error)
}

// CreditSource returns the current pod credit balances.
type CreditSource interface {
	GetPodCredits(ctx context.Context) ([]pnode.CreditEntry, error)
}

// RunRecorder keeps the durable log of collection runs.
type RunRecorder interface {
	CreateRun(r *store.CollectionRun) error
	FinishRun(r *store.CollectionRun) error
}

// Emitter receives a notification after every run.
type Emitter interface {
	EmitCollectionCompleted(ev messaging.CollectionCompleted)
}

// Publisher sends run notifications to the message broker.
type Publisher interface {
	PublishEnvelope(ctx context.Context, topic string, env *messaging.Envelope) error
}

type Options struct {
	Workers  int
	Interval time.Duration
	// Cache supplies the last served XandScore per node; a miss falls back to the
	// freshly computed score, which is then cached for ScoreTTL.
	Cache     cache.Cache
	ScoreTTL  time.Duration
	Runs      RunRecorder
	Emitter   Emitter
	Publisher Publisher
	Topic     string
	Log       *zap.SugaredLogger
}

// Result summarizes one snapshot pass.
type Result struct {
	RunID          string `json:"runId,omitempty"`
	NodesSeen      int    `json:"nodesSeen"`
	NodesProcessed int    `json:"nodesProcessed"`
	NodesFailed    int    `json:"nodesFailed"`
	PodsProcessed  int    `json:"podsProcessed"`
	Timestamp      int64  `json:"timestamp"`
}

type Collector struct {
	nodes   NodeSource
	credits CreditSource
	engine  *scoring.Engine
	history *timeseries.History
	opts    Options
	log     *zap.SugaredLogger
	now     func() time.Time

	running  atomic.Bool
	mu       sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
}

func New(nodes NodeSource, credits CreditSource, engine *scoring.Engine, history *timeseries.History, opts Options) *Collector {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ScoreTTL <= 0 {
		opts.ScoreTTL = DefaultScoreTTL
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	return &Collector{
		nodes:   nodes,
		credits: credits,
		engine:  engine,
		history: history,
		opts:    opts,
		log:     opts.Log,
		now:     time.Now,
	}
}

// CollectAndStoreSnapshot scores nodes, builds one snapshot per node and appends
// every snapshot and credit balance in a batch. A public node whose get-stats
// call fails is stored without hardware fields. Nodes whose snapshot cannot be
// built are logged and counted in NodesFailed; the rest are still stored.
func (c *Collector) CollectAndStoreSnapshot(ctx context.Context, nodes []pnode.NodeRecord, credits []pnode.CreditEntry) (Result, error) {
	now := c.now()
	res := Result{NodesSeen: len(nodes), Timestamp: now.UnixMilli()}

	scored, _ := c.engine.ScoreAll(nodes, now)
	snaps := make([]*timeseries.NodeMetric, len(scored))
	var failed atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(c.opts.Workers)
	for i, sn := range scored {
		g.Go(func() error {
			snap, err := c.snapshot(ctx, sn, res.Timestamp)
			if err != nil {
				c.log.Warnf("collector: node %s: %v", sn.Pubkey, err)
				failed.Add(1)
				return nil
			}
			snaps[i] = &timeseries.NodeMetric{Pubkey: sn.Pubkey, Snapshot: *snap}
			return nil
		})
	}
	g.Wait()

	batch := make([]timeseries.NodeMetric, 0, len(snaps))
	for _, m := range snaps {
		if m != nil {
			batch = append(batch, *m)
		}
	}
	res.NodesFailed = int(failed.Load())

	pods := make([]timeseries.PodCredit, 0, len(credits))
	for _, cr := range credits {
		if cr.PodID == "" {
			continue
		}
		pods = append(pods, timeseries.PodCredit{PodID: cr.PodID, Credits: cr.Credits})
	}

	if err := c.history.AppendMetrics(ctx, batch); err != nil {
		return res, fmt.Errorf("store node metrics: %w", err)
	}
	res.NodesProcessed = len(batch)
	if err := c.history.AppendCreditsBatch(ctx, pods); err != nil {
		return res, fmt.Errorf("store pod credits: %w", err)
	}
	res.PodsProcessed = len(pods)
	return res, nil
}

func (c *Collector) snapshot(ctx context.Context, sn scoring.ScoredNode, ts int64) (*timeseries.MetricSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := &timeseries.MetricSnapshot{
		TimestampMs:         ts,
		Uptime:              sn.UptimeSeconds,
		Score:               sn.Score,
		StorageCommitted:    ptr(sn.StorageCommitted),
		StorageUsed:         ptr(sn.StorageUsed),
		StorageUsagePercent: ptr(sn.StorageUsagePercent),
	}
	snap.XanScore = ptr(c.xanScore(ctx, sn))

	if !sn.IsPublic {
		return snap, nil
	}
	stats := sn.Details
	if stats == nil {
		var err error
		stats, err = c.nodes.GetStats(ctx, sn.NodeRecord)
		if err != nil {
			c.log.Warnf("collector: get-stats %s: %v", sn.Pubkey, err)
			stats = nil
		}
	}
	if stats != nil {
		snap.CPUPercent = stats.CPUPercent
		if pct, ok := stats.RAMPercent(); ok {
			snap.RAMTotal = stats.RAMTotal
			snap.RAMUsed = stats.RAMUsed
			snap.RAMPercent = ptr(pct)
		}
	}
	return snap, nil
}

func (c *Collector) xanScore(ctx context.Context, sn scoring.ScoredNode) float64 {
	if c.opts.Cache == nil {
		return sn.Score
	}
	key := cache.ScoreKey(sn.Pubkey)
	var cached float64
	ok, err := c.opts.Cache.Get(ctx, key, &cached)
	if err != nil {
		c.log.Warnf("collector: score cache read %s: %v", sn.Pubkey, err)
	}
	metrics.RecordCacheLookup("score", ok)
	if ok && err == nil {
		return cached
	}
	if err := c.opts.Cache.Set(ctx, key, sn.Score, c.opts.ScoreTTL); err != nil {
		c.log.Warnf("collector: score cache write %s: %v", sn.Pubkey, err)
	}
	return sn.Score
}

// RunOnce pulls nodes and credits from the sources and stores a snapshot. The
// run is recorded, counted and announced whether or not it succeeds. A credit
// source failure is logged and the run continues with nodes only.
func (c *Collector) RunOnce(ctx context.Context, source string) (Result, error) {
	started := c.now()
	run := &store.CollectionRun{ID: uuid.New().String(), Source: source, StartedAt: started}
	if c.opts.Runs != nil {
		if err := c.opts.Runs.CreateRun(run); err != nil {
			c.log.Warnf("collector: record run: %v", err)
		}
	}

	res, err := c.collect(ctx)
	res.RunID = run.ID
	if res.Timestamp == 0 {
		res.Timestamp = started.UnixMilli()
	}
	elapsed := c.now().Sub(started)

	run.NodesSeen = res.NodesSeen
	run.NodesProcessed = res.NodesProcessed
	run.NodesFailed = res.NodesFailed
	run.PodsProcessed = res.PodsProcessed
	if err != nil {
		run.Error = err.Error()
	}
	finished := c.now()
	run.FinishedAt = &finished
	if c.opts.Runs != nil {
		if ferr := c.opts.Runs.FinishRun(run); ferr != nil {
			c.log.Warnf("collector: finish run %s: %v", run.ID, ferr)
		}
	}
	metrics.RecordCollection(elapsed.Seconds(), res.NodesProcessed, res.NodesFailed, res.PodsProcessed, err)

	ev := messaging.CollectionCompleted{
		RunID:          run.ID,
		Source:         run.Source,
		NodesSeen:      res.NodesSeen,
		NodesProcessed: res.NodesProcessed,
		NodesFailed:    res.NodesFailed,
		PodsProcessed:  res.PodsProcessed,
		DurationMs:     elapsed.Milliseconds(),
		TimestampMs:    res.Timestamp,
		Error:          run.Error,
	}
	if c.opts.Emitter != nil {
		c.opts.Emitter.EmitCollectionCompleted(ev)
	}
	c.publish(ev)

	if err != nil {
		c.log.Errorf("collector: run %s failed: %v", run.ID, err)
		return res, err
	}
	c.log.Infof("collector: run %s stored %d nodes (%d failed), %d pods in %s",
		run.ID, res.NodesProcessed, res.NodesFailed, res.PodsProcessed, elapsed.Round(time.Millisecond))
	return res, nil
}

func (c *Collector) collect(ctx context.Context) (Result, error) {
	nodes, err := c.nodes.GetClusterNodes(ctx)
	metrics.RecordUpstream("prpc", err)
	if err != nil {
		return Result{}, fmt.Errorf("fetch nodes: %w", err)
	}

	var credits []pnode.CreditEntry
	if c.credits != nil {
		credits, err = c.credits.GetPodCredits(ctx)
		metrics.RecordUpstream("credits", err)
		if err != nil {
			c.log.Warnf("collector: pod credits: %v", err)
			credits = nil
		}
	}
	return c.CollectAndStoreSnapshot(ctx, nodes, credits)
}

func (c *Collector) publish(ev messaging.CollectionCompleted) {
	if c.opts.Publisher == nil || c.opts.Topic == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	env := messaging.NewEnvelope(messaging.TypeCollectionCompleted, "xandviz", ev)
	if err := c.opts.Publisher.PublishEnvelope(ctx, c.opts.Topic, env); err != nil {
		c.log.Warnf("collector: publish run %s: %v", ev.RunID, err)
	}
}

// Start runs a collection every interval until Stop. A run that is still in
// progress when the next tick fires causes that tick to be skipped.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopChan != nil {
		return
	}
	c.stopChan = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(c.stopChan, c.done)
}

// Stop ends the loop and waits for an in-flight run to return.
func (c *Collector) Stop() {
	c.mu.Lock()
	stop, done := c.stopChan, c.done
	c.stopChan, c.done = nil, nil
	c.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (c *Collector) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// Trigger runs a collection unless one is already running. It reports false
// when skipped.
func (c *Collector) Trigger(ctx context.Context, source string) (Result, bool, error) {
	if !c.running.CompareAndSwap(false, true) {
		return Result{}, false, nil
	}
	defer c.running.Store(false)
	res, err := c.RunOnce(ctx, source)
	return res, true, err
}

func (c *Collector) tick(ctx context.Context) {
	if _, ran, _ := c.Trigger(ctx, store.SourceSchedule); !ran {
		c.log.Warnf("collector: previous run still in progress, skipping tick")
	}
}

func ptr(v float64) *float64 { return &v }
