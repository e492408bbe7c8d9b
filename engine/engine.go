package engine

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hicksonhaziel/xandviz/analytics"
	"github.com/hicksonhaziel/xandviz/cache"
	"github.com/hicksonhaziel/xandviz/collector"
	"github.com/hicksonhaziel/xandviz/config"
	"github.com/hicksonhaziel/xandviz/leaderboard"
	"github.com/hicksonhaziel/xandviz/messaging"
	"github.com/hicksonhaziel/xandviz/prpc"
	"github.com/hicksonhaziel/xandviz/scoring"
	"github.com/hicksonhaziel/xandviz/store"
	"github.com/hicksonhaziel/xandviz/timeseries"
)

const (
	healthInterval = 30 * time.Second
	probeTimeout   = 3 * time.Second
	runRetention   = 30 * 24 * time.Hour
)

type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	DB         *store.DB
	// Redis is nil when no backend uses it.
	Redis      *redis.Client
	Cache      cache.Cache
	TimeSeries timeseries.Store
	PRPC       *prpc.Client
	Credits    *prpc.CreditsClient
	MsgClient  *messaging.Client
	Log        *zap.SugaredLogger
}

type Engine struct {
	cfg        *config.Config
	configPath string
	db         *store.DB
	redis      *redis.Client
	cache      cache.Cache
	series     timeseries.Store
	prpc       *prpc.Client
	credits    *prpc.CreditsClient
	msgClient  *messaging.Client
	log        *zap.SugaredLogger

	scorer      *scoring.Engine
	history     *timeseries.History
	analytics   *analytics.Service
	leaderboard *leaderboard.Service
	collector   *collector.Collector
	Events      *EventBus

	mu     sync.Mutex
	health Health
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(c Config) *Engine {
	log := c.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cfg := c.AppConfig
	if cfg == nil {
		cfg = config.Defaults()
	}
	if c.MsgClient == nil {
		c.MsgClient = messaging.NewClient(config.MessagingConfig{}, log)
	}

	e := &Engine{
		cfg:        cfg,
		configPath: c.ConfigPath,
		db:         c.DB,
		redis:      c.Redis,
		cache:      c.Cache,
		series:     c.TimeSeries,
		prpc:       c.PRPC,
		credits:    c.Credits,
		msgClient:  c.MsgClient,
		log:        log,
		scorer:     scoring.NewEngine(cfg.Scoring.Policy()),
		Events:     NewEventBus(log),
	}
	e.history = timeseries.NewHistory(c.TimeSeries, nil)
	e.history.SetLogger(log)
	e.analytics = analytics.NewService(e.history, nil)
	e.leaderboard = leaderboard.NewService(c.PRPC, e.scorer, c.Cache, cfg.Cache.LeaderboardTTL, log)

	opts := collector.Options{
		Workers:   cfg.Collector.Workers,
		Interval:  cfg.Collector.Interval,
		Cache:     c.Cache,
		ScoreTTL:  cfg.Cache.ScoreTTL,
		Emitter:   &busEmitter{bus: e.Events},
		Publisher: e.msgClient,
		Topic:     cfg.Messaging.CollectionTopic,
		Log:       log,
	}
	if c.DB != nil {
		opts.Runs = c.DB
	}
	var credits collector.CreditSource
	if c.Credits != nil {
		credits = &creditSource{client: c.Credits}
	}
	e.collector = collector.New(c.PRPC, credits, e.scorer, e.history, opts)
	return e
}

func (e *Engine) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wireEventHandlers()
	e.checkConnectionStatus(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.connectionHealthLoop(ctx)
	}()

	e.cfg.RLock()
	collect := e.cfg.Collector.Enabled
	e.cfg.RUnlock()
	if collect {
		e.collector.Start()
	}

	if e.configPath != "" {
		if err := config.Watch(ctx, e.configPath, e.log, e.ApplyConfig); err != nil {
			e.log.Warnf("engine: config watch: %v", err)
		}
	}
	e.log.Infof("engine: started")
}

func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.collector.Stop()
	e.wg.Wait()
	e.leaderboard.Wait()
	e.log.Infof("engine: stopped")
}

// Accessors
func (e *Engine) AppConfig() *config.Config         { return e.cfg }
func (e *Engine) ConfigPath() string                { return e.configPath }
func (e *Engine) DB() *store.DB                     { return e.db }
func (e *Engine) Cache() cache.Cache                { return e.cache }
func (e *Engine) PRPC() *prpc.Client                { return e.prpc }
func (e *Engine) Credits() *prpc.CreditsClient      { return e.credits }
func (e *Engine) MsgClient() *messaging.Client      { return e.msgClient }
func (e *Engine) Scorer() *scoring.Engine           { return e.scorer }
func (e *Engine) History() *timeseries.History      { return e.history }
func (e *Engine) Analytics() *analytics.Service     { return e.analytics }
func (e *Engine) Leaderboard() *leaderboard.Service { return e.leaderboard }
func (e *Engine) Collector() *collector.Collector   { return e.collector }
func (e *Engine) Logger() *zap.SugaredLogger        { return e.log }

// ApplyConfig takes the hot-reloadable parts of a freshly loaded config: the
// scoring policy and the pRPC endpoint. Everything else needs a restart.
func (e *Engine) ApplyConfig(next *config.Config) {
	e.cfg.Lock()
	prevPRPC := e.cfg.PRPC
	e.cfg.Scoring = next.Scoring
	e.cfg.PRPC = next.PRPC
	e.cfg.Unlock()

	if next.PRPC.Endpoint != prevPRPC.Endpoint || next.PRPC.Timeout != prevPRPC.Timeout {
		if e.prpc != nil {
			e.prpc.Reconfigure(next.PRPC.Endpoint, next.PRPC.Timeout)
		}
		e.log.Infof("engine: prpc reconfigured (%s)", next.PRPC.Endpoint)
	}

	prev := e.scorer.Policy()
	policy := next.Scoring.Policy()
	if policiesEqual(prev, policy) {
		return
	}
	e.scorer.SetPolicy(policy)
	e.Events.Emit(Event{Type: EventPolicyReloaded, Payload: policyEvent(policy)})
	e.log.Infof("engine: scoring policy reloaded (latest %s)", policy.Latest())

	if e.db != nil {
		if err := e.db.AppendAudit("policy", "scoring", "reloaded", describePolicy(prev), describePolicy(policy), "config"); err != nil {
			e.log.Warnf("engine: audit policy reload: %v", err)
		}
	}
}

func policyEvent(p scoring.Policy) messaging.PolicyReloaded {
	return messaging.PolicyReloaded{
		LatestVersion: p.Latest(),
		Versions:      len(p.VersionPoints),
		UptimeCap:     p.UptimeCap,
	}
}

func describePolicy(p scoring.Policy) string {
	return fmt.Sprintf("latest=%s versions=%d uptime_cap=%g fallback=%g", p.Latest(), len(p.VersionPoints), p.UptimeCap, p.VersionFallback)
}

func policiesEqual(a, b scoring.Policy) bool {
	return a.UptimeCap == b.UptimeCap &&
		a.VersionFallback == b.VersionFallback &&
		a.LatestVersion == b.LatestVersion &&
		maps.Equal(a.VersionPoints, b.VersionPoints)
}

// Collect runs one collection now unless the scheduler is already running one.
func (e *Engine) Collect(ctx context.Context, source string) (collector.Result, bool, error) {
	return e.collector.Trigger(ctx, source)
}
