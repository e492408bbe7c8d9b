package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hicksonhaziel/xandviz/cache"
	"github.com/hicksonhaziel/xandviz/config"
	"github.com/hicksonhaziel/xandviz/engine"
	"github.com/hicksonhaziel/xandviz/logging"
	"github.com/hicksonhaziel/xandviz/messaging"
	"github.com/hicksonhaziel/xandviz/prpc"
	"github.com/hicksonhaziel/xandviz/store"
	"github.com/hicksonhaziel/xandviz/timeseries"
)

// runtime holds everything a command opened, released in reverse by close.
type runtime struct {
	cfg     *config.Config
	log     *zap.SugaredLogger
	eng     *engine.Engine
	closers []func()
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// open builds the engine and its backends without starting anything.
func (a *app) open(withMessaging bool) (*runtime, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	rt := &runtime{cfg: cfg, log: log}
	rt.closers = append(rt.closers, func() { closeLog() })

	db, err := store.Open(&cfg.Database)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	rt.closers = append(rt.closers, func() { db.Close() })
	log.Infof("xandviz: database open (%s)", cfg.Database.Driver)

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warnf("xandviz: redis not available (%v)", err)
		} else {
			log.Infof("xandviz: redis connected (%s)", cfg.Redis.Address)
		}
		cancel()
		rt.closers = append(rt.closers, func() { redisClient.Close() })
	}

	var c cache.Cache = cache.NewMemory()
	if cfg.Cache.Backend == "redis" {
		c = cache.NewRedis(redisClient, cfg.Redis.Prefix)
	}

	tsOpts := timeseries.Options{
		Retention: cfg.TimeSeries.Retention,
		EntityTTL: cfg.TimeSeries.EntityTTL,
		Log:       log,
	}
	var series timeseries.Store = timeseries.NewMemory(tsOpts)
	if cfg.TimeSeries.Backend == "redis" {
		series = timeseries.NewRedis(redisClient, cfg.Redis.Prefix, tsOpts)
	}

	rpcClient := prpc.NewClient(prpc.Options{
		Endpoint:     cfg.PRPC.Endpoint,
		Timeout:      cfg.PRPC.Timeout,
		StatsTimeout: cfg.PRPC.StatsTimeout,
		Cache:        c,
		ClusterTTL:   cfg.PRPC.ClusterTTL,
		Log:          log,
	})
	var credits *prpc.CreditsClient
	if cfg.PRPC.CreditsURL != "" {
		credits = prpc.NewCreditsClient(cfg.PRPC.CreditsURL, cfg.PRPC.Timeout)
	}

	msgClient := messaging.NewClient(cfg.Messaging, log)
	if withMessaging && msgClient.Backend() != messaging.BackendNone {
		if err := msgClient.Connect(); err != nil {
			log.Warnf("xandviz: messaging connect failed (%v)", err)
		} else {
			log.Infof("xandviz: messaging connected (%s)", msgClient.Backend())
		}
	}
	rt.closers = append(rt.closers, msgClient.Close)

	rt.eng = engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: a.configPath,
		DB:         db,
		Redis:      redisClient,
		Cache:      c,
		TimeSeries: series,
		PRPC:       rpcClient,
		Credits:    credits,
		MsgClient:  msgClient,
		Log:        log,
	})
	return rt, nil
}
