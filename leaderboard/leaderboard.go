// Package leaderboard ranks scored nodes and serves the ranking through a
// read-through cache.
package leaderboard

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hicksonhaziel/xandviz/cache"
	"github.com/hicksonhaziel/xandviz/pnode"
	"github.com/hicksonhaziel/xandviz/scoring"
)

// DefaultTTL is how long a computed ranking is served from cache.
const DefaultTTL = 60 * time.Second

// DefaultLimit applies when callers pass a non-positive limit.
const DefaultLimit = 100

const cacheWriteTimeout = 5 * time.Second

// Entry is one ranked node.
type Entry struct {
	Pubkey  string       `json:"pubkey"`
	Score   float64      `json:"score"`
	Uptime  float64      `json:"uptime"`
	Storage float64      `json:"storage"`
	Status  pnode.Status `json:"status"`
	Version string       `json:"version"`
	Rank    int          `json:"rank"`
}

// Rank sorts entries by descending score and numbers them from 1. Equal scores
// keep their input order and still receive distinct, positional ranks.
// The input slice is not modified.
func Rank(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// FromScored builds unranked entries from scored nodes.
func FromScored(nodes []scoring.ScoredNode) []Entry {
	out := make([]Entry, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Entry{
			Pubkey:  n.Pubkey,
			Score:   n.Score,
			Uptime:  n.UptimeSeconds,
			Storage: n.StorageCommitted,
			Status:  n.Status,
			Version: n.Version,
		})
	}
	return out
}

// NodeSource lists the current cluster nodes.
type NodeSource interface {
	GetClusterNodes(ctx context.Context) ([]pnode.NodeRecord, error)
}

// Result is one page of the leaderboard.
type Result struct {
	Entries []Entry
	Total   int
	Cached  bool
}

type Service struct {
	source NodeSource
	engine *scoring.Engine
	cache  cache.Cache
	ttl    time.Duration
	log    *zap.SugaredLogger
	now    func() time.Time

	pending sync.WaitGroup
}

func NewService(source NodeSource, engine *scoring.Engine, c cache.Cache, ttl time.Duration, log *zap.SugaredLogger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{source: source, engine: engine, cache: c, ttl: ttl, log: log, now: time.Now}
}

// Get returns the top limit entries. With useCache it serves a cached ranking
// when one exists; a freshly computed ranking is written back asynchronously.
func (s *Service) Get(ctx context.Context, limit int, useCache bool) (*Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if useCache && s.cache != nil {
		var cached []Entry
		ok, err := s.cache.Get(ctx, cache.KeyLeaderboard, &cached)
		if err != nil {
			s.log.Warnf("leaderboard: cache read: %v", err)
		}
		if ok && err == nil {
			return page(cached, limit, true), nil
		}
	}

	nodes, err := s.source.GetClusterNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	scored, _ := s.engine.ScoreAll(nodes, s.now())
	ranked := Rank(FromScored(scored))
	s.writeBack(ranked)
	return page(ranked, limit, false), nil
}

func (s *Service) writeBack(ranked []Entry) {
	if s.cache == nil || len(ranked) == 0 {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
		defer cancel()
		if err := s.cache.Set(ctx, cache.KeyLeaderboard, ranked, s.ttl); err != nil {
			s.log.Errorf("leaderboard: cache write: %v", err)
		}
	}()
}

// Wait blocks until pending cache writes finish.
func (s *Service) Wait() { s.pending.Wait() }

func page(ranked []Entry, limit int, cached bool) *Result {
	entries := ranked
	if len(entries) > limit {
		entries = entries[:limit]
	}
	if entries == nil {
		entries = []Entry{}
	}
	return &Result{Entries: entries, Total: len(ranked), Cached: cached}
}
