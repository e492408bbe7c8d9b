// Package cache is the short-lived result cache shared by the API handlers and the
// leaderboard. Staleness up to the entry TTL is accepted.
package cache

import (
	"context"
	"time"
)

// Cache stores JSON-serializable values with a TTL.
type Cache interface {
	// Get decodes the value at key into dst. It reports false on a miss.
	Get(ctx context.Context, key string, dst any) (bool, error)
	// Set stores value under key. A zero ttl never expires.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Well-known keys.
const (
	KeyNodes       = "pnodes:all"
	KeyLeaderboard = "leaderboard"
)

// ScoreKey is the per-node score cache key.
func ScoreKey(pubkey string) string { return "score:" + pubkey }
