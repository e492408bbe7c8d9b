package timeseries

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// seqWidth pads sequence numbers so members of equal score sort in insertion order.
const seqWidth = 20

// latestPage is how many members Latest reads per round while skipping
// malformed ones.
const latestPage = 16

// Redis stores each entity as a sorted set scored by timestamp. Members carry a
// sequence prefix so identical snapshots are kept as distinct entries.
type Redis struct {
	client *redis.Client
	prefix string
	opts   Options
	seq    atomic.Uint64
}

func NewRedis(client *redis.Client, prefix string, opts Options) *Redis {
	r := &Redis{client: client, prefix: prefix, opts: opts.withDefaults()}
	r.seq.Store(uint64(time.Now().UnixNano()))
	return r
}

func (r *Redis) seriesPrefix(series Series) string { return r.prefix + string(series) + ":" }

func (r *Redis) key(series Series, entityID string) string {
	return r.seriesPrefix(series) + entityID
}

func (r *Redis) member(data []byte) string {
	return fmt.Sprintf("%0*d|%s", seqWidth, r.seq.Add(1), data)
}

func decodeMember(member string) ([]byte, error) {
	i := strings.IndexByte(member, '|')
	if i != seqWidth {
		return nil, fmt.Errorf("timeseries: malformed member %.40q", member)
	}
	return []byte(member[i+1:]), nil
}

func (r *Redis) Append(ctx context.Context, series Series, entityID string, e Entry) error {
	e.EntityID = entityID
	return r.BatchAppend(ctx, series, []Entry{e})
}

func (r *Redis) BatchAppend(ctx context.Context, series Series, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	now := r.opts.Now()
	order, groups := groupByEntity(entries, now.UnixMilli())

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range order {
			key := r.key(series, id)
			group := groups[id]
			members := make([]redis.Z, 0, len(group))
			for _, e := range group {
				members = append(members, redis.Z{
					Score:  float64(e.TimestampMs),
					Member: r.member(bytes.TrimSpace(e.Data)),
				})
			}
			pipe.ZAdd(ctx, key, members...)
			pipe.Expire(ctx, key, r.opts.EntityTTL)
			cutoff := pruneCutoff(now, r.opts.Retention, maxTimestamp(group))
			pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("timeseries: append %s: %w", series, err)
	}
	return nil
}

func (r *Redis) Range(ctx context.Context, series Series, entityID string, start, end int64) ([]Entry, error) {
	zs, err := r.client.ZRangeByScoreWithScores(ctx, r.key(series, entityID), &redis.ZRangeBy{
		Min: strconv.FormatInt(start, 10),
		Max: strconv.FormatInt(end, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("timeseries: range %s %s: %w", series, entityID, err)
	}
	out := make([]Entry, 0, len(zs))
	for _, z := range zs {
		e, err := toEntry(entityID, z)
		if err != nil {
			r.opts.Log.Warnf("timeseries: skip %s %s: %v", series, entityID, err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Latest returns the newest well-formed entry. Malformed members are skipped.
func (r *Redis) Latest(ctx context.Context, series Series, entityID string) (*Entry, error) {
	key := r.key(series, entityID)
	for start := int64(0); ; start += latestPage {
		zs, err := r.client.ZRevRangeWithScores(ctx, key, start, start+latestPage-1).Result()
		if err != nil {
			return nil, fmt.Errorf("timeseries: latest %s %s: %w", series, entityID, err)
		}
		for _, z := range zs {
			e, err := toEntry(entityID, z)
			if err != nil {
				r.opts.Log.Warnf("timeseries: skip %s %s: %v", series, entityID, err)
				continue
			}
			return &e, nil
		}
		if len(zs) < latestPage {
			return nil, nil
		}
	}
}

func (r *Redis) ListEntities(ctx context.Context, series Series) ([]string, error) {
	prefix := r.seriesPrefix(series)
	ids := []string{}
	iter := r.client.Scan(ctx, 0, prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("timeseries: list %s: %w", series, err)
	}
	sort.Strings(ids)
	return ids, nil
}

func toEntry(entityID string, z redis.Z) (Entry, error) {
	member, _ := z.Member.(string)
	data, err := decodeMember(member)
	if err != nil {
		return Entry{}, err
	}
	return Entry{EntityID: entityID, TimestampMs: int64(z.Score), Data: data}, nil
}
