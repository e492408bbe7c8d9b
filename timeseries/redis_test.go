package timeseries

import (
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisStore(t *testing.T) {
	TestSuite(t, func(t *testing.T, opts Options) (Store, func(time.Duration)) {
		mr, client := newMiniredis(t)
		return NewRedis(client, "xandviz:", opts), mr.FastForward
	})
}

func TestRedisKeyLayout(t *testing.T) {
	mr, client := newMiniredis(t)
	s := NewRedis(client, "xandviz:", Options{})
	ctx := t.Context()

	require.NoError(t, s.Append(ctx, NodeMetrics, "pk1", Entry{TimestampMs: 1000, Data: []byte(`{"score":1}`)}))
	assert.True(t, mr.Exists("xandviz:node:metrics:pk1"))
	assert.Equal(t, DefaultEntityTTL, mr.TTL("xandviz:node:metrics:pk1"))

	members, err := mr.ZMembers("xandviz:node:metrics:pk1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	data, err := decodeMember(members[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"score":1}`, string(data))
}

func TestRedisSkipsMalformedMembers(t *testing.T) {
	mr, client := newMiniredis(t)
	s := NewRedis(client, "", Options{})
	ctx := t.Context()

	require.NoError(t, s.Append(ctx, PodCredits, "p", Entry{TimestampMs: 5, Data: []byte(`{"credits":1}`)}))
	_, err := mr.ZAdd("pod:credits:p", 7, `{"credits":2}`)
	require.NoError(t, err)

	got, err := s.Range(ctx, PodCredits, "p", 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].TimestampMs)

	latest, err := s.Latest(ctx, PodCredits, "p")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.JSONEq(t, `{"credits":1}`, string(latest.Data))

	_, err = mr.ZAdd("pod:credits:only-bad", 3, "legacy")
	require.NoError(t, err)
	latest, err = s.Latest(ctx, PodCredits, "only-bad")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestRedisLatestPagesPastMalformedMembers(t *testing.T) {
	mr, client := newMiniredis(t)
	s := NewRedis(client, "", Options{})
	ctx := t.Context()

	require.NoError(t, s.Append(ctx, NodeMetrics, "pk", Entry{TimestampMs: 1, Data: []byte(`{"score":9}`)}))
	for i := range latestPage + 3 {
		_, err := mr.ZAdd("node:metrics:pk", float64(100+i), fmt.Sprintf("bad-%d", i))
		require.NoError(t, err)
	}

	latest, err := s.Latest(ctx, NodeMetrics, "pk")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(1), latest.TimestampMs)
}
