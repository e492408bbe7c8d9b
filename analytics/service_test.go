package analytics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hicksonhaziel/xandviz/timeseries"
)

type fixture struct {
	clock   *timeseries.Clock
	history *timeseries.History
	svc     *Service
}

func newFixture() *fixture {
	clock := timeseries.NewClock(time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC))
	h := timeseries.NewHistory(timeseries.NewMemory(timeseries.Options{Now: clock.Now}), clock.Now)
	return &fixture{clock: clock, history: h, svc: NewService(h, clock.Now)}
}

func TestNodeHistoryEmpty(t *testing.T) {
	fx := newFixture()
	res, err := fx.svc.NodeHistory(t.Context(), "unknown", Query{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Stats.DataPoints)
	assert.Nil(t, res.Stats.Metrics)

	body, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"history":[]`)
	assert.Contains(t, string(body), `"dataPoints":0`)
}

func TestNodeHistoryStats(t *testing.T) {
	fx := newFixture()
	ctx := t.Context()
	first := fx.clock.Now().UnixMilli()
	for i := 0; i < 3; i++ {
		require.NoError(t, fx.history.AppendMetric(ctx, "pk", timeseries.MetricSnapshot{Uptime: float64(100 * (i + 1)), Score: 50 + float64(i)}))
		fx.clock.Advance(time.Hour)
	}

	res, err := fx.svc.NodeHistory(ctx, "pk", Query{Period: Period24H})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stats.DataPoints)
	assert.Equal(t, first, res.Stats.TimeRange.Start)
	assert.Equal(t, first+2*3_600_000, res.Stats.TimeRange.End)
	assert.Equal(t, 200.0, res.Stats.Metrics.Uptime.Change)

	res, err = fx.svc.NodeHistory(ctx, "pk", Query{Period: Period1H})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.DataPoints)
}

func TestPodCreditsHistory(t *testing.T) {
	fx := newFixture()
	ctx := t.Context()
	require.NoError(t, fx.history.AppendCredits(ctx, "pod", 100))
	fx.clock.Advance(2 * time.Hour)
	require.NoError(t, fx.history.AppendCredits(ctx, "pod", 150))
	fx.clock.Advance(5 * time.Minute)
	require.NoError(t, fx.history.AppendCredits(ctx, "pod", 160))

	res, err := fx.svc.PodCreditsHistory(ctx, "pod", Query{Period: Period7D})
	require.NoError(t, err)
	require.NotNil(t, res.Stats.Credits)
	assert.Equal(t, 3, res.Stats.DataPoints)
	assert.Equal(t, 60.0, res.Stats.Credits.Change)
	assert.Equal(t, 60.0, res.Stats.Credits.PercentChange)

	require.NotNil(t, res.Stats.Changes)
	require.NotNil(t, res.Stats.Changes.Last10Min)
	assert.Equal(t, 10.0, res.Stats.Changes.Last10Min.Change)
	assert.Equal(t, 60.0, res.Stats.Changes.Last7Days.Change)
}

func TestChangeOverPeriodEmpty(t *testing.T) {
	fx := newFixture()
	ch, err := fx.svc.ChangeOverPeriod(t.Context(), "pod", Period10Min)
	require.NoError(t, err)
	assert.Nil(t, ch)
}

func TestOverview(t *testing.T) {
	fx := newFixture()
	ctx := t.Context()
	for _, pk := range []string{"a", "b", "c"} {
		require.NoError(t, fx.history.AppendMetric(ctx, pk, timeseries.MetricSnapshot{Score: 1}))
	}
	require.NoError(t, fx.history.AppendCreditsBatch(ctx, []timeseries.PodCredit{{PodID: "p1", Credits: 3}}))

	ov, err := fx.svc.Overview(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, ov.Nodes.Total)
	assert.Equal(t, 2, ov.Nodes.Tracked)
	require.Len(t, ov.Nodes.Data, 2)
	assert.Equal(t, "a", ov.Nodes.Data[0].Pubkey)
	assert.Equal(t, 1, ov.Pods.Tracked)
	require.NotNil(t, ov.Pods.Data[0].Change10Min)
	assert.Equal(t, 0.0, ov.Pods.Data[0].Change10Min.Change)
	assert.Equal(t, fx.clock.Now().UnixMilli(), ov.Timestamp)
}

func TestOverviewSkipsMalformedRedisMembers(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := timeseries.NewClock(time.Now())
	h := timeseries.NewHistory(timeseries.NewRedis(client, "", timeseries.Options{Now: clock.Now}), clock.Now)
	svc := NewService(h, clock.Now)
	ctx := t.Context()

	require.NoError(t, h.AppendCreditsBatch(ctx, []timeseries.PodCredit{{PodID: "healthy-pod", Credits: 8}}))
	_, err := mr.ZAdd("pod:credits:legacy-pod", float64(clock.Now().UnixMilli()), `{"credits":4}`)
	require.NoError(t, err)

	ov, err := svc.Overview(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, ov.Pods.Total)
	assert.Equal(t, 1, ov.Pods.Tracked)

	byID := map[string]PodLatest{}
	for _, p := range ov.Pods.Data {
		byID[p.PodID] = p
	}
	assert.Nil(t, byID["legacy-pod"].Latest)
	require.NotNil(t, byID["healthy-pod"].Latest)
	assert.Equal(t, 8.0, byID["healthy-pod"].Latest.Credits)
}
