package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/NomadCrew/nomad-realtime/internal/clock"
	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/NomadCrew/nomad-realtime/types"
	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.IsTest = true
}

var epoch = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func sampleResult() types.ListResult {
	return types.ListResult{
		Items:       []types.Notification{{ID: uuid.New(), OwnerID: "u1", Kind: types.KindMessage, Title: "hi"}},
		Total:       1,
		UnreadCount: 1,
	}
}

func TestKeyFor_NormalizesPaging(t *testing.T) {
	k := KeyFor(types.ListQuery{OwnerID: "u1"})
	assert.Equal(t, Key{OwnerID: "u1", Page: 1, PageSize: types.DefaultPageSize}, k)
	assert.Equal(t, "p=1|s=20|u=false|k=all", k.field())

	k = KeyFor(types.ListQuery{OwnerID: "u1", Page: 2, PageSize: 500, UnreadOnly: true, Kind: types.KindLike})
	assert.Equal(t, "p=2|s=100|u=true|k=like", k.field())
}

func TestMemoryCache_HitMissAndTTL(t *testing.T) {
	resetMetricsForTesting()
	ctx := context.Background()
	clk := clock.NewFake(epoch)
	c := NewMemoryCache(5*time.Minute, clk)
	key := KeyFor(types.ListQuery{OwnerID: "u1"})

	_, ok := c.Get(ctx, key)
	assert.False(t, ok)

	c.Set(ctx, key, sampleResult(), 0)
	entry, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, 1, entry.Result.Total)
	assert.Equal(t, epoch, entry.ComputedAt)

	clk.Advance(5*time.Minute - time.Second)
	_, ok = c.Get(ctx, key)
	assert.True(t, ok)

	clk.Advance(time.Second)
	_, ok = c.Get(ctx, key)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())

	assert.Equal(t, float64(2), testutil.ToFloat64(metricsInstance.hits.WithLabelValues(backendMemory)))
	assert.Equal(t, float64(2), testutil.ToFloat64(metricsInstance.misses.WithLabelValues(backendMemory)))
}

func TestMemoryCache_InvalidateOwnerDropsEveryPage(t *testing.T) {
	resetMetricsForTesting()
	ctx := context.Background()
	c := NewMemoryCache(time.Minute, clock.NewFake(epoch))

	first := KeyFor(types.ListQuery{OwnerID: "u1", Page: 1})
	second := KeyFor(types.ListQuery{OwnerID: "u1", Page: 2, UnreadOnly: true})
	other := KeyFor(types.ListQuery{OwnerID: "u2"})
	for _, k := range []Key{first, second, other} {
		c.Set(ctx, k, sampleResult(), 0)
	}

	require.NoError(t, c.InvalidateOwner(ctx, "u1"))

	_, ok := c.Get(ctx, first)
	assert.False(t, ok)
	_, ok = c.Get(ctx, second)
	assert.False(t, ok)
	_, ok = c.Get(ctx, other)
	assert.True(t, ok)
}

func TestMemoryCache_ReturnsCopies(t *testing.T) {
	resetMetricsForTesting()
	ctx := context.Background()
	c := NewMemoryCache(time.Minute, clock.NewFake(epoch))
	key := KeyFor(types.ListQuery{OwnerID: "u1"})

	result := sampleResult()
	c.Set(ctx, key, result, 0)
	result.Items[0].IsRead = true

	entry, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.False(t, entry.Result.Items[0].IsRead)

	entry.Result.Items[0].Title = "changed"
	again, _ := c.Get(ctx, key)
	assert.Equal(t, "hi", again.Result.Items[0].Title)
}

func TestMemoryCache_Prune(t *testing.T) {
	resetMetricsForTesting()
	ctx := context.Background()
	clk := clock.NewFake(epoch)
	c := NewMemoryCache(time.Minute, clk)

	c.Set(ctx, KeyFor(types.ListQuery{OwnerID: "u1"}), sampleResult(), 0)
	clk.Advance(30 * time.Second)
	c.Set(ctx, KeyFor(types.ListQuery{OwnerID: "u2"}), sampleResult(), 0)
	clk.Advance(30 * time.Second)

	assert.Equal(t, 1, c.Prune())
	assert.Equal(t, 1, c.Len())
}

func TestRedisCache_SetAndGet(t *testing.T) {
	resetMetricsForTesting()
	ctx := context.Background()
	clk := clock.NewFake(epoch)
	client, mock := redismock.NewClientMock()
	c := NewRedisCache(client, 5*time.Minute, "notif", clk)

	key := KeyFor(types.ListQuery{OwnerID: "u1"})
	result := sampleResult()
	payload, err := json.Marshal(Entry{Result: result, ComputedAt: epoch})
	require.NoError(t, err)

	mock.ExpectGet("notif:gen:u1").RedisNil()
	gen, err := c.Generation(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), gen)

	mock.ExpectEval(setIfCurrent, []string{"notif:gen:u1", "notif:list:u1"},
		"0", key.field(), string(payload), int64(300000)).SetVal(int64(1))
	assert.True(t, c.Set(ctx, key, result, gen))

	mock.ExpectHGet("notif:list:u1", key.field()).SetVal(string(payload))
	entry, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, result.Items[0].ID, entry.Result.Items[0].ID)

	clk.Advance(5 * time.Minute)
	mock.ExpectHGet("notif:list:u1", key.field()).SetVal(string(payload))
	_, ok = c.Get(ctx, key)
	assert.False(t, ok, "entries older than the ttl are stale")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_MissAndFailure(t *testing.T) {
	resetMetricsForTesting()
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	c := NewRedisCache(client, time.Minute, "notif", clock.NewFake(epoch))
	key := KeyFor(types.ListQuery{OwnerID: "u1"})

	mock.ExpectHGet("notif:list:u1", key.field()).RedisNil()
	_, ok := c.Get(ctx, key)
	assert.False(t, ok)

	mock.ExpectHGet("notif:list:u1", key.field()).SetErr(errors.New("connection reset"))
	_, ok = c.Get(ctx, key)
	assert.False(t, ok)
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsInstance.errors.WithLabelValues(backendRedis, "get")))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_InvalidateOwner(t *testing.T) {
	resetMetricsForTesting()
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	c := NewRedisCache(client, time.Minute, "notif", clock.NewFake(epoch))

	mock.ExpectTxPipeline()
	mock.ExpectIncr("notif:gen:u1").SetVal(1)
	mock.ExpectPExpire("notif:gen:u1", generationTTL).SetVal(true)
	mock.ExpectDel("notif:list:u1").SetVal(1)
	mock.ExpectTxPipelineExec()
	require.NoError(t, c.InvalidateOwner(ctx, "u1"))

	mock.ExpectTxPipeline()
	mock.ExpectIncr("notif:gen:u1").SetErr(errors.New("readonly"))
	assert.Error(t, c.InvalidateOwner(ctx, "u1"))
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsInstance.errors.WithLabelValues(backendRedis, "invalidate")))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryCache_SetAfterInvalidateIsDiscarded(t *testing.T) {
	resetMetricsForTesting()
	ctx := context.Background()
	c := NewMemoryCache(time.Minute, clock.NewFake(epoch))
	key := KeyFor(types.ListQuery{OwnerID: "u1"})

	gen, err := c.Generation(ctx, "u1")
	require.NoError(t, err)

	// A write for u1 lands while the page is being computed.
	require.NoError(t, c.InvalidateOwner(ctx, "u1"))

	assert.False(t, c.Set(ctx, key, sampleResult(), gen))
	_, ok := c.Get(ctx, key)
	assert.False(t, ok)
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsInstance.staleWrites.WithLabelValues(backendMemory)))

	next, err := c.Generation(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, gen+1, next)
	assert.True(t, c.Set(ctx, key, sampleResult(), next))
	_, ok = c.Get(ctx, key)
	assert.True(t, ok)

	other, err := c.Generation(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), other, "generations are per owner")
}

func TestRedisCache_StaleGenerationIsNotStored(t *testing.T) {
	resetMetricsForTesting()
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	c := NewRedisCache(client, time.Minute, "notif", clock.NewFake(epoch))
	key := KeyFor(types.ListQuery{OwnerID: "u1"})
	result := sampleResult()
	payload, err := json.Marshal(Entry{Result: result, ComputedAt: epoch})
	require.NoError(t, err)

	mock.ExpectGet("notif:gen:u1").SetVal("4")
	gen, err := c.Generation(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), gen)

	mock.ExpectEval(setIfCurrent, []string{"notif:gen:u1", "notif:list:u1"},
		"4", key.field(), string(payload), int64(60000)).SetVal(int64(0))
	assert.False(t, c.Set(ctx, key, result, gen))
	assert.Equal(t, float64(1), testutil.ToFloat64(metricsInstance.staleWrites.WithLabelValues(backendRedis)))

	mock.ExpectGet("notif:gen:u1").SetErr(errors.New("connection reset"))
	_, err = c.Generation(ctx, "u1")
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}
