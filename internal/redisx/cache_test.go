package redisx_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ariefcatur/go-storefront-queue/internal/orders"
	"github.com/ariefcatur/go-storefront-queue/internal/redisx"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("redis container skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	addr, err := ctr.Endpoint(ctx, "")
	require.NoError(t, err)
	rdb := redisx.New(addr)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestMetricsCache(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()
	cache := &redisx.MetricsCache{RDB: rdb, TTL: time.Minute}

	_, gen, ok := cache.GetMetrics(ctx, 1, orders.RangeMonth)
	assert.False(t, ok)
	assert.Zero(t, gen)

	until := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	m := &orders.Metrics{
		StoreID:      1,
		Range:        orders.RangeMonth,
		Since:        orders.RangeMonth.Since(until),
		Until:        until,
		RevenueCents: 4000,
		OrderCount:   3,
		TopProduct:   &orders.TopProduct{ProductID: 10, RevenueCents: 2000},
	}
	cache.SetMetrics(ctx, 1, orders.RangeMonth, gen, m)
	cache.SetMetrics(ctx, 1, orders.RangeDay, gen, m)
	cache.SetMetrics(ctx, 2, orders.RangeDay, 0, m)

	got, _, ok := cache.GetMetrics(ctx, 1, orders.RangeMonth)
	require.True(t, ok)
	assert.Equal(t, m.RevenueCents, got.RevenueCents)
	assert.Equal(t, m.TopProduct, got.TopProduct)
	assert.True(t, m.Until.Equal(got.Until))

	ttl, err := rdb.TTL(ctx, "metrics:1:month").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	cache.Invalidate(ctx, 1)
	_, gen, ok = cache.GetMetrics(ctx, 1, orders.RangeMonth)
	assert.False(t, ok)
	assert.Equal(t, int64(1), gen)
	_, _, ok = cache.GetMetrics(ctx, 1, orders.RangeDay)
	assert.False(t, ok)
	_, _, ok = cache.GetMetrics(ctx, 2, orders.RangeDay)
	assert.True(t, ok, "other stores keep their cache")
}

func TestMetricsCache_StaleWriteAfterInvalidateIsDropped(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()
	cache := &redisx.MetricsCache{RDB: rdb, TTL: time.Minute}

	_, gen, ok := cache.GetMetrics(ctx, 3, orders.RangeDay)
	require.False(t, ok)

	// A decision lands while the rollup for gen is being computed.
	cache.Invalidate(ctx, 3)
	cache.SetMetrics(ctx, 3, orders.RangeDay, gen, &orders.Metrics{StoreID: 3, OrderCount: 1})

	_, next, ok := cache.GetMetrics(ctx, 3, orders.RangeDay)
	assert.False(t, ok)
	assert.Greater(t, next, gen)

	cache.SetMetrics(ctx, 3, orders.RangeDay, next, &orders.Metrics{StoreID: 3, OrderCount: 2})
	got, _, ok := cache.GetMetrics(ctx, 3, orders.RangeDay)
	require.True(t, ok)
	assert.Equal(t, 2, got.OrderCount)
}

func TestIntentClaim(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()

	_, claimed, err := redisx.ClaimIntent(ctx, rdb, "1:k1")
	require.NoError(t, err)
	assert.True(t, claimed)

	_, claimed, err = redisx.ClaimIntent(ctx, rdb, "1:k1")
	assert.ErrorIs(t, err, redisx.ErrIntentInFlight)
	assert.False(t, claimed)

	first := &orders.IntentResult{OrderID: 7, PublicToken: "tok-7"}
	require.NoError(t, redisx.RememberIntent(ctx, rdb, "1:k1", first))

	prev, claimed, err := redisx.ClaimIntent(ctx, rdb, "1:k1")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, first, prev)

	ttl, err := rdb.TTL(ctx, "idem:intent:1:k1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, redisx.TTLIntentClaim)
}

func TestIntentClaim_ReleaseAllowsRetry(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()

	_, claimed, err := redisx.ClaimIntent(ctx, rdb, "1:k2")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, redisx.ReleaseIntent(ctx, rdb, "1:k2"))

	_, claimed, err = redisx.ClaimIntent(ctx, rdb, "1:k2")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestIntentClaim_SingleWinner(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var winners atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, claimed, err := redisx.ClaimIntent(ctx, rdb, "1:race")
			if err == nil && claimed {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestDedup(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()
	d := &redisx.Dedup{RDB: rdb, Service: "notifier"}

	ok, err := d.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Release(ctx, "evt-1"))
	ok, err = d.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, ok)
}
