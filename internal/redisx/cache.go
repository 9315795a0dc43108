package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-queue/internal/orders"
)

// MetricsCache keeps computed rollups for a short TTL. Redis failures are
// logged and treated as a miss.
type MetricsCache struct {
	RDB *redis.Client
	TTL time.Duration
	Log *zap.Logger
}

var _ orders.MetricsCache = (*MetricsCache)(nil)

var allRanges = []orders.Range{orders.RangeDay, orders.RangeWeek, orders.RangeMonth, orders.RangeYear}

// GetMetrics returns the cached rollup, if any, and the store's cache
// generation. A miss still reports the generation so the caller can hand it
// back to SetMetrics.
func (c *MetricsCache) GetMetrics(ctx context.Context, storeID int64, r orders.Range) (*orders.Metrics, int64, bool) {
	vals, err := c.RDB.MGet(ctx, fmt.Sprintf(KeyMetrics, storeID, r), fmt.Sprintf(KeyMetricsGen, storeID)).Result()
	if err != nil {
		c.logger().Warn("metrics cache get", zap.Int64("store_id", storeID), zap.Error(err))
		return nil, -1, false
	}
	var gen int64
	if s, ok := vals[1].(string); ok {
		if gen, err = strconv.ParseInt(s, 10, 64); err != nil {
			return nil, -1, false
		}
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, gen, false
	}
	var m orders.Metrics
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		c.logger().Warn("metrics cache decode", zap.Int64("store_id", storeID), zap.Error(err))
		return nil, gen, false
	}
	return &m, gen, true
}

// setIfGen writes KEYS[1] only while the generation in KEYS[2] still equals
// ARGV[1].
var setIfGen = redis.NewScript(`
if (redis.call('GET', KEYS[2]) or '0') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// SetMetrics stores m unless the store was invalidated after gen was read.
// A negative gen means the read failed and nothing is written.
func (c *MetricsCache) SetMetrics(ctx context.Context, storeID int64, r orders.Range, gen int64, m *orders.Metrics) {
	if gen < 0 {
		return
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = TTLMetrics
	}
	keys := []string{fmt.Sprintf(KeyMetrics, storeID, r), fmt.Sprintf(KeyMetricsGen, storeID)}
	err = setIfGen.Run(ctx, c.RDB, keys, strconv.FormatInt(gen, 10), raw, ttl.Milliseconds()).Err()
	if err != nil {
		c.logger().Warn("metrics cache set", zap.Int64("store_id", storeID), zap.Error(err))
	}
}

// Invalidate bumps the store's generation and drops every cached range.
func (c *MetricsCache) Invalidate(ctx context.Context, storeID int64) {
	keys := make([]string, len(allRanges))
	for i, r := range allRanges {
		keys[i] = fmt.Sprintf(KeyMetrics, storeID, r)
	}
	pipe := c.RDB.TxPipeline()
	pipe.Incr(ctx, fmt.Sprintf(KeyMetricsGen, storeID))
	pipe.Del(ctx, keys...)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger().Warn("metrics cache invalidate", zap.Int64("store_id", storeID), zap.Error(err))
	}
}

func (c *MetricsCache) logger() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

// ErrIntentInFlight means another request holding the same
// Idempotency-Key has not finished yet.
var ErrIntentInFlight = errors.New("redisx: idempotency key is in use by a request in flight")

const intentPending = "pending"

// ClaimIntent reserves key for the calling request. claimed is true when
// the caller now owns the key and must RememberIntent or ReleaseIntent it.
// Otherwise prev holds the stored result, or ErrIntentInFlight is returned
// while the owner is still running.
func ClaimIntent(ctx context.Context, rdb *redis.Client, key string) (prev *orders.IntentResult, claimed bool, err error) {
	k := fmt.Sprintf(KeyIdemIntent, key)
	ok, err := rdb.SetNX(ctx, k, intentPending, TTLIntentClaim).Result()
	if err != nil {
		return nil, false, err
	}
	if ok {
		return nil, true, nil
	}

	raw, err := rdb.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		// the owner released or the claim expired just now
		return nil, false, ErrIntentInFlight
	}
	if err != nil {
		return nil, false, err
	}
	if string(raw) == intentPending {
		return nil, false, ErrIntentInFlight
	}
	var res orders.IntentResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false, err
	}
	return &res, false, nil
}

// RememberIntent replaces the caller's claim with the created intent.
func RememberIntent(ctx context.Context, rdb *redis.Client, key string, res *orders.IntentResult) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, fmt.Sprintf(KeyIdemIntent, key), raw, TTLIdempotency).Err()
}

// ReleaseIntent drops the caller's claim so the key can be retried.
func ReleaseIntent(ctx context.Context, rdb *redis.Client, key string) error {
	return rdb.Del(ctx, fmt.Sprintf(KeyIdemIntent, key)).Err()
}

// Dedup marks event ids as processed per consuming service.
type Dedup struct {
	RDB     *redis.Client
	Service string
}

// Claim reports whether id was not seen before and marks it seen.
func (d *Dedup) Claim(ctx context.Context, id string) (bool, error) {
	return d.RDB.SetNX(ctx, fmt.Sprintf(KeyDedup, d.Service, id), 1, TTLDedup).Result()
}

// Release forgets id so a failed attempt can be retried.
func (d *Dedup) Release(ctx context.Context, id string) error {
	return d.RDB.Del(ctx, fmt.Sprintf(KeyDedup, d.Service, id)).Err()
}
