package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/NomadCrew/nomad-realtime/internal/clock"
	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/NomadCrew/nomad-realtime/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const backendRedis = "redis"

// generationTTL keeps an owner's generation key far longer than any read can
// take, so an expired key cannot make an old generation current again.
const generationTTL = 24 * time.Hour

// setIfCurrent writes a page only while the owner's generation still matches.
// KEYS: generation key, owner hash. ARGV: generation, field, entry, ttl ms.
const setIfCurrent = `
local current = redis.call('GET', KEYS[1]) or '0'
if current ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[2], ARGV[2], ARGV[3])
redis.call('PEXPIRE', KEYS[2], ARGV[4])
return 1
`

// RedisCache keeps one hash per owner; each field is a cached page. The hash
// expires one TTL after its last write and each entry's age is checked on read.
// A separate counter per owner holds its generation.
type RedisCache struct {
	client    redis.Cmdable
	ttl       time.Duration
	keyPrefix string
	clock     clock.Clock
	log       *zap.SugaredLogger
	metrics   *cacheMetrics
}

var _ Cache = (*RedisCache)(nil)

func NewRedisCache(client redis.Cmdable, ttl time.Duration, keyPrefix string, clk clock.Clock) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.New()
	}
	if keyPrefix == "" {
		keyPrefix = "notif"
	}
	return &RedisCache{
		client:    client,
		ttl:       ttl,
		keyPrefix: keyPrefix,
		clock:     clk,
		log:       logger.GetLogger().Named("cache"),
		metrics:   newCacheMetrics(),
	}
}

func (c *RedisCache) ownerKey(ownerID string) string {
	return c.keyPrefix + ":list:" + ownerID
}

func (c *RedisCache) generationKey(ownerID string) string {
	return c.keyPrefix + ":gen:" + ownerID
}

func (c *RedisCache) Get(ctx context.Context, key Key) (Entry, bool) {
	raw, err := c.client.HGet(ctx, c.ownerKey(key.OwnerID), key.field()).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.metrics.errors.WithLabelValues(backendRedis, "get").Inc()
			c.log.Warnw("Cache read failed", "owner", key.OwnerID, "error", err)
		}
		c.metrics.misses.WithLabelValues(backendRedis).Inc()
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		c.metrics.errors.WithLabelValues(backendRedis, "decode").Inc()
		c.metrics.misses.WithLabelValues(backendRedis).Inc()
		return Entry{}, false
	}
	if c.clock.Now().Sub(entry.ComputedAt) >= c.ttl {
		c.metrics.misses.WithLabelValues(backendRedis).Inc()
		return Entry{}, false
	}
	c.metrics.hits.WithLabelValues(backendRedis).Inc()
	return entry, true
}

func (c *RedisCache) Generation(ctx context.Context, ownerID string) (uint64, error) {
	gen, err := c.client.Get(ctx, c.generationKey(ownerID)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		c.metrics.errors.WithLabelValues(backendRedis, "generation").Inc()
		return 0, err
	}
	return gen, nil
}

func (c *RedisCache) Set(ctx context.Context, key Key, result types.ListResult, gen uint64) bool {
	data, err := json.Marshal(Entry{Result: result, ComputedAt: c.clock.Now()})
	if err != nil {
		c.metrics.errors.WithLabelValues(backendRedis, "encode").Inc()
		return false
	}

	keys := []string{c.generationKey(key.OwnerID), c.ownerKey(key.OwnerID)}
	stored, err := c.client.Eval(ctx, setIfCurrent, keys,
		strconv.FormatUint(gen, 10), key.field(), string(data), c.ttl.Milliseconds()).Int()
	if err != nil {
		c.metrics.errors.WithLabelValues(backendRedis, "set").Inc()
		c.log.Warnw("Cache write failed", "owner", key.OwnerID, "error", err)
		return false
	}
	if stored == 0 {
		c.metrics.staleWrites.WithLabelValues(backendRedis).Inc()
		return false
	}
	return true
}

func (c *RedisCache) InvalidateOwner(ctx context.Context, ownerID string) error {
	genKey := c.generationKey(ownerID)
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, genKey)
	pipe.PExpire(ctx, genKey, generationTTL)
	pipe.Del(ctx, c.ownerKey(ownerID))
	if _, err := pipe.Exec(ctx); err != nil {
		c.metrics.errors.WithLabelValues(backendRedis, "invalidate").Inc()
		return err
	}
	c.metrics.invalidations.WithLabelValues(backendRedis).Inc()
	return nil
}
