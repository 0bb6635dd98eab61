package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisCache shares resolved ids between processes syncing into the same
// database. Redis failures degrade to cache misses.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key Key) (int64, bool) {
	raw, err := c.rdb.Get(ctx, key.String()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false
	}
	if err != nil {
		log.Debug().Err(err).Str("key", key.String()).Msg("redis get failed")
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func (c *RedisCache) Set(ctx context.Context, key Key, id int64) {
	if id == 0 {
		return
	}
	if err := c.rdb.Set(ctx, key.String(), strconv.FormatInt(id, 10), c.ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key.String()).Msg("redis set failed")
	}
}

func (c *RedisCache) Delete(ctx context.Context, key Key) {
	if err := c.rdb.Del(ctx, key.String()).Err(); err != nil {
		log.Debug().Err(err).Str("key", key.String()).Msg("redis del failed")
	}
}

// Ping checks the connection, for startup validation.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
