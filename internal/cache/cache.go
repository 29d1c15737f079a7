package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache is the Redis-backed interface used by the rate-limit window.
// Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	// AddHit records one hit at the given time in the sorted set for key and
	// keeps the key alive for ttl.
	AddHit(ctx context.Context, key string, at time.Time, ttl time.Duration) error
	// CountHitsSince counts hits strictly newer than since.
	CountHitsSince(ctx context.Context, key string, since time.Time) (int64, error)
	// RemoveHitsBefore drops hits older than before from every key matching pattern.
	RemoveHitsBefore(ctx context.Context, pattern string, before time.Time) error
	Close() error
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) AddHit(ctx context.Context, key string, at time.Time, ttl time.Duration) error {
	// Members must be unique or two hits in the same nanosecond collapse into one.
	member := strconv.FormatInt(at.UnixNano(), 10) + ":" + uuid.NewString()

	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: member})
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisCache) CountHitsSince(ctx context.Context, key string, since time.Time) (int64, error) {
	return c.client.ZCount(ctx, key, "("+strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
}

func (c *RedisCache) RemoveHitsBefore(ctx context.Context, pattern string, before time.Time) error {
	upper := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.ZRemRangeByScore(ctx, iter.Val(), "-inf", upper).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
