package database

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/castradar/sponsor-analytics/internal/domain"
)

// Cache is the soft key/value cache over Redis. Misses fall through to
// the store, stale reads are acceptable within TTL, and invalidation is
// best-effort. A nil Cache is a valid no-op cache.
type Cache struct {
	client *redis.Client
}

// NewCache wraps a redis client. Pass nil to disable caching.
func NewCache(client *redis.Client) *Cache {
	if client == nil {
		return nil
	}
	return &Cache{client: client}
}

// Get returns the cached value and whether it was present.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	if c == nil {
		return "", false, nil
	}
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, domain.NewTransportError("cache get", err)
	}
	return val, true, nil
}

// Set stores a value with a TTL.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return domain.NewTransportError("cache set", err)
	}
	return nil
}

// Delete removes a single key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if c == nil {
		return nil
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return domain.NewTransportError("cache delete", err)
	}
	return nil
}

// InvalidatePattern removes all keys matching a glob pattern via SCAN.
// Best-effort: partial failures leave stale entries to expire by TTL.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	if c == nil {
		return 0, nil
	}
	var deleted int
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err == nil {
			deleted++
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, domain.NewTransportError("cache invalidate", err)
	}
	return deleted, nil
}
