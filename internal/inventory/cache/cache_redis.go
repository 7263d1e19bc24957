// Package cache keeps short-lived availability counts in Redis so the public
// availability endpoint does not hit postgres on every poll.
package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	id "boxoffice/pkg/domain"
)

const availabilityKeyPrefix = "boxoffice:availability:"

// RedisCache stores one integer per category with a TTL. Counts are advisory:
// claims never consult the cache.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns the cached count and whether it was present.
func (c *RedisCache) Get(ctx context.Context, categoryID id.CategoryID) (int, bool, error) {
	raw, err := c.client.Get(ctx, key(categoryID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		// Corrupt entry: treat as a miss and let the caller overwrite it.
		return 0, false, nil
	}
	return n, true, nil
}

func (c *RedisCache) Set(ctx context.Context, categoryID id.CategoryID, available int) error {
	return c.client.Set(ctx, key(categoryID), strconv.Itoa(available), c.ttl).Err()
}

// Invalidate drops cached counts for the given categories.
func (c *RedisCache) Invalidate(ctx context.Context, categoryIDs ...id.CategoryID) error {
	if len(categoryIDs) == 0 {
		return nil
	}
	keys := make([]string, len(categoryIDs))
	for i, categoryID := range categoryIDs {
		keys[i] = key(categoryID)
	}
	return c.client.Del(ctx, keys...).Err()
}

func key(categoryID id.CategoryID) string {
	return availabilityKeyPrefix + categoryID.String()
}
