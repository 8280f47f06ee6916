package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Cache memoizes expensive aggregate reads (thread trees, inbox pages).
// Entries carry a short TTL as a backstop against missed invalidations.
// It is never authoritative; every value can be rebuilt from storage.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Invalidate(ctx context.Context, patterns ...string) error
}

// Key builders. Keys are scoped by the logical resource so writes can
// invalidate everything a resource touches with one pattern.

func ThreadKey(rootID string) string {
	return "thread:" + rootID
}

func InboxKey(recipientID string, page, pageSize int) string {
	return fmt.Sprintf("inbox:%s:%d:%d", recipientID, page, pageSize)
}

func InboxPattern(recipientID string) string {
	return "inbox:" + recipientID + ":*"
}

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return value, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Invalidate removes every key matching the given patterns. It scans
// rather than using KEYS so a large keyspace cannot stall the server.
func (c *RedisCache) Invalidate(ctx context.Context, patterns ...string) error {
	for _, pattern := range patterns {
		var cursor uint64
		for {
			keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
			if err != nil {
				return fmt.Errorf("cache scan %s: %w", pattern, err)
			}
			if len(keys) > 0 {
				if err := c.client.Del(ctx, keys...).Err(); err != nil {
					return fmt.Errorf("cache del %s: %w", pattern, err)
				}
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}
	return nil
}
