package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces completion sets per section.
const redisKeyPrefix = "courtharvest:complete:"

// RedisCache is a CompletionCache backed by one redis set per section. It
// lets long resumed runs skip re-validating hundreds of thousands of page
// files; disk remains authoritative on any disagreement.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisCache{client: client}, nil
}

// IsComplete reports whether the page index is cached as complete.
func (c *RedisCache) IsComplete(ctx context.Context, section string, index int) (bool, error) {
	hit, err := c.client.SIsMember(ctx, redisKeyPrefix+section, strconv.Itoa(index)).Result()
	if err != nil {
		return false, fmt.Errorf("redis sismember: %w", err)
	}
	return hit, nil
}

// MarkComplete caches the page index as complete.
func (c *RedisCache) MarkComplete(ctx context.Context, section string, index int) error {
	if err := c.client.SAdd(ctx, redisKeyPrefix+section, strconv.Itoa(index)).Err(); err != nil {
		return fmt.Errorf("redis sadd: %w", err)
	}
	return nil
}

// Invalidate drops a stale completion entry.
func (c *RedisCache) Invalidate(ctx context.Context, section string, index int) error {
	if err := c.client.SRem(ctx, redisKeyPrefix+section, strconv.Itoa(index)).Err(); err != nil {
		return fmt.Errorf("redis srem: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
