// Package queue holds the Redis client used for cross-invocation
// coordination: a best-effort batch run lock and a latest-decision cache.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/enterprise/withdraw-review/configs"
)

// CacheClient provides caching and locking operations
type CacheClient struct {
	client *redis.Client
}

// NewCacheClient creates a new cache client
func NewCacheClient(cfg configs.RedisConfig) (*CacheClient, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &CacheClient{client: client}, nil
}

// Set sets a value in the cache
func (c *CacheClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, expiration).Err()
}

// Get retrieves a value from the cache
func (c *CacheClient) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Delete removes keys from the cache
func (c *CacheClient) Delete(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

// AcquireLock takes a named lock with SetNX. The lock damps overlapping
// batch runs; it does not make them impossible, and callers must still
// tolerate duplicate processing.
func (c *CacheClient) AcquireLock(ctx context.Context, name string, owner string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, name, owner, ttl).Result()
}

// ReleaseLock releases a lock if still held by owner.
func (c *CacheClient) ReleaseLock(ctx context.Context, name string, owner string) error {
	current, err := c.client.Get(ctx, name).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return err
	}
	if current != owner {
		return nil
	}
	return c.client.Del(ctx, name).Err()
}

// Close closes the cache client
func (c *CacheClient) Close() error {
	return c.client.Close()
}
