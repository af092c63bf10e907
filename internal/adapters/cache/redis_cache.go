// Package cache implements ports.Cache against Redis: TTL key-value for the
// DNSBL reputation cache, plus the atomic list push/pop pair backing the
// batch client's buffer.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements ports.Cache.
type RedisCache struct {
	client *redis.Client
}

func New(addr, password string, db int) *RedisCache {
	return &RedisCache{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get %q: %w", key, err)
	}
	return value, true, nil
}

func (c *RedisCache) SetTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}

// ListPush pushes value onto the head of key's list (LPUSH), matching
// batch_client.py's push-at-head / pop-from-tail convention so the buffer
// drains oldest-first.
func (c *RedisCache) ListPush(ctx context.Context, key string, value string) error {
	if err := c.client.LPush(ctx, key, value).Err(); err != nil {
		return fmt.Errorf("list push %q: %w", key, err)
	}
	return nil
}

func (c *RedisCache) ListLen(ctx context.Context, key string) (int64, error) {
	n, err := c.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("list len %q: %w", key, err)
	}
	return n, nil
}

// ListPopN atomically reads and trims the oldest min(n, len) items from the
// tail of key's list in one pipeline, mirroring batch_client.py's
// lrange(-n,-1) + ltrim(0,-n-1) pair.
func (c *RedisCache) ListPopN(ctx context.Context, key string, n int64) ([]string, error) {
	var rangeCmd *redis.StringSliceCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		rangeCmd = pipe.LRange(ctx, key, -n, -1)
		pipe.LTrim(ctx, key, 0, -n-1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("pop %d from list %q: %w", n, key, err)
	}
	items, err := rangeCmd.Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read popped items from list %q: %w", key, err)
	}
	return items, nil
}
