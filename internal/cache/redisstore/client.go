// Package redisstore wraps the Redis client backing the shared boundary
// payload tier.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/choropleth-cache/internal/core/observability"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

type Client struct {
	rdb    *redis.Client
	prefix string
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     16,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveSharedTierOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb, prefix: "choropleth:"}, nil
}

func (c *Client) key(k string) string { return c.prefix + k }

// Get returns the stored bytes and the remaining TTL. A missing key is not
// an error: ok is false.
func (c *Client) Get(ctx context.Context, key string) (val []byte, ttl time.Duration, ok bool, err error) {
	start := time.Now()
	pipe := c.rdb.Pipeline()
	getCmd := pipe.Get(ctx, c.key(key))
	ttlCmd := pipe.PTTL(ctx, c.key(key))
	_, err = pipe.Exec(ctx)
	if errors.Is(err, redis.Nil) {
		err = nil
	}
	observability.ObserveSharedTierOp("get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, 0, false, fmt.Errorf("redis GET %q: %w", key, err)
	}

	b, gerr := getCmd.Bytes()
	if errors.Is(gerr, redis.Nil) {
		return nil, 0, false, nil
	}
	if gerr != nil {
		return nil, 0, false, fmt.Errorf("redis GET %q: %w", key, gerr)
	}
	return b, ttlCmd.Val(), true, nil
}

func (c *Client) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.rdb.Set(ctx, c.key(key), val, ttl).Err()
	observability.ObserveSharedTierOp("set", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	start := time.Now()
	err := c.rdb.Del(ctx, full...).Err()
	observability.ObserveSharedTierOp("del", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
