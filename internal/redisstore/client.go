// Package redisstore wraps the Redis operations used by the rendezvous backend.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/geoswarm/internal/core/observability"
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
	rdb *redis.Client
}

// Member is one scored entry of a sorted set.
type Member struct {
	Score float64
	Value string
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     16,
		MinIdleConns: 1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
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
	observability.ObserveRedisOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	observability.ObserveRedisOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// ZAdd upserts members and refreshes the key TTL in one pipeline.
func (c *Client) ZAdd(ctx context.Context, key string, ttl time.Duration, members ...Member) error {
	start := time.Now()
	if len(members) == 0 {
		observability.ObserveRedisOp("zadd", nil, time.Since(start).Seconds())
		return nil
	}
	zs := make([]redis.Z, len(members))
	for i, m := range members {
		zs[i] = redis.Z{Score: m.Score, Member: m.Value}
	}

	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, key, zs...)
		if ttl > 0 {
			p.Expire(ctx, key, ttl)
		}
		return nil
	})
	observability.ObserveRedisOp("zadd", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis ZADD %q: %w", key, err)
	}
	return nil
}

// ZRangeByScore returns members whose score is at least from.
func (c *Client) ZRangeByScore(ctx context.Context, key string, from float64) ([]string, error) {
	start := time.Now()
	vals, err := c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatFloat(from, 'f', -1, 64),
		Max: "+inf",
	}).Result()
	observability.ObserveRedisOp("zrangebyscore", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis ZRANGEBYSCORE %q: %w", key, err)
	}
	return vals, nil
}

// ZRemRangeByScore drops members whose score is below the given bound.
func (c *Client) ZRemRangeByScore(ctx context.Context, key string, below float64) (int64, error) {
	start := time.Now()
	n, err := c.rdb.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatFloat(below, 'f', -1, 64)).Result()
	observability.ObserveRedisOp("zremrangebyscore", err, time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("redis ZREMRANGEBYSCORE %q: %w", key, err)
	}
	return n, nil
}

func (c *Client) ZRem(ctx context.Context, key string, members ...string) error {
	start := time.Now()
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	err := c.rdb.ZRem(ctx, key, args...).Err()
	observability.ObserveRedisOp("zrem", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis ZREM %q: %w", key, err)
	}
	return nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	start := time.Now()
	err := c.rdb.Del(ctx, keys...).Err()
	observability.ObserveRedisOp("del", err, time.Since(start).Seconds())
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
