package rendezvous

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mohammed-shakir/geoswarm/internal/redisstore"
)

const redisPrefix = "geoswarm:rv:"

// Redis keeps one sorted set per topic whose scores are expiry times in
// unix milliseconds. Members must re-announce before their TTL runs out.
type Redis struct {
	c   *redisstore.Client
	ttl time.Duration
	now func() time.Time
}

func NewRedis(c *redisstore.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Redis{c: c, ttl: ttl, now: time.Now}
}

func redisKey(topic []byte) string { return redisPrefix + hex.EncodeToString(topic) }

func (r *Redis) Announce(ctx context.Context, topic []byte, addr string) error {
	exp := r.now().Add(r.ttl).UnixMilli()
	// the key outlives its freshest member by one ttl
	if err := r.c.ZAdd(ctx, redisKey(topic), 2*r.ttl, redisstore.Member{Score: float64(exp), Value: addr}); err != nil {
		return fmt.Errorf("rendezvous announce: %w", err)
	}
	return nil
}

func (r *Redis) Lookup(ctx context.Context, topic []byte) ([]string, error) {
	key := redisKey(topic)
	now := float64(r.now().UnixMilli())
	if _, err := r.c.ZRemRangeByScore(ctx, key, now); err != nil {
		return nil, fmt.Errorf("rendezvous trim: %w", err)
	}
	addrs, err := r.c.ZRangeByScore(ctx, key, now)
	if err != nil {
		return nil, fmt.Errorf("rendezvous lookup: %w", err)
	}
	return addrs, nil
}

func (r *Redis) Unannounce(ctx context.Context, topic []byte, addr string) error {
	if err := r.c.ZRem(ctx, redisKey(topic), addr); err != nil {
		return fmt.Errorf("rendezvous unannounce: %w", err)
	}
	return nil
}

// Close leaves the client open; it is owned by the caller.
func (r *Redis) Close() error { return nil }
