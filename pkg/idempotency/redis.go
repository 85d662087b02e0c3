// Package idempotency stores claimed payment references in Redis so every
// service instance sees the same set of processed webhook deliveries.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pawtrail/walkledger/pkg/ledger"
)

const (
	DefaultTTL    = 72 * time.Hour
	DefaultPrefix = "walkledger:dedupe:"
)

var ErrRedisUnavailable = errors.New("idempotency store unavailable")

// RedisDeduplicator implements ledger.Deduplicator with SET NX.
// Claims expire after the TTL; the unique payment reference in the
// subscription store remains the durable guard after that.
type RedisDeduplicator struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ ledger.Deduplicator = (*RedisDeduplicator)(nil)

type Option func(*RedisDeduplicator)

func WithTTL(ttl time.Duration) Option {
	return func(d *RedisDeduplicator) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(d *RedisDeduplicator) {
		if prefix != "" {
			d.prefix = prefix
		}
	}
}

// NewRedisDeduplicator panics if client is nil.
func NewRedisDeduplicator(client redis.UniversalClient, opts ...Option) *RedisDeduplicator {
	if client == nil {
		panic("idempotency: redis client is required")
	}
	d := &RedisDeduplicator{
		client: client,
		prefix: DefaultPrefix,
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *RedisDeduplicator) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+key, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, errors.Join(ErrRedisUnavailable, err)
	}
	return ok, nil
}

func (d *RedisDeduplicator) Release(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, d.prefix+key).Err(); err != nil {
		return errors.Join(ErrRedisUnavailable, err)
	}
	return nil
}
