package idempotency_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawtrail/walkledger/pkg/idempotency"
)

func setup(t *testing.T, opts ...idempotency.Option) (*miniredis.Miniredis, *idempotency.RedisDeduplicator) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, idempotency.NewRedisDeduplicator(client, opts...)
}

func TestRedisDeduplicator(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("second claim is rejected", func(t *testing.T) {
		t.Parallel()
		mr, d := setup(t)

		ok, err := d.Claim(ctx, "payment:txn_1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = d.Claim(ctx, "payment:txn_1")
		require.NoError(t, err)
		assert.False(t, ok)

		assert.True(t, mr.Exists(idempotency.DefaultPrefix+"payment:txn_1"))
	})

	t.Run("release allows a new claim", func(t *testing.T) {
		t.Parallel()
		_, d := setup(t)

		ok, err := d.Claim(ctx, "payment:txn_2")
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, d.Release(ctx, "payment:txn_2"))

		ok, err = d.Claim(ctx, "payment:txn_2")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("claims expire after ttl", func(t *testing.T) {
		t.Parallel()
		mr, d := setup(t, idempotency.WithTTL(time.Minute), idempotency.WithPrefix("test:"))

		ok, err := d.Claim(ctx, "k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, time.Minute, mr.TTL("test:k"))

		mr.FastForward(2 * time.Minute)

		ok, err = d.Claim(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("unavailable server", func(t *testing.T) {
		t.Parallel()
		mr, d := setup(t)
		mr.Close()

		_, err := d.Claim(ctx, "k")
		assert.ErrorIs(t, err, idempotency.ErrRedisUnavailable)
	})

	t.Run("nil client panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { idempotency.NewRedisDeduplicator(nil) })
	})
}
