package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrUnexpectedReply = errors.New("ratelimit: unexpected redis reply")

var incrementScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {hits, redis.call("PTTL", KEYS[1])}
`)

// RedisStore shares counters between instances through Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore panics if client is nil.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if client == nil {
		panic("ratelimit: redis client is required")
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	reply, err := incrementScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(reply) != 2 {
		return 0, 0, ErrUnexpectedReply
	}
	return reply[0], time.Duration(reply[1]) * time.Millisecond, nil
}
