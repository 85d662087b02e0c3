// Package ratelimit provides a fixed-window request limiter with in-memory
// and Redis stores, plus HTTP middleware.
//
// The Redis store keeps one counter per key and window, incremented and
// given its expiry by a single Lua script, so every service instance sharing
// the Redis server enforces the same budget.
//
//	store := ratelimit.NewRedisStore(rdb, "walkledger:ratelimit:")
//	limiter, err := ratelimit.New(store, 30, time.Minute)
//	if err != nil {
//		return err
//	}
//	r.With(ratelimit.Middleware(limiter, keyByIP, onLimited)).Post("/checkout", h)
//
// The middleware fails open: a store error lets the request through.
package ratelimit
