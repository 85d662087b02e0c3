package ratelimit

import (
	"context"
	"errors"
	"time"
)

var (
	ErrStoreRequired = errors.New("ratelimit: store is required")
	ErrInvalidLimit  = errors.New("ratelimit: limit must be positive")
	ErrInvalidWindow = errors.New("ratelimit: window must be positive")
	ErrKeyRequired   = errors.New("ratelimit: key is required")
)

// Config enables per-client limits on the mutating API routes.
type Config struct {
	Requests   int           `env:"RATE_LIMIT_REQUESTS" envDefault:"30"` // 0 disables limiting
	Window     time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	TrustProxy bool          `env:"RATE_LIMIT_TRUST_PROXY" envDefault:"false"`
}

func (c Config) Enabled() bool {
	return c.Requests > 0
}

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long a rejected caller should wait, at least one second.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed {
		return 0
	}
	return max(r.ResetAt.Sub(now), time.Second)
}

// Store counts hits per key within a window.
type Store interface {
	// Increment records one hit and returns the hits so far in the current
	// window and the time left until the window resets.
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Limiter allows up to limit hits per key in each fixed window.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	now    func() time.Time
}

type Option func(*Limiter)

// WithClock overrides time.Now when computing ResetAt.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

func New(store Store, limit int, window time.Duration, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if window <= 0 {
		return nil, ErrInvalidWindow
	}
	l := &Limiter{store: store, limit: limit, window: window, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Allow records a hit for key and reports whether it fits the budget.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	if key == "" {
		return Result{}, ErrKeyRequired
	}
	hits, ttl, err := l.store.Increment(ctx, key, l.window)
	if err != nil {
		return Result{}, err
	}
	if ttl <= 0 {
		ttl = l.window
	}
	return Result{
		Allowed:   hits <= int64(l.limit),
		Limit:     l.limit,
		Remaining: max(0, l.limit-int(hits)),
		ResetAt:   l.now().Add(ttl),
	}, nil
}
