package ratelimit

import (
	"context"
	"sync"
	"time"
)

// purgeEvery is how many increments pass between sweeps of expired windows.
const purgeEvery = 1024

type window struct {
	hits      int64
	expiresAt time.Time
}

// MemoryStore keeps counters in process, for tests and single-instance setups.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	calls   int
	now     func() time.Time
}

type MemoryOption func(*MemoryStore)

func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{windows: make(map[string]*window), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Increment(_ context.Context, key string, d time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.calls++; s.calls%purgeEvery == 0 {
		for k, w := range s.windows {
			if !now.Before(w.expiresAt) {
				delete(s.windows, k)
			}
		}
	}

	w, ok := s.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		w = &window{expiresAt: now.Add(d)}
		s.windows[key] = w
	}
	w.hits++
	return w.hits, w.expiresAt.Sub(now), nil
}
