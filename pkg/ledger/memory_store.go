package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. The mutex plays the role of the
// database row lock, so conditional updates are atomic across goroutines of
// one process. Use it for tests and single-instance development setups.
type MemoryStore struct {
	mu    sync.RWMutex
	subs  map[string]*Subscription
	byRef map[string]string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs:  make(map[string]*Subscription),
		byRef: make(map[string]string),
	}
}

func (s *MemoryStore) Insert(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.PaymentReference != "" {
		if _, exists := s.byRef[sub.PaymentReference]; exists {
			return ErrDuplicatePayment
		}
		s.byRef[sub.PaymentReference] = sub.ID
	}
	s.subs[sub.ID] = sub.clone()
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return sub.clone(), nil
}

func (s *MemoryStore) UpdateConditional(_ context.Context, id string, cond Condition, mutation Mutation) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	if !cond.Matches(sub) {
		return sub.clone(), ErrConditionFailed
	}
	mutation.Apply(sub)
	return sub.clone(), nil
}

func (s *MemoryStore) FindByUser(_ context.Context, userID string) ([]*Subscription, error) {
	return s.filter(func(sub *Subscription) bool { return sub.UserID == userID }), nil
}

func (s *MemoryStore) FindByStatus(_ context.Context, status SubscriptionStatus) ([]*Subscription, error) {
	return s.filter(func(sub *Subscription) bool { return sub.Status == status }), nil
}

func (s *MemoryStore) ExpireDue(_ context.Context, now time.Time) ([]*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*Subscription
	for _, sub := range s.subs {
		if sub.Status == StatusActive && !sub.EndDate.After(now) {
			sub.Status = StatusExpired
			sub.UpdatedAt = now
			expired = append(expired, sub.clone())
		}
	}
	return expired, nil
}

func (s *MemoryStore) filter(keep func(*Subscription) bool) []*Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Subscription, 0)
	for _, sub := range s.subs {
		if keep(sub) {
			result = append(result, sub.clone())
		}
	}
	return result
}
