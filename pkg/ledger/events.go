package ledger

import (
	"context"
	"errors"
	"sync"
	"time"
)

// EventType names a ledger state change.
type EventType string

const (
	EventSubscriptionPurchased EventType = "subscription.purchased"
	EventCreditDebited         EventType = "subscription.credit_debited"
	EventSubscriptionCancelled EventType = "subscription.cancelled"
	EventSubscriptionExpired   EventType = "subscription.expired"
)

// Event is emitted after a ledger state change has been persisted.
type Event struct {
	Type             EventType `json:"type"`
	SubscriptionID   string    `json:"subscription_id"`
	UserID           string    `json:"user_id,omitempty"`
	PlanID           string    `json:"plan_id,omitempty"`
	CreditsRemaining int       `json:"credits_remaining"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// EventPublisher delivers ledger events to interested parties.
// Publishing happens after the write; a publish failure is logged and never
// rolls the state change back.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// EventPublisherFunc adapts a function to EventPublisher.
type EventPublisherFunc func(ctx context.Context, event Event) error

func (f EventPublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// MultiPublisher fans an event out to several publishers and joins their errors.
func MultiPublisher(publishers ...EventPublisher) EventPublisher {
	return EventPublisherFunc(func(ctx context.Context, event Event) error {
		var errs []error
		for _, p := range publishers {
			if err := p.Publish(ctx, event); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// Deduplicator claims payment references so a webhook redelivery doesn't
// create a second subscription.
type Deduplicator interface {
	// Claim returns false if key has already been claimed.
	Claim(ctx context.Context, key string) (bool, error)
	// Release frees a key after a failed purchase so a retry can succeed.
	Release(ctx context.Context, key string) error
}

// MemoryDeduplicator is an in-process Deduplicator for tests and single-node setups.
type MemoryDeduplicator struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDeduplicator() *MemoryDeduplicator {
	return &MemoryDeduplicator{seen: make(map[string]struct{})}
}

func (d *MemoryDeduplicator) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = struct{}{}
	return true, nil
}

func (d *MemoryDeduplicator) Release(_ context.Context, key string) error {
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
	return nil
}
