package ledger

import (
	"context"
	"time"
)

// Store defines subscription persistence.
// Implementations must wrap transport failures with ErrStoreUnavailable so
// callers can tell retryable infrastructure errors from domain errors.
type Store interface {
	// Insert persists a new subscription.
	// Returns ErrDuplicatePayment if PaymentReference is already used.
	Insert(ctx context.Context, sub *Subscription) error

	// GetByID returns ErrSubscriptionNotFound if no subscription exists.
	GetByID(ctx context.Context, id string) (*Subscription, error)

	// UpdateConditional applies mutation only if cond holds, as one atomic step.
	// Returns the updated subscription, ErrSubscriptionNotFound, or
	// ErrConditionFailed together with the current state of the row.
	UpdateConditional(ctx context.Context, id string, cond Condition, mutation Mutation) (*Subscription, error)

	// FindByUser returns all subscriptions of a user.
	FindByUser(ctx context.Context, userID string) ([]*Subscription, error)

	// FindByStatus returns all subscriptions with the given persisted status.
	FindByStatus(ctx context.Context, status SubscriptionStatus) ([]*Subscription, error)

	// ExpireDue marks every active subscription with EndDate <= now as expired
	// and returns the rows it changed, in their expired state.
	ExpireDue(ctx context.Context, now time.Time) ([]*Subscription, error)
}

// Condition is a declarative predicate over a stored subscription.
// Zero-valued fields are not checked.
type Condition struct {
	Status     SubscriptionStatus // required persisted status
	EndsAfter  time.Time          // EndDate must be strictly after this instant
	MinCredits int                // CreditsRemaining must be >= MinCredits
}

// Matches evaluates the condition in memory.
func (c Condition) Matches(sub *Subscription) bool {
	if c.Status != "" && sub.Status != c.Status {
		return false
	}
	if !c.EndsAfter.IsZero() && !sub.EndDate.After(c.EndsAfter) {
		return false
	}
	if c.MinCredits > 0 && sub.CreditsRemaining < c.MinCredits {
		return false
	}
	return true
}

// Mutation describes the changes applied by UpdateConditional.
type Mutation struct {
	DebitCredits int                // subtracted from CreditsRemaining
	SetStatus    SubscriptionStatus // empty keeps the current status
	SetEndDate   *time.Time
	UpdatedAt    time.Time
}

// Apply mutates sub in place.
func (m Mutation) Apply(sub *Subscription) {
	sub.CreditsRemaining -= m.DebitCredits
	if m.SetStatus != "" {
		sub.Status = m.SetStatus
	}
	if m.SetEndDate != nil {
		sub.EndDate = *m.SetEndDate
	}
	if !m.UpdatedAt.IsZero() {
		sub.UpdatedAt = m.UpdatedAt
	}
}
