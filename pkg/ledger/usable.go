package ledger

import "time"

// IsUsable reports whether sub can be debited at now: it must be active,
// not past its end date and have at least one credit left.
// Every read path and the debit path use this predicate.
func IsUsable(sub *Subscription, now time.Time) bool {
	return CheckUsable(sub, now) == nil
}

// CheckUsable explains why sub is not usable at now.
// Cancellation is reported before expiry because cancelling moves the end
// date to the cancellation time.
func CheckUsable(sub *Subscription, now time.Time) error {
	switch {
	case sub == nil:
		return ErrSubscriptionNotFound
	case sub.Status == StatusCancelled:
		return ErrSubscriptionCancelled
	case sub.IsExpiredAt(now):
		return ErrSubscriptionExpired
	case sub.Status != StatusActive:
		return ErrInvalidState
	case sub.CreditsRemaining <= 0:
		return ErrNoCreditsRemaining
	}
	return nil
}

// usableCondition is the store-level form of IsUsable, evaluated atomically
// together with the debit.
func usableCondition(now time.Time) Condition {
	return Condition{
		Status:     StatusActive,
		EndsAfter:  now,
		MinCredits: 1,
	}
}
