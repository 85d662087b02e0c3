package ledger

import "time"

// Subscription is a user's purchase of a plan with its own credit balance.
// Plan terms (credits, price, validity) are snapshotted at purchase time.
type Subscription struct {
	ID               string             `json:"id"`
	PlanID           string             `json:"plan_id"`
	UserID           string             `json:"user_id"`
	OwnerID          string             `json:"owner_id"`
	Status           SubscriptionStatus `json:"status"`
	PurchaseDate     time.Time          `json:"purchase_date"`
	EndDate          time.Time          `json:"end_date"`
	TotalCredits     int                `json:"total_credits"`
	CreditsRemaining int                `json:"credits_remaining"`
	PurchaseAmount   int64              `json:"purchase_amount"`
	Currency         string             `json:"currency"`
	PaymentReference string             `json:"payment_reference,omitempty"` // empty for free plans
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// IsExpiredAt reports whether the subscription is expired at now, either
// because the sweep already persisted it or because its end date has passed.
func (s *Subscription) IsExpiredAt(now time.Time) bool {
	if s.Status == StatusExpired {
		return true
	}
	return s.Status == StatusActive && !s.EndDate.After(now)
}

// StatusAt returns the observed status at now. An active subscription past
// its end date is reported as expired even if the sweep hasn't run yet.
func (s *Subscription) StatusAt(now time.Time) SubscriptionStatus {
	if s.IsExpiredAt(now) {
		return StatusExpired
	}
	return s.Status
}

// clone returns a copy that callers may mutate freely.
func (s *Subscription) clone() *Subscription {
	c := *s
	return &c
}
