package ledger

import "time"

// SubscriptionStatus represents the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusExpired   SubscriptionStatus = "expired" // terminal, observed once EndDate has passed
)

// Valid reports whether s is one of the known statuses.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// DefaultCurrency is used for plans that don't declare one.
const DefaultCurrency = "GBP"

// CheckoutOptions contains options for creating a hosted checkout session.
type CheckoutOptions struct {
	Email      string // Pre-fill billing email if known
	SuccessURL string // Redirect after successful payment
	CancelURL  string // Redirect if customer cancels
}

// CheckoutResult is returned by Checkout. Exactly one of Subscription and
// CheckoutURL is set: free plans and synchronous gateways activate
// immediately, hosted checkouts activate later through the payment webhook.
type CheckoutResult struct {
	Subscription *Subscription `json:"subscription,omitempty"`
	CheckoutURL  string        `json:"checkout_url,omitempty"`
	Reference    string        `json:"reference,omitempty"`
	ExpiresAt    time.Time     `json:"expires_at,omitzero"` // hosted checkout deadline, if known
}

// Pending reports whether the purchase awaits an asynchronous payment confirmation.
func (r CheckoutResult) Pending() bool {
	return r.Subscription == nil
}
