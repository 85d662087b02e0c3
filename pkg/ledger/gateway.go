package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PaymentGateway abstracts the payment provider.
// Gateways either confirm synchronously from Authorize or return a pending
// confirmation with a hosted checkout URL and confirm later via webhook.
//
// Gateways must deliver a given payment reference as succeeded at most once
// per purchase; the ledger additionally deduplicates on the reference.
type PaymentGateway interface {
	// Authorize starts or performs the payment for a plan purchase.
	Authorize(ctx context.Context, req AuthorizeRequest) (*PaymentConfirmation, error)

	// ParseWebhook verifies the signature and normalizes an inbound notification.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*PaymentEvent, error)
}

// AuthorizeRequest contains the data a gateway needs to charge for a plan.
type AuthorizeRequest struct {
	PlanID   string
	PlanName string
	PriceRef string // gateway price ID, if the gateway uses a catalog
	UserID   string
	OwnerID  string
	Amount   int64 // minor currency units
	Currency string
	Checkout CheckoutOptions
}

// PaymentStatus is the normalized outcome of a payment attempt.
type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentPending   PaymentStatus = "pending"
	PaymentDeclined  PaymentStatus = "declined"
)

// PaymentConfirmation is the gateway's answer to an authorization.
type PaymentConfirmation struct {
	Status      PaymentStatus
	Reference   string // gateway correlation ID, used for deduplication
	CheckoutURL string // set for pending hosted checkouts
	ExpiresAt   time.Time
	Amount      int64 // captured minor units when the gateway reports them, else 0
}

// Succeeded reports whether money was captured.
func (c *PaymentConfirmation) Succeeded() bool {
	return c != nil && c.Status == PaymentSucceeded && c.Reference != ""
}

// PaymentEventType is the normalized inbound notification type.
type PaymentEventType string

const (
	EventPaymentCompleted PaymentEventType = "payment_completed"
	EventPaymentFailed    PaymentEventType = "payment_failed"
	EventIgnored          PaymentEventType = "ignored"
)

// PaymentEvent is a normalized webhook notification.
// PlanID, UserID and OwnerID come from the metadata attached at Authorize.
type PaymentEvent struct {
	Type          PaymentEventType
	ProviderEvent string // original provider event name
	Reference     string
	PlanID        string
	UserID        string
	OwnerID       string
	Amount        int64
}

// Confirmation converts a completed payment event into a confirmation.
func (e *PaymentEvent) Confirmation() PaymentConfirmation {
	status := PaymentDeclined
	if e.Type == EventPaymentCompleted {
		status = PaymentSucceeded
	}
	return PaymentConfirmation{Status: status, Reference: e.Reference, Amount: e.Amount}
}

// ManualGateway confirms every payment synchronously.
// Intended for development and for businesses that take payment offline.
type ManualGateway struct{}

func (ManualGateway) Authorize(_ context.Context, _ AuthorizeRequest) (*PaymentConfirmation, error) {
	return &PaymentConfirmation{
		Status:    PaymentSucceeded,
		Reference: "manual_" + uuid.NewString(),
	}, nil
}

func (ManualGateway) ParseWebhook(_ context.Context, _ []byte, _ string) (*PaymentEvent, error) {
	return &PaymentEvent{Type: EventIgnored}, nil
}
