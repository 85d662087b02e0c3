package ledger

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeConfig holds configuration for the Stripe gateway.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	SuccessURL    string `env:"STRIPE_SUCCESS_URL" envDefault:"https://example.com/checkout/success"`
	CancelURL     string `env:"STRIPE_CANCEL_URL" envDefault:"https://example.com/checkout/cancel"`
}

// StripeGateway implements PaymentGateway with one-off Stripe Checkout
// sessions. Plans with a PriceRef use that Stripe price; others are charged
// inline with the plan's price and currency.
type StripeGateway struct {
	sc            *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
}

// NewStripeGateway creates a Stripe gateway.
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	sc := &client.API{}
	sc.Init(cfg.SecretKey, nil)

	return &StripeGateway{
		sc:            sc,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}, nil
}

// Authorize creates a Checkout Session in payment mode. The purchase is
// confirmed by the checkout.session.completed webhook once it's paid.
func (g *StripeGateway) Authorize(ctx context.Context, req AuthorizeRequest) (*PaymentConfirmation, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(cmp.Or(req.Checkout.SuccessURL, g.successURL)),
		CancelURL:  stripe.String(cmp.Or(req.Checkout.CancelURL, g.cancelURL)),
		LineItems:  []*stripe.CheckoutSessionLineItemParams{stripeLineItem(req)},
		Metadata: map[string]string{
			"user_id":  req.UserID,
			"owner_id": req.OwnerID,
			"plan_id":  req.PlanID,
		},
	}
	if req.Checkout.Email != "" {
		params.CustomerEmail = stripe.String(req.Checkout.Email)
	}
	params.Context = ctx

	sess, err := g.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create stripe checkout session: %w", err)
	}
	if sess.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	conf := &PaymentConfirmation{
		Status:      PaymentPending,
		Reference:   sess.ID,
		CheckoutURL: sess.URL,
	}
	if sess.ExpiresAt > 0 {
		conf.ExpiresAt = time.Unix(sess.ExpiresAt, 0)
	}
	return conf, nil
}

// ParseWebhook verifies the Stripe-Signature header and normalizes checkout
// session events.
func (g *StripeGateway) ParseWebhook(_ context.Context, payload []byte, signature string) (*PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}
	return stripePaymentEvent(event)
}

func stripePaymentEvent(event stripe.Event) (*PaymentEvent, error) {
	result := &PaymentEvent{
		Type:          EventIgnored,
		ProviderEvent: string(event.Type),
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded", "checkout.session.async_payment_failed":
	default:
		return result, nil
	}

	var sess stripe.CheckoutSession
	if event.Data == nil {
		return nil, fmt.Errorf("%w: missing event data", ErrInvalidWebhookPayload)
	}
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, errors.Join(ErrInvalidWebhookPayload, err)
	}

	result.Reference = sess.ID
	result.Amount = sess.AmountTotal
	result.UserID = sess.Metadata["user_id"]
	result.OwnerID = sess.Metadata["owner_id"]
	result.PlanID = sess.Metadata["plan_id"]

	switch {
	case event.Type == "checkout.session.async_payment_failed":
		result.Type = EventPaymentFailed
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		result.Type = EventPaymentCompleted
	default:
		// Delayed payment methods complete the session before funds arrive;
		// async_payment_succeeded follows once they do.
		result.Type = EventIgnored
	}
	return result, nil
}

func stripeLineItem(req AuthorizeRequest) *stripe.CheckoutSessionLineItemParams {
	if req.PriceRef != "" {
		return &stripe.CheckoutSessionLineItemParams{
			Price:    stripe.String(req.PriceRef),
			Quantity: stripe.Int64(1),
		}
	}
	return &stripe.CheckoutSessionLineItemParams{
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(strings.ToLower(req.Currency)),
			UnitAmount: stripe.Int64(req.Amount),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(cmp.Or(req.PlanName, req.PlanID)),
			},
		},
		Quantity: stripe.Int64(1),
	}
}
