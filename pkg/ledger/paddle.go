package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleConfig holds configuration for the Paddle gateway.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleGateway implements PaymentGateway with Paddle hosted checkouts.
// Plans must carry the Paddle price ID in PriceRef.
type PaddleGateway struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

// NewPaddleGateway creates a Paddle gateway for the configured environment.
func NewPaddleGateway(cfg PaddleConfig) (*PaddleGateway, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidGatewayEnvironment, cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleGateway{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
	}, nil
}

// Authorize creates a Paddle transaction and returns its checkout URL.
// The purchase is confirmed later by the transaction.completed webhook.
func (g *PaddleGateway) Authorize(ctx context.Context, req AuthorizeRequest) (*PaymentConfirmation, error) {
	if req.PriceRef == "" {
		return nil, ErrMissingPriceRef
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceRef,
		Quantity: 1,
	})

	txReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"user_id":  req.UserID,
			"owner_id": req.OwnerID,
			"plan_id":  req.PlanID,
		},
	}
	if req.Checkout.Email != "" {
		txReq.CustomData["email"] = req.Checkout.Email
	}
	if req.Checkout.SuccessURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.Checkout.SuccessURL),
		}
	}

	tx, err := g.client.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle transaction: %w", err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil {
		return nil, ErrNoCheckoutURL
	}

	return &PaymentConfirmation{
		Status:      PaymentPending,
		Reference:   tx.ID,
		CheckoutURL: *tx.Checkout.URL,
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}, nil
}

// ParseWebhook verifies the Paddle-Signature header and normalizes
// transaction events.
func (g *PaddleGateway) ParseWebhook(ctx context.Context, payload []byte, signature string) (*PaymentEvent, error) {
	// The SDK verifier works on requests, so rebuild one around the payload.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := g.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}
	if !valid {
		return nil, ErrWebhookVerificationFailed
	}

	return parsePaddleEvent(payload)
}

func parsePaddleEvent(payload []byte) (*PaymentEvent, error) {
	var raw struct {
		EventID   string         `json:"event_id"`
		EventType string         `json:"event_type"`
		Data      map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, errors.Join(ErrInvalidWebhookPayload, err)
	}

	event := &PaymentEvent{
		Type:          mapPaddleEventType(raw.EventType),
		ProviderEvent: raw.EventType,
	}
	if event.Type == EventIgnored {
		return event, nil
	}

	if id, ok := raw.Data["id"].(string); ok {
		event.Reference = id
	}
	if custom, ok := raw.Data["custom_data"].(map[string]any); ok {
		event.UserID, _ = custom["user_id"].(string)
		event.OwnerID, _ = custom["owner_id"].(string)
		event.PlanID, _ = custom["plan_id"].(string)
	}
	// Paddle reports totals as decimal strings in minor units.
	if details, ok := raw.Data["details"].(map[string]any); ok {
		if totals, ok := details["totals"].(map[string]any); ok {
			if total, ok := totals["total"].(string); ok {
				event.Amount, _ = strconv.ParseInt(total, 10, 64)
			}
		}
	}

	return event, nil
}

func mapPaddleEventType(eventType string) PaymentEventType {
	switch eventType {
	case "transaction.completed":
		return EventPaymentCompleted
	case "transaction.payment_failed":
		return EventPaymentFailed
	default:
		return EventIgnored
	}
}
