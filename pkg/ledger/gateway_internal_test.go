package ledger

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
)

func TestParsePaddleEvent(t *testing.T) {
	t.Parallel()

	t.Run("transaction completed", func(t *testing.T) {
		t.Parallel()
		ev, err := parsePaddleEvent([]byte(`{
			"event_id": "evt_1",
			"event_type": "transaction.completed",
			"data": {
				"id": "txn_01",
				"custom_data": {"user_id": "u1", "owner_id": "o1", "plan_id": "four"},
				"details": {"totals": {"total": "2999"}}
			}
		}`))
		require.NoError(t, err)
		assert.Equal(t, &PaymentEvent{
			Type:          EventPaymentCompleted,
			ProviderEvent: "transaction.completed",
			Reference:     "txn_01",
			PlanID:        "four",
			UserID:        "u1",
			OwnerID:       "o1",
			Amount:        2999,
		}, ev)
		assert.Equal(t, PaymentSucceeded, ev.Confirmation().Status)
	})

	t.Run("payment failed", func(t *testing.T) {
		t.Parallel()
		ev, err := parsePaddleEvent([]byte(`{"event_type":"transaction.payment_failed","data":{"id":"txn_02"}}`))
		require.NoError(t, err)
		assert.Equal(t, EventPaymentFailed, ev.Type)
		assert.Equal(t, "txn_02", ev.Reference)
		assert.Equal(t, PaymentDeclined, ev.Confirmation().Status)
	})

	t.Run("other events are ignored", func(t *testing.T) {
		t.Parallel()
		ev, err := parsePaddleEvent([]byte(`{"event_type":"subscription.created","data":{"id":"sub_1"}}`))
		require.NoError(t, err)
		assert.Equal(t, EventIgnored, ev.Type)
		assert.Empty(t, ev.Reference)
	})

	t.Run("malformed", func(t *testing.T) {
		t.Parallel()
		_, err := parsePaddleEvent([]byte(`{"event_type":`))
		assert.ErrorIs(t, err, ErrInvalidWebhookPayload)
	})
}

func TestStripePaymentEvent(t *testing.T) {
	t.Parallel()

	session := func(status string) *stripe.EventData {
		raw, err := json.Marshal(map[string]any{
			"id":             "cs_1",
			"object":         "checkout.session",
			"amount_total":   2999,
			"payment_status": status,
			"metadata":       map[string]string{"user_id": "u1", "owner_id": "o1", "plan_id": "four"},
		})
		require.NoError(t, err)
		return &stripe.EventData{Raw: raw}
	}

	tests := []struct {
		name  string
		event stripe.Event
		want  PaymentEventType
	}{
		{"paid session", stripe.Event{Type: "checkout.session.completed", Data: session("paid")}, EventPaymentCompleted},
		{"delayed payment", stripe.Event{Type: "checkout.session.completed", Data: session("unpaid")}, EventIgnored},
		{"async success", stripe.Event{Type: "checkout.session.async_payment_succeeded", Data: session("paid")}, EventPaymentCompleted},
		{"async failure", stripe.Event{Type: "checkout.session.async_payment_failed", Data: session("unpaid")}, EventPaymentFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev, err := stripePaymentEvent(tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev.Type)
			assert.Equal(t, "cs_1", ev.Reference)
			assert.Equal(t, int64(2999), ev.Amount)
			assert.Equal(t, "u1", ev.UserID)
			assert.Equal(t, "o1", ev.OwnerID)
			assert.Equal(t, "four", ev.PlanID)
		})
	}

	t.Run("unrelated event", func(t *testing.T) {
		t.Parallel()
		ev, err := stripePaymentEvent(stripe.Event{Type: "customer.created"})
		require.NoError(t, err)
		assert.Equal(t, EventIgnored, ev.Type)
		assert.Equal(t, "customer.created", ev.ProviderEvent)
	})

	t.Run("missing data", func(t *testing.T) {
		t.Parallel()
		_, err := stripePaymentEvent(stripe.Event{Type: "checkout.session.completed"})
		assert.ErrorIs(t, err, ErrInvalidWebhookPayload)
	})
}

func TestGatewayConfig(t *testing.T) {
	t.Parallel()

	_, err := NewPaddleGateway(PaddleConfig{WebhookSecret: "s"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	_, err = NewPaddleGateway(PaddleConfig{APIKey: "k"})
	assert.ErrorIs(t, err, ErrMissingWebhookSecret)
	_, err = NewPaddleGateway(PaddleConfig{APIKey: "k", WebhookSecret: "s", Environment: "staging"})
	assert.ErrorIs(t, err, ErrInvalidGatewayEnvironment)

	_, err = NewStripeGateway(StripeConfig{WebhookSecret: "s"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	_, err = NewStripeGateway(StripeConfig{SecretKey: "sk"})
	assert.ErrorIs(t, err, ErrMissingWebhookSecret)

	g, err := NewStripeGateway(StripeConfig{SecretKey: "sk_test", WebhookSecret: "whsec"})
	require.NoError(t, err)
	_, err = g.ParseWebhook(context.Background(), []byte(`{}`), "t=1,v1=bad")
	assert.ErrorIs(t, err, ErrWebhookVerificationFailed)
}
