package api

import (
	"errors"

	"github.com/pawtrail/walkledger/binder"
	"github.com/pawtrail/walkledger/handler"
	"github.com/pawtrail/walkledger/internal/sweeper"
	"github.com/pawtrail/walkledger/pkg/ledger"
)

// errorMappings translate domain errors into a base response and a stable
// key. Order matters: the first match wins.
var errorMappings = []struct {
	target error
	base   handler.HTTPError
	key    string
	expose bool // show err's text to the client
}{
	{ledger.ErrSubscriptionNotFound, handler.ErrNotFound, "subscription_not_found", true},
	{ledger.ErrPlanNotFound, handler.ErrNotFound, "plan_not_found", true},
	{ledger.ErrPlanInactive, handler.ErrConflict, "plan_inactive", true},
	{ledger.ErrSubscriptionCancelled, handler.ErrConflict, "subscription_cancelled", true},
	{ledger.ErrSubscriptionExpired, handler.ErrConflict, "subscription_expired", true},
	{ledger.ErrNoCreditsRemaining, handler.ErrConflict, "no_credits_remaining", true},
	{ledger.ErrInvalidState, handler.ErrConflict, "invalid_state", true},
	{ledger.ErrDuplicatePayment, handler.ErrConflict, "duplicate_payment", true},
	{sweeper.ErrSweepInProgress, handler.ErrConflict, "sweep_in_progress", true},
	{ledger.ErrPaymentRequired, handler.ErrPaymentRequired, "payment_required", true},
	{ledger.ErrWebhookVerificationFailed, handler.ErrUnauthorized, "invalid_signature", false},
	{ledger.ErrInvalidWebhookPayload, handler.ErrBadRequest, "invalid_webhook_payload", false},
	{ledger.ErrStoreUnavailable, handler.ErrServiceUnavailable, "store_unavailable", false},
	{ledger.ErrGatewayError, handler.ErrBadGateway, "gateway_error", false},
	{ledger.ErrNoCheckoutURL, handler.ErrBadGateway, "gateway_error", false},
	{ledger.ErrMissingPriceRef, handler.ErrBadGateway, "gateway_error", false},
	{binder.ErrUnsupportedMediaType, handler.ErrUnsupportedMediaType, "unsupported_media_type", true},
	{binder.ErrMissingContentType, handler.ErrUnsupportedMediaType, "unsupported_media_type", true},
	{binder.ErrInvalidJSON, handler.ErrBadRequest, "invalid_json", true},
	{binder.ErrInvalidPath, handler.ErrBadRequest, "invalid_path", true},
}

// toHTTPError converts err to an error handler.JSONError renders with the
// right status. Unknown errors stay as they are and render as 500.
func toHTTPError(err error) error {
	var verr ledger.ValidationError
	if errors.As(err, &verr) {
		return handler.ValidationError(verr)
	}
	var herr handler.HTTPError
	if errors.As(err, &herr) {
		return herr
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			out := m.base
			out.Key = m.key
			if m.expose {
				out = out.WithMessage(err.Error())
			}
			return out
		}
	}
	return err
}
