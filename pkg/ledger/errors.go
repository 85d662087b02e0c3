package ledger

import "errors"

var (
	ErrPlanNotFound             = errors.New("subscription plan not found")
	ErrPlanInactive             = errors.New("subscription plan is not available for purchase")
	ErrInvalidPlanConfiguration = errors.New("invalid subscription plan configuration")
	ErrFailedToLoadPlans        = errors.New("failed to load subscription plans")

	ErrSubscriptionNotFound  = errors.New("subscription not found")
	ErrInvalidState          = errors.New("operation not allowed in current subscription state")
	ErrSubscriptionExpired   = errors.New("subscription has expired")
	ErrSubscriptionCancelled = errors.New("subscription has been cancelled")
	ErrNoCreditsRemaining    = errors.New("subscription has no credits remaining")

	ErrPaymentRequired  = errors.New("payment has not been confirmed")
	ErrDuplicatePayment = errors.New("payment reference already processed")

	// Store errors
	ErrStoreUnavailable = errors.New("subscription store unavailable")
	ErrConditionFailed  = errors.New("conditional update precondition failed")

	// Gateway errors
	ErrGatewayError              = errors.New("payment gateway error")
	ErrMissingAPIKey             = errors.New("payment gateway API key is required")
	ErrMissingWebhookSecret      = errors.New("payment gateway webhook secret is required")
	ErrInvalidGatewayEnvironment = errors.New("invalid payment gateway environment")
	ErrWebhookVerificationFailed = errors.New("webhook signature verification failed")
	ErrNoCheckoutURL             = errors.New("no checkout URL returned from payment gateway")
	ErrMissingPriceRef           = errors.New("plan has no gateway price reference")
	ErrInvalidWebhookPayload     = errors.New("invalid webhook payload")
)

// IsNotFound reports whether err belongs to the not-found family.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSubscriptionNotFound) || errors.Is(err, ErrPlanNotFound)
}

// IsDomainError reports whether err is a recoverable business rule violation
// rather than an infrastructure failure.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrPlanNotFound,
		ErrPlanInactive,
		ErrSubscriptionNotFound,
		ErrInvalidState,
		ErrSubscriptionExpired,
		ErrSubscriptionCancelled,
		ErrNoCreditsRemaining,
		ErrPaymentRequired,
		ErrDuplicatePayment,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	var verr ValidationError
	return errors.As(err, &verr)
}
