package api

import (
	"cmp"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pawtrail/walkledger/binder"
	"github.com/pawtrail/walkledger/handler"
	"github.com/pawtrail/walkledger/pkg/ledger"
	"github.com/pawtrail/walkledger/pkg/logger"
	"github.com/pawtrail/walkledger/pkg/ratelimit"
)

const maxWebhookBody = 1 << 20

type handlers struct {
	ledger  *ledger.Ledger
	sweeper Sweeper
	log     *slog.Logger
}

type (
	noRequest struct{}

	planRequest struct {
		PlanID string `path:"planID"`
	}

	subscriptionRequest struct {
		SubscriptionID string `path:"subscriptionID"`
	}

	userRequest struct {
		UserID string `path:"userID"`
	}

	checkoutRequest struct {
		UserID     string `json:"user_id"`
		OwnerID    string `json:"owner_id"`
		PlanID     string `json:"plan_id"`
		Email      string `json:"email,omitempty"`
		SuccessURL string `json:"success_url,omitempty"`
		CancelURL  string `json:"cancel_url,omitempty"`
	}
)

type webhookResult struct {
	Status       string               `json:"status"`
	Subscription *ledger.Subscription `json:"subscription,omitempty"`
}

// wrap applies the path binder and the shared error handler.
func wrap[R any](h *handlers, fn func(handler.Context, R) handler.Response, binders ...handler.Bind) http.HandlerFunc {
	return handler.Wrap(handler.HandlerFunc[handler.Context, R](fn),
		handler.WithBinders[handler.Context, R](append([]handler.Bind{binder.Path(chi.URLParam)}, binders...)...),
		handler.WithErrorHandler[handler.Context, R](h.renderError),
	)
}

func (h *handlers) renderError(ctx handler.Context, err error) {
	_ = h.errorResponse(ctx, err).Render(ctx.ResponseWriter(), ctx.Request())
}

func (h *handlers) errorResponse(ctx handler.Context, err error) handler.Response {
	mapped := toHTTPError(err)
	if isServerError(mapped) {
		h.log.ErrorContext(ctx, "request failed", logger.Error(err))
	}
	return handler.JSONError(mapped)
}

// isServerError reports whether mapped renders as a 5xx.
func isServerError(mapped error) bool {
	var verr handler.ValidationError
	if errors.As(mapped, &verr) {
		return false
	}
	var herr handler.HTTPError
	return !errors.As(mapped, &herr) || herr.Code >= http.StatusInternalServerError
}

func (h *handlers) rateLimited(w http.ResponseWriter, r *http.Request, _ ratelimit.Result) {
	_ = handler.JSONError(handler.ErrTooManyRequests).Render(w, r)
}

func (h *handlers) listPlans() http.HandlerFunc {
	return wrap(h, func(ctx handler.Context, _ noRequest) handler.Response {
		plans, err := h.ledger.Catalog().ListActive(ctx)
		if err != nil {
			return h.errorResponse(ctx, err)
		}
		return handler.JSON(plans, handler.WithJSONMeta(map[string]any{"count": len(plans)}))
	})
}

func (h *handlers) getPlan() http.HandlerFunc {
	return wrap(h, func(ctx handler.Context, req planRequest) handler.Response {
		plan, err := h.ledger.Catalog().GetByID(ctx, req.PlanID)
		if err != nil {
			return h.errorResponse(ctx, err)
		}
		return handler.JSON(plan)
	})
}

func (h *handlers) checkout() http.HandlerFunc {
	return wrap(h, func(ctx handler.Context, req checkoutRequest) handler.Response {
		result, err := h.ledger.Checkout(ctx,
			ledger.PurchaseRequest{UserID: req.UserID, OwnerID: req.OwnerID, PlanID: req.PlanID},
			ledger.CheckoutOptions{Email: req.Email, SuccessURL: req.SuccessURL, CancelURL: req.CancelURL},
		)
		if err != nil {
			return h.errorResponse(ctx, err)
		}
		if result.Pending() {
			return handler.JSON(result, handler.WithJSONStatus(http.StatusAccepted))
		}
		return handler.JSON(result, handler.WithJSONStatus(http.StatusCreated))
	}, binder.JSON())
}

func (h *handlers) getSubscription() http.HandlerFunc {
	return wrap(h, func(ctx handler.Context, req subscriptionRequest) handler.Response {
		sub, err := h.ledger.Get(ctx, req.SubscriptionID)
		if err != nil {
			return h.errorResponse(ctx, err)
		}
		return handler.JSON(sub)
	})
}

func (h *handlers) debit() http.HandlerFunc {
	return wrap(h, func(ctx handler.Context, req subscriptionRequest) handler.Response {
		sub, err := h.ledger.DebitCredit(ctx, req.SubscriptionID)
		if err != nil {
			return h.errorResponse(ctx, err)
		}
		return handler.JSON(sub)
	})
}

func (h *handlers) cancel() http.HandlerFunc {
	return wrap(h, func(ctx handler.Context, req subscriptionRequest) handler.Response {
		sub, err := h.ledger.Cancel(ctx, req.SubscriptionID)
		if err != nil {
			return h.errorResponse(ctx, err)
		}
		return handler.JSON(sub)
	})
}

func (h *handlers) listUserSubscriptions() http.HandlerFunc {
	return wrap(h, func(ctx handler.Context, req userRequest) handler.Response {
		subs, err := h.ledger.ListByUser(ctx, req.UserID)
		if err != nil {
			return h.errorResponse(ctx, err)
		}
		return handler.JSON(subs, handler.WithJSONMeta(map[string]any{"count": len(subs)}))
	})
}

func (h *handlers) usableSubscriptions() http.HandlerFunc {
	return wrap(h, func(ctx handler.Context, req userRequest) handler.Response {
		subs, err := h.ledger.GetUsable(ctx, req.UserID)
		if err != nil {
			return h.errorResponse(ctx, err)
		}
		credits := 0
		for _, s := range subs {
			credits += s.CreditsRemaining
		}
		return handler.JSON(subs, handler.WithJSONMeta(map[string]any{
			"count":   len(subs),
			"credits": credits,
		}))
	})
}

// paymentWebhook acknowledges redeliveries with 200 so the gateway stops
// retrying them.
func (h *handlers) paymentWebhook() http.HandlerFunc {
	return wrap(h, func(ctx handler.Context, _ noRequest) handler.Response {
		r := ctx.Request()
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			return h.errorResponse(ctx, handler.ErrBadRequest.WithMessage("failed to read body"))
		}
		signature := cmp.Or(r.Header.Get("Paddle-Signature"), r.Header.Get("Stripe-Signature"))

		sub, err := h.ledger.HandlePaymentWebhook(ctx, payload, signature)
		switch {
		case errors.Is(err, ledger.ErrDuplicatePayment):
			return handler.JSON(webhookResult{Status: "duplicate"})
		case err != nil:
			return h.errorResponse(ctx, err)
		case sub == nil:
			return handler.JSON(webhookResult{Status: "ignored"})
		default:
			return handler.JSON(webhookResult{Status: "processed", Subscription: sub})
		}
	})
}

func (h *handlers) sweep() http.HandlerFunc {
	return wrap(h, func(ctx handler.Context, _ noRequest) handler.Response {
		expired, err := h.sweeper.RunOnce(ctx)
		if err != nil {
			return h.errorResponse(ctx, err)
		}
		return handler.JSON(map[string]int{"expired": expired})
	})
}
