// Package api exposes the subscription ledger over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pawtrail/walkledger/pkg/clientip"
	"github.com/pawtrail/walkledger/pkg/httpserver"
	"github.com/pawtrail/walkledger/pkg/ledger"
	"github.com/pawtrail/walkledger/pkg/metrics"
	"github.com/pawtrail/walkledger/pkg/ratelimit"
	"github.com/pawtrail/walkledger/pkg/requestid"
)

// Sweeper runs an on-demand expiry sweep.
type Sweeper interface {
	RunOnce(ctx context.Context) (int, error)
}

type Config struct {
	Ledger  *ledger.Ledger
	Sweeper Sweeper
	Logger  *slog.Logger
	Metrics *metrics.Metrics // optional

	// Readiness checks served on /readyz.
	Readiness []httpserver.Check

	// AdminToken guards /admin routes. They are not mounted when empty.
	AdminToken string

	// RateLimiter, when set, limits checkout, debit and cancel per client IP.
	RateLimiter *ratelimit.Limiter
	TrustProxy  bool
}

// NewRouter builds the HTTP routes. Panics if Ledger is nil.
func NewRouter(cfg Config) http.Handler {
	if cfg.Ledger == nil {
		panic("api: Ledger is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	h := &handlers{ledger: cfg.Ledger, sweeper: cfg.Sweeper, log: log}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(logRequests(log))

	r.Get("/healthz", httpserver.LivenessHandler())
	r.Get("/readyz", httpserver.ReadinessHandler(log, cfg.Readiness...))
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	r.Get("/plans", h.listPlans())
	r.Get("/plans/{planID}", h.getPlan())

	var limited []func(http.Handler) http.Handler
	if cfg.RateLimiter != nil {
		byIP := func(r *http.Request) string { return clientip.GetIP(r, cfg.TrustProxy) }
		limited = append(limited, ratelimit.Middleware(cfg.RateLimiter, byIP, h.rateLimited))
	}

	r.Route("/subscriptions", func(r chi.Router) {
		r.Get("/{subscriptionID}", h.getSubscription())
		r.Group(func(r chi.Router) {
			r.Use(limited...)
			r.Post("/checkout", h.checkout())
			r.Post("/{subscriptionID}/debit", h.debit())
			r.Post("/{subscriptionID}/cancel", h.cancel())
		})
	})

	r.Get("/users/{userID}/subscriptions", h.listUserSubscriptions())
	r.Get("/users/{userID}/subscriptions/usable", h.usableSubscriptions())

	r.Post("/webhooks/payments", h.paymentWebhook())

	if cfg.AdminToken != "" && cfg.Sweeper != nil {
		r.With(requireBearer(cfg.AdminToken)).Post("/admin/sweep", h.sweep())
	}

	return r
}
