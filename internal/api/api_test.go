package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawtrail/walkledger/internal/api"
	"github.com/pawtrail/walkledger/internal/sweeper"
	"github.com/pawtrail/walkledger/pkg/httpserver"
	"github.com/pawtrail/walkledger/pkg/ledger"
	"github.com/pawtrail/walkledger/pkg/metrics"
	"github.com/pawtrail/walkledger/pkg/ratelimit"
)

// hostedGateway returns pending checkouts and replays queued webhook events.
type hostedGateway struct {
	mu     sync.Mutex
	events map[string]*ledger.PaymentEvent // by signature
}

func (g *hostedGateway) Authorize(_ context.Context, req ledger.AuthorizeRequest) (*ledger.PaymentConfirmation, error) {
	if req.PlanID == "plan-broken" {
		return nil, errors.New("provider down")
	}
	return &ledger.PaymentConfirmation{
		Status:      ledger.PaymentPending,
		Reference:   "txn_" + req.UserID,
		CheckoutURL: "https://pay.example.com/" + req.UserID,
	}, nil
}

func (g *hostedGateway) ParseWebhook(_ context.Context, _ []byte, signature string) (*ledger.PaymentEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ev, ok := g.events[signature]
	if !ok {
		return nil, ledger.ErrWebhookVerificationFailed
	}
	return ev, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type env struct {
	server  *httptest.Server
	clock   *clock
	gateway *hostedGateway
}

func plans() []ledger.Plan {
	return []ledger.Plan{
		{ID: "plan-5", Name: "Five walks", WalkCredits: 5, WalkDuration: 60, Price: 5000, ValidityPeriod: 30, IsActive: true},
		{ID: "plan-1", Name: "Single walk", WalkCredits: 1, WalkDuration: 30, Price: 1200, ValidityPeriod: 7, IsActive: true},
		{ID: "plan-trial", Name: "Trial", WalkCredits: 1, WalkDuration: 30, Price: 0, ValidityPeriod: 7, IsActive: true},
		{ID: "plan-old", Name: "Retired", WalkCredits: 3, WalkDuration: 30, Price: 3000, ValidityPeriod: 30, IsActive: false},
		{ID: "plan-broken", Name: "Broken", WalkCredits: 3, WalkDuration: 30, Price: 3000, ValidityPeriod: 30, IsActive: true},
	}
}

func setup(t *testing.T, mutate ...func(*api.Config)) *env {
	t.Helper()

	e := &env{
		clock:   &clock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)},
		gateway: &hostedGateway{events: map[string]*ledger.PaymentEvent{}},
	}

	catalog, err := ledger.NewCatalog(context.Background(), ledger.NewInMemSource(plans()...))
	require.NoError(t, err)

	l := ledger.New(catalog, ledger.NewMemoryStore(), e.gateway, ledger.WithClock(e.clock.Now))
	m := metrics.New(prometheus.NewRegistry())

	cfg := api.Config{
		Ledger:     l,
		Sweeper:    sweeper.New(l, sweeper.WithClock(e.clock.Now)),
		Metrics:    m,
		AdminToken: "secret",
		Readiness:  []httpserver.Check{{Name: "noop", Fn: func(context.Context) error { return nil }}},
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	e.server = httptest.NewServer(api.NewRouter(cfg))
	t.Cleanup(e.server.Close)
	return e
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Meta  map[string]any  `json:"meta"`
	Error *struct {
		Code    string              `json:"code"`
		Message string              `json:"message"`
		Details map[string][]string `json:"details"`
	} `json:"error"`
}

func (e *env) do(t *testing.T, method, path, body string, headers ...string) (int, envelope) {
	t.Helper()

	var req *http.Request
	var err error
	if body != "" {
		req, err = http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, err = http.NewRequest(method, e.server.URL+path, nil)
		require.NoError(t, err)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out envelope
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// purchaseFree activates the free trial plan for user.
func (e *env) purchaseFree(t *testing.T, user string) ledger.Subscription {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/subscriptions/checkout",
		`{"user_id":"`+user+`","owner_id":"owner-1","plan_id":"plan-trial"}`)
	require.Equal(t, http.StatusCreated, status)
	result := decode[ledger.CheckoutResult](t, body.Data)
	require.NotNil(t, result.Subscription)
	return *result.Subscription
}

// purchasePaid completes a hosted checkout for plan through the webhook.
func (e *env) purchasePaid(t *testing.T, user, plan string) ledger.Subscription {
	t.Helper()
	status, body := e.do(t, http.MethodPost, "/subscriptions/checkout",
		`{"user_id":"`+user+`","owner_id":"owner-1","plan_id":"`+plan+`"}`)
	require.Equal(t, http.StatusAccepted, status)
	result := decode[ledger.CheckoutResult](t, body.Data)

	sig := "sig-" + result.Reference
	e.gateway.mu.Lock()
	e.gateway.events[sig] = &ledger.PaymentEvent{
		Type:      ledger.EventPaymentCompleted,
		Reference: result.Reference,
		PlanID:    plan,
		UserID:    user,
		OwnerID:   "owner-1",
	}
	e.gateway.mu.Unlock()

	status, body = e.do(t, http.MethodPost, "/webhooks/payments", `{}`, "Paddle-Signature", sig)
	require.Equal(t, http.StatusOK, status)
	res := decode[struct {
		Status       string               `json:"status"`
		Subscription *ledger.Subscription `json:"subscription"`
	}](t, body.Data)
	require.Equal(t, "processed", res.Status)
	require.NotNil(t, res.Subscription)
	return *res.Subscription
}

func TestPlans(t *testing.T) {
	t.Parallel()
	e := setup(t)

	status, body := e.do(t, http.MethodGet, "/plans", "")
	require.Equal(t, http.StatusOK, status)
	got := decode[[]ledger.Plan](t, body.Data)

	ids := make([]string, 0, len(got))
	for _, p := range got {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"plan-trial", "plan-1", "plan-broken", "plan-5"}, ids)
	assert.Equal(t, float64(4), body.Meta["count"])

	status, body = e.do(t, http.MethodGet, "/plans/plan-old", "")
	require.Equal(t, http.StatusOK, status)
	assert.False(t, decode[ledger.Plan](t, body.Data).IsActive)

	status, body = e.do(t, http.MethodGet, "/plans/nope", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "plan_not_found", body.Error.Code)
}

func TestCheckout(t *testing.T) {
	t.Parallel()

	t.Run("hosted checkout is pending", func(t *testing.T) {
		t.Parallel()
		e := setup(t)
		status, body := e.do(t, http.MethodPost, "/subscriptions/checkout",
			`{"user_id":"u1","owner_id":"o1","plan_id":"plan-5","email":"a@b.c"}`)
		require.Equal(t, http.StatusAccepted, status)
		result := decode[ledger.CheckoutResult](t, body.Data)
		assert.Nil(t, result.Subscription)
		assert.Equal(t, "https://pay.example.com/u1", result.CheckoutURL)
		assert.Equal(t, "txn_u1", result.Reference)
	})

	t.Run("free plan activates immediately", func(t *testing.T) {
		t.Parallel()
		e := setup(t)
		sub := e.purchaseFree(t, "u1")
		assert.Equal(t, ledger.StatusActive, sub.Status)
		assert.Equal(t, 1, sub.CreditsRemaining)
		assert.True(t, strings.HasPrefix(sub.PaymentReference, "free_"))
	})

	t.Run("validation errors", func(t *testing.T) {
		t.Parallel()
		e := setup(t)
		status, body := e.do(t, http.MethodPost, "/subscriptions/checkout", `{"plan_id":"plan-5"}`)
		require.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Equal(t, "validation_error", body.Error.Code)
		assert.Contains(t, body.Error.Details, "user_id")
		assert.Contains(t, body.Error.Details, "owner_id")
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()
		e := setup(t)
		status, body := e.do(t, http.MethodPost, "/subscriptions/checkout", `{"user_id":`)
		require.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_json", body.Error.Code)
	})

	t.Run("inactive plan", func(t *testing.T) {
		t.Parallel()
		e := setup(t)
		status, body := e.do(t, http.MethodPost, "/subscriptions/checkout",
			`{"user_id":"u1","owner_id":"o1","plan_id":"plan-old"}`)
		require.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "plan_inactive", body.Error.Code)
	})

	t.Run("gateway failure", func(t *testing.T) {
		t.Parallel()
		e := setup(t)
		status, body := e.do(t, http.MethodPost, "/subscriptions/checkout",
			`{"user_id":"u1","owner_id":"o1","plan_id":"plan-broken"}`)
		require.Equal(t, http.StatusBadGateway, status)
		assert.Equal(t, "gateway_error", body.Error.Code)
		assert.NotContains(t, body.Error.Message, "provider down")
	})
}

func TestWebhook(t *testing.T) {
	t.Parallel()

	t.Run("activates once and acknowledges redelivery", func(t *testing.T) {
		t.Parallel()
		e := setup(t)
		sub := e.purchasePaid(t, "u1", "plan-5")
		assert.Equal(t, 5, sub.CreditsRemaining)
		assert.Equal(t, int64(5000), sub.PurchaseAmount)

		status, body := e.do(t, http.MethodPost, "/webhooks/payments", `{}`, "Paddle-Signature", "sig-txn_u1")
		require.Equal(t, http.StatusOK, status)
		assert.Contains(t, string(body.Data), `"duplicate"`)

		status, body = e.do(t, http.MethodGet, "/users/u1/subscriptions", "")
		require.Equal(t, http.StatusOK, status)
		assert.Len(t, decode[[]ledger.Subscription](t, body.Data), 1)
	})

	t.Run("bad signature", func(t *testing.T) {
		t.Parallel()
		e := setup(t)
		status, body := e.do(t, http.MethodPost, "/webhooks/payments", `{}`, "Stripe-Signature", "forged")
		require.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "invalid_signature", body.Error.Code)
	})

	t.Run("ignored event", func(t *testing.T) {
		t.Parallel()
		e := setup(t)
		e.gateway.mu.Lock()
		e.gateway.events["sig-ignored"] = &ledger.PaymentEvent{Type: ledger.EventIgnored, ProviderEvent: "customer.created"}
		e.gateway.mu.Unlock()
		status, body := e.do(t, http.MethodPost, "/webhooks/payments", `{}`, "Paddle-Signature", "sig-ignored")
		require.Equal(t, http.StatusOK, status)
		assert.Contains(t, string(body.Data), `"ignored"`)
	})
}

func TestSubscriptionLifecycle(t *testing.T) {
	t.Parallel()
	e := setup(t)

	sub := e.purchasePaid(t, "u1", "plan-1")
	path := "/subscriptions/" + sub.ID

	status, body := e.do(t, http.MethodPost, path+"/debit", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, decode[ledger.Subscription](t, body.Data).CreditsRemaining)

	status, body = e.do(t, http.MethodPost, path+"/debit", "")
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "no_credits_remaining", body.Error.Code)

	// A drained subscription stays active and can still be cancelled.
	status, body = e.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, ledger.StatusActive, decode[ledger.Subscription](t, body.Data).Status)

	status, body = e.do(t, http.MethodPost, path+"/cancel", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, ledger.StatusCancelled, decode[ledger.Subscription](t, body.Data).Status)

	status, body = e.do(t, http.MethodPost, path+"/cancel", "")
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_state", body.Error.Code)

	status, body = e.do(t, http.MethodPost, path+"/debit", "")
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "subscription_cancelled", body.Error.Code)

	status, body = e.do(t, http.MethodPost, "/subscriptions/missing/debit", "")
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "subscription_not_found", body.Error.Code)
}

func TestUsableAndSweep(t *testing.T) {
	t.Parallel()
	e := setup(t)

	trial := e.purchaseFree(t, "u1")            // 7 days
	bundle := e.purchasePaid(t, "u1", "plan-5") // 30 days

	status, body := e.do(t, http.MethodGet, "/users/u1/subscriptions/usable", "")
	require.Equal(t, http.StatusOK, status)
	usable := decode[[]ledger.Subscription](t, body.Data)
	require.Len(t, usable, 2)
	assert.Equal(t, trial.ID, usable[0].ID, "soonest expiry first")
	assert.Equal(t, bundle.ID, usable[1].ID)
	assert.Equal(t, float64(6), body.Meta["credits"])

	// Move past the trial's end date without sweeping.
	e.clock.Advance(8 * 24 * time.Hour)

	status, body = e.do(t, http.MethodGet, "/subscriptions/"+trial.ID, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, ledger.StatusExpired, decode[ledger.Subscription](t, body.Data).Status)

	status, body = e.do(t, http.MethodPost, "/subscriptions/"+trial.ID+"/debit", "")
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "subscription_expired", body.Error.Code)

	status, body = e.do(t, http.MethodGet, "/users/u1/subscriptions/usable", "")
	require.Equal(t, http.StatusOK, status)
	usable = decode[[]ledger.Subscription](t, body.Data)
	require.Len(t, usable, 1)
	assert.Equal(t, bundle.ID, usable[0].ID)

	status, _ = e.do(t, http.MethodPost, "/admin/sweep", "")
	require.Equal(t, http.StatusUnauthorized, status)

	status, body = e.do(t, http.MethodPost, "/admin/sweep", "", "Authorization", "Bearer secret")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]int{"expired": 1}, decode[map[string]int](t, body.Data))

	status, body = e.do(t, http.MethodPost, "/admin/sweep", "", "Authorization", "Bearer secret")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]int{"expired": 0}, decode[map[string]int](t, body.Data))
}

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()
	e := setup(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(e.server.URL + path)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	limiter, err := ratelimit.New(ratelimit.NewMemoryStore(), 2, time.Minute)
	require.NoError(t, err)
	e := setup(t, func(c *api.Config) { c.RateLimiter = limiter })

	body := `{"user_id":"u1","owner_id":"o1","plan_id":"plan-5"}`
	for range 2 {
		status, _ := e.do(t, http.MethodPost, "/subscriptions/checkout", body)
		require.Equal(t, http.StatusAccepted, status)
	}

	status, resp := e.do(t, http.MethodPost, "/subscriptions/checkout", body)
	require.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "too_many_requests", resp.Error.Code)

	// Reads are not limited.
	status, _ = e.do(t, http.MethodGet, "/plans", "")
	assert.Equal(t, http.StatusOK, status)
}

type blockingExpirer struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingExpirer) ExpireSweep(context.Context, time.Time) (int, error) {
	close(b.entered)
	<-b.release
	return 0, nil
}

func TestSweepInProgress(t *testing.T) {
	t.Parallel()

	blocked := &blockingExpirer{entered: make(chan struct{}), release: make(chan struct{})}
	sw := sweeper.New(blocked)
	e := setup(t, func(c *api.Config) { c.Sweeper = sw })

	done := make(chan error, 1)
	go func() {
		_, err := sw.RunOnce(context.Background())
		done <- err
	}()
	<-blocked.entered

	status, body := e.do(t, http.MethodPost, "/admin/sweep", "", "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, body.Error)
	assert.Equal(t, "sweep_in_progress", body.Error.Code)

	close(blocked.release)
	require.NoError(t, <-done)
}

// syncBuffer is a bytes.Buffer safe for the server goroutine to write to.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestErrorLogging(t *testing.T) {
	t.Parallel()

	var logs syncBuffer
	log := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelError}))
	e := setup(t, func(c *api.Config) { c.Logger = log })

	status, _ := e.do(t, http.MethodPost, "/subscriptions/checkout", `{"plan_id":"plan-5"}`)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	status, _ = e.do(t, http.MethodGet, "/plans/nope", "")
	require.Equal(t, http.StatusNotFound, status)
	assert.Empty(t, logs.String(), "client errors are not logged as failures")

	status, _ = e.do(t, http.MethodPost, "/subscriptions/checkout",
		`{"user_id":"u1","owner_id":"o1","plan_id":"plan-broken"}`)
	require.Equal(t, http.StatusBadGateway, status)
	assert.Contains(t, logs.String(), `"msg":"request failed"`)
}
