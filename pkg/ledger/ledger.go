package ledger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/pawtrail/walkledger/pkg/logger"
)

// Ledger owns the subscription lifecycle: purchase, credit debit,
// cancellation and expiry. It holds no mutable state of its own; every
// check-then-act step is delegated to a conditional update in the Store, so
// several instances can safely share one database.
type Ledger struct {
	catalog    *Catalog
	store      Store
	gateway    PaymentGateway
	dedup      Deduplicator
	publishers []EventPublisher
	log        *slog.Logger
	now        func() time.Time
	newID      func() string
}

// New creates a Ledger with the given dependencies.
// Panics if catalog, store or gateway is nil.
func New(catalog *Catalog, store Store, gateway PaymentGateway, opts ...Option) *Ledger {
	if catalog == nil {
		panic("ledger: Catalog is required")
	}
	if store == nil {
		panic("ledger: Store is required")
	}
	if gateway == nil {
		panic("ledger: PaymentGateway is required")
	}

	l := &Ledger{
		catalog: catalog,
		store:   store,
		gateway: gateway,
		dedup:   NewMemoryDeduplicator(),
		log:     slog.New(slog.DiscardHandler),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Catalog exposes the plan catalog the ledger prices purchases from.
func (l *Ledger) Catalog() *Catalog {
	return l.catalog
}

// Checkout starts a purchase. Free plans and gateways that confirm
// synchronously activate right away; hosted checkouts return the URL the
// customer must visit and activate later through HandlePaymentWebhook.
func (l *Ledger) Checkout(ctx context.Context, req PurchaseRequest, opts CheckoutOptions) (*CheckoutResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	plan, err := l.purchasablePlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}

	// Free plans bypass the payment gateway entirely.
	if plan.IsFree() {
		conf := PaymentConfirmation{Status: PaymentSucceeded, Reference: "free_" + l.newID()}
		sub, err := l.Purchase(ctx, req, conf)
		if err != nil {
			return nil, err
		}
		return &CheckoutResult{Subscription: sub, Reference: conf.Reference}, nil
	}

	conf, err := l.gateway.Authorize(ctx, AuthorizeRequest{
		PlanID:   plan.ID,
		PlanName: plan.Name,
		PriceRef: plan.PriceRef,
		UserID:   req.UserID,
		OwnerID:  req.OwnerID,
		Amount:   plan.Price,
		Currency: plan.Currency,
		Checkout: opts,
	})
	if err != nil {
		return nil, errors.Join(ErrGatewayError, err)
	}

	switch conf.Status {
	case PaymentSucceeded:
		sub, err := l.Purchase(ctx, req, *conf)
		if err != nil {
			return nil, err
		}
		return &CheckoutResult{Subscription: sub, Reference: conf.Reference}, nil
	case PaymentPending:
		if conf.CheckoutURL == "" {
			return nil, ErrNoCheckoutURL
		}
		l.log.InfoContext(ctx, "checkout started",
			logger.PlanID(plan.ID),
			logger.UserID(req.UserID),
			slog.String("reference", conf.Reference))
		return &CheckoutResult{
			CheckoutURL: conf.CheckoutURL,
			Reference:   conf.Reference,
			ExpiresAt:   conf.ExpiresAt,
		}, nil
	default:
		return nil, ErrPaymentRequired
	}
}

// Purchase creates an active subscription once payment has been confirmed.
// It does not deduplicate by itself: calling it twice with distinct
// references creates two subscriptions. PurchaseAmount is the amount the
// gateway reports as captured, or the plan price when it reports none.
func (l *Ledger) Purchase(ctx context.Context, req PurchaseRequest, conf PaymentConfirmation) (*Subscription, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	plan, err := l.purchasablePlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !conf.Succeeded() {
		return nil, ErrPaymentRequired
	}

	amount := plan.Price
	if conf.Amount > 0 && conf.Amount != plan.Price {
		l.log.WarnContext(ctx, "captured amount differs from plan price",
			logger.PlanID(plan.ID),
			slog.String("reference", conf.Reference),
			slog.Int64("captured", conf.Amount),
			slog.Int64("price", plan.Price))
		amount = conf.Amount
	}

	now := l.now().UTC()
	sub := &Subscription{
		ID:               l.newID(),
		PlanID:           plan.ID,
		UserID:           req.UserID,
		OwnerID:          req.OwnerID,
		Status:           StatusActive,
		PurchaseDate:     now,
		EndDate:          plan.EndsAt(now),
		TotalCredits:     plan.WalkCredits,
		CreditsRemaining: plan.WalkCredits,
		PurchaseAmount:   amount,
		Currency:         plan.Currency,
		PaymentReference: conf.Reference,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := l.store.Insert(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to save subscription: %w", err)
	}

	l.log.InfoContext(ctx, "subscription purchased",
		logger.SubscriptionID(sub.ID),
		logger.PlanID(sub.PlanID),
		logger.UserID(sub.UserID),
		slog.Int("credits", sub.TotalCredits),
		slog.Time("end_date", sub.EndDate))
	l.publish(ctx, EventSubscriptionPurchased, sub, now)

	return sub, nil
}

// DebitCredit consumes one credit. The usability check and the decrement
// happen in a single conditional update, so concurrent debits can never
// overdraw the balance. A balance of zero leaves the subscription active.
func (l *Ledger) DebitCredit(ctx context.Context, id string) (*Subscription, error) {
	now := l.now().UTC()

	sub, err := l.store.UpdateConditional(ctx, id, usableCondition(now), Mutation{
		DebitCredits: 1,
		UpdatedAt:    now,
	})
	if errors.Is(err, ErrConditionFailed) {
		reason := CheckUsable(sub, now)
		if reason == nil {
			// The row changed between the update and the re-read.
			reason = ErrInvalidState
		}
		l.log.DebugContext(ctx, "credit debit refused",
			logger.SubscriptionID(id),
			logger.Error(reason))
		return nil, reason
	}
	if err != nil {
		return nil, err
	}

	l.log.InfoContext(ctx, "credit debited",
		logger.SubscriptionID(sub.ID),
		slog.Int("credits_remaining", sub.CreditsRemaining))
	l.publish(ctx, EventCreditDebited, sub, now)

	return sub, nil
}

// Cancel ends an active subscription immediately and forfeits its credits.
// Cancelling a cancelled or expired subscription fails with ErrInvalidState.
func (l *Ledger) Cancel(ctx context.Context, id string) (*Subscription, error) {
	now := l.now().UTC()

	sub, err := l.store.UpdateConditional(ctx, id,
		Condition{Status: StatusActive, EndsAfter: now},
		Mutation{SetStatus: StatusCancelled, SetEndDate: &now, UpdatedAt: now},
	)
	if errors.Is(err, ErrConditionFailed) {
		status := SubscriptionStatus("unknown")
		if sub != nil {
			status = sub.StatusAt(now)
		}
		return nil, fmt.Errorf("%w: subscription is %s", ErrInvalidState, status)
	}
	if err != nil {
		return nil, err
	}

	l.log.InfoContext(ctx, "subscription cancelled",
		logger.SubscriptionID(sub.ID),
		slog.Int("credits_forfeited", sub.CreditsRemaining))
	l.publish(ctx, EventSubscriptionCancelled, sub, now)

	return sub, nil
}

// Get returns a subscription with its observed status.
func (l *Ledger) Get(ctx context.Context, id string) (*Subscription, error) {
	sub, err := l.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	sub.Status = sub.StatusAt(l.now().UTC())
	return sub, nil
}

// ListByUser returns every subscription of a user, newest purchase first,
// with observed statuses.
func (l *Ledger) ListByUser(ctx context.Context, userID string) ([]*Subscription, error) {
	subs, err := l.store.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := l.now().UTC()
	for _, sub := range subs {
		sub.Status = sub.StatusAt(now)
	}
	slices.SortFunc(subs, func(a, b *Subscription) int {
		return cmp.Or(b.PurchaseDate.Compare(a.PurchaseDate), cmp.Compare(a.ID, b.ID))
	})
	return subs, nil
}

// GetUsable returns the user's usable subscriptions, soonest-expiring first,
// so callers naturally consume the most time-constrained credits first.
func (l *Ledger) GetUsable(ctx context.Context, userID string) ([]*Subscription, error) {
	subs, err := l.store.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := l.now().UTC()
	usable := slices.DeleteFunc(subs, func(sub *Subscription) bool {
		return !IsUsable(sub, now)
	})
	slices.SortFunc(usable, func(a, b *Subscription) int {
		return cmp.Or(a.EndDate.Compare(b.EndDate), cmp.Compare(a.ID, b.ID))
	})
	return usable, nil
}

// ExpireSweep persists the expiry of every active subscription whose end
// date is at or before now. Safe to run repeatedly and concurrently with
// other operations; already expired rows are left untouched.
func (l *Ledger) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	expired, err := l.store.ExpireDue(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, sub := range expired {
		l.publish(ctx, EventSubscriptionExpired, sub, now)
	}
	if len(expired) > 0 {
		l.log.InfoContext(ctx, "subscriptions expired", slog.Int("count", len(expired)))
	}
	return len(expired), nil
}

// HandlePaymentWebhook verifies an inbound gateway notification and
// activates the purchase it confirms. Redelivered notifications are rejected
// with ErrDuplicatePayment; notifications that don't confirm a payment are
// acknowledged with a nil subscription.
func (l *Ledger) HandlePaymentWebhook(ctx context.Context, payload []byte, signature string) (*Subscription, error) {
	event, err := l.gateway.ParseWebhook(ctx, payload, signature)
	if err != nil {
		return nil, err
	}

	switch event.Type {
	case EventPaymentCompleted:
	case EventPaymentFailed:
		l.log.WarnContext(ctx, "payment failed",
			slog.String("reference", event.Reference),
			logger.UserID(event.UserID),
			logger.PlanID(event.PlanID))
		return nil, nil
	default:
		l.log.DebugContext(ctx, "payment webhook ignored", slog.String("event", event.ProviderEvent))
		return nil, nil
	}

	if event.Reference == "" {
		return nil, fmt.Errorf("%w: missing payment reference", ErrInvalidWebhookPayload)
	}

	key := "payment:" + event.Reference
	claimed, err := l.dedup.Claim(ctx, key)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	if !claimed {
		return nil, ErrDuplicatePayment
	}

	sub, err := l.Purchase(ctx, PurchaseRequest{
		UserID:  event.UserID,
		OwnerID: event.OwnerID,
		PlanID:  event.PlanID,
	}, event.Confirmation())
	if err != nil {
		// Keep the claim when the store already holds this reference.
		if !errors.Is(err, ErrDuplicatePayment) {
			if rerr := l.dedup.Release(ctx, key); rerr != nil {
				l.log.ErrorContext(ctx, "failed to release payment claim",
					slog.String("reference", event.Reference),
					logger.Error(rerr))
			}
		}
		return nil, err
	}
	return sub, nil
}

func (l *Ledger) purchasablePlan(ctx context.Context, planID string) (Plan, error) {
	plan, err := l.catalog.GetByID(ctx, planID)
	if err != nil {
		return Plan{}, err
	}
	if !plan.IsActive {
		return Plan{}, ErrPlanInactive
	}
	return plan, nil
}

func (l *Ledger) publish(ctx context.Context, typ EventType, sub *Subscription, at time.Time) {
	if len(l.publishers) == 0 {
		return
	}
	event := Event{
		Type:             typ,
		SubscriptionID:   sub.ID,
		UserID:           sub.UserID,
		PlanID:           sub.PlanID,
		CreditsRemaining: sub.CreditsRemaining,
		OccurredAt:       at,
	}
	for _, p := range l.publishers {
		if err := p.Publish(ctx, event); err != nil {
			l.log.ErrorContext(ctx, "failed to publish ledger event",
				slog.String("event", string(typ)),
				logger.SubscriptionID(sub.ID),
				logger.Error(err))
		}
	}
}
