// Package ledger manages prepaid walk subscriptions: a customer buys a plan,
// receives a fixed number of walk credits valid for a number of days, and
// each completed walk debits one credit.
//
// # Architecture
//
//   - Catalog: validated, cached view of the plans loaded from a PlanSource
//   - Ledger: purchase, debit, cancel, expiry and webhook handling
//   - Store: persistence with an atomic conditional update
//   - PaymentGateway: Paddle, Stripe or ManualGateway
//   - Deduplicator: claims payment references so webhook redeliveries are no-ops
//   - EventPublisher: receives every state change
//
// # Lifecycle
//
// A subscription starts active with all credits. Debiting the last credit
// leaves it active with a zero balance. Cancel ends it immediately and
// forfeits the remaining credits. Once the end date passes it is reported as
// expired by every read, whether or not ExpireSweep has persisted that yet.
// Cancelled and expired are terminal.
//
// A subscription is usable when it is active, its end date is in the future
// and it has at least one credit. IsUsable is the single predicate for this;
// DebitCredit evaluates the same condition inside the store's conditional
// update, so two concurrent debits of the last credit can never both succeed.
//
// # Quick Start
//
//	catalog, err := ledger.NewCatalog(ctx, ledger.NewYAMLSource("plans.yaml"))
//	if err != nil {
//		return err
//	}
//	l := ledger.New(catalog, pgstore.New(pool), gateway,
//		ledger.WithLogger(log),
//		ledger.WithDeduplicator(idempotency.NewRedisDeduplicator(rdb)),
//	)
//
//	res, err := l.Checkout(ctx, ledger.PurchaseRequest{
//		UserID:  "user-1",
//		OwnerID: "owner-1",
//		PlanID:  "bundle-5",
//	}, ledger.CheckoutOptions{Email: "owner@example.com"})
//	if res.Pending() {
//		// redirect to res.CheckoutURL; the payment webhook activates the subscription
//	}
//
//	sub, err := l.DebitCredit(ctx, subscriptionID)
//	switch {
//	case errors.Is(err, ledger.ErrNoCreditsRemaining):
//	case errors.Is(err, ledger.ErrSubscriptionExpired):
//	}
//
// # Errors
//
// Business rule violations are sentinel errors (see IsDomainError); input
// problems are ValidationError. Store implementations wrap infrastructure
// failures with ErrStoreUnavailable.
package ledger
