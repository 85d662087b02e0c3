package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pawtrail/walkledger/pkg/ledger"
	"github.com/pawtrail/walkledger/pkg/pg"
)

const paymentReferenceKey = "subscriptions_payment_reference_key"

// ErrUnknownStatus is returned for rows whose status column holds a value
// the ledger doesn't know.
var ErrUnknownStatus = errors.New("pgstore: unknown subscription status")

// Store is a PostgreSQL-backed ledger.Store.
type Store struct {
	db DB
}

var _ ledger.Store = (*Store)(nil)

// New returns a Store over db. Panics if db is nil.
func New(db DB) *Store {
	if db == nil {
		panic("pgstore: DB is required")
	}
	return &Store{db: db}
}

func (s *Store) Insert(ctx context.Context, sub *ledger.Subscription) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		sub.ID, sub.PlanID, sub.UserID, sub.OwnerID, string(sub.Status),
		sub.PurchaseDate, sub.EndDate, sub.TotalCredits, sub.CreditsRemaining,
		sub.PurchaseAmount, sub.Currency, sub.PaymentReference,
		sub.CreatedAt, sub.UpdatedAt,
	)
	switch {
	case err == nil:
		return nil
	case pg.IsDuplicateKeyOn(err, paymentReferenceKey):
		return ledger.ErrDuplicatePayment
	default:
		return unavailable(err)
	}
}

func (s *Store) GetByID(ctx context.Context, id string) (*ledger.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
	if pg.IsNotFoundError(err) {
		return nil, ledger.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return sub, nil
}

// UpdateConditional runs a single guarded UPDATE. When no row matches it
// reads the row back to tell a missing subscription from a failed condition.
func (s *Store) UpdateConditional(ctx context.Context, id string, cond ledger.Condition, mutation ledger.Mutation) (*ledger.Subscription, error) {
	query, args := conditionalUpdate(id, cond, mutation)

	sub, err := scanSubscription(s.db.QueryRow(ctx, query, args...))
	if err == nil {
		return sub, nil
	}
	if !pg.IsNotFoundError(err) {
		return nil, unavailable(err)
	}

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return current, ledger.ErrConditionFailed
}

func (s *Store) FindByUser(ctx context.Context, userID string) ([]*ledger.Subscription, error) {
	return s.list(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID)
}

func (s *Store) FindByStatus(ctx context.Context, status ledger.SubscriptionStatus) ([]*ledger.Subscription, error) {
	return s.list(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE status = $1`, string(status))
}

func (s *Store) ExpireDue(ctx context.Context, now time.Time) ([]*ledger.Subscription, error) {
	return s.list(ctx, `
		UPDATE subscriptions
		SET status = 'expired', updated_at = $1
		WHERE status = 'active' AND end_date <= $1
		RETURNING `+subscriptionColumns, now)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]*ledger.Subscription, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	subs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*ledger.Subscription, error) {
		return scanSubscription(row)
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return subs, nil
}

func scanSubscription(row pgx.Row) (*ledger.Subscription, error) {
	var (
		sub    ledger.Subscription
		status string
	)
	err := row.Scan(
		&sub.ID, &sub.PlanID, &sub.UserID, &sub.OwnerID, &status,
		&sub.PurchaseDate, &sub.EndDate, &sub.TotalCredits, &sub.CreditsRemaining,
		&sub.PurchaseAmount, &sub.Currency, &sub.PaymentReference,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Status = ledger.SubscriptionStatus(status)
	if !sub.Status.Valid() {
		return nil, fmt.Errorf("%w: %q on subscription %s", ErrUnknownStatus, status, sub.ID)
	}
	return &sub, nil
}

func unavailable(err error) error {
	return errors.Join(ledger.ErrStoreUnavailable, err)
}
