package pgstore_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawtrail/walkledger/migrations"
	"github.com/pawtrail/walkledger/pkg/ledger"
	"github.com/pawtrail/walkledger/pkg/ledger/pgstore"
	"github.com/pawtrail/walkledger/pkg/pg"
)

// connect returns a migrated pool, or skips when PGSTORE_TEST_URL is unset.
func connect(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("PGSTORE_TEST_URL")
	if url == "" {
		t.Skip("PGSTORE_TEST_URL not set")
	}

	ctx := context.Background()
	cfg := pg.Config{
		ConnectionString: url,
		MaxOpenConns:     10,
		MaxIdleConns:     1,
		RetryAttempts:    1,
		RetryInterval:    time.Second,
		MigrationsTable:  "schema_migrations",
	}
	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pg.Migrate(ctx, pool, migrations.FS, cfg, slog.New(slog.DiscardHandler)))
	return pool
}

func newSubscription(credits int, end time.Time) *ledger.Subscription {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &ledger.Subscription{
		ID:               uuid.NewString(),
		PlanID:           "plan-5",
		UserID:           "user-" + uuid.NewString(),
		OwnerID:          "owner-1",
		Status:           ledger.StatusActive,
		PurchaseDate:     now,
		EndDate:          end.UTC().Truncate(time.Microsecond),
		TotalCredits:     credits,
		CreditsRemaining: credits,
		PurchaseAmount:   5000,
		Currency:         "GBP",
		PaymentReference: "ref_" + uuid.NewString(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestStore(t *testing.T) {
	pool := connect(t)
	store := pgstore.New(pool)
	ctx := context.Background()

	t.Run("insert and get", func(t *testing.T) {
		sub := newSubscription(5, time.Now().Add(24*time.Hour))
		require.NoError(t, store.Insert(ctx, sub))

		got, err := store.GetByID(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, sub.CreditsRemaining, got.CreditsRemaining)
		assert.Equal(t, ledger.StatusActive, got.Status)
		assert.True(t, sub.EndDate.Equal(got.EndDate))
	})

	t.Run("duplicate payment reference", func(t *testing.T) {
		sub := newSubscription(5, time.Now().Add(24*time.Hour))
		require.NoError(t, store.Insert(ctx, sub))

		dup := newSubscription(5, time.Now().Add(24*time.Hour))
		dup.PaymentReference = sub.PaymentReference
		assert.ErrorIs(t, store.Insert(ctx, dup), ledger.ErrDuplicatePayment)
	})

	t.Run("missing subscription", func(t *testing.T) {
		_, err := store.GetByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ledger.ErrSubscriptionNotFound)
	})

	t.Run("concurrent debits never overdraw", func(t *testing.T) {
		sub := newSubscription(3, time.Now().Add(24*time.Hour))
		require.NoError(t, store.Insert(ctx, sub))

		now := time.Now().UTC()
		cond := ledger.Condition{Status: ledger.StatusActive, EndsAfter: now, MinCredits: 1}

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			success int
		)
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.UpdateConditional(ctx, sub.ID, cond, ledger.Mutation{DebitCredits: 1, UpdatedAt: now})
				if err == nil {
					mu.Lock()
					success++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 3, success)
		got, err := store.GetByID(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.CreditsRemaining)
	})

	t.Run("condition failure returns current row", func(t *testing.T) {
		sub := newSubscription(1, time.Now().Add(-time.Hour))
		require.NoError(t, store.Insert(ctx, sub))

		current, err := store.UpdateConditional(ctx, sub.ID,
			ledger.Condition{Status: ledger.StatusActive, EndsAfter: time.Now().UTC()},
			ledger.Mutation{DebitCredits: 1})
		assert.ErrorIs(t, err, ledger.ErrConditionFailed)
		require.NotNil(t, current)
		assert.Equal(t, 1, current.CreditsRemaining)
	})

	t.Run("expire due is idempotent", func(t *testing.T) {
		sub := newSubscription(2, time.Now().Add(-time.Minute))
		require.NoError(t, store.Insert(ctx, sub))

		now := time.Now().UTC()
		expired, err := store.ExpireDue(ctx, now)
		require.NoError(t, err)
		var got *ledger.Subscription
		for _, e := range expired {
			if e.ID == sub.ID {
				got = e
			}
		}
		require.NotNil(t, got)
		assert.Equal(t, ledger.StatusExpired, got.Status)
		assert.Equal(t, sub.UserID, got.UserID)
		assert.Equal(t, sub.PlanID, got.PlanID)
		assert.Equal(t, 2, got.CreditsRemaining)

		expired, err = store.ExpireDue(ctx, now)
		require.NoError(t, err)
		for _, e := range expired {
			assert.NotEqual(t, sub.ID, e.ID)
		}

		byUser, err := store.FindByUser(ctx, sub.UserID)
		require.NoError(t, err)
		require.Len(t, byUser, 1)
		assert.Equal(t, ledger.StatusExpired, byUser[0].Status)
	})
}

func TestPlanSource(t *testing.T) {
	pool := connect(t)
	src := pgstore.NewPlanSource(pool)
	ctx := context.Background()

	discount := 10
	plan := ledger.Plan{
		ID: "pg-plan-" + uuid.NewString(), Name: "Ten walks", WalkCredits: 10, WalkDuration: 60,
		Price: 9000, Currency: "GBP", ValidityPeriod: 90, IsActive: true, DiscountPercentage: &discount,
	}
	require.NoError(t, src.Upsert(ctx, plan))

	plans, err := src.Load(ctx)
	require.NoError(t, err)

	var found *ledger.Plan
	for i := range plans {
		if plans[i].ID == plan.ID {
			found = &plans[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, 10, found.WalkCredits)
	require.NotNil(t, found.DiscountPercentage)
	assert.Equal(t, 10, *found.DiscountPercentage)
}
