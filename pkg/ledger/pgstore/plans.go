package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pawtrail/walkledger/pkg/ledger"
)

// PlanSource loads the plan catalog from the plans table.
type PlanSource struct {
	db DB
}

var _ ledger.PlanSource = (*PlanSource)(nil)

func NewPlanSource(db DB) *PlanSource {
	if db == nil {
		panic("pgstore: DB is required")
	}
	return &PlanSource{db: db}
}

func (s *PlanSource) Load(ctx context.Context) ([]ledger.Plan, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, description, walk_credits, walk_duration, price, currency,
			validity_period, is_active, discount_percentage, price_ref, created_at, updated_at
		FROM plans`)
	if err != nil {
		return nil, errors.Join(ledger.ErrFailedToLoadPlans, err)
	}
	plans, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.Plan, error) {
		var p ledger.Plan
		err := row.Scan(
			&p.ID, &p.Name, &p.Description, &p.WalkCredits, &p.WalkDuration, &p.Price, &p.Currency,
			&p.ValidityPeriod, &p.IsActive, &p.DiscountPercentage, &p.PriceRef, &p.CreatedAt, &p.UpdatedAt,
		)
		return p, err
	})
	if err != nil {
		return nil, errors.Join(ledger.ErrFailedToLoadPlans, err)
	}
	return plans, nil
}

// Upsert writes plans into the table, replacing rows with the same ID.
// Used to seed the database from a catalog file.
func (s *PlanSource) Upsert(ctx context.Context, plans ...ledger.Plan) error {
	for _, p := range plans {
		_, err := s.db.Exec(ctx, `
			INSERT INTO plans (id, name, description, walk_credits, walk_duration, price, currency,
				validity_period, is_active, discount_percentage, price_ref)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				description = EXCLUDED.description,
				walk_credits = EXCLUDED.walk_credits,
				walk_duration = EXCLUDED.walk_duration,
				price = EXCLUDED.price,
				currency = EXCLUDED.currency,
				validity_period = EXCLUDED.validity_period,
				is_active = EXCLUDED.is_active,
				discount_percentage = EXCLUDED.discount_percentage,
				price_ref = EXCLUDED.price_ref,
				updated_at = now()`,
			p.ID, p.Name, p.Description, p.WalkCredits, p.WalkDuration, p.Price, p.Currency,
			p.ValidityPeriod, p.IsActive, p.DiscountPercentage, p.PriceRef,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert plan %s: %w", p.ID, err)
		}
	}
	return nil
}
