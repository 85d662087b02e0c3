package ledger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// PlanSource defines how plans are loaded into the catalog.
type PlanSource interface {
	Load(ctx context.Context) ([]Plan, error)
}

// Catalog is a read-only, validated view of the plan definitions.
// Plans are cached in memory after loading; call Reload to pick up edits.
type Catalog struct {
	src PlanSource

	mu    sync.RWMutex
	plans map[string]Plan
}

// NewCatalog loads and validates plans from src.
// Panics if src is nil to fail fast during initialization.
func NewCatalog(ctx context.Context, src PlanSource) (*Catalog, error) {
	if src == nil {
		panic("ledger: PlanSource is required")
	}
	c := &Catalog{src: src}
	if err := c.Reload(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload replaces the cached plans with a fresh copy from the source.
// The previous plans stay in place if loading or validation fails.
func (c *Catalog) Reload(ctx context.Context) error {
	plans, err := c.src.Load(ctx)
	if err != nil {
		return errors.Join(ErrFailedToLoadPlans, err)
	}

	indexed := make(map[string]Plan, len(plans))
	for _, p := range plans {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := indexed[p.ID]; dup {
			return errors.Join(ErrInvalidPlanConfiguration, fmt.Errorf("duplicate plan ID %s", p.ID))
		}
		if p.Currency == "" {
			p.Currency = DefaultCurrency
		}
		indexed[p.ID] = p
	}

	c.mu.Lock()
	c.plans = indexed
	c.mu.Unlock()
	return nil
}

// ListActive returns purchasable plans ordered by price, then ID.
func (c *Catalog) ListActive(ctx context.Context) ([]Plan, error) {
	return c.list(func(p Plan) bool { return p.IsActive }), nil
}

// List returns every plan, including inactive ones, ordered by price, then ID.
func (c *Catalog) List(ctx context.Context) ([]Plan, error) {
	return c.list(func(Plan) bool { return true }), nil
}

// GetByID returns ErrPlanNotFound for unknown IDs.
func (c *Catalog) GetByID(ctx context.Context, id string) (Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.plans[id]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return p, nil
}

func (c *Catalog) list(keep func(Plan) bool) []Plan {
	c.mu.RLock()
	result := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		if keep(p) {
			result = append(result, p)
		}
	}
	c.mu.RUnlock()

	slices.SortFunc(result, func(a, b Plan) int {
		return cmp.Or(cmp.Compare(a.Price, b.Price), cmp.Compare(a.ID, b.ID))
	})
	return result
}
