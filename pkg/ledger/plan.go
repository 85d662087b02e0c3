package ledger

import (
	"errors"
	"fmt"
	"time"
)

// Plan describes a purchasable bundle of walk credits.
// Subscriptions copy the terms they need at purchase time, so editing a plan
// never changes subscriptions that were already sold.
type Plan struct {
	ID                 string    `json:"id" yaml:"id"`
	Name               string    `json:"name" yaml:"name"`
	Description        string    `json:"description,omitempty" yaml:"description"`
	WalkCredits        int       `json:"walk_credits" yaml:"walk_credits"`
	WalkDuration       int       `json:"walk_duration" yaml:"walk_duration"` // minutes, informational
	Price              int64     `json:"price" yaml:"price"`                 // minor currency units (pence)
	Currency           string    `json:"currency" yaml:"currency"`
	ValidityPeriod     int       `json:"validity_period" yaml:"validity_period"` // days from activation
	IsActive           bool      `json:"is_active" yaml:"is_active"`
	DiscountPercentage *int      `json:"discount_percentage,omitempty" yaml:"discount_percentage"`
	PriceRef           string    `json:"-" yaml:"price_ref"` // gateway price ID (Paddle pri_xxx, Stripe price_xxx)
	CreatedAt          time.Time `json:"created_at,omitzero" yaml:"-"`
	UpdatedAt          time.Time `json:"updated_at,omitzero" yaml:"-"`
}

// EndsAt returns the expiry of a subscription to this plan activated at from.
func (p Plan) EndsAt(from time.Time) time.Time {
	return from.AddDate(0, 0, p.ValidityPeriod)
}

// IsFree reports whether the plan can be activated without a payment.
func (p Plan) IsFree() bool {
	return p.Price == 0
}

// Validate checks plan invariants.
func (p Plan) Validate() error {
	var errs []error
	if p.ID == "" {
		errs = append(errs, errors.New("plan ID is required"))
	}
	if p.WalkCredits <= 0 {
		errs = append(errs, fmt.Errorf("plan %s: walk credits must be positive, got %d", p.ID, p.WalkCredits))
	}
	if p.WalkDuration <= 0 {
		errs = append(errs, fmt.Errorf("plan %s: walk duration must be positive, got %d", p.ID, p.WalkDuration))
	}
	if p.Price < 0 {
		errs = append(errs, fmt.Errorf("plan %s: price must not be negative, got %d", p.ID, p.Price))
	}
	if p.ValidityPeriod <= 0 {
		errs = append(errs, fmt.Errorf("plan %s: validity period must be positive, got %d", p.ID, p.ValidityPeriod))
	}
	if d := p.DiscountPercentage; d != nil && (*d < 0 || *d > 100) {
		errs = append(errs, fmt.Errorf("plan %s: discount must be within [0,100], got %d", p.ID, *d))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidPlanConfiguration}, errs...)...)
	}
	return nil
}
