package ledger

import (
	"fmt"
	"net/url"
	"strings"
)

// PurchaseRequest is the validated input of a plan purchase.
type PurchaseRequest struct {
	UserID  string `json:"user_id"`
	OwnerID string `json:"owner_id"`
	PlanID  string `json:"plan_id"`
}

// Validate checks required fields once at the boundary.
func (r PurchaseRequest) Validate() error {
	verr := NewValidationError()
	if strings.TrimSpace(r.UserID) == "" {
		verr.Add("user_id", "is required")
	}
	if strings.TrimSpace(r.OwnerID) == "" {
		verr.Add("owner_id", "is required")
	}
	if strings.TrimSpace(r.PlanID) == "" {
		verr.Add("plan_id", "is required")
	}
	if verr.IsEmpty() {
		return nil
	}
	return verr
}

// ValidationError maps field names to messages.
type ValidationError url.Values

func NewValidationError() ValidationError {
	return make(ValidationError)
}

func (e ValidationError) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e))
	for field, messages := range e {
		if len(messages) > 0 {
			parts = append(parts, fmt.Sprintf("%s %s", field, messages[0]))
		}
	}
	return "validation error: " + strings.Join(parts, ", ")
}

func (e ValidationError) Add(field, message string) {
	url.Values(e).Add(field, message)
}

func (e ValidationError) Get(field string) string {
	return url.Values(e).Get(field)
}

func (e ValidationError) Has(field string) bool {
	return len(e[field]) > 0
}

func (e ValidationError) IsEmpty() bool {
	return len(e) == 0
}
