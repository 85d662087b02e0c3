package pgstore

import (
	"fmt"
	"strings"

	"github.com/pawtrail/walkledger/pkg/ledger"
)

const subscriptionColumns = `id, plan_id, user_id, owner_id, status, purchase_date, end_date,
	total_credits, credits_remaining, purchase_amount, currency, payment_reference,
	created_at, updated_at`

// conditionalUpdate renders cond and mutation as one UPDATE statement.
// The id is always $1.
func conditionalUpdate(id string, cond ledger.Condition, mutation ledger.Mutation) (string, []any) {
	args := []any{id}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var set []string
	if mutation.DebitCredits != 0 {
		set = append(set, "credits_remaining = credits_remaining - "+arg(mutation.DebitCredits))
	}
	if mutation.SetStatus != "" {
		set = append(set, "status = "+arg(string(mutation.SetStatus)))
	}
	if mutation.SetEndDate != nil {
		set = append(set, "end_date = "+arg(*mutation.SetEndDate))
	}
	if !mutation.UpdatedAt.IsZero() {
		set = append(set, "updated_at = "+arg(mutation.UpdatedAt))
	}
	if len(set) == 0 {
		// Keep the statement valid; a no-op mutation still checks cond.
		set = append(set, "updated_at = updated_at")
	}

	where := []string{"id = $1"}
	if cond.Status != "" {
		where = append(where, "status = "+arg(string(cond.Status)))
	}
	if !cond.EndsAfter.IsZero() {
		where = append(where, "end_date > "+arg(cond.EndsAfter))
	}
	if cond.MinCredits > 0 {
		where = append(where, "credits_remaining >= "+arg(cond.MinCredits))
	}

	sql := "UPDATE subscriptions SET " + strings.Join(set, ", ") +
		" WHERE " + strings.Join(where, " AND ") +
		" RETURNING " + subscriptionColumns
	return sql, args
}
