// Package pgstore implements ledger.Store and ledger.PlanSource on PostgreSQL.
//
// Conditional updates compile to a single UPDATE ... WHERE ... RETURNING
// statement, so the row lock taken by PostgreSQL serializes concurrent debits
// and cancellations across every service instance sharing the database.
package pgstore
