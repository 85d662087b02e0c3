// Package pg connects to PostgreSQL through a pgx pool and applies goose
// migrations.
//
// Connect retries until the database answers a ping. Migrate bridges the pool
// to database/sql for goose and routes goose output through the application
// logger. Error helpers classify pgx errors so storage code can translate them
// into domain errors.
package pg
