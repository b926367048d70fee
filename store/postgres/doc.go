// Package postgres implements store.Store using pgx/v5 with raw SQL.
// Claims use FOR UPDATE SKIP LOCKED so concurrent workers never block on
// each other; other transitions lock the row, apply the shared transition
// from package job and write it back in the same transaction. The schema
// ships as embedded SQL migrations.
package postgres
