// Package postgres implements the job store using pgx/v5 with raw SQL.
// Structured job fields live in JSONB columns; the lifecycle columns
// (owner, state, step index, timestamps) are plain columns so listing and
// counting stay index-backed. Migrations are embedded SQL files.
package postgres
