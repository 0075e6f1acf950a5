// Package postgres implements the store using pgx/v5 with raw SQL.
// States are kept as JSONB documents next to indexed columns; conditional
// updates compare the version column. Migrations are embedded SQL files.
package postgres
