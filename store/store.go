package store

import (
	"context"

	"github.com/alpex29/infinitic/dlq"
	"github.com/alpex29/infinitic/entity"
)

// Store is the aggregate persistence interface.
// A single backend (postgres, bun, sqlite, etc.) implements all of them.
type Store interface {
	entity.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
