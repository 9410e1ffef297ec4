package store

import (
	"context"

	"github.com/hyunkyoun/moira/job"
)

// Store is what the orchestrator needs from a backend: the job record
// operations plus schema setup and connection lifecycle.
type Store interface {
	job.Store

	// Migrate creates or upgrades the schema. It is safe to call on
	// every start.
	Migrate(ctx context.Context) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases connections the store opened itself.
	Close() error
}
