// Package store defines the composite Store interface for all herald
// persistence.
//
// Each subsystem defines its own store interface and the aggregate Store
// composes them.
package store

import (
	"context"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/endpoint"
)

// Store is the aggregate persistence interface.
type Store interface {
	endpoint.Store
	delivery.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
