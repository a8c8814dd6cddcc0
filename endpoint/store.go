package endpoint

import (
	"context"
	"errors"

	"github.com/xraph/herald/id"
)

// ErrNotFound is returned when an endpoint does not exist or is not visible
// to the calling tenant.
var ErrNotFound = errors.New("herald: endpoint not found")

// Store defines the persistence contract for webhook endpoints.
type Store interface {
	// CreateEndpoint persists a new endpoint.
	CreateEndpoint(ctx context.Context, ep *Endpoint) error

	// GetEndpoint returns an endpoint by ID, including soft-deleted ones.
	GetEndpoint(ctx context.Context, epID id.ID) (*Endpoint, error)

	// UpdateEndpoint writes the configuration fields of ep (name, url,
	// secret, event types, active, retry policy, timeout, headers,
	// deleted_at). Counters are never overwritten.
	UpdateEndpoint(ctx context.Context, ep *Endpoint) error

	// DeleteEndpoint removes an endpoint permanently.
	DeleteEndpoint(ctx context.Context, epID id.ID) error

	// ListEndpoints returns endpoints for a tenant in creation order.
	ListEndpoints(ctx context.Context, tenantID string, opts ListOpts) ([]*Endpoint, error)

	// Resolve returns the tenant's active, non-deleted endpoints subscribed
	// to eventType. This is the fan-out hot path.
	Resolve(ctx context.Context, tenantID, eventType string) ([]*Endpoint, error)

	// IncrementCounters atomically bumps SuccessCount or FailureCount.
	// On failure lastError is recorded as LastError.
	IncrementCounters(ctx context.Context, epID id.ID, success bool, lastError string) error
}
