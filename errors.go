package herald

import (
	"errors"

	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/endpoint"
)

// Sentinel errors returned by herald operations. Domain packages own the
// values; they are re-exported here so callers and stores need one import.
var (
	// ErrNoStore is returned when a Herald is created without a store.
	ErrNoStore = errors.New("herald: store is required")

	// ErrStoreClosed is returned when a store operation is attempted after
	// the store is closed.
	ErrStoreClosed = errors.New("herald: store is closed")

	// ErrTenantRequired is returned when a tenant-scoped call has no tenant.
	ErrTenantRequired = errors.New("herald: tenant id is required")

	// ErrEndpointNotFound is returned when an endpoint does not exist or
	// belongs to another tenant.
	ErrEndpointNotFound = endpoint.ErrNotFound

	// ErrEventTypeNotFound is returned when an event type is not in the catalog.
	ErrEventTypeNotFound = catalog.ErrNotFound

	// ErrPayloadValidationFailed is returned when event data fails its
	// event type's JSON Schema.
	ErrPayloadValidationFailed = catalog.ErrInvalidData

	// ErrDeliveryNotFound is returned when a delivery record cannot be found.
	ErrDeliveryNotFound = delivery.ErrNotFound

	// ErrDuplicateDelivery is returned when a record's event ID already exists.
	ErrDuplicateDelivery = delivery.ErrDuplicate

	// ErrClaimConflict is returned when a record is terminal or already claimed.
	ErrClaimConflict = delivery.ErrClaimConflict

	// ErrClaimLost is returned when an attempt outcome is saved under a
	// stale claim.
	ErrClaimLost = delivery.ErrClaimLost
)
