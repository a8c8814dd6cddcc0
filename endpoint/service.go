// Package endpoint manages tenant-registered webhook targets.
package endpoint

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/signature"
)

// Defaults are applied to policy fields an Input leaves unset.
type Defaults struct {
	RetryPolicy RetryPolicy
	Timeout     time.Duration
}

// DefaultDefaults returns the built-in endpoint policy.
func DefaultDefaults() Defaults {
	return Defaults{
		RetryPolicy: RetryPolicy{
			MaxRetries:        3,
			BaseDelay:         time.Second,
			BackoffMultiplier: 2,
		},
		Timeout: 30 * time.Second,
	}
}

// Service provides endpoint management operations.
type Service struct {
	store    Store
	types    EventTypeChecker
	defaults Defaults
	logger   *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithEventTypes validates subscriptions against types.
func WithEventTypes(types EventTypeChecker) ServiceOption {
	return func(s *Service) { s.types = types }
}

// WithDefaults overrides the policy defaults.
func WithDefaults(d Defaults) ServiceOption {
	return func(s *Service) { s.defaults = d }
}

// NewService creates a new endpoint service.
func NewService(store Store, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Service{
		store:    store,
		defaults: DefaultDefaults(),
		logger:   logger,
	}
	for _, o := range opts {
		o(svc)
	}
	return svc
}

// Create registers a new endpoint for tenantID. The returned endpoint is the
// only value that ever carries the generated secret.
func (svc *Service) Create(ctx context.Context, tenantID string, in Input) (*Endpoint, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, &ValidationError{Field: "tenant_id", Message: "required"}
	}

	ep := &Endpoint{
		Entity:      entity.New(),
		ID:          id.NewEndpointID(),
		TenantID:    tenantID,
		Name:        in.Name,
		URL:         strings.TrimSpace(in.URL),
		Secret:      signature.GenerateSecret(),
		EventTypes:  normalizeEventTypes(in.EventTypes),
		Active:      true,
		RetryPolicy: svc.defaults.RetryPolicy,
		Timeout:     svc.defaults.Timeout,
		Headers:     in.Headers,
	}
	if in.Active != nil {
		ep.Active = *in.Active
	}
	if in.RetryPolicy != nil {
		ep.RetryPolicy = *in.RetryPolicy
	}
	if in.Timeout != 0 {
		ep.Timeout = in.Timeout
	}

	if err := Validate(ep, svc.types); err != nil {
		return nil, err
	}

	if err := svc.store.CreateEndpoint(ctx, ep); err != nil {
		return nil, err
	}

	svc.logger.InfoContext(ctx, "endpoint created",
		"endpoint_id", ep.ID, "tenant_id", tenantID, "event_types", ep.EventTypes)

	return ep.Clone(), nil
}

// Get returns a tenant's endpoint with its secret redacted.
func (svc *Service) Get(ctx context.Context, tenantID string, epID id.ID) (*Endpoint, error) {
	ep, err := svc.owned(ctx, tenantID, epID, false)
	if err != nil {
		return nil, err
	}
	return ep.Redacted(), nil
}

// Update merges patch into the endpoint and validates the result.
func (svc *Service) Update(ctx context.Context, tenantID string, epID id.ID, patch Patch) (*Endpoint, error) {
	ep, err := svc.owned(ctx, tenantID, epID, false)
	if err != nil {
		return nil, err
	}

	if patch.URL != nil {
		ep.URL = strings.TrimSpace(*patch.URL)
	}
	if patch.EventTypes != nil {
		ep.EventTypes = normalizeEventTypes(patch.EventTypes)
	}
	if patch.Active != nil {
		ep.Active = *patch.Active
	}
	if patch.RetryPolicy != nil {
		ep.RetryPolicy = *patch.RetryPolicy
	}
	if patch.Timeout != nil {
		ep.Timeout = *patch.Timeout
	}
	if patch.Headers != nil {
		ep.Headers = patch.Headers
	}

	if err := Validate(ep, svc.types); err != nil {
		return nil, err
	}

	ep.Touch()
	if err := svc.store.UpdateEndpoint(ctx, ep); err != nil {
		return nil, err
	}

	return ep.Redacted(), nil
}

// List returns a tenant's endpoints, redacted.
func (svc *Service) List(ctx context.Context, tenantID string, opts ListOpts) ([]*Endpoint, error) {
	eps, err := svc.store.ListEndpoints(ctx, tenantID, opts)
	if err != nil {
		return nil, err
	}
	out := make([]*Endpoint, len(eps))
	for i, ep := range eps {
		out[i] = ep.Redacted()
	}
	return out, nil
}

// Delete soft-deletes an endpoint: it stops receiving events and disappears
// from listings, while its delivery history is kept.
func (svc *Service) Delete(ctx context.Context, tenantID string, epID id.ID) error {
	ep, err := svc.owned(ctx, tenantID, epID, false)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	ep.Active = false
	ep.DeletedAt = &now
	ep.UpdatedAt = now
	if err := svc.store.UpdateEndpoint(ctx, ep); err != nil {
		return err
	}

	svc.logger.InfoContext(ctx, "endpoint deleted", "endpoint_id", epID, "tenant_id", tenantID)
	return nil
}

// Remove hard-deletes an endpoint, soft-deleted or not. Delivery records
// referencing it are kept.
func (svc *Service) Remove(ctx context.Context, tenantID string, epID id.ID) error {
	if _, err := svc.owned(ctx, tenantID, epID, true); err != nil {
		return err
	}
	if err := svc.store.DeleteEndpoint(ctx, epID); err != nil {
		return err
	}

	svc.logger.InfoContext(ctx, "endpoint removed", "endpoint_id", epID, "tenant_id", tenantID)
	return nil
}

// RotateSecret replaces the signing secret and returns the new value. Records
// already created keep the signature computed with the old secret.
func (svc *Service) RotateSecret(ctx context.Context, tenantID string, epID id.ID) (string, error) {
	ep, err := svc.owned(ctx, tenantID, epID, false)
	if err != nil {
		return "", err
	}

	ep.Secret = signature.GenerateSecret()
	ep.Touch()
	if err := svc.store.UpdateEndpoint(ctx, ep); err != nil {
		return "", err
	}

	return ep.Secret, nil
}

// owned loads an endpoint and hides it from other tenants.
func (svc *Service) owned(ctx context.Context, tenantID string, epID id.ID, includeDeleted bool) (*Endpoint, error) {
	ep, err := svc.store.GetEndpoint(ctx, epID)
	if err != nil {
		return nil, err
	}
	if ep.TenantID != tenantID {
		return nil, ErrNotFound
	}
	if ep.DeletedAt != nil && !includeDeleted {
		return nil, ErrNotFound
	}
	return ep, nil
}
