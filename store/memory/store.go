// Package memory provides an in-memory Store implementation for tests and
// single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/xraph/herald"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/id"
	heraldstore "github.com/xraph/herald/store"
)

// compile-time interface check.
var _ heraldstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store. Values are copied on
// the way in and out so callers never share state with the store.
type Store struct {
	mu sync.RWMutex

	endpoints map[string]*endpoint.Endpoint // keyed by ID string
	records   map[string]*delivery.Record   // keyed by ID string
	byEventID map[string]string             // event ID -> record ID

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		endpoints: make(map[string]*endpoint.Endpoint),
		records:   make(map[string]*delivery.Record),
		byEventID: make(map[string]string),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports ErrStoreClosed after Close.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return herald.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// endpoint.Store
// ──────────────────────────────────────────────────

// CreateEndpoint persists a new endpoint.
func (s *Store) CreateEndpoint(_ context.Context, ep *endpoint.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.endpoints[ep.ID.String()] = ep.Clone()
	return nil
}

// GetEndpoint returns an endpoint by ID, including soft-deleted ones.
func (s *Store) GetEndpoint(_ context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.endpoints[epID.String()]
	if !ok {
		return nil, herald.ErrEndpointNotFound
	}
	return ep.Clone(), nil
}

// UpdateEndpoint replaces the configuration fields, keeping counters.
func (s *Store) UpdateEndpoint(_ context.Context, ep *endpoint.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.endpoints[ep.ID.String()]
	if !ok {
		return herald.ErrEndpointNotFound
	}

	updated := ep.Clone()
	updated.CreatedAt = existing.CreatedAt
	updated.SuccessCount = existing.SuccessCount
	updated.FailureCount = existing.FailureCount
	updated.LastError = existing.LastError
	s.endpoints[ep.ID.String()] = updated
	return nil
}

// DeleteEndpoint removes an endpoint. Delivery records are kept.
func (s *Store) DeleteEndpoint(_ context.Context, epID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.endpoints[epID.String()]; !ok {
		return herald.ErrEndpointNotFound
	}
	delete(s.endpoints, epID.String())
	return nil
}

// ListEndpoints returns a tenant's endpoints in creation order.
func (s *Store) ListEndpoints(_ context.Context, tenantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*endpoint.Endpoint
	for _, ep := range s.endpoints {
		if ep.TenantID != tenantID || !opts.Match(ep) {
			continue
		}
		result = append(result, ep)
	}
	sortEndpoints(result)

	result = applyPagination(result, opts.Offset, opts.Limit)
	return cloneEndpoints(result), nil
}

// Resolve returns the tenant's deliverable endpoints subscribed to eventType.
func (s *Store) Resolve(_ context.Context, tenantID, eventType string) ([]*endpoint.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*endpoint.Endpoint
	for _, ep := range s.endpoints {
		if ep.TenantID == tenantID && ep.Deliverable() && ep.Subscribed(eventType) {
			result = append(result, ep)
		}
	}
	sortEndpoints(result)
	return cloneEndpoints(result), nil
}

// IncrementCounters bumps an endpoint's success or failure counter.
func (s *Store) IncrementCounters(_ context.Context, epID id.ID, success bool, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.endpoints[epID.String()]
	if !ok {
		return herald.ErrEndpointNotFound
	}
	if success {
		ep.SuccessCount++
	} else {
		ep.FailureCount++
		ep.LastError = lastError
	}
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func sortEndpoints(eps []*endpoint.Endpoint) {
	sort.Slice(eps, func(i, j int) bool {
		if !eps[i].CreatedAt.Equal(eps[j].CreatedAt) {
			return eps[i].CreatedAt.Before(eps[j].CreatedAt)
		}
		return eps[i].ID.String() < eps[j].ID.String()
	})
}

func cloneEndpoints(eps []*endpoint.Endpoint) []*endpoint.Endpoint {
	out := make([]*endpoint.Endpoint, len(eps))
	for i, ep := range eps {
		out[i] = ep.Clone()
	}
	return out
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 {
		if offset >= len(items) {
			return []*T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
