package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/herald"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
)

// endpointModel is the JSON representation stored in Redis. Counters live
// in a separate hash so HINCRBY never races a configuration write.
type endpointModel struct {
	ID                string            `json:"id"`
	TenantID          string            `json:"tenant_id"`
	Name              string            `json:"name"`
	URL               string            `json:"url"`
	Secret            string            `json:"secret"`
	EventTypes        []string          `json:"event_types"`
	Active            bool              `json:"active"`
	MaxRetries        int               `json:"max_retries"`
	BaseDelayMs       int64             `json:"base_delay_ms"`
	BackoffMultiplier float64           `json:"backoff_multiplier"`
	TimeoutMs         int64             `json:"timeout_ms"`
	Headers           []endpoint.Header `json:"headers"`
	DeletedAt         *time.Time        `json:"deleted_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func toEndpointModel(ep *endpoint.Endpoint) *endpointModel {
	return &endpointModel{
		ID:                ep.ID.String(),
		TenantID:          ep.TenantID,
		Name:              ep.Name,
		URL:               ep.URL,
		Secret:            ep.Secret,
		EventTypes:        ep.EventTypes,
		Active:            ep.Active,
		MaxRetries:        ep.RetryPolicy.MaxRetries,
		BaseDelayMs:       ep.RetryPolicy.BaseDelay.Milliseconds(),
		BackoffMultiplier: ep.RetryPolicy.BackoffMultiplier,
		TimeoutMs:         ep.Timeout.Milliseconds(),
		Headers:           ep.Headers,
		DeletedAt:         ep.DeletedAt,
		CreatedAt:         ep.CreatedAt,
		UpdatedAt:         ep.UpdatedAt,
	}
}

func fromEndpointModel(m *endpointModel, counters map[string]string) (*endpoint.Endpoint, error) {
	epID, err := id.ParseEndpointID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint ID %q: %w", m.ID, err)
	}
	success, _ := strconv.ParseInt(counters["success"], 10, 64) //nolint:errcheck // absent is zero
	failure, _ := strconv.ParseInt(counters["failure"], 10, 64) //nolint:errcheck // absent is zero

	return &endpoint.Endpoint{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:         epID,
		TenantID:   m.TenantID,
		Name:       m.Name,
		URL:        m.URL,
		Secret:     m.Secret,
		EventTypes: m.EventTypes,
		Active:     m.Active,
		RetryPolicy: endpoint.RetryPolicy{
			MaxRetries:        m.MaxRetries,
			BaseDelay:         time.Duration(m.BaseDelayMs) * time.Millisecond,
			BackoffMultiplier: m.BackoffMultiplier,
		},
		Timeout:      time.Duration(m.TimeoutMs) * time.Millisecond,
		Headers:      m.Headers,
		SuccessCount: success,
		FailureCount: failure,
		LastError:    counters["last_error"],
		DeletedAt:    m.DeletedAt,
	}, nil
}

func (s *Store) CreateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	m := toEndpointModel(ep)
	key := entityKey(prefixEndpoint, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("herald/redis: create endpoint: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zEndpointTenant+m.TenantID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	pipe.HSet(ctx, entityKey(prefixCounters, m.ID), "success", ep.SuccessCount, "failure", ep.FailureCount, "last_error", ep.LastError)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: create endpoint indexes: %w", err)
	}
	return nil
}

func (s *Store) GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	return s.loadEndpoint(ctx, epID.String())
}

// UpdateEndpoint rewrites the configuration JSON. Counters are untouched.
func (s *Store) UpdateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	key := entityKey(prefixEndpoint, ep.ID.String())

	// Verify existence.
	var existing endpointModel
	if err := s.getEntity(ctx, key, &existing); err != nil {
		if isNotFound(err) {
			return herald.ErrEndpointNotFound
		}
		return fmt.Errorf("herald/redis: update endpoint get: %w", err)
	}

	m := toEndpointModel(ep)
	m.CreatedAt = existing.CreatedAt
	m.UpdatedAt = now()

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("herald/redis: update endpoint: %w", err)
	}
	return nil
}

func (s *Store) DeleteEndpoint(ctx context.Context, epID id.ID) error {
	key := entityKey(prefixEndpoint, epID.String())

	var m endpointModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return herald.ErrEndpointNotFound
		}
		return fmt.Errorf("herald/redis: delete endpoint get: %w", err)
	}

	if err := s.deleteEntity(ctx, key); err != nil {
		return fmt.Errorf("herald/redis: delete endpoint: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZRem(ctx, zEndpointTenant+m.TenantID, m.ID)
	pipe.Del(ctx, entityKey(prefixCounters, m.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: delete endpoint indexes: %w", err)
	}
	return nil
}

func (s *Store) ListEndpoints(ctx context.Context, tenantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	eps, err := s.tenantEndpoints(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list endpoints: %w", err)
	}

	result := make([]*endpoint.Endpoint, 0, len(eps))
	for _, ep := range eps {
		if opts.Match(ep) {
			result = append(result, ep)
		}
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) Resolve(ctx context.Context, tenantID, eventType string) ([]*endpoint.Endpoint, error) {
	eps, err := s.tenantEndpoints(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("herald/redis: resolve: %w", err)
	}

	var result []*endpoint.Endpoint
	for _, ep := range eps {
		if ep.Deliverable() && ep.Subscribed(eventType) {
			result = append(result, ep)
		}
	}
	return result, nil
}

// IncrementCounters bumps the counter hash with HINCRBY.
func (s *Store) IncrementCounters(ctx context.Context, epID id.ID, success bool, lastError string) error {
	n, err := s.rdb.Exists(ctx, entityKey(prefixEndpoint, epID.String())).Result()
	if err != nil {
		return fmt.Errorf("herald/redis: increment counters: %w", err)
	}
	if n == 0 {
		return herald.ErrEndpointNotFound
	}

	key := entityKey(prefixCounters, epID.String())
	pipe := s.rdb.TxPipeline()
	if success {
		pipe.HIncrBy(ctx, key, "success", 1)
	} else {
		pipe.HIncrBy(ctx, key, "failure", 1)
		pipe.HSet(ctx, key, "last_error", lastError)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: increment counters: %w", err)
	}
	return nil
}

// tenantEndpoints loads a tenant's endpoints in creation order.
func (s *Store) tenantEndpoints(ctx context.Context, tenantID string) ([]*endpoint.Endpoint, error) {
	ids, err := s.rdb.ZRange(ctx, zEndpointTenant+tenantID, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*endpoint.Endpoint, 0, len(ids))
	for _, entryID := range ids {
		ep, err := s.loadEndpoint(ctx, entryID)
		if err != nil {
			if errors.Is(err, herald.ErrEndpointNotFound) {
				continue
			}
			return nil, err
		}
		result = append(result, ep)
	}
	return result, nil
}

func (s *Store) loadEndpoint(ctx context.Context, epID string) (*endpoint.Endpoint, error) {
	var m endpointModel
	if err := s.getEntity(ctx, entityKey(prefixEndpoint, epID), &m); err != nil {
		if isNotFound(err) {
			return nil, herald.ErrEndpointNotFound
		}
		return nil, fmt.Errorf("herald/redis: get endpoint: %w", err)
	}

	counters, err := s.rdb.HGetAll(ctx, entityKey(prefixCounters, epID)).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: get endpoint counters: %w", err)
	}
	return fromEndpointModel(&m, counters)
}
