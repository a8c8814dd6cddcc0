package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/herald"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/id"
)

// CreateEndpoint persists a new endpoint.
func (s *Store) CreateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	m := toEndpointModel(ep)

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: create endpoint: %w", err)
	}

	return nil
}

// GetEndpoint returns an endpoint by ID.
func (s *Store) GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	var m endpointModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": epID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, herald.ErrEndpointNotFound
		}

		return nil, fmt.Errorf("herald/mongo: get endpoint: %w", err)
	}

	return fromEndpointModel(&m)
}

// UpdateEndpoint sets the configuration fields of an endpoint. Counters are
// left to IncrementCounters.
func (s *Store) UpdateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	m := toEndpointModel(ep)

	res, err := s.mdb.NewUpdate((*endpointModel)(nil)).
		Filter(bson.M{"_id": m.ID}).
		Set("name", m.Name).
		Set("url", m.URL).
		Set("secret", m.Secret).
		Set("event_types", m.EventTypes).
		Set("active", m.Active).
		Set("max_retries", m.MaxRetries).
		Set("base_delay_ms", m.BaseDelayMs).
		Set("backoff_multiplier", m.BackoffMultiplier).
		Set("timeout_ms", m.TimeoutMs).
		Set("headers", m.Headers).
		Set("deleted_at", m.DeletedAt).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: update endpoint: %w", err)
	}

	if res.MatchedCount() == 0 {
		return herald.ErrEndpointNotFound
	}

	return nil
}

// DeleteEndpoint removes an endpoint.
func (s *Store) DeleteEndpoint(ctx context.Context, epID id.ID) error {
	res, err := s.mdb.NewDelete((*endpointModel)(nil)).
		Filter(bson.M{"_id": epID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: delete endpoint: %w", err)
	}

	if res.DeletedCount() == 0 {
		return herald.ErrEndpointNotFound
	}

	return nil
}

// ListEndpoints returns endpoints for a tenant in creation order.
func (s *Store) ListEndpoints(ctx context.Context, tenantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	var models []endpointModel

	filter := bson.M{"tenant_id": tenantID}
	if !opts.IncludeDeleted {
		filter["deleted_at"] = nil
	}
	if opts.Active != nil {
		filter["active"] = *opts.Active
	}
	if opts.EventType != "" {
		filter["event_types"] = opts.EventType
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: list endpoints: %w", err)
	}

	return fromEndpointModels(models)
}

// Resolve finds the tenant's deliverable endpoints subscribed to eventType.
// Matching a scalar against the event_types array tests membership.
func (s *Store) Resolve(ctx context.Context, tenantID, eventType string) ([]*endpoint.Endpoint, error) {
	var models []endpointModel

	if err := s.mdb.NewFind(&models).
		Filter(bson.M{
			"tenant_id":   tenantID,
			"active":      true,
			"deleted_at":  nil,
			"event_types": eventType,
		}).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: resolve: %w", err)
	}

	return fromEndpointModels(models)
}

// IncrementCounters bumps a counter with $inc.
func (s *Store) IncrementCounters(ctx context.Context, epID id.ID, success bool, lastError string) error {
	update := bson.M{"$inc": bson.M{"success_count": 1}}
	if !success {
		update = bson.M{
			"$inc": bson.M{"failure_count": 1},
			"$set": bson.M{"last_error": lastError},
		}
	}

	res, err := s.mdb.Collection(colEndpoints).UpdateOne(ctx, bson.M{"_id": epID.String()}, update)
	if err != nil {
		return fmt.Errorf("herald/mongo: increment counters: %w", err)
	}

	if res.MatchedCount == 0 {
		return herald.ErrEndpointNotFound
	}

	return nil
}

func fromEndpointModels(models []endpointModel) ([]*endpoint.Endpoint, error) {
	result := make([]*endpoint.Endpoint, 0, len(models))

	for i := range models {
		ep, err := fromEndpointModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, ep)
	}

	return result, nil
}
