package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
)

// --- Endpoint models ---

type endpointModel struct {
	grove.BaseModel `grove:"table:herald_endpoints"`

	ID                string          `grove:"id,pk"`
	TenantID          string          `grove:"tenant_id"`
	Name              string          `grove:"name"`
	URL               string          `grove:"url"`
	Secret            string          `grove:"secret"`
	EventTypes        []string        `grove:"event_types,array"`
	Active            bool            `grove:"active"`
	MaxRetries        int             `grove:"max_retries"`
	BaseDelayMs       int64           `grove:"base_delay_ms"`
	BackoffMultiplier float64         `grove:"backoff_multiplier"`
	TimeoutMs         int64           `grove:"timeout_ms"`
	Headers           json.RawMessage `grove:"headers,type:jsonb"`
	SuccessCount      int64           `grove:"success_count"`
	FailureCount      int64           `grove:"failure_count"`
	LastError         string          `grove:"last_error"`
	DeletedAt         *time.Time      `grove:"deleted_at"`
	CreatedAt         time.Time       `grove:"created_at"`
	UpdatedAt         time.Time       `grove:"updated_at"`
}

func toEndpointModel(ep *endpoint.Endpoint) (*endpointModel, error) {
	headers, err := json.Marshal(nonNilHeaders(ep.Headers))
	if err != nil {
		return nil, fmt.Errorf("encode headers: %w", err)
	}
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
		Headers:           headers,
		SuccessCount:      ep.SuccessCount,
		FailureCount:      ep.FailureCount,
		LastError:         ep.LastError,
		DeletedAt:         ep.DeletedAt,
		CreatedAt:         ep.CreatedAt,
		UpdatedAt:         ep.UpdatedAt,
	}, nil
}

func fromEndpointModel(m *endpointModel) (*endpoint.Endpoint, error) {
	epID, err := id.ParseEndpointID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint ID %q: %w", m.ID, err)
	}
	var headers []endpoint.Header
	if len(m.Headers) > 0 {
		if err := json.Unmarshal(m.Headers, &headers); err != nil {
			return nil, fmt.Errorf("decode headers for %s: %w", m.ID, err)
		}
	}
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
		Headers:      headers,
		SuccessCount: m.SuccessCount,
		FailureCount: m.FailureCount,
		LastError:    m.LastError,
		DeletedAt:    m.DeletedAt,
	}, nil
}

func nonNilHeaders(h []endpoint.Header) []endpoint.Header {
	if h == nil {
		return []endpoint.Header{}
	}
	return h
}

// --- Delivery models ---

// deliveryModel keeps the payload as TEXT: the signature covers its exact
// bytes, which jsonb would normalize.
type deliveryModel struct {
	grove.BaseModel `grove:"table:herald_deliveries"`

	ID          string          `grove:"id,pk"`
	TenantID    string          `grove:"tenant_id"`
	EndpointID  string          `grove:"endpoint_id"`
	EventType   string          `grove:"event_type"`
	EventID     string          `grove:"event_id,unique"`
	Payload     string          `grove:"payload"`
	Signature   string          `grove:"signature"`
	Status      string          `grove:"status"`
	Attempts    json.RawMessage `grove:"attempts,type:jsonb"`
	NextRetryAt *time.Time      `grove:"next_retry_at"`
	DeliveredAt *time.Time      `grove:"delivered_at"`
	ClaimToken  string          `grove:"claim_token"`
	LeaseUntil  *time.Time      `grove:"lease_until"`
	CreatedAt   time.Time       `grove:"created_at"`
	UpdatedAt   time.Time       `grove:"updated_at"`
}

func toDeliveryModel(r *delivery.Record) (*deliveryModel, error) {
	attempts, err := encodeAttempts(r.Attempts)
	if err != nil {
		return nil, err
	}
	return &deliveryModel{
		ID:          r.ID.String(),
		TenantID:    r.TenantID,
		EndpointID:  r.EndpointID.String(),
		EventType:   r.EventType,
		EventID:     r.EventID.String(),
		Payload:     string(r.Payload),
		Signature:   r.Signature,
		Status:      string(r.Status),
		Attempts:    attempts,
		NextRetryAt: r.NextRetryAt,
		DeliveredAt: r.DeliveredAt,
		ClaimToken:  r.ClaimToken,
		LeaseUntil:  r.LeaseUntil,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

func fromDeliveryModel(m *deliveryModel) (*delivery.Record, error) {
	recID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.ID, err)
	}
	epID, err := id.ParseEndpointID(m.EndpointID)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint ID %q: %w", m.EndpointID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	attempts := []delivery.Attempt{}
	if len(m.Attempts) > 0 {
		if err := json.Unmarshal(m.Attempts, &attempts); err != nil {
			return nil, fmt.Errorf("decode attempts for %s: %w", m.ID, err)
		}
	}
	return &delivery.Record{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          recID,
		TenantID:    m.TenantID,
		EndpointID:  epID,
		EventType:   m.EventType,
		EventID:     evtID,
		Payload:     json.RawMessage(m.Payload),
		Signature:   m.Signature,
		Status:      delivery.Status(m.Status),
		Attempts:    attempts,
		NextRetryAt: m.NextRetryAt,
		DeliveredAt: m.DeliveredAt,
		ClaimToken:  m.ClaimToken,
		LeaseUntil:  m.LeaseUntil,
	}, nil
}

func fromDeliveryModels(models []deliveryModel) ([]*delivery.Record, error) {
	result := make([]*delivery.Record, len(models))
	for i := range models {
		r, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

func encodeAttempts(attempts []delivery.Attempt) (json.RawMessage, error) {
	if attempts == nil {
		attempts = []delivery.Attempt{}
	}
	b, err := json.Marshal(attempts)
	if err != nil {
		return nil, fmt.Errorf("encode attempts: %w", err)
	}
	return b, nil
}

// statusCount and eventTypeCount receive GROUP BY rows.
type statusCount struct {
	Status string `grove:"status"`
	Count  int64  `grove:"count"`
}

type eventTypeCount struct {
	EventType string `grove:"event_type"`
	Count     int64  `grove:"count"`
}
