package mongo

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

type headerModel struct {
	Name  string `bson:"name"`
	Value string `bson:"value"`
}

type endpointModel struct {
	grove.BaseModel `grove:"table:herald_endpoints"`

	ID                string        `grove:"id,pk"              bson:"_id"`
	TenantID          string        `grove:"tenant_id"          bson:"tenant_id"`
	Name              string        `grove:"name"               bson:"name"`
	URL               string        `grove:"url"                bson:"url"`
	Secret            string        `grove:"secret"             bson:"secret"`
	EventTypes        []string      `grove:"event_types"        bson:"event_types"`
	Active            bool          `grove:"active"             bson:"active"`
	MaxRetries        int           `grove:"max_retries"        bson:"max_retries"`
	BaseDelayMs       int64         `grove:"base_delay_ms"      bson:"base_delay_ms"`
	BackoffMultiplier float64       `grove:"backoff_multiplier" bson:"backoff_multiplier"`
	TimeoutMs         int64         `grove:"timeout_ms"         bson:"timeout_ms"`
	Headers           []headerModel `grove:"headers"            bson:"headers"`
	SuccessCount      int64         `grove:"success_count"      bson:"success_count"`
	FailureCount      int64         `grove:"failure_count"      bson:"failure_count"`
	LastError         string        `grove:"last_error"         bson:"last_error"`
	DeletedAt         *time.Time    `grove:"deleted_at"         bson:"deleted_at"`
	CreatedAt         time.Time     `grove:"created_at"         bson:"created_at"`
	UpdatedAt         time.Time     `grove:"updated_at"         bson:"updated_at"`
}

func toEndpointModel(ep *endpoint.Endpoint) *endpointModel {
	headers := make([]headerModel, len(ep.Headers))
	for i, h := range ep.Headers {
		headers[i] = headerModel{Name: h.Name, Value: h.Value}
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
	}
}

func fromEndpointModel(m *endpointModel) (*endpoint.Endpoint, error) {
	epID, err := id.ParseEndpointID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint ID %q: %w", m.ID, err)
	}

	var headers []endpoint.Header
	for _, h := range m.Headers {
		headers = append(headers, endpoint.Header{Name: h.Name, Value: h.Value})
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

// --- Delivery models ---

type attemptModel struct {
	At         time.Time `bson:"at"`
	StatusCode *int      `bson:"status_code"`
	LatencyMs  int64     `bson:"latency_ms"`
	Error      *string   `bson:"error"`
	Response   string    `bson:"response"`
}

type deliveryModel struct {
	grove.BaseModel `grove:"table:herald_deliveries"`

	ID          string         `grove:"id,pk"         bson:"_id"`
	TenantID    string         `grove:"tenant_id"     bson:"tenant_id"`
	EndpointID  string         `grove:"endpoint_id"   bson:"endpoint_id"`
	EventType   string         `grove:"event_type"    bson:"event_type"`
	EventID     string         `grove:"event_id"      bson:"event_id"`
	Payload     string         `grove:"payload"       bson:"payload"`
	Signature   string         `grove:"signature"     bson:"signature"`
	Status      string         `grove:"status"        bson:"status"`
	Attempts    []attemptModel `grove:"attempts"      bson:"attempts"`
	NextRetryAt *time.Time     `grove:"next_retry_at" bson:"next_retry_at"`
	DeliveredAt *time.Time     `grove:"delivered_at"  bson:"delivered_at"`
	ClaimToken  string         `grove:"claim_token"   bson:"claim_token"`
	LeaseUntil  *time.Time     `grove:"lease_until"   bson:"lease_until"`
	CreatedAt   time.Time      `grove:"created_at"    bson:"created_at"`
	UpdatedAt   time.Time      `grove:"updated_at"    bson:"updated_at"`
}

func toAttemptModels(attempts []delivery.Attempt) []attemptModel {
	out := make([]attemptModel, len(attempts))
	for i, a := range attempts {
		out[i] = attemptModel{
			At:         a.At,
			StatusCode: a.StatusCode,
			LatencyMs:  a.LatencyMs,
			Error:      a.Error,
			Response:   a.Response,
		}
	}
	return out
}

func toDeliveryModel(r *delivery.Record) *deliveryModel {
	return &deliveryModel{
		ID:          r.ID.String(),
		TenantID:    r.TenantID,
		EndpointID:  r.EndpointID.String(),
		EventType:   r.EventType,
		EventID:     r.EventID.String(),
		Payload:     string(r.Payload),
		Signature:   r.Signature,
		Status:      string(r.Status),
		Attempts:    toAttemptModels(r.Attempts),
		NextRetryAt: r.NextRetryAt,
		DeliveredAt: r.DeliveredAt,
		ClaimToken:  r.ClaimToken,
		LeaseUntil:  r.LeaseUntil,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
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

	attempts := make([]delivery.Attempt, len(m.Attempts))
	for i, a := range m.Attempts {
		attempts[i] = delivery.Attempt{
			At:         a.At.UTC(),
			StatusCode: a.StatusCode,
			LatencyMs:  a.LatencyMs,
			Error:      a.Error,
			Response:   a.Response,
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

// groupCount receives $group results keyed by _id.
type groupCount struct {
	Key   string `bson:"_id"`
	Count int64  `bson:"count"`
}
