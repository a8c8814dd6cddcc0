package api

import (
	"encoding/json"
	"time"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/id"
)

// Durations cross the wire as integer milliseconds.

type retryPolicyDTO struct {
	MaxRetries        int     `json:"max_retries"`
	BaseDelayMs       int64   `json:"base_delay_ms"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
}

func (p retryPolicyDTO) policy() endpoint.RetryPolicy {
	return endpoint.RetryPolicy{
		MaxRetries:        p.MaxRetries,
		BaseDelay:         time.Duration(p.BaseDelayMs) * time.Millisecond,
		BackoffMultiplier: p.BackoffMultiplier,
	}
}

func toRetryPolicyDTO(p endpoint.RetryPolicy) retryPolicyDTO {
	return retryPolicyDTO{
		MaxRetries:        p.MaxRetries,
		BaseDelayMs:       p.BaseDelay.Milliseconds(),
		BackoffMultiplier: p.BackoffMultiplier,
	}
}

type endpointResponse struct {
	ID           id.ID             `json:"id"`
	TenantID     string            `json:"tenant_id"`
	Name         string            `json:"name,omitempty"`
	URL          string            `json:"url"`
	Secret       string            `json:"secret,omitempty"`
	EventTypes   []string          `json:"event_types"`
	Active       bool              `json:"active"`
	RetryPolicy  retryPolicyDTO    `json:"retry_policy"`
	TimeoutMs    int64             `json:"timeout_ms"`
	Headers      []endpoint.Header `json:"headers"`
	SuccessCount int64             `json:"success_count"`
	FailureCount int64             `json:"failure_count"`
	LastError    string            `json:"last_error,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func toEndpointResponse(ep *endpoint.Endpoint) endpointResponse {
	headers := ep.Headers
	if headers == nil {
		headers = []endpoint.Header{}
	}
	return endpointResponse{
		ID:           ep.ID,
		TenantID:     ep.TenantID,
		Name:         ep.Name,
		URL:          ep.URL,
		Secret:       ep.Secret,
		EventTypes:   ep.EventTypes,
		Active:       ep.Active,
		RetryPolicy:  toRetryPolicyDTO(ep.RetryPolicy),
		TimeoutMs:    ep.Timeout.Milliseconds(),
		Headers:      headers,
		SuccessCount: ep.SuccessCount,
		FailureCount: ep.FailureCount,
		LastError:    ep.LastError,
		CreatedAt:    ep.CreatedAt,
		UpdatedAt:    ep.UpdatedAt,
	}
}

type deliveryResponse struct {
	ID          id.ID              `json:"id"`
	TenantID    string             `json:"tenant_id"`
	EndpointID  id.ID              `json:"endpoint_id"`
	EventType   string             `json:"event_type"`
	EventID     id.ID              `json:"event_id"`
	Payload     json.RawMessage    `json:"payload"`
	Signature   string             `json:"signature"`
	Status      delivery.Status    `json:"status"`
	Attempts    []delivery.Attempt `json:"attempts"`
	NextRetryAt *time.Time         `json:"next_retry_at"`
	DeliveredAt *time.Time         `json:"delivered_at"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func toDeliveryResponse(rec *delivery.Record) deliveryResponse {
	attempts := rec.Attempts
	if attempts == nil {
		attempts = []delivery.Attempt{}
	}
	return deliveryResponse{
		ID:          rec.ID,
		TenantID:    rec.TenantID,
		EndpointID:  rec.EndpointID,
		EventType:   rec.EventType,
		EventID:     rec.EventID,
		Payload:     rec.Payload,
		Signature:   rec.Signature,
		Status:      rec.Status,
		Attempts:    attempts,
		NextRetryAt: rec.NextRetryAt,
		DeliveredAt: rec.DeliveredAt,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}
