// Package event defines the payload envelope delivered to webhook endpoints.
package event

import (
	"encoding/json"
	"time"

	"github.com/xraph/herald/id"
)

// Payload is the JSON document POSTed to an endpoint. Its canonical form is
// what gets signed and stored on the delivery record.
type Payload struct {
	// ID is the event ID. It doubles as the delivery's idempotency key.
	ID id.ID `json:"id"`

	// Type is the dot-separated event type name (e.g. "billing.invoice.paid").
	Type string `json:"type"`

	// Timestamp is when the event was triggered.
	Timestamp time.Time `json:"timestamp"`

	// Data is the producer-supplied event body.
	Data json.RawMessage `json:"data"`

	// TenantID identifies the tenant the event belongs to.
	TenantID string `json:"tenant_id"`
}

// New builds a payload for a freshly triggered event. Timestamps are
// truncated to seconds so the envelope and the X-Webhook-Timestamp header
// agree.
func New(evtID id.ID, eventType, tenantID string, data json.RawMessage, at time.Time) *Payload {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return &Payload{
		ID:        evtID,
		Type:      eventType,
		Timestamp: at.UTC().Truncate(time.Second),
		Data:      data,
		TenantID:  tenantID,
	}
}

// Timestamp extracts the envelope timestamp from a serialized payload.
func Timestamp(payload json.RawMessage) (time.Time, bool) {
	var env struct {
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &env); err != nil || env.Timestamp.IsZero() {
		return time.Time{}, false
	}
	return env.Timestamp, true
}
