// Package delivery executes signed webhook deliveries and drives retries.
//
// A Record is the durable state of one event's delivery to one endpoint. The
// store is the queue: an attempt may only start after the record has been
// claimed with a conditional update, and its outcome is persisted under the
// same claim before the claim is released.
package delivery

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
)

// Status is the lifecycle state of a delivery record.
type Status string

const (
	// StatusPending means no attempt has completed yet.
	StatusPending Status = "pending"

	// StatusRetrying means at least one attempt failed and another is scheduled.
	StatusRetrying Status = "retrying"

	// StatusDelivered means an attempt received a 2xx response. Terminal.
	StatusDelivered Status = "delivered"

	// StatusFailed means retries are exhausted or the endpoint is gone. Terminal.
	StatusFailed Status = "failed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusRetrying, StatusDelivered, StatusFailed}

// Terminal reports whether no further attempts will be made.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// Attempt is the outcome of one HTTP attempt.
type Attempt struct {
	At time.Time `json:"at"`

	// StatusCode is nil when no response was received.
	StatusCode *int `json:"status_code"`

	LatencyMs int64 `json:"latency_ms"`

	// Error is nil for 2xx responses.
	Error *string `json:"error"`

	// Response holds up to 1KB of the response body.
	Response string `json:"response,omitempty"`
}

// Succeeded reports whether the attempt received a 2xx response.
func (a Attempt) Succeeded() bool {
	return a.StatusCode != nil && *a.StatusCode >= 200 && *a.StatusCode < 300
}

// Record is the full attempt history and current state of one delivery.
type Record struct {
	entity.Entity

	ID         id.ID  `json:"id"`
	TenantID   string `json:"tenant_id"`
	EndpointID id.ID  `json:"endpoint_id"`
	EventType  string `json:"event_type"`

	// EventID is unique per record and serves as its idempotency key.
	EventID id.ID `json:"event_id"`

	// Payload is the canonical JSON body, fixed at creation.
	Payload json.RawMessage `json:"payload"`

	// Signature is the hex HMAC-SHA256 of Payload under the endpoint secret
	// current at creation time.
	Signature string `json:"signature"`

	Status   Status    `json:"status"`
	Attempts []Attempt `json:"attempts"`

	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`

	// ClaimToken and LeaseUntil are set while an engine holds the record.
	ClaimToken string     `json:"-"`
	LeaseUntil *time.Time `json:"lease_until,omitempty"`
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Payload = slices.Clone(r.Payload)
	cp.Attempts = make([]Attempt, len(r.Attempts))
	for i, a := range r.Attempts {
		cp.Attempts[i] = a.clone()
	}
	cp.NextRetryAt = cloneTime(r.NextRetryAt)
	cp.DeliveredAt = cloneTime(r.DeliveredAt)
	cp.LeaseUntil = cloneTime(r.LeaseUntil)
	return &cp
}

// LastAttempt returns the most recent attempt, if any.
func (r *Record) LastAttempt() (Attempt, bool) {
	if len(r.Attempts) == 0 {
		return Attempt{}, false
	}
	return r.Attempts[len(r.Attempts)-1], true
}

// SortByDue orders records by NextRetryAt ascending, then ID. Records
// without a retry time sort last.
func SortByDue(recs []*Record) {
	slices.SortFunc(recs, func(a, b *Record) int {
		switch {
		case a.NextRetryAt == nil && b.NextRetryAt == nil:
		case a.NextRetryAt == nil:
			return 1
		case b.NextRetryAt == nil:
			return -1
		default:
			if c := a.NextRetryAt.Compare(*b.NextRetryAt); c != 0 {
				return c
			}
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
}

func (a Attempt) clone() Attempt {
	if a.StatusCode != nil {
		c := *a.StatusCode
		a.StatusCode = &c
	}
	if a.Error != nil {
		e := *a.Error
		a.Error = &e
	}
	return a
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Filter selects delivery records. Zero fields match everything. From and To
// bound CreatedAt, both inclusive.
type Filter struct {
	TenantID   string
	EndpointID id.ID
	EventType  string
	Status     Status
	From       *time.Time
	To         *time.Time
}

// Match reports whether r passes the filter.
func (f Filter) Match(r *Record) bool {
	if f.TenantID != "" && r.TenantID != f.TenantID {
		return false
	}
	if !f.EndpointID.IsNil() && r.EndpointID.String() != f.EndpointID.String() {
		return false
	}
	if f.EventType != "" && r.EventType != f.EventType {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.From != nil && r.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && r.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

// ListOpts configures filtering and pagination for record listing. Results
// are ordered newest first.
type ListOpts struct {
	Filter
	Offset int
	Limit  int
}

// EventTypeCount is one row of the event type volume breakdown.
type EventTypeCount struct {
	EventType string `json:"event_type"`
	Count     int64  `json:"count"`
}
