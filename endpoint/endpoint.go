package endpoint

import (
	"math"
	"slices"
	"time"

	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
)

// Header is one custom HTTP header sent with every delivery. Headers are
// applied in list order after herald's own headers.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RetryPolicy bounds how often and how quickly a failed delivery is retried.
type RetryPolicy struct {
	// MaxRetries is the total number of attempts a delivery may receive,
	// including the first.
	MaxRetries int `json:"max_retries"`

	// BaseDelay is the wait after the first failed attempt.
	BaseDelay time.Duration `json:"base_delay"`

	// BackoffMultiplier scales the delay after each further failure.
	BackoffMultiplier float64 `json:"backoff_multiplier"`
}

// NextDelay returns the wait before the next attempt once attempts attempts
// have failed: BaseDelay * BackoffMultiplier^(attempts-1). The result
// saturates instead of overflowing.
func (p RetryPolicy) NextDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempts-1))
	if d >= math.MaxInt64 || math.IsInf(d, 0) || math.IsNaN(d) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Endpoint is a tenant-registered webhook target and its delivery policy.
type Endpoint struct {
	entity.Entity

	ID       id.ID  `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name,omitempty"`
	URL      string `json:"url"`

	// Secret is the HMAC signing key. It is populated only on the value
	// returned from Create and RotateSecret; every other read is redacted.
	Secret string `json:"secret,omitempty"`

	// EventTypes is the subscription set, in registration order.
	EventTypes []string `json:"event_types"`

	Active      bool          `json:"active"`
	RetryPolicy RetryPolicy   `json:"retry_policy"`
	Timeout     time.Duration `json:"timeout"`
	Headers     []Header      `json:"headers,omitempty"`

	// SuccessCount and FailureCount are maintained by the delivery engine
	// through atomic store increments.
	SuccessCount int64  `json:"success_count"`
	FailureCount int64  `json:"failure_count"`
	LastError    string `json:"last_error,omitempty"`

	// DeletedAt marks a soft-deleted endpoint.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Redacted returns a copy with the secret removed.
func (ep *Endpoint) Redacted() *Endpoint {
	cp := ep.Clone()
	cp.Secret = ""
	return cp
}

// Clone returns a deep copy.
func (ep *Endpoint) Clone() *Endpoint {
	cp := *ep
	cp.EventTypes = slices.Clone(ep.EventTypes)
	cp.Headers = slices.Clone(ep.Headers)
	if ep.DeletedAt != nil {
		t := *ep.DeletedAt
		cp.DeletedAt = &t
	}
	return &cp
}

// Subscribed reports whether the endpoint subscribes to eventType.
func (ep *Endpoint) Subscribed(eventType string) bool {
	return slices.Contains(ep.EventTypes, eventType)
}

// Deliverable reports whether new attempts may be made to the endpoint.
func (ep *Endpoint) Deliverable() bool {
	return ep.Active && ep.DeletedAt == nil
}

// SuccessRate is SuccessCount over all counted attempts, or 0 with none.
func (ep *Endpoint) SuccessRate() float64 {
	total := ep.SuccessCount + ep.FailureCount
	if total == 0 {
		return 0
	}
	return float64(ep.SuccessCount) / float64(total)
}
