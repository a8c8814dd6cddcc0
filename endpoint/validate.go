package endpoint

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"
)

// Limits enforced on endpoint configuration.
const (
	MaxRetriesLimit = 25
	MaxTimeout      = 2 * time.Minute
	MaxHeaders      = 32

	// MaxRetryDelay bounds the longest wait a valid policy schedules.
	MaxRetryDelay = 30 * 24 * time.Hour
)

// reservedHeaders are set by the delivery engine and cannot be overridden.
var reservedHeaders = map[string]bool{
	"Content-Type":   true,
	"Content-Length": true,
	"Host":           true,
	"User-Agent":     true,
}

// ValidationError indicates invalid endpoint configuration.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "endpoint validation: " + e.Field + ": " + e.Message
}

// EventTypeChecker reports whether an event type is known.
type EventTypeChecker interface {
	Has(name string) bool
}

// Validate checks ep's configuration. types may be nil to skip the
// event type existence check.
func Validate(ep *Endpoint, types EventTypeChecker) error {
	if err := validateURL(ep.URL); err != nil {
		return err
	}

	if len(ep.EventTypes) == 0 {
		return &ValidationError{Field: "event_types", Message: "at least one event type required"}
	}
	for _, et := range ep.EventTypes {
		if et == "" {
			return &ValidationError{Field: "event_types", Message: "empty event type"}
		}
		if types != nil && !types.Has(et) {
			return &ValidationError{Field: "event_types", Message: "unsupported event type " + et}
		}
	}

	p := ep.RetryPolicy
	switch {
	case p.MaxRetries < 1 || p.MaxRetries > MaxRetriesLimit:
		return &ValidationError{Field: "retry_policy.max_retries", Message: "must be between 1 and 25"}
	case p.BaseDelay <= 0:
		return &ValidationError{Field: "retry_policy.base_delay", Message: "must be positive"}
	case p.BackoffMultiplier < 1:
		return &ValidationError{Field: "retry_policy.backoff_multiplier", Message: "must be at least 1"}
	case p.NextDelay(p.MaxRetries-1) > MaxRetryDelay:
		return &ValidationError{Field: "retry_policy", Message: "final backoff exceeds " + MaxRetryDelay.String()}
	}

	if ep.Timeout <= 0 || ep.Timeout > MaxTimeout {
		return &ValidationError{Field: "timeout", Message: "must be positive and at most " + MaxTimeout.String()}
	}

	return validateHeaders(ep.Headers)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &ValidationError{Field: "url", Message: "invalid URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "url", Message: "scheme must be http or https"}
	}
	if u.Host == "" || u.Hostname() == "" {
		return &ValidationError{Field: "url", Message: "host is required"}
	}
	return nil
}

func validateHeaders(headers []Header) error {
	if len(headers) > MaxHeaders {
		return &ValidationError{Field: "headers", Message: "too many headers"}
	}
	for _, h := range headers {
		if !httpguts.ValidHeaderFieldName(h.Name) {
			return &ValidationError{Field: "headers", Message: "invalid header name " + `"` + h.Name + `"`}
		}
		if !httpguts.ValidHeaderFieldValue(h.Value) {
			return &ValidationError{Field: "headers", Message: "invalid value for header " + h.Name}
		}
		canonical := http.CanonicalHeaderKey(h.Name)
		if reservedHeaders[canonical] || strings.HasPrefix(canonical, "X-Webhook-") {
			return &ValidationError{Field: "headers", Message: "header " + canonical + " is reserved"}
		}
	}
	return nil
}

// normalizeEventTypes trims and deduplicates, keeping first occurrences.
func normalizeEventTypes(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, et := range in {
		et = strings.TrimSpace(et)
		if seen[et] {
			continue
		}
		seen[et] = true
		out = append(out, et)
	}
	return out
}
