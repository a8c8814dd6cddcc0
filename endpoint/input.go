package endpoint

import "time"

// Input is the creation payload for endpoints. Zero-valued policy fields take
// the service defaults.
type Input struct {
	Name       string   `json:"name"`
	URL        string   `json:"url"`
	EventTypes []string `json:"event_types"`

	// Active defaults to true when nil.
	Active *bool `json:"active,omitempty"`

	RetryPolicy *RetryPolicy  `json:"retry_policy,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	Headers     []Header      `json:"headers,omitempty"`
}

// Patch lists the mutable endpoint fields. Nil fields are left unchanged.
type Patch struct {
	URL         *string        `json:"url,omitempty"`
	EventTypes  []string       `json:"event_types,omitempty"`
	Active      *bool          `json:"active,omitempty"`
	RetryPolicy *RetryPolicy   `json:"retry_policy,omitempty"`
	Timeout     *time.Duration `json:"timeout,omitempty"`

	// Headers replaces the whole header list when non-nil. An empty,
	// non-nil slice clears it.
	Headers []Header `json:"headers,omitempty"`
}

// ListOpts configures filtering and pagination for endpoint listing.
type ListOpts struct {
	Offset int
	Limit  int

	// Active filters on the active flag when set.
	Active *bool

	// EventType keeps only endpoints subscribed to it.
	EventType string

	// IncludeDeleted includes soft-deleted endpoints.
	IncludeDeleted bool
}

// Match reports whether ep passes the filters in opts (pagination aside).
// Stores without native filtering use it to share one definition.
func (opts ListOpts) Match(ep *Endpoint) bool {
	if !opts.IncludeDeleted && ep.DeletedAt != nil {
		return false
	}
	if opts.Active != nil && ep.Active != *opts.Active {
		return false
	}
	if opts.EventType != "" && !ep.Subscribed(opts.EventType) {
		return false
	}
	return true
}
