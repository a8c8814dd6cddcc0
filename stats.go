package herald

import (
	"context"
	"time"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/id"
)

// StatsOpts scopes a statistics query.
type StatsOpts struct {
	EndpointID id.ID
	From       *time.Time
	To         *time.Time

	// TopEventTypes limits the event type breakdown. Zero uses the
	// configured default.
	TopEventTypes int
}

// EndpointStats is the delivery health of one endpoint.
type EndpointStats struct {
	EndpointID   id.ID   `json:"endpoint_id"`
	Name         string  `json:"name,omitempty"`
	URL          string  `json:"url"`
	Active       bool    `json:"active"`
	SuccessCount int64   `json:"success_count"`
	FailureCount int64   `json:"failure_count"`
	SuccessRate  float64 `json:"success_rate"`
	LastError    string  `json:"last_error,omitempty"`
}

// Stats aggregates a tenant's delivery activity.
type Stats struct {
	Total         int64                     `json:"total"`
	ByStatus      map[delivery.Status]int64 `json:"by_status"`
	TopEventTypes []delivery.EventTypeCount `json:"top_event_types"`

	// Endpoints report lifetime counters and ignore the date range.
	Endpoints []EndpointStats `json:"endpoints"`
}

// Stats returns counts by status, the busiest event types and per-endpoint
// success rates for a tenant.
func (h *Herald) Stats(ctx context.Context, tenantID string, opts StatsOpts) (*Stats, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	f := delivery.Filter{
		TenantID:   tenantID,
		EndpointID: opts.EndpointID,
		From:       opts.From,
		To:         opts.To,
	}

	counts, err := h.store.CountByStatus(ctx, f)
	if err != nil {
		return nil, err
	}
	st := &Stats{ByStatus: make(map[delivery.Status]int64, len(delivery.Statuses))}
	for _, s := range delivery.Statuses {
		st.ByStatus[s] = counts[s]
		st.Total += counts[s]
	}

	top := opts.TopEventTypes
	if top <= 0 {
		top = h.config.TopEventTypes
	}
	st.TopEventTypes, err = h.store.CountByEventType(ctx, f, top)
	if err != nil {
		return nil, err
	}

	eps, err := h.store.ListEndpoints(ctx, tenantID, endpoint.ListOpts{})
	if err != nil {
		return nil, err
	}
	st.Endpoints = make([]EndpointStats, 0, len(eps))
	for _, ep := range eps {
		if !opts.EndpointID.IsNil() && ep.ID.String() != opts.EndpointID.String() {
			continue
		}
		st.Endpoints = append(st.Endpoints, EndpointStats{
			EndpointID:   ep.ID,
			Name:         ep.Name,
			URL:          ep.URL,
			Active:       ep.Active,
			SuccessCount: ep.SuccessCount,
			FailureCount: ep.FailureCount,
			SuccessRate:  ep.SuccessRate(),
			LastError:    ep.LastError,
		})
	}

	return st, nil
}
