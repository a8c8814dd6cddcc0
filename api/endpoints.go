package api

import (
	"net/http"
	"time"

	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/id"
)

type createEndpointRequest struct {
	TenantID    string            `json:"tenant_id"`
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	EventTypes  []string          `json:"event_types"`
	Active      *bool             `json:"active,omitempty"`
	RetryPolicy *retryPolicyDTO   `json:"retry_policy,omitempty"`
	TimeoutMs   int64             `json:"timeout_ms,omitempty"`
	Headers     []endpoint.Header `json:"headers,omitempty"`
}

type updateEndpointRequest struct {
	URL         *string           `json:"url,omitempty"`
	EventTypes  []string          `json:"event_types,omitempty"`
	Active      *bool             `json:"active,omitempty"`
	RetryPolicy *retryPolicyDTO   `json:"retry_policy,omitempty"`
	TimeoutMs   *int64            `json:"timeout_ms,omitempty"`
	Headers     []endpoint.Header `json:"headers,omitempty"`
}

func (h *Handler) createEndpoint(w http.ResponseWriter, r *http.Request) {
	var req createEndpointRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" {
		req.TenantID = queryParam(r, "tenant_id")
	}
	if req.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	in := endpoint.Input{
		Name:       req.Name,
		URL:        req.URL,
		EventTypes: req.EventTypes,
		Active:     req.Active,
		Timeout:    time.Duration(req.TimeoutMs) * time.Millisecond,
		Headers:    req.Headers,
	}
	if req.RetryPolicy != nil {
		p := req.RetryPolicy.policy()
		in.RetryPolicy = &p
	}

	ep, err := h.herald.Endpoints().Create(r.Context(), req.TenantID, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toEndpointResponse(ep))
}

func (h *Handler) listEndpoints(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}

	opts := endpoint.ListOpts{
		Offset:         queryInt(r, "offset", 0),
		Limit:          queryLimit(r),
		EventType:      queryParam(r, "event_type"),
		IncludeDeleted: queryParam(r, "include_deleted") == "true",
	}
	switch queryParam(r, "active") {
	case "true":
		v := true
		opts.Active = &v
	case "false":
		v := false
		opts.Active = &v
	}

	eps, err := h.herald.Endpoints().List(r.Context(), tenantID, opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := make([]endpointResponse, len(eps))
	for i, ep := range eps {
		out[i] = toEndpointResponse(ep)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getEndpoint(w http.ResponseWriter, r *http.Request) {
	tenantID, epID, ok := endpointRequest(w, r)
	if !ok {
		return
	}

	ep, err := h.herald.Endpoints().Get(r.Context(), tenantID, epID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toEndpointResponse(ep))
}

func (h *Handler) updateEndpoint(w http.ResponseWriter, r *http.Request) {
	tenantID, epID, ok := endpointRequest(w, r)
	if !ok {
		return
	}

	var req updateEndpointRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	patch := endpoint.Patch{
		URL:        req.URL,
		EventTypes: req.EventTypes,
		Active:     req.Active,
		Headers:    req.Headers,
	}
	if req.RetryPolicy != nil {
		p := req.RetryPolicy.policy()
		patch.RetryPolicy = &p
	}
	if req.TimeoutMs != nil {
		d := time.Duration(*req.TimeoutMs) * time.Millisecond
		patch.Timeout = &d
	}

	ep, err := h.herald.Endpoints().Update(r.Context(), tenantID, epID, patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toEndpointResponse(ep))
}

func (h *Handler) deleteEndpoint(w http.ResponseWriter, r *http.Request) {
	tenantID, epID, ok := endpointRequest(w, r)
	if !ok {
		return
	}

	svc := h.herald.Endpoints()
	var err error
	if queryParam(r, "hard") == "true" {
		err = svc.Remove(r.Context(), tenantID, epID)
	} else {
		err = svc.Delete(r.Context(), tenantID, epID)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	tenantID, epID, ok := endpointRequest(w, r)
	if !ok {
		return
	}

	secret, err := h.herald.Endpoints().RotateSecret(r.Context(), tenantID, epID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"secret": secret})
}

func (h *Handler) testEndpoint(w http.ResponseWriter, r *http.Request) {
	tenantID, epID, ok := endpointRequest(w, r)
	if !ok {
		return
	}

	rec, err := h.herald.TestEndpoint(r.Context(), tenantID, epID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toDeliveryResponse(rec))
}

// endpointRequest extracts the tenant and the {id} path value.
func endpointRequest(w http.ResponseWriter, r *http.Request) (string, id.ID, bool) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return "", id.Nil, false
	}
	epID, err := id.ParseEndpointID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endpoint ID")
		return "", id.Nil, false
	}
	return tenantID, epID, true
}
