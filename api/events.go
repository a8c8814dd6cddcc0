package api

import (
	"encoding/json"
	"net/http"

	"github.com/xraph/herald/id"
)

type triggerEventRequest struct {
	TenantID  string          `json:"tenant_id"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

type triggerEventResponse struct {
	DeliveryIDs []id.ID `json:"delivery_ids"`
}

func (h *Handler) triggerEvent(w http.ResponseWriter, r *http.Request) {
	var req triggerEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" {
		req.TenantID = queryParam(r, "tenant_id")
	}
	if req.EventType == "" {
		writeError(w, http.StatusBadRequest, "event_type is required")
		return
	}

	ids, err := h.herald.TriggerEvent(r.Context(), req.TenantID, req.EventType, req.Data)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, triggerEventResponse{DeliveryIDs: ids})
}
