package api

import (
	"encoding/json"
	"net/http"

	"github.com/xraph/herald/catalog"
)

type createEventTypeRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Group       string          `json:"group,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

func (h *Handler) listEventTypes(w http.ResponseWriter, r *http.Request) {
	types := h.herald.Catalog().List(catalog.ListOpts{Group: queryParam(r, "group")})
	writeJSON(w, http.StatusOK, types)
}

func (h *Handler) getEventType(w http.ResponseWriter, r *http.Request) {
	et, err := h.herald.Catalog().Get(r.PathValue("name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, et)
}

// createEventType registers or replaces a catalog entry. The catalog is
// process-wide, so the route is not tenant scoped.
func (h *Handler) createEventType(w http.ResponseWriter, r *http.Request) {
	var req createEventTypeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	et, err := h.herald.Catalog().Register(catalog.EventType{
		Name:        req.Name,
		Description: req.Description,
		Group:       req.Group,
		Schema:      req.Schema,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, et)
}
