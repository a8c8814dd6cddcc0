package api

import (
	"net/http"

	"github.com/xraph/herald"
	"github.com/xraph/herald/id"
)

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}

	opts := herald.StatsOpts{TopEventTypes: queryInt(r, "top", 0)}
	if v := queryParam(r, "endpoint_id"); v != "" {
		epID, err := id.ParseEndpointID(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid endpoint ID")
			return
		}
		opts.EndpointID = epID
	}
	var err error
	if opts.From, err = queryTime(r, "from"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if opts.To, err = queryTime(r, "to"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.herald.Stats(r.Context(), tenantID, opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
