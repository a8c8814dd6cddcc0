package api

import (
	"net/http"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/id"
)

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}

	filter := delivery.Filter{
		TenantID:  tenantID,
		EventType: queryParam(r, "event_type"),
	}
	if v := queryParam(r, "endpoint_id"); v != "" {
		epID, err := id.ParseEndpointID(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid endpoint ID")
			return
		}
		filter.EndpointID = epID
	}
	if v := queryParam(r, "status"); v != "" {
		st := delivery.Status(v)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = st
	}
	var err error
	if filter.From, err = queryTime(r, "from"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.To, err = queryTime(r, "to"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := h.herald.Deliveries(r.Context(), delivery.ListOpts{
		Filter: filter,
		Offset: queryInt(r, "offset", 0),
		Limit:  queryLimit(r),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := make([]deliveryResponse, len(recs))
	for i, rec := range recs {
		out[i] = toDeliveryResponse(rec)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getDelivery(w http.ResponseWriter, r *http.Request) {
	tenantID, recID, ok := deliveryRequest(w, r)
	if !ok {
		return
	}

	rec, err := h.herald.Delivery(r.Context(), tenantID, recID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toDeliveryResponse(rec))
}

// retryDelivery attempts a non-terminal record now. Terminal records answer 409.
func (h *Handler) retryDelivery(w http.ResponseWriter, r *http.Request) {
	tenantID, recID, ok := deliveryRequest(w, r)
	if !ok {
		return
	}

	rec, err := h.herald.Redeliver(r.Context(), tenantID, recID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toDeliveryResponse(rec))
}

func deliveryRequest(w http.ResponseWriter, r *http.Request) (string, id.ID, bool) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return "", id.Nil, false
	}
	recID, err := id.ParseDeliveryID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery ID")
		return "", id.Nil, false
	}
	return tenantID, recID, true
}
