package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/api"
	"github.com/xraph/herald/store/memory"
)

const tenant = "tenant-1"

func testServer(t *testing.T) (*httptest.Server, *herald.Herald) {
	t.Helper()
	h, err := herald.New(herald.WithStore(memory.New()))
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(api.NewHandler(h, nil))
	t.Cleanup(func() {
		srv.Close()
		_ = h.Stop(context.Background())
	})
	return srv, h
}

func receiver(t *testing.T, code int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s: expected %d, got %d", resp.Request.Method, resp.Request.URL.Path, want, resp.StatusCode)
	}
}

type endpointBody struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Secret      string `json:"secret"`
	Active      bool   `json:"active"`
	TimeoutMs   int64  `json:"timeout_ms"`
	RetryPolicy struct {
		MaxRetries  int   `json:"max_retries"`
		BaseDelayMs int64 `json:"base_delay_ms"`
	} `json:"retry_policy"`
	SuccessCount int64 `json:"success_count"`
}

type deliveryBody struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Attempts []struct {
		StatusCode *int `json:"status_code"`
	} `json:"attempts"`
}

func createEndpoint(t *testing.T, base, url string) endpointBody {
	t.Helper()
	resp := doJSON(t, http.MethodPost, base+"/endpoints", map[string]any{
		"tenant_id":   tenant,
		"url":         url,
		"event_types": []string{"user.created"},
	})
	expectStatus(t, resp, http.StatusCreated)
	var ep endpointBody
	decodeBody(t, resp, &ep)
	return ep
}

func TestEndpointLifecycle(t *testing.T) {
	srv, _ := testServer(t)
	base := srv.URL

	resp := doJSON(t, http.MethodPost, base+"/endpoints", map[string]any{
		"tenant_id":    tenant,
		"name":         "orders",
		"url":          "https://example.com/hook",
		"event_types":  []string{"user.created"},
		"timeout_ms":   5000,
		"retry_policy": map[string]any{"max_retries": 5, "base_delay_ms": 500, "backoff_multiplier": 3},
	})
	expectStatus(t, resp, http.StatusCreated)
	var created endpointBody
	decodeBody(t, resp, &created)

	if created.Secret == "" {
		t.Fatal("expected secret on create")
	}
	if created.TimeoutMs != 5000 || created.RetryPolicy.MaxRetries != 5 || created.RetryPolicy.BaseDelayMs != 500 {
		t.Fatalf("unexpected policy: %+v", created)
	}

	resp = doJSON(t, http.MethodGet, base+"/endpoints/"+created.ID+"?tenant_id="+tenant, nil)
	expectStatus(t, resp, http.StatusOK)
	var got endpointBody
	decodeBody(t, resp, &got)
	if got.Secret != "" {
		t.Fatal("secret must be redacted on read")
	}

	resp = doJSON(t, http.MethodPatch, base+"/endpoints/"+created.ID+"?tenant_id="+tenant, map[string]any{
		"active":     false,
		"timeout_ms": 1000,
	})
	expectStatus(t, resp, http.StatusOK)
	var patched endpointBody
	decodeBody(t, resp, &patched)
	if patched.Active || patched.TimeoutMs != 1000 {
		t.Fatalf("patch not applied: %+v", patched)
	}

	resp = doJSON(t, http.MethodPost, base+"/endpoints/"+created.ID+"/rotate-secret?tenant_id="+tenant, nil)
	expectStatus(t, resp, http.StatusOK)
	var rotated map[string]string
	decodeBody(t, resp, &rotated)
	if rotated["secret"] == "" || rotated["secret"] == created.Secret {
		t.Fatal("expected a new secret")
	}

	resp = doJSON(t, http.MethodGet, base+"/endpoints?tenant_id="+tenant, nil)
	expectStatus(t, resp, http.StatusOK)
	var list []endpointBody
	decodeBody(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("expected 1 endpoint, got %d", len(list))
	}

	resp = doJSON(t, http.MethodDelete, base+"/endpoints/"+created.ID+"?tenant_id="+tenant, nil)
	expectStatus(t, resp, http.StatusNoContent)

	resp = doJSON(t, http.MethodGet, base+"/endpoints/"+created.ID+"?tenant_id="+tenant, nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestEndpointErrors(t *testing.T) {
	srv, _ := testServer(t)
	base := srv.URL

	resp := doJSON(t, http.MethodPost, base+"/endpoints", map[string]any{
		"tenant_id":   tenant,
		"url":         "ftp://example.com",
		"event_types": []string{"user.created"},
	})
	expectStatus(t, resp, http.StatusBadRequest)

	resp = doJSON(t, http.MethodPost, base+"/endpoints", map[string]any{
		"url":         "https://example.com",
		"event_types": []string{"user.created"},
	})
	expectStatus(t, resp, http.StatusBadRequest)

	resp = doJSON(t, http.MethodGet, base+"/endpoints/not-an-id?tenant_id="+tenant, nil)
	expectStatus(t, resp, http.StatusBadRequest)

	resp = doJSON(t, http.MethodGet, base+"/endpoints", nil)
	expectStatus(t, resp, http.StatusBadRequest)

	ep := createEndpoint(t, base, "https://example.com/hook")
	resp = doJSON(t, http.MethodGet, base+"/endpoints/"+ep.ID+"?tenant_id=other", nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestTriggerAndInspectDelivery(t *testing.T) {
	srv, _ := testServer(t)
	base := srv.URL
	target := receiver(t, http.StatusOK)
	createEndpoint(t, base, target.URL)

	resp := doJSON(t, http.MethodPost, base+"/events", map[string]any{
		"tenant_id":  tenant,
		"event_type": "user.created",
		"data":       map[string]string{"user_id": "u1"},
	})
	expectStatus(t, resp, http.StatusAccepted)
	var trig struct {
		DeliveryIDs []string `json:"delivery_ids"`
	}
	decodeBody(t, resp, &trig)
	if len(trig.DeliveryIDs) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(trig.DeliveryIDs))
	}

	rec := waitDelivered(t, base, trig.DeliveryIDs[0])
	if len(rec.Attempts) != 1 || rec.Attempts[0].StatusCode == nil || *rec.Attempts[0].StatusCode != 200 {
		t.Fatalf("unexpected attempts: %+v", rec.Attempts)
	}

	resp = doJSON(t, http.MethodPost, base+"/deliveries/"+rec.ID+"/retry?tenant_id="+tenant, nil)
	expectStatus(t, resp, http.StatusConflict)

	resp = doJSON(t, http.MethodGet, base+"/deliveries?tenant_id="+tenant+"&status=delivered", nil)
	expectStatus(t, resp, http.StatusOK)
	var list []deliveryBody
	decodeBody(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("expected 1 delivered record, got %d", len(list))
	}

	resp = doJSON(t, http.MethodGet, base+"/deliveries/"+rec.ID+"?tenant_id=other", nil)
	expectStatus(t, resp, http.StatusNotFound)

	resp = doJSON(t, http.MethodGet, base+"/stats?tenant_id="+tenant, nil)
	expectStatus(t, resp, http.StatusOK)
	var stats struct {
		Total    int64            `json:"total"`
		ByStatus map[string]int64 `json:"by_status"`
	}
	decodeBody(t, resp, &stats)
	if stats.Total != 1 || stats.ByStatus["delivered"] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestTriggerValidation(t *testing.T) {
	srv, _ := testServer(t)
	base := srv.URL

	resp := doJSON(t, http.MethodPost, base+"/events", map[string]any{
		"event_type": "user.created",
		"data":       map[string]string{},
	})
	expectStatus(t, resp, http.StatusBadRequest)

	resp = doJSON(t, http.MethodPost, base+"/event-types", map[string]any{
		"name":   "invoice.paid",
		"schema": json.RawMessage(`{"type":"object","required":["amount"]}`),
	})
	expectStatus(t, resp, http.StatusCreated)

	resp = doJSON(t, http.MethodPost, base+"/events", map[string]any{
		"tenant_id":  tenant,
		"event_type": "invoice.paid",
		"data":       map[string]string{},
	})
	expectStatus(t, resp, http.StatusBadRequest)

	resp = doJSON(t, http.MethodPost, base+"/events", map[string]any{
		"tenant_id":  tenant,
		"event_type": "never.registered",
		"data":       map[string]string{},
	})
	expectStatus(t, resp, http.StatusAccepted)
	var trig struct {
		DeliveryIDs []string `json:"delivery_ids"`
	}
	decodeBody(t, resp, &trig)
	if len(trig.DeliveryIDs) != 0 {
		t.Fatalf("expected no deliveries, got %v", trig.DeliveryIDs)
	}
}

func TestTestEndpointRoute(t *testing.T) {
	srv, _ := testServer(t)
	base := srv.URL
	target := receiver(t, http.StatusInternalServerError)
	ep := createEndpoint(t, base, target.URL)

	resp := doJSON(t, http.MethodPost, base+"/endpoints/"+ep.ID+"/test?tenant_id="+tenant, nil)
	expectStatus(t, resp, http.StatusOK)
	var rec deliveryBody
	decodeBody(t, resp, &rec)
	if rec.Status != "retrying" || len(rec.Attempts) != 1 {
		t.Fatalf("unexpected test delivery: %+v", rec)
	}
}

func TestEventTypeRoutes(t *testing.T) {
	srv, _ := testServer(t)
	base := srv.URL

	resp := doJSON(t, http.MethodGet, base+"/event-types?group=user", nil)
	expectStatus(t, resp, http.StatusOK)
	var types []struct {
		Name  string `json:"name"`
		Group string `json:"group"`
	}
	decodeBody(t, resp, &types)
	if len(types) == 0 {
		t.Fatal("expected default user event types")
	}
	for _, et := range types {
		if et.Group != "user" {
			t.Fatalf("group filter leaked %q", et.Name)
		}
	}

	resp = doJSON(t, http.MethodGet, base+"/event-types/user.created", nil)
	expectStatus(t, resp, http.StatusOK)

	resp = doJSON(t, http.MethodGet, base+"/event-types/nope", nil)
	expectStatus(t, resp, http.StatusNotFound)

	resp = doJSON(t, http.MethodPost, base+"/event-types", map[string]any{
		"name":   "bad.schema",
		"schema": json.RawMessage(`{"type":12}`),
	})
	expectStatus(t, resp, http.StatusBadRequest)
}

func waitDelivered(t *testing.T, base, recID string) deliveryBody {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp := doJSON(t, http.MethodGet, base+"/deliveries/"+recID+"?tenant_id="+tenant, nil)
		expectStatus(t, resp, http.StatusOK)
		var rec deliveryBody
		decodeBody(t, resp, &rec)
		if rec.Status == "delivered" || rec.Status == "failed" {
			return rec
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for delivery %s (status %s)", recID, rec.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
