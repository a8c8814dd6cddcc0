package delivery_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/signature"
	"github.com/xraph/herald/store/memory"
)

func TestSenderHeadersAndSignature(t *testing.T) {
	var got *http.Request
	var body []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	store := memory.New()
	ep := newTestEndpoint(srv.URL, defaultPolicy())
	ep.Headers = []endpoint.Header{
		{Name: "X-Tenant", Value: "first"},
		{Name: "Authorization", Value: "Bearer t"},
		{Name: "X-Tenant", Value: "second"},
	}
	rec := createRecord(t, store, ep)

	ts := time.Unix(1700000000, 0)
	res := delivery.NewSender(nil, "").Send(ctx(), ep, rec, ts)

	if res.StatusCode != http.StatusAccepted || res.Error != "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Response != "ok" {
		t.Fatalf("expected response body, got %q", res.Response)
	}

	if got.Method != http.MethodPost {
		t.Fatalf("expected POST, got %s", got.Method)
	}
	checks := map[string]string{
		"Content-Type":           "application/json",
		"User-Agent":             delivery.DefaultUserAgent,
		delivery.HeaderEvent:     "user.created",
		delivery.HeaderID:        rec.EventID.String(),
		delivery.HeaderDelivery:  rec.ID.String(),
		delivery.HeaderTimestamp: strconv.FormatInt(ts.Unix(), 10),
		delivery.HeaderSignature: "sha256=" + rec.Signature,
		"Authorization":          "Bearer t",
		"X-Tenant":               "second",
	}
	for name, want := range checks {
		if v := got.Header.Get(name); v != want {
			t.Errorf("%s: expected %q, got %q", name, want, v)
		}
	}

	if string(body) != string(rec.Payload) {
		t.Fatalf("body differs from stored payload:\n%s\n%s", body, rec.Payload)
	}
	if !signature.Verify(body, ep.Secret, got.Header.Get(delivery.HeaderSignature)) {
		t.Fatal("signature does not verify over the received body")
	}

	var env event.Payload
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatal(err)
	}
	if env.ID.String() != rec.EventID.String() || env.TenantID != "tenant-1" || env.Type != "user.created" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestSenderCapsResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer srv.Close()

	store := memory.New()
	ep := newTestEndpoint(srv.URL, defaultPolicy())
	rec := createRecord(t, store, ep)

	res := delivery.NewSender(nil, "").Send(ctx(), ep, rec, time.Now())
	if len(res.Response) != 1024 {
		t.Fatalf("expected 1KB response, got %d", len(res.Response))
	}
	if res.Error != "HTTP 500" {
		t.Fatalf("expected HTTP 500 error, got %q", res.Error)
	}
}

func TestSenderBadURL(t *testing.T) {
	store := memory.New()
	ep := newTestEndpoint("://bad", defaultPolicy())
	rec := createRecord(t, store, ep)

	res := delivery.NewSender(nil, "").Send(ctx(), ep, rec, time.Now())
	if res.Error == "" || res.StatusCode != 0 {
		t.Fatalf("expected request error, got %+v", res)
	}
}
