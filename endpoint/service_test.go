package endpoint_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/store/memory"
)

func ctx() context.Context { return context.Background() }

func newService() (*endpoint.Service, *memory.Store) {
	s := memory.New()
	return endpoint.NewService(s, nil, endpoint.WithEventTypes(catalog.NewDefault(nil))), s
}

func validInput() endpoint.Input {
	return endpoint.Input{
		URL:        "https://example.com/webhook",
		EventTypes: []string{"user.created"},
	}
}

func TestEndpointServiceCreate(t *testing.T) {
	svc, _ := newService()

	ep, err := svc.Create(ctx(), "tenant-1", validInput())
	if err != nil {
		t.Fatal(err)
	}

	if ep.ID.String() == "" {
		t.Fatal("expected non-empty ID")
	}
	if !strings.HasPrefix(ep.Secret, "whsec_") {
		t.Fatalf("expected generated secret, got %q", ep.Secret)
	}
	if !ep.Active {
		t.Fatal("expected active by default")
	}
	want := endpoint.DefaultDefaults()
	if ep.RetryPolicy != want.RetryPolicy || ep.Timeout != want.Timeout {
		t.Fatalf("expected default policy, got %+v / %v", ep.RetryPolicy, ep.Timeout)
	}
}

func TestEndpointServiceCreateDedupesEventTypes(t *testing.T) {
	svc, _ := newService()

	in := validInput()
	in.EventTypes = []string{"user.created", " user.deleted ", "user.created"}
	ep, err := svc.Create(ctx(), "t1", in)
	if err != nil {
		t.Fatal(err)
	}
	if len(ep.EventTypes) != 2 || ep.EventTypes[0] != "user.created" || ep.EventTypes[1] != "user.deleted" {
		t.Fatalf("unexpected event types %v", ep.EventTypes)
	}
}

func TestEndpointServiceCreateValidation(t *testing.T) {
	svc, _ := newService()

	tests := []struct {
		name   string
		tenant string
		mutate func(*endpoint.Input)
		field  string
	}{
		{"missing tenant", "", func(*endpoint.Input) {}, "tenant_id"},
		{"missing url", "t1", func(in *endpoint.Input) { in.URL = "" }, "url"},
		{"ftp url", "t1", func(in *endpoint.Input) { in.URL = "ftp://example.com/x" }, "url"},
		{"no host", "t1", func(in *endpoint.Input) { in.URL = "https:///path" }, "url"},
		{"no event types", "t1", func(in *endpoint.Input) { in.EventTypes = nil }, "event_types"},
		{"unknown event type", "t1", func(in *endpoint.Input) { in.EventTypes = []string{"nope.nope"} }, "event_types"},
		{"zero retries", "t1", func(in *endpoint.Input) {
			in.RetryPolicy = &endpoint.RetryPolicy{MaxRetries: 0, BaseDelay: time.Second, BackoffMultiplier: 2}
		}, "retry_policy.max_retries"},
		{"zero delay", "t1", func(in *endpoint.Input) {
			in.RetryPolicy = &endpoint.RetryPolicy{MaxRetries: 3, BackoffMultiplier: 2}
		}, "retry_policy.base_delay"},
		{"shrinking backoff", "t1", func(in *endpoint.Input) {
			in.RetryPolicy = &endpoint.RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, BackoffMultiplier: 0.5}
		}, "retry_policy.backoff_multiplier"},
		{"backoff beyond cap", "t1", func(in *endpoint.Input) {
			in.RetryPolicy = &endpoint.RetryPolicy{MaxRetries: 25, BaseDelay: time.Hour, BackoffMultiplier: 10}
		}, "retry_policy"},
		{"timeout too long", "t1", func(in *endpoint.Input) { in.Timeout = time.Hour }, "timeout"},
		{"negative timeout", "t1", func(in *endpoint.Input) { in.Timeout = -time.Second }, "timeout"},
		{"bad header name", "t1", func(in *endpoint.Input) {
			in.Headers = []endpoint.Header{{Name: "Bad Header", Value: "x"}}
		}, "headers"},
		{"reserved header", "t1", func(in *endpoint.Input) {
			in.Headers = []endpoint.Header{{Name: "x-webhook-signature", Value: "forged"}}
		}, "headers"},
		{"content type header", "t1", func(in *endpoint.Input) {
			in.Headers = []endpoint.Header{{Name: "Content-Type", Value: "text/plain"}}
		}, "headers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			_, err := svc.Create(ctx(), tt.tenant, in)
			var ve *endpoint.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Fatalf("expected field %q, got %q (%v)", tt.field, ve.Field, ve)
			}
		})
	}
}

func TestEndpointServiceRedactsAfterCreate(t *testing.T) {
	svc, _ := newService()

	ep, err := svc.Create(ctx(), "t1", validInput())
	if err != nil {
		t.Fatal(err)
	}

	got, err := svc.Get(ctx(), "t1", ep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Secret != "" {
		t.Fatal("Get must redact the secret")
	}
	b, _ := json.Marshal(got)
	if strings.Contains(string(b), "secret") {
		t.Fatalf("redacted endpoint serialized a secret: %s", b)
	}

	list, _ := svc.List(ctx(), "t1", endpoint.ListOpts{})
	if len(list) != 1 || list[0].Secret != "" {
		t.Fatal("List must redact the secret")
	}

	active := false
	updated, err := svc.Update(ctx(), "t1", ep.ID, endpoint.Patch{Active: &active})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Secret != "" {
		t.Fatal("Update must redact the secret")
	}
}

func TestEndpointServiceTenantIsolation(t *testing.T) {
	svc, _ := newService()

	ep, _ := svc.Create(ctx(), "t1", validInput())

	if _, err := svc.Get(ctx(), "t2", ep.ID); !errors.Is(err, endpoint.ErrNotFound) {
		t.Fatalf("expected ErrNotFound across tenants, got %v", err)
	}
	url := "https://evil.example.com"
	if _, err := svc.Update(ctx(), "t2", ep.ID, endpoint.Patch{URL: &url}); !errors.Is(err, endpoint.ErrNotFound) {
		t.Fatalf("expected ErrNotFound across tenants, got %v", err)
	}
	if err := svc.Delete(ctx(), "t2", ep.ID); !errors.Is(err, endpoint.ErrNotFound) {
		t.Fatalf("expected ErrNotFound across tenants, got %v", err)
	}
}

func TestEndpointServiceUpdate(t *testing.T) {
	svc, _ := newService()

	ep, _ := svc.Create(ctx(), "t1", validInput())

	url := "http://hooks.example.com/in"
	timeout := 5 * time.Second
	policy := endpoint.RetryPolicy{MaxRetries: 5, BaseDelay: 2 * time.Second, BackoffMultiplier: 3}
	updated, err := svc.Update(ctx(), "t1", ep.ID, endpoint.Patch{
		URL:         &url,
		EventTypes:  []string{"billing.invoice.paid"},
		RetryPolicy: &policy,
		Timeout:     &timeout,
		Headers:     []endpoint.Header{{Name: "Authorization", Value: "Bearer x"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.URL != url || updated.Timeout != timeout || updated.RetryPolicy != policy {
		t.Fatalf("patch not applied: %+v", updated)
	}
	if !updated.Subscribed("billing.invoice.paid") || updated.Subscribed("user.created") {
		t.Fatalf("unexpected subscriptions %v", updated.EventTypes)
	}

	bad := "not a url"
	if _, err := svc.Update(ctx(), "t1", ep.ID, endpoint.Patch{URL: &bad}); err == nil {
		t.Fatal("expected validation error")
	}
	got, _ := svc.Get(ctx(), "t1", ep.ID)
	if got.URL != url {
		t.Fatal("failed update must not be persisted")
	}
}

func TestEndpointServiceSoftDelete(t *testing.T) {
	svc, s := newService()

	ep, _ := svc.Create(ctx(), "t1", validInput())

	if err := svc.Delete(ctx(), "t1", ep.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx(), "t1", ep.ID); !errors.Is(err, endpoint.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	list, _ := svc.List(ctx(), "t1", endpoint.ListOpts{})
	if len(list) != 0 {
		t.Fatalf("expected no listed endpoints, got %d", len(list))
	}
	all, _ := svc.List(ctx(), "t1", endpoint.ListOpts{IncludeDeleted: true})
	if len(all) != 1 || all[0].DeletedAt == nil || all[0].Active {
		t.Fatalf("expected one soft-deleted inactive endpoint, got %+v", all)
	}

	resolved, _ := s.Resolve(ctx(), "t1", "user.created")
	if len(resolved) != 0 {
		t.Fatal("soft-deleted endpoint must not resolve")
	}

	if err := svc.Remove(ctx(), "t1", ep.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetEndpoint(ctx(), ep.ID); !errors.Is(err, endpoint.ErrNotFound) {
		t.Fatalf("expected hard delete, got %v", err)
	}
}

func TestEndpointServiceList(t *testing.T) {
	svc, _ := newService()

	for range 3 {
		_, _ = svc.Create(ctx(), "t1", validInput())
	}
	other := validInput()
	other.EventTypes = []string{"support.ticket.created"}
	_, _ = svc.Create(ctx(), "t1", other)
	_, _ = svc.Create(ctx(), "t2", validInput())

	list, err := svc.List(ctx(), "t1", endpoint.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 4 {
		t.Fatalf("expected 4, got %d", len(list))
	}

	list, _ = svc.List(ctx(), "t1", endpoint.ListOpts{EventType: "support.ticket.created"})
	if len(list) != 1 {
		t.Fatalf("expected 1 support subscriber, got %d", len(list))
	}

	list, _ = svc.List(ctx(), "t1", endpoint.ListOpts{Limit: 2, Offset: 1})
	if len(list) != 2 {
		t.Fatalf("expected page of 2, got %d", len(list))
	}
}

func TestEndpointServiceRotateSecret(t *testing.T) {
	svc, s := newService()

	ep, _ := svc.Create(ctx(), "t1", validInput())

	newSecret, err := svc.RotateSecret(ctx(), "t1", ep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if newSecret == ep.Secret || !strings.HasPrefix(newSecret, "whsec_") {
		t.Fatalf("unexpected rotated secret %q", newSecret)
	}

	stored, _ := s.GetEndpoint(ctx(), ep.ID)
	if stored.Secret != newSecret {
		t.Fatal("secret not persisted after rotation")
	}
}

func TestEndpointServiceRotateSecretNotFound(t *testing.T) {
	svc, _ := newService()

	_, err := svc.RotateSecret(ctx(), "t1", id.NewEndpointID())
	if !errors.Is(err, endpoint.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
