package catalog_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/xraph/herald/catalog"
)

func TestDefaultCatalog(t *testing.T) {
	c := catalog.NewDefault(nil)

	for _, name := range []string{"user.created", "billing.invoice.paid", "agent.run.completed", "support.ticket.created", catalog.TestEventType} {
		if !c.Has(name) {
			t.Errorf("expected default catalog to contain %q", name)
		}
	}
	if c.Has("nope.nope") {
		t.Fatal("unexpected event type")
	}

	billing := c.List(catalog.ListOpts{Group: "billing"})
	if len(billing) == 0 {
		t.Fatal("expected billing event types")
	}
	for i := 1; i < len(billing); i++ {
		if billing[i-1].Name > billing[i].Name {
			t.Fatal("list not sorted by name")
		}
	}
}

func TestCatalogRegisterAndGet(t *testing.T) {
	c := catalog.NewCatalog(nil)

	et, err := c.Register(catalog.EventType{Name: "order.created", Group: "order"})
	if err != nil {
		t.Fatal(err)
	}
	if et.ID.String() == "" {
		t.Fatal("expected non-empty ID")
	}

	again, err := c.Register(catalog.EventType{Name: "order.created", Description: "v2"})
	if err != nil {
		t.Fatal(err)
	}
	if again.ID.String() != et.ID.String() {
		t.Fatal("re-register should keep the ID")
	}

	got, err := c.Get("order.created")
	if err != nil {
		t.Fatal(err)
	}
	if got.Description != "v2" {
		t.Fatalf("expected v2, got %q", got.Description)
	}
}

func TestCatalogGetNotFound(t *testing.T) {
	c := catalog.NewCatalog(nil)

	if _, err := c.Get("does.not.exist"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := c.Remove("does.not.exist"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCatalogRegisterRejectsBadSchema(t *testing.T) {
	c := catalog.NewCatalog(nil)

	if _, err := c.Register(catalog.EventType{Name: "x.y", Schema: json.RawMessage(`{"type":`)}); err == nil {
		t.Fatal("expected error for malformed schema")
	}
	if _, err := c.Register(catalog.EventType{}); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestCatalogValidate(t *testing.T) {
	c := catalog.NewCatalog(nil)
	_, err := c.Register(catalog.EventType{
		Name:   "billing.invoice.paid",
		Schema: json.RawMessage(`{"type":"object","required":["amount"],"properties":{"amount":{"type":"integer"}}}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	_, _ = c.Register(catalog.EventType{Name: "free.form"})

	if err := c.Validate("billing.invoice.paid", json.RawMessage(`{"amount":100}`)); err != nil {
		t.Fatal(err)
	}
	if err := c.Validate("billing.invoice.paid", json.RawMessage(`{"amount":"100"}`)); !errors.Is(err, catalog.ErrInvalidData) {
		t.Fatalf("expected ErrInvalidData, got %v", err)
	}
	if err := c.Validate("free.form", json.RawMessage(`[1,2,3]`)); err != nil {
		t.Fatalf("schemaless type should accept anything, got %v", err)
	}
	if err := c.Validate("unknown", json.RawMessage(`{}`)); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCatalogRemove(t *testing.T) {
	c := catalog.NewCatalog(nil)
	_, _ = c.Register(catalog.EventType{Name: "x.event"})

	if err := c.Remove("x.event"); err != nil {
		t.Fatal(err)
	}
	if c.Has("x.event") {
		t.Fatal("expected removed")
	}
}
