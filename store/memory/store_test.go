package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
)

func ctx() context.Context { return context.Background() }

func newEndpoint(tenant string, types ...string) *endpoint.Endpoint {
	return &endpoint.Endpoint{
		Entity:     entity.New(),
		ID:         id.NewEndpointID(),
		TenantID:   tenant,
		URL:        "https://example.com/hook",
		Secret:     "whsec_test",
		EventTypes: types,
		Active:     true,
		RetryPolicy: endpoint.RetryPolicy{
			MaxRetries: 3, BaseDelay: time.Second, BackoffMultiplier: 2,
		},
		Timeout: time.Second,
	}
}

func newRecord(tenant string, epID id.ID, eventType string, next time.Time) *delivery.Record {
	return &delivery.Record{
		Entity:      entity.New(),
		ID:          id.NewDeliveryID(),
		TenantID:    tenant,
		EndpointID:  epID,
		EventType:   eventType,
		EventID:     id.NewEventID(),
		Payload:     json.RawMessage(`{"a":1}`),
		Signature:   "abc",
		Status:      delivery.StatusPending,
		NextRetryAt: &next,
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	s := New()

	if err := s.Migrate(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); !errors.Is(err, herald.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// endpoint.Store
// ──────────────────────────────────────────────────

func TestEndpointCRUD(t *testing.T) {
	s := New()
	ep := newEndpoint("t1", "user.created")

	if err := s.CreateEndpoint(ctx(), ep); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetEndpoint(ctx(), ep.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.URL != ep.URL || got.Secret != ep.Secret {
		t.Fatalf("unexpected endpoint %+v", got)
	}

	// Returned values are copies.
	got.EventTypes[0] = "mutated"
	again, _ := s.GetEndpoint(ctx(), ep.ID)
	if again.EventTypes[0] != "user.created" {
		t.Fatal("store shares state with callers")
	}

	if err := s.DeleteEndpoint(ctx(), ep.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetEndpoint(ctx(), ep.ID); !errors.Is(err, herald.ErrEndpointNotFound) {
		t.Fatalf("expected ErrEndpointNotFound, got %v", err)
	}
	if err := s.DeleteEndpoint(ctx(), ep.ID); !errors.Is(err, herald.ErrEndpointNotFound) {
		t.Fatalf("expected ErrEndpointNotFound, got %v", err)
	}
}

func TestUpdateEndpointKeepsCounters(t *testing.T) {
	s := New()
	ep := newEndpoint("t1", "user.created")
	_ = s.CreateEndpoint(ctx(), ep)

	if err := s.IncrementCounters(ctx(), ep.ID, true, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.IncrementCounters(ctx(), ep.ID, false, "HTTP 500"); err != nil {
		t.Fatal(err)
	}

	ep.URL = "https://example.com/other"
	ep.SuccessCount = 0
	if err := s.UpdateEndpoint(ctx(), ep); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetEndpoint(ctx(), ep.ID)
	if got.URL != "https://example.com/other" {
		t.Fatalf("url not updated: %s", got.URL)
	}
	if got.SuccessCount != 1 || got.FailureCount != 1 || got.LastError != "HTTP 500" {
		t.Fatalf("counters lost: %+v", got)
	}
}

func TestIncrementCountersConcurrent(t *testing.T) {
	s := New()
	ep := newEndpoint("t1", "user.created")
	_ = s.CreateEndpoint(ctx(), ep)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(ok bool) {
			defer wg.Done()
			_ = s.IncrementCounters(ctx(), ep.ID, ok, "x")
		}(i%2 == 0)
	}
	wg.Wait()

	got, _ := s.GetEndpoint(ctx(), ep.ID)
	if got.SuccessCount != 25 || got.FailureCount != 25 {
		t.Fatalf("expected 25/25, got %d/%d", got.SuccessCount, got.FailureCount)
	}
}

func TestResolve(t *testing.T) {
	s := New()

	match := newEndpoint("t1", "user.created", "user.deleted")
	other := newEndpoint("t1", "billing.invoice.paid")
	inactive := newEndpoint("t1", "user.created")
	inactive.Active = false
	deleted := newEndpoint("t1", "user.created")
	now := time.Now()
	deleted.DeletedAt = &now
	foreign := newEndpoint("t2", "user.created")

	for _, ep := range []*endpoint.Endpoint{match, other, inactive, deleted, foreign} {
		_ = s.CreateEndpoint(ctx(), ep)
	}

	got, err := s.Resolve(ctx(), "t1", "user.created")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID.String() != match.ID.String() {
		t.Fatalf("expected only the matching endpoint, got %d", len(got))
	}
}

func TestListEndpointsPagination(t *testing.T) {
	s := New()
	for range 5 {
		_ = s.CreateEndpoint(ctx(), newEndpoint("t1", "user.created"))
	}
	_ = s.CreateEndpoint(ctx(), newEndpoint("t2", "user.created"))

	all, _ := s.ListEndpoints(ctx(), "t1", endpoint.ListOpts{})
	if len(all) != 5 {
		t.Fatalf("expected 5, got %d", len(all))
	}
	page, _ := s.ListEndpoints(ctx(), "t1", endpoint.ListOpts{Offset: 3, Limit: 10})
	if len(page) != 2 {
		t.Fatalf("expected 2, got %d", len(page))
	}
	past, _ := s.ListEndpoints(ctx(), "t1", endpoint.ListOpts{Offset: 10})
	if len(past) != 0 {
		t.Fatalf("expected 0, got %d", len(past))
	}
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

func TestCreateRecordsDuplicate(t *testing.T) {
	s := New()
	epID := id.NewEndpointID()
	r1 := newRecord("t1", epID, "user.created", time.Now())

	if err := s.CreateRecords(ctx(), []*delivery.Record{r1}); err != nil {
		t.Fatal(err)
	}

	dup := newRecord("t1", epID, "user.created", time.Now())
	dup.EventID = r1.EventID
	fresh := newRecord("t1", epID, "user.created", time.Now())
	err := s.CreateRecords(ctx(), []*delivery.Record{fresh, dup})
	if !errors.Is(err, herald.ErrDuplicateDelivery) {
		t.Fatalf("expected ErrDuplicateDelivery, got %v", err)
	}

	// The batch is all or nothing.
	if _, err := s.GetRecord(ctx(), fresh.ID); !errors.Is(err, herald.ErrDeliveryNotFound) {
		t.Fatalf("expected partial batch to be rejected, got %v", err)
	}
}

func TestClaimConflict(t *testing.T) {
	s := New()
	now := time.Now().UTC()
	r := newRecord("t1", id.NewEndpointID(), "user.created", now.Add(time.Hour))
	_ = s.CreateRecords(ctx(), []*delivery.Record{r})

	claimed, err := s.Claim(ctx(), r.ID, "tok-1", now.Add(time.Minute), now)
	if err != nil {
		t.Fatal(err)
	}
	if claimed.ClaimToken != "tok-1" {
		t.Fatalf("expected claim token, got %q", claimed.ClaimToken)
	}

	if _, err := s.Claim(ctx(), r.ID, "tok-2", now.Add(time.Minute), now); !errors.Is(err, herald.ErrClaimConflict) {
		t.Fatalf("expected ErrClaimConflict, got %v", err)
	}

	// An expired lease can be taken over.
	later := now.Add(2 * time.Minute)
	if _, err := s.Claim(ctx(), r.ID, "tok-3", later.Add(time.Minute), later); err != nil {
		t.Fatalf("expected takeover of expired lease, got %v", err)
	}
}

func TestClaimDue(t *testing.T) {
	s := New()
	now := time.Now().UTC()
	epID := id.NewEndpointID()

	early := newRecord("t1", epID, "a", now.Add(-2*time.Minute))
	late := newRecord("t1", epID, "a", now.Add(-time.Minute))
	future := newRecord("t1", epID, "a", now.Add(time.Hour))
	done := newRecord("t1", epID, "a", now.Add(-time.Hour))
	done.Status = delivery.StatusDelivered
	_ = s.CreateRecords(ctx(), []*delivery.Record{early, late, future, done})

	got, err := s.ClaimDue(ctx(), now, 1, "tok", now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID.String() != early.ID.String() {
		t.Fatal("expected the oldest due record first")
	}

	got, _ = s.ClaimDue(ctx(), now, 10, "tok2", now.Add(time.Minute))
	if len(got) != 1 || got[0].ID.String() != late.ID.String() {
		t.Fatalf("expected only the remaining due record, got %d", len(got))
	}

	got, _ = s.ClaimDue(ctx(), now, 10, "tok3", now.Add(time.Minute))
	if len(got) != 0 {
		t.Fatalf("expected leased records to be skipped, got %d", len(got))
	}
}

func TestSaveAttemptGuardedByClaim(t *testing.T) {
	s := New()
	now := time.Now().UTC()
	r := newRecord("t1", id.NewEndpointID(), "a", now)
	_ = s.CreateRecords(ctx(), []*delivery.Record{r})

	claimed, _ := s.Claim(ctx(), r.ID, "tok", now.Add(time.Minute), now)

	stale := claimed.Clone()
	stale.ClaimToken = "other"
	stale.Status = delivery.StatusDelivered
	if err := s.SaveAttempt(ctx(), stale); !errors.Is(err, herald.ErrClaimLost) {
		t.Fatalf("expected ErrClaimLost, got %v", err)
	}

	code := 200
	claimed.Attempts = append(claimed.Attempts, delivery.Attempt{At: now, StatusCode: &code})
	claimed.Status = delivery.StatusDelivered
	claimed.DeliveredAt = &now
	claimed.NextRetryAt = nil
	if err := s.SaveAttempt(ctx(), claimed); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetRecord(ctx(), r.ID)
	if got.Status != delivery.StatusDelivered || len(got.Attempts) != 1 {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.ClaimToken != "" || got.LeaseUntil != nil {
		t.Fatal("expected claim cleared")
	}

	// Terminal records never change again.
	if err := s.SaveAttempt(ctx(), claimed); !errors.Is(err, herald.ErrClaimLost) {
		t.Fatalf("expected ErrClaimLost on terminal record, got %v", err)
	}
	if _, err := s.Claim(ctx(), r.ID, "tok2", now.Add(time.Minute), now); !errors.Is(err, herald.ErrClaimConflict) {
		t.Fatalf("expected ErrClaimConflict on terminal record, got %v", err)
	}
}

func TestRelease(t *testing.T) {
	s := New()
	now := time.Now().UTC()
	r := newRecord("t1", id.NewEndpointID(), "a", now)
	_ = s.CreateRecords(ctx(), []*delivery.Record{r})

	_, _ = s.Claim(ctx(), r.ID, "tok", now.Add(time.Minute), now)

	// A foreign token does not release.
	_ = s.Release(ctx(), r.ID, "other")
	if _, err := s.Claim(ctx(), r.ID, "tok2", now.Add(time.Minute), now); !errors.Is(err, herald.ErrClaimConflict) {
		t.Fatalf("expected claim still held, got %v", err)
	}

	if err := s.Release(ctx(), r.ID, "tok"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Claim(ctx(), r.ID, "tok2", now.Add(time.Minute), now); err != nil {
		t.Fatalf("expected claim after release, got %v", err)
	}
}

func TestListRecordsFilters(t *testing.T) {
	s := New()
	now := time.Now().UTC()
	ep1, ep2 := id.NewEndpointID(), id.NewEndpointID()

	a := newRecord("t1", ep1, "user.created", now)
	b := newRecord("t1", ep2, "user.created", now)
	b.Status = delivery.StatusFailed
	c := newRecord("t1", ep1, "billing.invoice.paid", now)
	c.CreatedAt = now.Add(-48 * time.Hour)
	d := newRecord("t2", ep1, "user.created", now)
	_ = s.CreateRecords(ctx(), []*delivery.Record{a, b, c, d})

	cases := []struct {
		name string
		opts delivery.ListOpts
		want int
	}{
		{"tenant", delivery.ListOpts{Filter: delivery.Filter{TenantID: "t1"}}, 3},
		{"endpoint", delivery.ListOpts{Filter: delivery.Filter{TenantID: "t1", EndpointID: ep1}}, 2},
		{"event type", delivery.ListOpts{Filter: delivery.Filter{TenantID: "t1", EventType: "user.created"}}, 2},
		{"status", delivery.ListOpts{Filter: delivery.Filter{TenantID: "t1", Status: delivery.StatusFailed}}, 1},
		{"from", delivery.ListOpts{Filter: delivery.Filter{TenantID: "t1", From: ptr(now.Add(-time.Hour))}}, 2},
		{"to", delivery.ListOpts{Filter: delivery.Filter{TenantID: "t1", To: ptr(now.Add(-time.Hour))}}, 1},
		{"limit", delivery.ListOpts{Filter: delivery.Filter{TenantID: "t1"}, Limit: 2}, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.ListRecords(ctx(), tc.opts)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, len(got))
			}
		})
	}

	// Newest first.
	got, _ := s.ListRecords(ctx(), delivery.ListOpts{Filter: delivery.Filter{TenantID: "t1", EndpointID: ep1}})
	if got[0].ID.String() != a.ID.String() {
		t.Fatal("expected newest record first")
	}
}

func TestCounts(t *testing.T) {
	s := New()
	now := time.Now().UTC()
	epID := id.NewEndpointID()

	var recs []*delivery.Record
	for range 3 {
		recs = append(recs, newRecord("t1", epID, "user.created", now))
	}
	for range 2 {
		r := newRecord("t1", epID, "billing.invoice.paid", now)
		r.Status = delivery.StatusFailed
		recs = append(recs, r)
	}
	recs = append(recs, newRecord("t1", epID, "agent.created", now))
	recs = append(recs, newRecord("t2", epID, "agent.created", now))
	_ = s.CreateRecords(ctx(), recs)

	byStatus, _ := s.CountByStatus(ctx(), delivery.Filter{TenantID: "t1"})
	if byStatus[delivery.StatusPending] != 4 || byStatus[delivery.StatusFailed] != 2 {
		t.Fatalf("unexpected status counts %v", byStatus)
	}

	top, _ := s.CountByEventType(ctx(), delivery.Filter{TenantID: "t1"}, 2)
	if len(top) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(top))
	}
	if top[0].EventType != "user.created" || top[0].Count != 3 {
		t.Fatalf("unexpected top row %+v", top[0])
	}
	if top[1].EventType != "billing.invoice.paid" || top[1].Count != 2 {
		t.Fatalf("unexpected second row %+v", top[1])
	}
}

func TestPruneRecords(t *testing.T) {
	s := New()
	now := time.Now().UTC()
	epID := id.NewEndpointID()

	old := newRecord("t1", epID, "a", now)
	old.Status = delivery.StatusDelivered
	old.UpdatedAt = now.Add(-48 * time.Hour)
	oldPending := newRecord("t1", epID, "a", now)
	oldPending.UpdatedAt = now.Add(-48 * time.Hour)
	recent := newRecord("t1", epID, "a", now)
	recent.Status = delivery.StatusFailed
	_ = s.CreateRecords(ctx(), []*delivery.Record{old, oldPending, recent})

	n, err := s.PruneRecords(ctx(), now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
	if _, err := s.GetRecord(ctx(), old.ID); !errors.Is(err, herald.ErrDeliveryNotFound) {
		t.Fatal("expected old terminal record pruned")
	}
	if _, err := s.GetRecord(ctx(), oldPending.ID); err != nil {
		t.Fatal("non-terminal records are never pruned")
	}
}

func ptr[T any](v T) *T { return &v }
