package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/id"
)

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// CreateRecords inserts a batch atomically.
func (s *Store) CreateRecords(_ context.Context, recs []*delivery.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(recs))
	for _, r := range recs {
		key := r.EventID.String()
		if _, ok := s.byEventID[key]; ok || seen[key] {
			return herald.ErrDuplicateDelivery
		}
		seen[key] = true
	}

	for _, r := range recs {
		s.records[r.ID.String()] = r.Clone()
		s.byEventID[r.EventID.String()] = r.ID.String()
	}
	return nil
}

// GetRecord returns a record by ID.
func (s *Store) GetRecord(_ context.Context, recID id.ID) (*delivery.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[recID.String()]
	if !ok {
		return nil, herald.ErrDeliveryNotFound
	}
	return r.Clone(), nil
}

// ListRecords returns matching records, newest first.
func (s *Store) ListRecords(_ context.Context, opts delivery.ListOpts) ([]*delivery.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*delivery.Record
	for _, r := range s.records {
		if opts.Match(r) {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID.String() > result[j].ID.String()
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	out := make([]*delivery.Record, len(result))
	for i, r := range result {
		out[i] = r.Clone()
	}
	return out, nil
}

// Claim takes a single record for an attempt.
func (s *Store) Claim(_ context.Context, recID id.ID, token string, leaseUntil, now time.Time) (*delivery.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[recID.String()]
	if !ok {
		return nil, herald.ErrDeliveryNotFound
	}
	if !claimable(r, now) {
		return nil, herald.ErrClaimConflict
	}
	lease(r, token, leaseUntil)
	return r.Clone(), nil
}

// ClaimDue claims up to limit due records, oldest due first.
func (s *Store) ClaimDue(_ context.Context, now time.Time, limit int, token string, leaseUntil time.Time) ([]*delivery.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*delivery.Record
	for _, r := range s.records {
		if claimable(r, now) && r.NextRetryAt != nil && !r.NextRetryAt.After(now) {
			due = append(due, r)
		}
	}
	delivery.SortByDue(due)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*delivery.Record, len(due))
	for i, r := range due {
		lease(r, token, leaseUntil)
		out[i] = r.Clone()
	}
	return out, nil
}

// SaveAttempt persists an attempt outcome under the caller's claim.
func (s *Store) SaveAttempt(_ context.Context, rec *delivery.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[rec.ID.String()]
	if !ok {
		return herald.ErrDeliveryNotFound
	}
	if rec.ClaimToken == "" || r.ClaimToken != rec.ClaimToken || r.Status.Terminal() {
		return herald.ErrClaimLost
	}

	cp := rec.Clone()
	r.Status = cp.Status
	r.Attempts = cp.Attempts
	r.NextRetryAt = cp.NextRetryAt
	r.DeliveredAt = cp.DeliveredAt
	r.UpdatedAt = cp.UpdatedAt
	r.ClaimToken = ""
	r.LeaseUntil = nil
	return nil
}

// Release clears a claim if token still holds it.
func (s *Store) Release(_ context.Context, recID id.ID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[recID.String()]
	if !ok {
		return herald.ErrDeliveryNotFound
	}
	if r.ClaimToken == token {
		r.ClaimToken = ""
		r.LeaseUntil = nil
	}
	return nil
}

// CountByStatus counts matching records per status.
func (s *Store) CountByStatus(_ context.Context, f delivery.Filter) (map[delivery.Status]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[delivery.Status]int64)
	for _, r := range s.records {
		if f.Match(r) {
			counts[r.Status]++
		}
	}
	return counts, nil
}

// CountByEventType returns the most frequent event types among matching records.
func (s *Store) CountByEventType(_ context.Context, f delivery.Filter, limit int) ([]delivery.EventTypeCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, r := range s.records {
		if f.Match(r) {
			counts[r.EventType]++
		}
	}
	return topEventTypes(counts, limit), nil
}

// PruneRecords deletes terminal records last updated before before.
func (s *Store) PruneRecords(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, r := range s.records {
		if r.Status.Terminal() && r.UpdatedAt.Before(before) {
			delete(s.records, key)
			delete(s.byEventID, r.EventID.String())
			n++
		}
	}
	return n, nil
}

func claimable(r *delivery.Record, now time.Time) bool {
	if r.Status.Terminal() {
		return false
	}
	return r.LeaseUntil == nil || !r.LeaseUntil.After(now)
}

func lease(r *delivery.Record, token string, until time.Time) {
	r.ClaimToken = token
	u := until
	r.LeaseUntil = &u
}

func topEventTypes(counts map[string]int64, limit int) []delivery.EventTypeCount {
	out := make([]delivery.EventTypeCount, 0, len(counts))
	for et, n := range counts {
		out = append(out, delivery.EventTypeCount{EventType: et, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].EventType < out[j].EventType
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
