package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/herald/id"
)

var (
	// ErrNotFound is returned when a delivery record does not exist.
	ErrNotFound = errors.New("herald: delivery not found")

	// ErrDuplicate is returned when a record with the same event ID exists.
	ErrDuplicate = errors.New("herald: duplicate delivery")

	// ErrClaimConflict is returned when a record is terminal or held by
	// another claim.
	ErrClaimConflict = errors.New("herald: delivery already claimed or complete")

	// ErrClaimLost is returned when an outcome is saved under a claim that
	// is no longer current.
	ErrClaimLost = errors.New("herald: delivery claim lost")
)

// Store defines the persistence contract for delivery records.
type Store interface {
	// CreateRecords inserts a batch of new records atomically. It fails with
	// ErrDuplicate if any event ID already exists.
	CreateRecords(ctx context.Context, recs []*Record) error

	// GetRecord returns a record by ID.
	GetRecord(ctx context.Context, recID id.ID) (*Record, error)

	// ListRecords returns records matching opts, newest first.
	ListRecords(ctx context.Context, opts ListOpts) ([]*Record, error)

	// Claim takes the record for one attempt regardless of NextRetryAt. It
	// succeeds only if the record is not terminal and has no live lease at
	// now; otherwise it returns ErrClaimConflict.
	Claim(ctx context.Context, recID id.ID, token string, leaseUntil, now time.Time) (*Record, error)

	// ClaimDue claims up to limit non-terminal records whose NextRetryAt is
	// at or before now and whose lease is absent or expired, oldest due first.
	ClaimDue(ctx context.Context, now time.Time, limit int, token string, leaseUntil time.Time) ([]*Record, error)

	// SaveAttempt persists Status, Attempts, NextRetryAt and DeliveredAt and
	// clears the claim, provided rec.ClaimToken still holds the record and
	// the stored record is not terminal. Otherwise it returns ErrClaimLost.
	SaveAttempt(ctx context.Context, rec *Record) error

	// Release clears a claim without recording an attempt.
	Release(ctx context.Context, recID id.ID, token string) error

	// CountByStatus counts records matching f per status.
	CountByStatus(ctx context.Context, f Filter) (map[Status]int64, error)

	// CountByEventType returns the limit most frequent event types among
	// records matching f, by descending count then name.
	CountByEventType(ctx context.Context, f Filter, limit int) ([]EventTypeCount, error)

	// PruneRecords deletes terminal records last updated before before.
	PruneRecords(ctx context.Context, before time.Time) (int64, error)
}
