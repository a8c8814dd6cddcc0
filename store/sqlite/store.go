// Package sqlite implements the herald store on SQLite through the grove
// ORM. SQLite serializes writers, so claims are plain conditional updates.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/herald"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/id"
	heraldstore "github.com/xraph/herald/store"
)

// compile-time interface check
var _ heraldstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("herald/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("herald/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Endpoint Store ====================

func (s *Store) CreateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	m, err := toEndpointModel(ep)
	if err != nil {
		return err
	}
	_, err = s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	m := new(endpointModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", epID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, herald.ErrEndpointNotFound
		}
		return nil, err
	}
	return fromEndpointModel(m)
}

func (s *Store) UpdateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	m, err := toEndpointModel(ep)
	if err != nil {
		return err
	}
	res, err := s.sdb.NewUpdate((*endpointModel)(nil)).
		Set("name = ?", m.Name).
		Set("url = ?", m.URL).
		Set("secret = ?", m.Secret).
		Set("event_types = ?", m.EventTypes).
		Set("active = ?", m.Active).
		Set("max_retries = ?", m.MaxRetries).
		Set("base_delay_ms = ?", m.BaseDelayMs).
		Set("backoff_multiplier = ?", m.BackoffMultiplier).
		Set("timeout_ms = ?", m.TimeoutMs).
		Set("headers = ?", m.Headers).
		Set("deleted_at = ?", m.DeletedAt).
		Set("updated_at = ?", now()).
		Where("id = ?", m.ID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, herald.ErrEndpointNotFound)
}

func (s *Store) DeleteEndpoint(ctx context.Context, epID id.ID) error {
	res, err := s.sdb.NewDelete((*endpointModel)(nil)).
		Where("id = ?", epID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, herald.ErrEndpointNotFound)
}

func (s *Store) ListEndpoints(ctx context.Context, tenantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	var models []endpointModel
	q := s.sdb.NewSelect(&models).Where("tenant_id = ?", tenantID)
	if !opts.IncludeDeleted {
		q = q.Where("deleted_at IS NULL")
	}
	if opts.Active != nil {
		q = q.Where("active = ?", *opts.Active)
	}
	if opts.EventType != "" {
		q = q.Where(subscribedClause, opts.EventType)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC, id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromEndpointModels(models)
}

func (s *Store) Resolve(ctx context.Context, tenantID, eventType string) ([]*endpoint.Endpoint, error) {
	var models []endpointModel
	if err := s.sdb.NewSelect(&models).
		Where("tenant_id = ?", tenantID).
		Where("active = 1").
		Where("deleted_at IS NULL").
		Where(subscribedClause, eventType).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	return fromEndpointModels(models)
}

func (s *Store) IncrementCounters(ctx context.Context, epID id.ID, success bool, lastError string) error {
	q := s.sdb.NewUpdate((*endpointModel)(nil))
	if success {
		q = q.Set("success_count = success_count + 1")
	} else {
		q = q.Set("failure_count = failure_count + 1").
			Set("last_error = ?", lastError)
	}
	res, err := q.Where("id = ?", epID.String()).Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, herald.ErrEndpointNotFound)
}

// ==================== Delivery Store ====================

func (s *Store) CreateRecords(ctx context.Context, recs []*delivery.Record) error {
	if len(recs) == 0 {
		return nil
	}
	models := make([]deliveryModel, len(recs))
	for i, r := range recs {
		m, err := toDeliveryModel(r)
		if err != nil {
			return err
		}
		models[i] = *m
	}
	if _, err := s.sdb.NewInsert(&models).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return herald.ErrDuplicateDelivery
		}
		return err
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, recID id.ID) (*delivery.Record, error) {
	m := new(deliveryModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", recID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, herald.ErrDeliveryNotFound
		}
		return nil, err
	}
	return fromDeliveryModel(m)
}

func (s *Store) ListRecords(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Record, error) {
	var models []deliveryModel
	clause, args := filterWhere(opts.Filter)
	q := s.sdb.NewSelect(&models).Where(clause, args...)
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromDeliveryModels(models)
}

func (s *Store) Claim(ctx context.Context, recID id.ID, token string, leaseUntil, now time.Time) (*delivery.Record, error) {
	var models []deliveryModel
	err := s.sdb.NewRaw(`
		UPDATE herald_deliveries
		SET claim_token = ?, lease_until = ?
		WHERE id = ?
		  AND status IN ('pending', 'retrying')
		  AND (lease_until IS NULL OR lease_until <= ?)
		RETURNING *
	`, token, leaseUntil, recID.String(), now).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		if _, err := s.GetRecord(ctx, recID); err != nil {
			return nil, err
		}
		return nil, herald.ErrClaimConflict
	}
	return fromDeliveryModel(&models[0])
}

func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int, token string, leaseUntil time.Time) ([]*delivery.Record, error) {
	// SQLite serializes writes (WAL mode), so no FOR UPDATE SKIP LOCKED needed.
	var models []deliveryModel
	err := s.sdb.NewRaw(`
		UPDATE herald_deliveries
		SET claim_token = ?, lease_until = ?
		WHERE id IN (
			SELECT id FROM herald_deliveries
			WHERE status IN ('pending', 'retrying')
			  AND next_retry_at <= ?
			  AND (lease_until IS NULL OR lease_until <= ?)
			ORDER BY next_retry_at ASC, id ASC
			LIMIT ?
		)
		RETURNING *
	`, token, leaseUntil, now, now, limit).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	recs, err := fromDeliveryModels(models)
	if err != nil {
		return nil, err
	}
	delivery.SortByDue(recs)
	return recs, nil
}

func (s *Store) SaveAttempt(ctx context.Context, rec *delivery.Record) error {
	if rec.ClaimToken == "" {
		return herald.ErrClaimLost
	}
	attempts, err := encodeAttempts(rec.Attempts)
	if err != nil {
		return err
	}
	res, err := s.sdb.NewUpdate((*deliveryModel)(nil)).
		Set("status = ?", string(rec.Status)).
		Set("attempts = ?", attempts).
		Set("next_retry_at = ?", rec.NextRetryAt).
		Set("delivered_at = ?", rec.DeliveredAt).
		Set("updated_at = ?", rec.UpdatedAt).
		Set("claim_token = ''").
		Set("lease_until = NULL").
		Where("id = ?", rec.ID.String()).
		Where("claim_token = ?", rec.ClaimToken).
		Where("status IN ('pending', 'retrying')").
		Exec(ctx)
	if err != nil {
		return err
	}
	if err := expectRows(res, herald.ErrClaimLost); err != nil {
		if _, getErr := s.GetRecord(ctx, rec.ID); getErr != nil {
			return getErr
		}
		return err
	}
	return nil
}

func (s *Store) Release(ctx context.Context, recID id.ID, token string) error {
	res, err := s.sdb.NewUpdate((*deliveryModel)(nil)).
		Set("claim_token = ''").
		Set("lease_until = NULL").
		Where("id = ?", recID.String()).
		Where("claim_token = ?", token).
		Exec(ctx)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		_, err := s.GetRecord(ctx, recID)
		return err
	}
	return nil
}

func (s *Store) CountByStatus(ctx context.Context, f delivery.Filter) (map[delivery.Status]int64, error) {
	clause, args := filterWhere(f)
	var rows []statusCount
	err := s.sdb.NewRaw(`
		SELECT status, COUNT(*) AS count
		FROM herald_deliveries
		WHERE `+clause+`
		GROUP BY status
	`, args...).Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	counts := make(map[delivery.Status]int64, len(rows))
	for _, r := range rows {
		counts[delivery.Status(r.Status)] = r.Count
	}
	return counts, nil
}

func (s *Store) CountByEventType(ctx context.Context, f delivery.Filter, limit int) ([]delivery.EventTypeCount, error) {
	clause, args := filterWhere(f)
	query := `
		SELECT event_type, COUNT(*) AS count
		FROM herald_deliveries
		WHERE ` + clause + `
		GROUP BY event_type
		ORDER BY count DESC, event_type ASC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	var rows []eventTypeCount
	if err := s.sdb.NewRaw(query, args...).Scan(ctx, &rows); err != nil {
		return nil, err
	}
	out := make([]delivery.EventTypeCount, len(rows))
	for i, r := range rows {
		out[i] = delivery.EventTypeCount{EventType: r.EventType, Count: r.Count}
	}
	return out, nil
}

func (s *Store) PruneRecords(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.sdb.NewDelete((*deliveryModel)(nil)).
		Where("status IN ('delivered', 'failed')").
		Where("updated_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ==================== Helpers ====================

// subscribedClause matches endpoints whose JSON event_types array holds the
// bound value.
const subscribedClause = "EXISTS (SELECT 1 FROM json_each(event_types) WHERE json_each.value = ?)"

func filterWhere(f delivery.Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.TenantID != "" {
		clauses = append(clauses, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if !f.EndpointID.IsNil() {
		clauses = append(clauses, "endpoint_id = ?")
		args = append(args, f.EndpointID.String())
	}
	if f.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.From != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, *f.From)
	}
	if f.To != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, *f.To)
	}
	if len(clauses) == 0 {
		return "1 = 1", nil
	}
	return strings.Join(clauses, " AND "), args
}

func fromEndpointModels(models []endpointModel) ([]*endpoint.Endpoint, error) {
	result := make([]*endpoint.Endpoint, len(models))
	for i := range models {
		ep, err := fromEndpointModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = ep
	}
	return result, nil
}

func fromDeliveryModels(models []deliveryModel) ([]*delivery.Record, error) {
	result := make([]*delivery.Record, len(models))
	for i := range models {
		r, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func expectRows(res rowsAffecter, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
