// Package postgres implements the herald store on PostgreSQL through the
// grove ORM. Delivery claims use row locking with SKIP LOCKED so several
// schedulers can share one database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/herald"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/id"
	heraldstore "github.com/xraph/herald/store"
)

// compile-time interface check
var _ heraldstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("herald/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("herald/postgres: migration failed: %w", err)
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
	_, err = s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error) {
	m := new(endpointModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", epID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, herald.ErrEndpointNotFound
		}
		return nil, err
	}
	return fromEndpointModel(m)
}

// UpdateEndpoint writes configuration columns only; counters are owned by
// IncrementCounters.
func (s *Store) UpdateEndpoint(ctx context.Context, ep *endpoint.Endpoint) error {
	m, err := toEndpointModel(ep)
	if err != nil {
		return err
	}
	res, err := s.pg.NewUpdate((*endpointModel)(nil)).
		Set("name = $1", m.Name).
		Set("url = $2", m.URL).
		Set("secret = $3", m.Secret).
		Set("event_types = $4", m.EventTypes).
		Set("active = $5", m.Active).
		Set("max_retries = $6", m.MaxRetries).
		Set("base_delay_ms = $7", m.BaseDelayMs).
		Set("backoff_multiplier = $8", m.BackoffMultiplier).
		Set("timeout_ms = $9", m.TimeoutMs).
		Set("headers = $10", m.Headers).
		Set("deleted_at = $11", m.DeletedAt).
		Set("updated_at = $12", time.Now().UTC()).
		Where("id = $13", m.ID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, herald.ErrEndpointNotFound)
}

func (s *Store) DeleteEndpoint(ctx context.Context, epID id.ID) error {
	res, err := s.pg.NewDelete((*endpointModel)(nil)).
		Where("id = $1", epID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectRows(res, herald.ErrEndpointNotFound)
}

func (s *Store) ListEndpoints(ctx context.Context, tenantID string, opts endpoint.ListOpts) ([]*endpoint.Endpoint, error) {
	var models []endpointModel
	q := s.pg.NewSelect(&models).Where("tenant_id = $1", tenantID)

	argIdx := 1
	if !opts.IncludeDeleted {
		q = q.Where("deleted_at IS NULL")
	}
	if opts.Active != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("active = $%d", argIdx), *opts.Active)
	}
	if opts.EventType != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("$%d = ANY(event_types)", argIdx), opts.EventType)
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
	if err := s.pg.NewSelect(&models).
		Where("tenant_id = $1", tenantID).
		Where("active = true").
		Where("deleted_at IS NULL").
		Where("$2 = ANY(event_types)", eventType).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	return fromEndpointModels(models)
}

func (s *Store) IncrementCounters(ctx context.Context, epID id.ID, success bool, lastError string) error {
	q := s.pg.NewUpdate((*endpointModel)(nil))
	if success {
		q = q.Set("success_count = success_count + 1").
			Where("id = $1", epID.String())
	} else {
		q = q.Set("failure_count = failure_count + 1").
			Set("last_error = $1", lastError).
			Where("id = $2", epID.String())
	}
	res, err := q.Exec(ctx)
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
	// A multi-row INSERT is one statement, so the batch lands atomically.
	if _, err := s.pg.NewInsert(&models).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return herald.ErrDuplicateDelivery
		}
		return err
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, recID id.ID) (*delivery.Record, error) {
	m := new(deliveryModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", recID.String()).
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
	clause, args := filterWhere(opts.Filter, 1)
	q := s.pg.NewSelect(&models).Where(clause, args...)
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
	err := s.pg.NewRaw(`
		UPDATE herald_deliveries
		SET claim_token = $1, lease_until = $2
		WHERE id = $3
		  AND status IN ('pending', 'retrying')
		  AND (lease_until IS NULL OR lease_until <= $4)
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
	// Use raw SQL for the FOR UPDATE SKIP LOCKED claim pattern.
	var models []deliveryModel
	err := s.pg.NewRaw(`
		UPDATE herald_deliveries
		SET claim_token = $1, lease_until = $2
		WHERE id IN (
			SELECT id FROM herald_deliveries
			WHERE status IN ('pending', 'retrying')
			  AND next_retry_at <= $3
			  AND (lease_until IS NULL OR lease_until <= $3)
			ORDER BY next_retry_at ASC, id ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, token, leaseUntil, now, limit).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	recs, err := fromDeliveryModels(models)
	if err != nil {
		return nil, err
	}
	// RETURNING does not preserve the subquery's order.
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
	res, err := s.pg.NewUpdate((*deliveryModel)(nil)).
		Set("status = $1", string(rec.Status)).
		Set("attempts = $2", attempts).
		Set("next_retry_at = $3", rec.NextRetryAt).
		Set("delivered_at = $4", rec.DeliveredAt).
		Set("updated_at = $5", rec.UpdatedAt).
		Set("claim_token = ''").
		Set("lease_until = NULL").
		Where("id = $6", rec.ID.String()).
		Where("claim_token = $7", rec.ClaimToken).
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
	res, err := s.pg.NewUpdate((*deliveryModel)(nil)).
		Set("claim_token = ''").
		Set("lease_until = NULL").
		Where("id = $1", recID.String()).
		Where("claim_token = $2", token).
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
	clause, args := filterWhere(f, 1)
	var rows []statusCount
	err := s.pg.NewRaw(`
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
	clause, args := filterWhere(f, 1)
	query := `
		SELECT event_type, COUNT(*) AS count
		FROM herald_deliveries
		WHERE ` + clause + `
		GROUP BY event_type
		ORDER BY count DESC, event_type ASC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	var rows []eventTypeCount
	if err := s.pg.NewRaw(query, args...).Scan(ctx, &rows); err != nil {
		return nil, err
	}
	out := make([]delivery.EventTypeCount, len(rows))
	for i, r := range rows {
		out[i] = delivery.EventTypeCount{EventType: r.EventType, Count: r.Count}
	}
	return out, nil
}

func (s *Store) PruneRecords(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.pg.NewDelete((*deliveryModel)(nil)).
		Where("status IN ('delivered', 'failed')").
		Where("updated_at < $1", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ==================== Helpers ====================

// filterWhere renders f as a WHERE clause with placeholders numbered from
// start.
func filterWhere(f delivery.Filter, start int) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(expr string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(expr, start+len(args)-1))
	}
	if f.TenantID != "" {
		add("tenant_id = $%d", f.TenantID)
	}
	if !f.EndpointID.IsNil() {
		add("endpoint_id = $%d", f.EndpointID.String())
	}
	if f.EventType != "" {
		add("event_type = $%d", f.EventType)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}
	if len(clauses) == 0 {
		return "TRUE", nil
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

// rowsAffecter is the part of an Exec result the store inspects.
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

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation matches SQLSTATE 23505 as surfaced in the driver error text.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key")
}
