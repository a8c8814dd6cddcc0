package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/observability"
	"github.com/xraph/herald/ratelimit"
)

// ErrLeaseExpiring is returned when a claimed record's lease would lapse
// before the endpoint timeout. The claim is released unused.
var ErrLeaseExpiring = errors.New("herald: lease too short for attempt")

// InactiveError is the attempt error recorded when the endpoint is gone or
// deactivated.
const InactiveError = "endpoint inactive"

// DefaultLease bounds how long a claim holds a record.
const DefaultLease = 5 * time.Minute

// EngineStore is the interface the engine needs for delivery operations.
type EngineStore interface {
	GetEndpoint(ctx context.Context, epID id.ID) (*endpoint.Endpoint, error)
	IncrementCounters(ctx context.Context, epID id.ID, success bool, lastError string) error
	Claim(ctx context.Context, recID id.ID, token string, leaseUntil, now time.Time) (*Record, error)
	SaveAttempt(ctx context.Context, rec *Record) error
	Release(ctx context.Context, recID id.ID, token string) error
}

// EngineConfig holds engine configuration.
type EngineConfig struct {
	// Lease is how long a claim taken by Deliver holds the record.
	Lease time.Duration

	// Limiter throttles attempts per endpoint. Nil means unlimited.
	Limiter *ratelimit.Limiter

	HTTPClient *http.Client
	UserAgent  string
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
}

// Engine executes delivery attempts against claimed records.
type Engine struct {
	store   EngineStore
	sender  *Sender
	retrier *Retrier
	config  EngineConfig
	logger  *slog.Logger
}

// NewEngine creates a delivery engine.
func NewEngine(store EngineStore, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	return &Engine{
		store:   store,
		sender:  NewSender(cfg.HTTPClient, cfg.UserAgent),
		retrier: NewRetrier(),
		config:  cfg,
		logger:  logger,
	}
}

// Deliver claims a record and makes one attempt. It returns
// ErrClaimConflict if the record is terminal or already held.
func (e *Engine) Deliver(ctx context.Context, recID id.ID) (*Record, error) {
	now := time.Now().UTC()
	rec, err := e.store.Claim(ctx, recID, uuid.NewString(), now.Add(e.config.Lease), now)
	if err != nil {
		return nil, err
	}
	return e.Attempt(ctx, rec)
}

// Attempt makes one HTTP attempt for a claimed record and persists the
// outcome under the record's claim. The returned record reflects the new
// state.
func (e *Engine) Attempt(ctx context.Context, rec *Record) (*Record, error) {
	var span trace.Span
	if e.config.Tracer != nil {
		ctx, span = e.config.Tracer.StartDeliverySpan(ctx, rec.ID.String(), rec.EventID.String(), rec.EndpointID.String())
	}
	if e.config.Metrics != nil {
		e.config.Metrics.InFlight.Inc()
		defer e.config.Metrics.InFlight.Dec()
	}

	// Outcomes are persisted even if the caller is shutting down.
	persist := context.WithoutCancel(ctx)

	ep, err := e.store.GetEndpoint(ctx, rec.EndpointID)
	switch {
	case errors.Is(err, endpoint.ErrNotFound):
		ep = nil
	case err != nil:
		e.release(persist, rec)
		e.endSpan(span, Result{}, rec.Status, err.Error())
		return nil, fmt.Errorf("load endpoint: %w", err)
	}

	if ep == nil || !ep.Deliverable() {
		return e.failInactive(persist, rec, span)
	}

	if err := e.config.Limiter.Wait(ctx, ep.ID.String()); err != nil {
		e.release(persist, rec)
		e.endSpan(span, Result{}, rec.Status, err.Error())
		return rec, err
	}

	if rec.LeaseUntil != nil && time.Until(*rec.LeaseUntil) < ep.Timeout {
		e.logger.WarnContext(ctx, "lease too short, releasing",
			"delivery_id", rec.ID, "lease_until", rec.LeaseUntil, "timeout", ep.Timeout)
		e.release(persist, rec)
		e.endSpan(span, Result{}, rec.Status, ErrLeaseExpiring.Error())
		return rec, ErrLeaseExpiring
	}

	ts, ok := event.Timestamp(rec.Payload)
	if !ok {
		ts = rec.CreatedAt
	}

	started := time.Now().UTC()
	res := e.send(ctx, ep, rec, ts)

	attempt := Attempt{At: started, LatencyMs: res.LatencyMs, Response: res.Response}
	if res.StatusCode != 0 {
		code := res.StatusCode
		attempt.StatusCode = &code
	}
	if res.Error != "" {
		msg := res.Error
		attempt.Error = &msg
	}
	rec.Attempts = append(rec.Attempts, attempt)

	now := time.Now().UTC()
	decision := e.retrier.Decide(res, len(rec.Attempts), ep.RetryPolicy)
	switch decision {
	case Delivered:
		rec.Status = StatusDelivered
		rec.DeliveredAt = &now
		rec.NextRetryAt = nil
	case Retry:
		next := e.retrier.NextAttempt(now, len(rec.Attempts), ep.RetryPolicy)
		rec.Status = StatusRetrying
		rec.NextRetryAt = &next
	case Fail:
		rec.Status = StatusFailed
		rec.NextRetryAt = nil
	}
	rec.UpdatedAt = now

	if err := e.store.SaveAttempt(persist, rec); err != nil {
		e.logger.ErrorContext(ctx, "save attempt failed",
			"delivery_id", rec.ID, "error", err)
		e.endSpan(span, res, rec.Status, err.Error())
		return nil, err
	}
	rec.ClaimToken = ""
	rec.LeaseUntil = nil

	if err := e.store.IncrementCounters(persist, ep.ID, res.Succeeded(), res.Error); err != nil {
		e.logger.ErrorContext(ctx, "increment endpoint counters failed",
			"endpoint_id", ep.ID, "error", err)
	}

	if e.config.Metrics != nil {
		e.config.Metrics.RecordAttempt(string(rec.Status), float64(res.LatencyMs)/1000.0)
	}
	e.endSpan(span, res, rec.Status, res.Error)

	switch decision {
	case Delivered:
		e.logger.DebugContext(ctx, "delivered",
			"delivery_id", rec.ID, "status", res.StatusCode, "latency_ms", res.LatencyMs)
	case Retry:
		e.logger.DebugContext(ctx, "retry scheduled",
			"delivery_id", rec.ID, "attempt", len(rec.Attempts), "next_at", rec.NextRetryAt, "error", res.Error)
	case Fail:
		e.logger.WarnContext(ctx, "delivery failed permanently",
			"delivery_id", rec.ID, "endpoint_id", ep.ID, "attempts", len(rec.Attempts), "error", res.Error)
	}

	return rec, nil
}

// Release gives up a claim without attempting.
func (e *Engine) Release(ctx context.Context, rec *Record) {
	e.release(context.WithoutCancel(ctx), rec)
}

func (e *Engine) failInactive(ctx context.Context, rec *Record, span trace.Span) (*Record, error) {
	msg := InactiveError
	now := time.Now().UTC()
	rec.Attempts = append(rec.Attempts, Attempt{At: now, Error: &msg})
	rec.Status = StatusFailed
	rec.NextRetryAt = nil
	rec.UpdatedAt = now

	if err := e.store.SaveAttempt(ctx, rec); err != nil {
		e.endSpan(span, Result{}, rec.Status, err.Error())
		return nil, err
	}
	rec.ClaimToken = ""
	rec.LeaseUntil = nil

	if e.config.Metrics != nil {
		e.config.Metrics.RecordAttempt(string(rec.Status), 0)
	}
	e.endSpan(span, Result{}, rec.Status, msg)
	e.logger.InfoContext(ctx, "endpoint inactive, delivery failed",
		"delivery_id", rec.ID, "endpoint_id", rec.EndpointID)
	return rec, nil
}

// send wraps the sender so a panic becomes the attempt's error.
func (e *Engine) send(ctx context.Context, ep *endpoint.Endpoint, rec *Record, ts time.Time) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "delivery panicked", "delivery_id", rec.ID, "panic", r)
			res = Result{Error: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return e.sender.Send(ctx, ep, rec, ts)
}

func (e *Engine) release(ctx context.Context, rec *Record) {
	if rec.ClaimToken == "" {
		return
	}
	if err := e.store.Release(ctx, rec.ID, rec.ClaimToken); err != nil {
		e.logger.ErrorContext(ctx, "release claim failed", "delivery_id", rec.ID, "error", err)
	}
}

func (e *Engine) endSpan(span trace.Span, res Result, status Status, errMsg string) {
	if span == nil {
		return
	}
	e.config.Tracer.EndDeliverySpan(span, res.StatusCode, res.LatencyMs, string(status), errMsg)
}
