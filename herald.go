package herald

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/internal/entity"
	"github.com/xraph/herald/observability"
	"github.com/xraph/herald/ratelimit"
	"github.com/xraph/herald/signature"
	"github.com/xraph/herald/store"
)

// Herald is the root webhook delivery subsystem.
type Herald struct {
	config      Config
	store       store.Store
	catalog     *catalog.Catalog
	endpointSvc *endpoint.Service
	engine      *delivery.Engine
	pool        *delivery.Pool
	scheduler   *delivery.Scheduler
	metrics     *observability.Metrics
	tracer      *observability.Tracer
	httpClient  *http.Client
	logger      *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a new Herald with the given options.
func New(opts ...Option) (*Herald, error) {
	h := &Herald{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, err
		}
	}
	if h.store == nil {
		return nil, ErrNoStore
	}
	if err := h.config.Validate(); err != nil {
		return nil, err
	}
	h.wireServices()
	return h, nil
}

// wireServices initializes the internal services after options have been applied.
func (h *Herald) wireServices() {
	if h.catalog == nil {
		h.catalog = catalog.NewDefault(h.logger)
	}

	h.endpointSvc = endpoint.NewService(h.store, h.logger,
		endpoint.WithEventTypes(h.catalog),
		endpoint.WithDefaults(h.config.endpointDefaults()),
	)

	var limiter *ratelimit.Limiter
	if h.config.EndpointRateLimit > 0 {
		limiter = ratelimit.New(h.config.EndpointRateLimit, h.config.EndpointBurst)
	}

	h.engine = delivery.NewEngine(h.store, delivery.EngineConfig{
		Lease:      h.config.Lease,
		Limiter:    limiter,
		HTTPClient: h.httpClient,
		UserAgent:  h.config.UserAgent,
		Metrics:    h.metrics,
		Tracer:     h.tracer,
	}, h.logger)

	h.pool = delivery.NewPool(h.config.Concurrency, h.config.QueueSize, h.logger)

	h.scheduler = delivery.NewScheduler(h.store, h.engine, h.pool, delivery.SchedulerConfig{
		Interval:  h.config.PollInterval,
		BatchSize: h.config.BatchSize,
		Lease:     h.config.Lease,
		Retention: h.config.Retention,
		Metrics:   h.metrics,
	}, h.logger)
}

// Start begins the retry scheduler.
func (h *Herald) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started || h.stopped {
		return
	}
	h.started = true
	h.scheduler.Start(ctx)
	h.logger.InfoContext(ctx, "herald started",
		"poll_interval", h.config.PollInterval, "concurrency", h.config.Concurrency)
}

// Stop halts the scheduler and waits up to ShutdownTimeout, or ctx's
// deadline if sooner, for in-flight attempts. Interrupted attempts are
// redriven after their lease expires.
func (h *Herald) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, h.config.ShutdownTimeout)
	defer cancel()

	return errors.Join(h.scheduler.Stop(ctx), h.pool.Stop(ctx))
}

// RunOnce runs a single scheduler cycle and waits for its attempts.
func (h *Herald) RunOnce(ctx context.Context) (int, error) {
	return h.scheduler.RunOnce(ctx)
}

// TriggerEvent fans an event out to the tenant's subscribed endpoints.
//
// The critical path:
//  1. Reject data that is not JSON or fails the event type's schema.
//  2. Resolve active endpoints subscribed to eventType.
//  3. Build, sign and persist one pending record per endpoint, each with
//     its own event ID.
//  4. Hand each record to the worker pool without waiting.
//
// Unknown event types and zero subscribers yield an empty list. Delivery
// failures never surface here.
func (h *Herald) TriggerEvent(ctx context.Context, tenantID, eventType string, data json.RawMessage) ([]id.ID, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, ErrTenantRequired
	}

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.StartTriggerSpan(ctx, tenantID, eventType)
		defer span.End()
	}

	if len(data) > 0 && !json.Valid(data) {
		return nil, fmt.Errorf("%w: data is not valid JSON", ErrPayloadValidationFailed)
	}
	if !h.catalog.Has(eventType) {
		h.logger.DebugContext(ctx, "event type not in catalog, nothing to deliver",
			"tenant_id", tenantID, "event_type", eventType)
		return []id.ID{}, nil
	}
	if err := h.catalog.Validate(eventType, data); err != nil {
		return nil, err
	}

	eps, err := h.store.Resolve(ctx, tenantID, eventType)
	if err != nil {
		return nil, fmt.Errorf("herald: resolve endpoints: %w", err)
	}

	if h.metrics != nil {
		h.metrics.EventsTriggeredTotal.WithLabelValues(eventType).Inc()
	}
	if len(eps) == 0 {
		h.logger.DebugContext(ctx, "no subscribed endpoints",
			"tenant_id", tenantID, "event_type", eventType)
		return []id.ID{}, nil
	}

	now := time.Now().UTC()
	recs := make([]*delivery.Record, 0, len(eps))
	for _, ep := range eps {
		rec, err := h.buildRecord(tenantID, eventType, data, ep, now)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	if err := h.store.CreateRecords(ctx, recs); err != nil {
		return nil, fmt.Errorf("herald: create delivery records: %w", err)
	}
	if h.metrics != nil {
		h.metrics.DeliveriesCreatedTotal.Add(float64(len(recs)))
	}

	ids := make([]id.ID, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
		h.dispatch(ctx, rec.ID)
	}

	h.logger.DebugContext(ctx, "event triggered",
		"tenant_id", tenantID, "event_type", eventType, "endpoints", len(eps))

	return ids, nil
}

// dispatch schedules the immediate attempt for a record. A full pool leaves
// the record pending for the scheduler.
func (h *Herald) dispatch(ctx context.Context, recID id.ID) {
	parent := trace.SpanContextFromContext(ctx)
	ok := h.pool.TryGo(func(pctx context.Context) {
		pctx = trace.ContextWithSpanContext(pctx, parent)
		if _, err := h.engine.Deliver(pctx, recID); err != nil && !errors.Is(err, ErrClaimConflict) {
			h.logger.WarnContext(pctx, "immediate delivery not recorded", "delivery_id", recID, "error", err)
		}
	})
	if !ok {
		if h.metrics != nil {
			h.metrics.PoolRejectedTotal.Inc()
		}
		h.logger.WarnContext(ctx, "delivery pool full, deferring to scheduler", "delivery_id", recID)
	}
}

func (h *Herald) buildRecord(tenantID, eventType string, data json.RawMessage, ep *endpoint.Endpoint, now time.Time) (*delivery.Record, error) {
	evtID := id.NewEventID()
	body, err := signature.Canonicalize(event.New(evtID, eventType, tenantID, data, now))
	if err != nil {
		return nil, fmt.Errorf("herald: encode payload: %w", err)
	}

	next := now.Add(h.config.PendingGrace)
	return &delivery.Record{
		Entity:      entity.Entity{CreatedAt: now, UpdatedAt: now},
		ID:          id.NewDeliveryID(),
		TenantID:    tenantID,
		EndpointID:  ep.ID,
		EventType:   eventType,
		EventID:     evtID,
		Payload:     body,
		Signature:   signature.SignBytes(body, ep.Secret),
		Status:      delivery.StatusPending,
		Attempts:    []delivery.Attempt{},
		NextRetryAt: &next,
	}, nil
}

// TestEndpoint sends a system.test event to one endpoint through the normal
// pipeline and returns the record after its first attempt. Subscriptions
// are ignored.
func (h *Herald) TestEndpoint(ctx context.Context, tenantID string, epID id.ID) (*delivery.Record, error) {
	ep, err := h.store.GetEndpoint(ctx, epID)
	if err != nil {
		return nil, err
	}
	if ep.TenantID != tenantID || ep.DeletedAt != nil {
		return nil, ErrEndpointNotFound
	}

	data, err := json.Marshal(map[string]string{
		"message":     "This is a test webhook from herald.",
		"endpoint_id": ep.ID.String(),
	})
	if err != nil {
		return nil, err
	}

	rec, err := h.buildRecord(tenantID, catalog.TestEventType, data, ep, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := h.store.CreateRecords(ctx, []*delivery.Record{rec}); err != nil {
		return nil, fmt.Errorf("herald: create test record: %w", err)
	}

	return h.engine.Deliver(ctx, rec.ID)
}

// Redeliver makes an immediate attempt on a non-terminal record instead of
// waiting for its retry time. Terminal or claimed records return
// ErrClaimConflict.
func (h *Herald) Redeliver(ctx context.Context, tenantID string, recID id.ID) (*delivery.Record, error) {
	if _, err := h.Delivery(ctx, tenantID, recID); err != nil {
		return nil, err
	}
	return h.engine.Deliver(ctx, recID)
}

// Deliveries lists a tenant's delivery records, newest first.
func (h *Herald) Deliveries(ctx context.Context, opts delivery.ListOpts) ([]*delivery.Record, error) {
	if opts.TenantID == "" {
		return nil, ErrTenantRequired
	}
	return h.store.ListRecords(ctx, opts)
}

// Delivery returns one of a tenant's delivery records.
func (h *Herald) Delivery(ctx context.Context, tenantID string, recID id.ID) (*delivery.Record, error) {
	rec, err := h.store.GetRecord(ctx, recID)
	if err != nil {
		return nil, err
	}
	if rec.TenantID != tenantID {
		return nil, ErrDeliveryNotFound
	}
	return rec, nil
}

// Endpoints returns the endpoint management service.
func (h *Herald) Endpoints() *endpoint.Service {
	return h.endpointSvc
}

// Catalog returns the event type catalog.
func (h *Herald) Catalog() *catalog.Catalog {
	return h.catalog
}

// Store returns the underlying store.
func (h *Herald) Store() store.Store {
	return h.store
}

// Config returns the effective configuration.
func (h *Herald) Config() Config {
	return h.config
}
