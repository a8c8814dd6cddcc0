package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/herald"

// Tracer provides OpenTelemetry tracing for herald.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return NewTracerFrom(otel.GetTracerProvider())
}

// NewTracerFrom creates a tracer from tp.
func NewTracerFrom(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(tracerName)}
}

// StartTriggerSpan starts a span covering fan-out of one event.
func (t *Tracer) StartTriggerSpan(ctx context.Context, tenantID, eventType string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "herald.trigger",
		trace.WithAttributes(
			attribute.String("herald.tenant_id", tenantID),
			attribute.String("herald.event_type", eventType),
		),
	)
}

// StartDeliverySpan starts a new span for a delivery attempt.
func (t *Tracer) StartDeliverySpan(ctx context.Context, deliveryID, eventID, endpointID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "herald.delivery",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("herald.delivery_id", deliveryID),
			attribute.String("herald.event_id", eventID),
			attribute.String("herald.endpoint_id", endpointID),
		),
	)
}

// EndDeliverySpan ends a delivery span with result attributes.
func (t *Tracer) EndDeliverySpan(span trace.Span, statusCode int, latencyMs int64, status, err string) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int64("herald.latency_ms", latencyMs),
		attribute.String("herald.status", status),
	)
	if err != "" {
		span.SetAttributes(attribute.String("herald.error", err))
		span.SetStatus(codes.Error, err)
	}
	span.End()
}
