// Package herald delivers business events to tenant-owned HTTP endpoints
// with at-least-once semantics.
//
// Herald is a library. Producers call TriggerEvent; herald fans the event
// out to every active endpoint the tenant subscribed to that type, signs
// each payload with the endpoint's secret, stores one delivery record per
// endpoint and attempts it immediately on a bounded worker pool. Failed
// attempts are redriven by a retry scheduler that reads due records from
// the store, so a restart never loses a retry.
//
// Key features:
//   - HMAC-SHA256 signatures over canonical JSON (X-Webhook-Signature)
//   - Per-endpoint retry policy with exponential backoff
//   - Lease-based claims so no record is attempted twice at once
//   - Atomic per-endpoint success and failure counters
//   - Optional per-endpoint attempt throttling
//   - Composable store pattern (Memory, Postgres, SQLite, MongoDB, Redis)
//   - Prometheus metrics and OpenTelemetry tracing
//
// Quick start:
//
//	h, err := herald.New(herald.WithStore(memory.New()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	h.Start(ctx)
//	defer h.Stop(ctx)
//
//	ep, _ := h.Endpoints().Create(ctx, "tenant_123", endpoint.Input{
//	    URL:        "https://example.com/hooks",
//	    EventTypes: []string{"billing.invoice.paid"},
//	})
//
//	ids, err := h.TriggerEvent(ctx, "tenant_123", "billing.invoice.paid",
//	    json.RawMessage(`{"invoice_id":"inv_42"}`))
package herald
