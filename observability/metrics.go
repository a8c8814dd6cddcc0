// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for herald deliveries.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "herald"

// Metrics holds metric instruments for herald.
type Metrics struct {
	EventsTriggeredTotal   *prometheus.CounterVec
	DeliveriesCreatedTotal prometheus.Counter
	AttemptsTotal          *prometheus.CounterVec
	AttemptLatency         prometheus.Histogram
	InFlight               prometheus.Gauge
	SchedulerCyclesTotal   *prometheus.CounterVec
	ClaimedTotal           prometheus.Counter
	PoolRejectedTotal      prometheus.Counter
	PrunedTotal            prometheus.Counter
}

// NewMetrics creates herald metric instruments registered with reg. A nil
// reg leaves the instruments unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsTriggeredTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_triggered_total",
			Help:      "Events accepted by the dispatcher.",
		}, []string{"event_type"}),
		DeliveriesCreatedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_created_total",
			Help:      "Delivery records created by fan-out.",
		}),
		AttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Delivery attempts by resulting record status.",
		}, []string{"status"}),
		AttemptLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_latency_seconds",
			Help:      "HTTP round trip time of delivery attempts.",
			Buckets:   prometheus.DefBuckets,
		}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "attempts_in_flight",
			Help:      "Delivery attempts currently running.",
		}),
		SchedulerCyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_cycles_total",
			Help:      "Retry scheduler cycles by result.",
		}, []string{"result"}),
		ClaimedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_claimed_total",
			Help:      "Records claimed by the retry scheduler.",
		}),
		PoolRejectedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_rejected_total",
			Help:      "Immediate deliveries left to the scheduler because the pool was full.",
		}),
		PrunedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_pruned_total",
			Help:      "Terminal records removed by retention.",
		}),
	}
}

// RecordAttempt records one attempt with the record status it produced.
func (m *Metrics) RecordAttempt(status string, latencySeconds float64) {
	m.AttemptsTotal.WithLabelValues(status).Inc()
	m.AttemptLatency.Observe(latencySeconds)
}

// RecordCycle records a scheduler cycle outcome and the number of records
// it claimed.
func (m *Metrics) RecordCycle(err error, claimed int) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SchedulerCyclesTotal.WithLabelValues(result).Inc()
	m.ClaimedTotal.Add(float64(claimed))
}
