package herald

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/xraph/herald/catalog"
	"github.com/xraph/herald/endpoint"
	"github.com/xraph/herald/observability"
	"github.com/xraph/herald/store"
)

// Option configures a Herald instance.
type Option func(*Herald) error

// WithStore sets the persistence backend for the Herald instance.
func WithStore(s store.Store) Option {
	return func(h *Herald) error {
		h.store = s
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(h *Herald) error {
		h.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger for the Herald instance.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Herald) error {
		if logger == nil {
			return errors.New("herald: nil logger")
		}
		h.logger = logger
		return nil
	}
}

// WithConcurrency sets the number of concurrent delivery attempts.
func WithConcurrency(n int) Option {
	return func(h *Herald) error {
		h.config.Concurrency = n
		return nil
	}
}

// WithQueueSize sets how many attempts may wait for a worker.
func WithQueueSize(n int) Option {
	return func(h *Herald) error {
		h.config.QueueSize = n
		return nil
	}
}

// WithPollInterval sets how often the retry scheduler polls.
func WithPollInterval(d time.Duration) Option {
	return func(h *Herald) error {
		h.config.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum records claimed per scheduler cycle.
func WithBatchSize(n int) Option {
	return func(h *Herald) error {
		h.config.BatchSize = n
		return nil
	}
}

// WithLease sets how long a claim holds a record.
func WithLease(d time.Duration) Option {
	return func(h *Herald) error {
		h.config.Lease = d
		return nil
	}
}

// WithPendingGrace sets how long a new record waits for its immediate
// attempt before the scheduler may redrive it.
func WithPendingGrace(d time.Duration) Option {
	return func(h *Herald) error {
		h.config.PendingGrace = d
		return nil
	}
}

// WithRetention enables pruning of terminal records older than d.
func WithRetention(d time.Duration) Option {
	return func(h *Herald) error {
		h.config.Retention = d
		return nil
	}
}

// WithDefaultRetryPolicy sets the policy for endpoints registered without one.
func WithDefaultRetryPolicy(p endpoint.RetryPolicy) Option {
	return func(h *Herald) error {
		h.config.DefaultMaxRetries = p.MaxRetries
		h.config.DefaultBaseDelay = p.BaseDelay
		h.config.DefaultBackoffMultiplier = p.BackoffMultiplier
		return nil
	}
}

// WithDefaultTimeout sets the timeout for endpoints registered without one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(h *Herald) error {
		h.config.DefaultTimeout = d
		return nil
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Herald) error {
		h.metrics = m
		return nil
	}
}

// WithTracer enables OpenTelemetry tracing.
func WithTracer(t *observability.Tracer) Option {
	return func(h *Herald) error {
		h.tracer = t
		return nil
	}
}

// WithHTTPClient sets the client used for outbound deliveries. Its Timeout
// should be zero or above the largest endpoint timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Herald) error {
		h.httpClient = c
		return nil
	}
}

// WithCatalog replaces the default event type catalog.
func WithCatalog(c *catalog.Catalog) Option {
	return func(h *Herald) error {
		h.catalog = c
		return nil
	}
}

// WithEndpointRateLimit caps attempts per second to each endpoint, allowing
// bursts of up to burst.
func WithEndpointRateLimit(rate float64, burst int) Option {
	return func(h *Herald) error {
		h.config.EndpointRateLimit = rate
		h.config.EndpointBurst = burst
		return nil
	}
}
