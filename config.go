package herald

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/xraph/herald/delivery"
	"github.com/xraph/herald/endpoint"
)

// Config holds the configuration for a Herald instance. Every field can be
// set from a HERALD_* environment variable through ConfigFromEnv.
type Config struct {
	// Concurrency is the number of delivery attempts run at once.
	Concurrency int `env:"HERALD_CONCURRENCY"`

	// QueueSize is how many submitted attempts may wait for a worker.
	// Immediate deliveries beyond it are left to the retry scheduler.
	QueueSize int `env:"HERALD_QUEUE_SIZE"`

	// PollInterval is how often the retry scheduler looks for due records.
	PollInterval time.Duration `env:"HERALD_POLL_INTERVAL"`

	// BatchSize is the maximum number of records claimed per cycle.
	BatchSize int `env:"HERALD_BATCH_SIZE"`

	// Lease is how long a claim holds a record before another worker may
	// take it over. It must exceed endpoint.MaxTimeout so every endpoint's
	// attempt fits inside a fresh claim.
	Lease time.Duration `env:"HERALD_LEASE"`

	// PendingGrace is how long a new record waits for its immediate attempt
	// before the scheduler treats it as orphaned and redrives it.
	PendingGrace time.Duration `env:"HERALD_PENDING_GRACE"`

	// Retention prunes terminal records older than this. Zero keeps them
	// forever.
	Retention time.Duration `env:"HERALD_RETENTION"`

	// ShutdownTimeout bounds how long Stop waits for in-flight attempts.
	ShutdownTimeout time.Duration `env:"HERALD_SHUTDOWN_TIMEOUT"`

	// Defaults applied to endpoints registered without a policy.
	DefaultMaxRetries        int           `env:"HERALD_DEFAULT_MAX_RETRIES"`
	DefaultBaseDelay         time.Duration `env:"HERALD_DEFAULT_BASE_DELAY"`
	DefaultBackoffMultiplier float64       `env:"HERALD_DEFAULT_BACKOFF_MULTIPLIER"`
	DefaultTimeout           time.Duration `env:"HERALD_DEFAULT_TIMEOUT"`

	// EndpointRateLimit caps attempts per second to any single endpoint.
	// Zero disables throttling.
	EndpointRateLimit float64 `env:"HERALD_ENDPOINT_RATE_LIMIT"`

	// EndpointBurst is the burst allowed above EndpointRateLimit.
	EndpointBurst int `env:"HERALD_ENDPOINT_BURST"`

	// TopEventTypes is how many event types Stats reports by default.
	TopEventTypes int `env:"HERALD_TOP_EVENT_TYPES"`

	// UserAgent is sent with every delivery.
	UserAgent string `env:"HERALD_USER_AGENT"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	d := endpoint.DefaultDefaults()
	return Config{
		Concurrency:              10,
		QueueSize:                1000,
		PollInterval:             delivery.DefaultInterval,
		BatchSize:                delivery.DefaultBatchSize,
		Lease:                    delivery.DefaultLease,
		PendingGrace:             time.Minute,
		ShutdownTimeout:          30 * time.Second,
		DefaultMaxRetries:        d.RetryPolicy.MaxRetries,
		DefaultBaseDelay:         d.RetryPolicy.BaseDelay,
		DefaultBackoffMultiplier: d.RetryPolicy.BackoffMultiplier,
		DefaultTimeout:           d.Timeout,
		TopEventTypes:            5,
		UserAgent:                delivery.DefaultUserAgent,
	}
}

// ConfigFromEnv returns DefaultConfig overridden by any HERALD_* variables
// that are set.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("herald: parse env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports configuration that cannot work.
func (c Config) Validate() error {
	var errs []error
	if c.Concurrency < 1 {
		errs = append(errs, errors.New("concurrency must be at least 1"))
	}
	if c.QueueSize < 0 {
		errs = append(errs, errors.New("queue size must not be negative"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.BatchSize < 1 {
		errs = append(errs, errors.New("batch size must be at least 1"))
	}
	if c.Lease <= endpoint.MaxTimeout {
		errs = append(errs, fmt.Errorf("lease must exceed the maximum endpoint timeout of %s", endpoint.MaxTimeout))
	}
	if c.PendingGrace <= 0 {
		errs = append(errs, errors.New("pending grace must be positive"))
	}
	if c.Retention < 0 {
		errs = append(errs, errors.New("retention must not be negative"))
	}
	if c.EndpointRateLimit < 0 {
		errs = append(errs, errors.New("endpoint rate limit must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("herald: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c Config) endpointDefaults() endpoint.Defaults {
	return endpoint.Defaults{
		RetryPolicy: endpoint.RetryPolicy{
			MaxRetries:        c.DefaultMaxRetries,
			BaseDelay:         c.DefaultBaseDelay,
			BackoffMultiplier: c.DefaultBackoffMultiplier,
		},
		Timeout: c.DefaultTimeout,
	}
}
