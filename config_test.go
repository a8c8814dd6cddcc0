package herald

import (
	"testing"
	"time"

	"github.com/xraph/herald/endpoint"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("HERALD_CONCURRENCY", "32")
	t.Setenv("HERALD_POLL_INTERVAL", "15s")
	t.Setenv("HERALD_DEFAULT_BACKOFF_MULTIPLIER", "1.5")
	t.Setenv("HERALD_RETENTION", "720h")
	t.Setenv("HERALD_ENDPOINT_RATE_LIMIT", "2.5")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Concurrency != 32 || cfg.PollInterval != 15*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.DefaultBackoffMultiplier != 1.5 || cfg.Retention != 720*time.Hour {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.EndpointRateLimit != 2.5 || cfg.EndpointBurst != 0 {
		t.Fatalf("rate limit overrides not applied: %+v", cfg)
	}
	if cfg.BatchSize != DefaultConfig().BatchSize {
		t.Fatal("unset variables must keep defaults")
	}
}

func TestConfigFromEnvInvalid(t *testing.T) {
	t.Setenv("HERALD_BATCH_SIZE", "0")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatal("expected validation error")
	}

	t.Setenv("HERALD_BATCH_SIZE", "many")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestConfigRejectsNegativeRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EndpointRateLimit = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestConfigLeaseMustExceedEndpointTimeout(t *testing.T) {
	for _, lease := range []time.Duration{10 * time.Second, endpoint.MaxTimeout} {
		cfg := DefaultConfig()
		cfg.Lease = lease
		if err := cfg.Validate(); err == nil {
			t.Fatalf("lease %s accepted, want rejection", lease)
		}
	}

	cfg := DefaultConfig()
	cfg.Lease = endpoint.MaxTimeout + time.Second
	if err := cfg.Validate(); err != nil {
		t.Fatalf("lease above max timeout rejected: %v", err)
	}
}

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatal(err)
	}
}
