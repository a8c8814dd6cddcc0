// Command heraldd runs herald as a standalone webhook delivery service: the
// management API, the retry scheduler and a Prometheus endpoint in one
// process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/herald"
	"github.com/xraph/herald/api"
	"github.com/xraph/herald/observability"
	"github.com/xraph/herald/store"
	"github.com/xraph/herald/store/memory"
	heraldredis "github.com/xraph/herald/store/redis"
)

// daemonConfig holds process settings. Delivery tuning comes from
// herald.ConfigFromEnv.
type daemonConfig struct {
	ListenAddr   string        `env:"HERALDD_LISTEN_ADDR" envDefault:":8080"`
	Store        string        `env:"HERALDD_STORE" envDefault:"memory"`
	RedisURL     string        `env:"HERALDD_REDIS_URL" envDefault:"redis://localhost:6379/0"`
	LogLevel     string        `env:"HERALDD_LOG_LEVEL" envDefault:"info"`
	ReadTimeout  time.Duration `env:"HERALDD_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HERALDD_WRITE_TIMEOUT" envDefault:"30s"`
}

func main() {
	var dcfg daemonConfig
	if err := env.Parse(&dcfg); err != nil {
		log.Fatalf("parse daemon config: %v", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(dcfg.LogLevel)); err != nil {
		log.Fatalf("invalid log level %q: %v", dcfg.LogLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, dcfg, logger); err != nil {
		logger.Error("heraldd exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dcfg daemonConfig, logger *slog.Logger) error {
	cfg, err := herald.ConfigFromEnv()
	if err != nil {
		return err
	}

	st, err := openStore(ctx, dcfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	h, err := herald.New(
		herald.WithStore(st),
		herald.WithConfig(cfg),
		herald.WithLogger(logger),
		herald.WithMetrics(observability.NewMetrics(reg)),
		herald.WithTracer(observability.NewTracer()),
	)
	if err != nil {
		return err
	}

	h.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/", api.NewHandler(h, logger))

	srv := &http.Server{
		Addr:         dcfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  dcfg.ReadTimeout,
		WriteTimeout: dcfg.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("heraldd listening", "addr", dcfg.ListenAddr, "store", dcfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Redrive anything left due by a previous process without waiting for
	// the first poll. Shutdown stops the pool, which ends the sweep.
	go func() {
		if n, err := h.RunOnce(ctx); err != nil {
			logger.WarnContext(ctx, "startup sweep failed", "error", err)
		} else if n > 0 {
			logger.InfoContext(ctx, "startup sweep redrove deliveries", "count", n)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			_ = h.Stop(context.Background())
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	return errors.Join(srv.Shutdown(shutdownCtx), h.Stop(shutdownCtx))
}

func openStore(ctx context.Context, dcfg daemonConfig) (store.Store, error) {
	switch dcfg.Store {
	case "memory":
		return memory.New(), nil
	case "redis":
		opts, err := goredis.ParseURL(dcfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		st := heraldredis.NewClient(goredis.NewClient(opts))
		if err := st.Ping(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store %q (want memory or redis)", dcfg.Store)
	}
}
