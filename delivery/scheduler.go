package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/herald/observability"
)

// Scheduler defaults.
const (
	DefaultInterval  = 60 * time.Second
	DefaultBatchSize = 100
)

// SchedulerStore is the interface the scheduler needs.
type SchedulerStore interface {
	ClaimDue(ctx context.Context, now time.Time, limit int, token string, leaseUntil time.Time) ([]*Record, error)
	PruneRecords(ctx context.Context, before time.Time) (int64, error)
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	Interval  time.Duration
	BatchSize int
	Lease     time.Duration

	// Retention, when positive, prunes terminal records older than this
	// on every cycle.
	Retention time.Duration

	Metrics *observability.Metrics
}

// Scheduler periodically claims due records and hands them to the engine.
// It keeps no state of its own: the store decides what is due.
type Scheduler struct {
	store  SchedulerStore
	engine *Engine
	pool   *Pool
	config SchedulerConfig
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a retry scheduler.
func NewScheduler(store SchedulerStore, engine *Engine, pool *Pool, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	return &Scheduler{
		store:  store,
		engine: engine,
		pool:   pool,
		config: cfg,
		logger: logger,
	}
}

// Start begins the poll loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.loop(ctx)
	}()
}

// Stop ends the poll loop. Attempts already handed to the pool keep
// running; stop the pool to wait for them.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce runs one cycle and waits for every attempt it started. It returns
// the number of records claimed.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	var wg sync.WaitGroup
	n, err := s.cycle(ctx, &wg)
	wg.Wait()
	return n, err
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.cycle(ctx, nil); err != nil {
				s.logger.ErrorContext(ctx, "retry cycle aborted", "error", err)
			}
		}
	}
}

// cycle claims one batch and submits it. When wg is non-nil it tracks the
// submitted attempts.
func (s *Scheduler) cycle(ctx context.Context, wg *sync.WaitGroup) (int, error) {
	now := time.Now().UTC()
	recs, err := s.store.ClaimDue(ctx, now, s.config.BatchSize, uuid.NewString(), now.Add(s.config.Lease))
	if s.config.Metrics != nil {
		s.config.Metrics.RecordCycle(err, len(recs))
	}
	if err != nil {
		return 0, err
	}

	done := func() {
		if wg != nil {
			wg.Done()
		}
	}

	for i, rec := range recs {
		if wg != nil {
			wg.Add(1)
		}
		err := s.pool.Go(ctx, func(pctx context.Context) {
			defer done()
			if _, err := s.engine.Attempt(pctx, rec); err != nil {
				s.logger.WarnContext(pctx, "retry attempt not recorded", "delivery_id", rec.ID, "error", err)
			}
		}, func() {
			// Canceled before a worker took it.
			defer done()
			s.engine.Release(ctx, rec)
		})
		if err != nil {
			done()
			// Unsubmitted claims go back so the next cycle can take them.
			for _, r := range recs[i:] {
				s.engine.Release(ctx, r)
			}
			return i, err
		}
	}

	if len(recs) > 0 {
		s.logger.DebugContext(ctx, "retry cycle claimed records", "count", len(recs))
	}

	s.prune(ctx, now)
	return len(recs), nil
}

func (s *Scheduler) prune(ctx context.Context, now time.Time) {
	if s.config.Retention <= 0 {
		return
	}
	n, err := s.store.PruneRecords(ctx, now.Add(-s.config.Retention))
	if err != nil {
		s.logger.ErrorContext(ctx, "prune records failed", "error", err)
		return
	}
	if n > 0 {
		if s.config.Metrics != nil {
			s.config.Metrics.PrunedTotal.Add(float64(n))
		}
		s.logger.InfoContext(ctx, "pruned delivery records", "count", n)
	}
}
