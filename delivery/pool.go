package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrPoolClosed is returned when work is submitted to a stopped pool.
var ErrPoolClosed = errors.New("herald: delivery pool closed")

// Pool runs delivery tasks on a bounded number of goroutines. Tasks receive
// the pool's context, which outlives the submitting request and is canceled
// only when Stop gives up waiting.
type Pool struct {
	sem    chan struct{} // running tasks
	slots  chan struct{} // running plus queued tasks
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a pool running at most concurrency tasks with up to
// queueSize more waiting.
func NewPool(concurrency, queueSize int, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	concurrency = max(concurrency, 1)
	queueSize = max(queueSize, 0)
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    make(chan struct{}, concurrency),
		slots:  make(chan struct{}, concurrency+queueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// TryGo submits fn without blocking. It reports false if the pool is full
// or closed.
func (p *Pool) TryGo(fn func(ctx context.Context)) bool {
	select {
	case p.slots <- struct{}{}:
	default:
		return false
	}
	if !p.admit() {
		<-p.slots
		return false
	}
	go p.run(fn, nil)
	return true
}

// Go submits fn, waiting for queue space until ctx is done. If Stop cancels
// the pool while fn is still queued, skip runs in its place. skip may be nil.
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context), skip func()) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
	if !p.admit() {
		<-p.slots
		return ErrPoolClosed
	}
	go p.run(fn, skip)
	return nil
}

// Stop rejects new work and waits for submitted tasks. If ctx ends first
// the pool context is canceled, which aborts queued tasks and in-flight
// requests, and ctx's error is returned once they exit.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) admit() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	p.wg.Add(1)
	return true
}

func (p *Pool) run(fn func(ctx context.Context), skip func()) {
	defer p.wg.Done()
	defer func() { <-p.slots }()

	acquired := false
	select {
	case p.sem <- struct{}{}:
		acquired = true
	case <-p.ctx.Done():
	}
	// A slot freed by a canceled task may win the select after Stop.
	if p.ctx.Err() != nil {
		if acquired {
			<-p.sem
		}
		if skip != nil {
			skip()
		}
		return
	}
	defer func() { <-p.sem }()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("delivery task panicked", "panic", r)
		}
	}()
	fn(p.ctx)
}
