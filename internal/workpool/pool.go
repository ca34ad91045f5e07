// Package workpool provides a bounded pool for blocking calls so the
// event-dispatch path never waits on an external service directly.
package workpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Pool executes submitted closures on a fixed set of workers draining a
// bounded queue. A full queue blocks Submit, making back-pressure explicit.
type Pool struct {
	logger  *slog.Logger
	queue   chan func()
	workers int

	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Pool with the given worker count and queue size.
func New(log *slog.Logger, workers, queueSize int) *Pool {
	if log == nil {
		log = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Pool{
		logger:  log.With(slog.String("component", "workpool")),
		queue:   make(chan func(), queueSize),
		workers: workers,
	}
}

// Start launches the workers. Subsequent calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	p.once.Do(func() {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		p.cancel = cancel
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				for {
					select {
					case <-runCtx.Done():
						return
					case task := <-p.queue:
						task()
					}
				}
			}()
		}
		if p.logger != nil {
			p.logger.Info("pool start", slog.Int("workers", p.workers), slog.Int("queue", cap(p.queue)))
		}
	})
}

// Do submits fn and waits until it has run. It returns the context error
// if the caller gives up before the task is queued or finished; a task
// already queued still runs.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	if p.cancel == nil {
		return fmt.Errorf("pool not started")
	}
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}
	select {
	case p.queue <- task:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the workers. Queued tasks that have not started are
// dropped; Do callers waiting on them observe their context.
func (p *Pool) Shutdown() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
}
