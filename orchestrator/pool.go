package orchestrator

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Pool is a fixed-size worker pool for fire-and-forget background
// units. Panics inside a job are recovered and logged so one broken
// task cannot take a worker down.
type Pool struct {
	jobs   chan func(context.Context)
	wg     sync.WaitGroup
	cancel context.CancelFunc
	logger *zap.Logger
}

// NewPool creates a pool with the given number of workers and a
// buffered queue of the same size times four.
func NewPool(workers int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{
		jobs:   make(chan func(context.Context), workers*4),
		logger: logger,
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	return p
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(ctx, job)
	}
}

func (p *Pool) run(ctx context.Context, job func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("background task panicked", zap.Any("panic", r))
		}
	}()
	job(ctx)
}

// Submit queues a job for execution. It blocks when the queue is full;
// the pool size is the process-level concurrency bound.
func (p *Pool) Submit(job func(context.Context)) {
	p.jobs <- job
}

// Stop closes the queue and waits for queued work to drain. In-flight
// container runs are bounded by their own timeouts.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.cancel()
}
