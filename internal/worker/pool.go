package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"knowledge-api/internal/metrics"
)

var ErrPoolClosed = errors.New("worker pool is shut down")

// Pool runs submitted tasks in the background with at most size running at
// once. Submit never blocks: each task waits for a slot on its own goroutine.
type Pool struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit schedules task. Once the pool is shutting down, a task still waiting
// for a slot runs with an already cancelled context so it can clean up.
func (p *Pool) Submit(task func(ctx context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.wg.Add(1)
	metrics.JobsInFlight.Inc()
	go func() {
		defer p.wg.Done()
		defer metrics.JobsInFlight.Dec()

		if err := p.sem.Acquire(p.ctx, 1); err == nil {
			defer p.sem.Release(1)
		}
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Background task panicked")
			}
		}()
		task(p.ctx)
	}()
	return nil
}

// Shutdown stops accepting tasks and waits for running ones. When ctx expires
// first, the remaining tasks are cancelled and ctx.Err() is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
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
		log.Warn().Msg("Shutdown timeout reached, cancelling background jobs")
		p.cancel()
		return ctx.Err()
	}
}
