// Package tasks provides a bounded worker pool for blocking vector-store and
// embedding work and for fire-and-forget background jobs.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var (
	// ErrQueueFull is returned by Submit when the queue has no free slot.
	ErrQueueFull = errors.New("task queue full")
	// ErrPoolClosed is returned once Close has been called.
	ErrPoolClosed = errors.New("task pool closed")
)

// Func is a unit of work. The context is cancelled only when Close gives up
// waiting for the queue to drain.
type Func func(ctx context.Context) error

// workerKey marks contexts handed to tasks running on a pool worker.
type workerKey struct{}

type job struct {
	fn   Func
	done chan error
	name string
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Workers   int   `json:"workers"`
	QueueSize int   `json:"queue_size"`
	Queued    int   `json:"queued"`
	Active    int64 `json:"active"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}

// Pool runs submitted functions on a fixed number of goroutines fed by a
// bounded queue.
type Pool struct {
	ctx       context.Context
	queue     chan job
	cancel    context.CancelFunc
	logger    zerolog.Logger
	wg        sync.WaitGroup
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	active    atomic.Int64
	workers   int
	mu        sync.RWMutex
	closed    bool
}

// NewPool starts workers goroutines reading from a queue of queueSize slots.
func NewPool(workers, queueSize int, logger zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		ctx:     ctx,
		cancel:  cancel,
		queue:   make(chan job, queueSize),
		logger:  logger.With().Str("component", "tasks").Logger(),
		workers: workers,
	}
	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.queue {
		p.run(j)
	}
}

func (p *Pool) run(j job) {
	p.active.Add(1)
	defer p.active.Add(-1)

	err := p.call(j)
	if err != nil {
		p.failed.Add(1)
		p.logger.Warn().Err(err).Str("task", j.name).Msg("Task failed")
	} else {
		p.completed.Add(1)
	}
	if j.done != nil {
		j.done <- err
	}
}

func (p *Pool) call(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", j.name, r)
		}
	}()
	return j.fn(context.WithValue(p.ctx, workerKey{}, p))
}

// OnWorker reports whether ctx belongs to a task running on p.
func (p *Pool) OnWorker(ctx context.Context) bool {
	owner, _ := ctx.Value(workerKey{}).(*Pool)
	return owner == p
}

// Submit queues fn without blocking. It returns ErrQueueFull when the queue
// is saturated and ErrPoolClosed after Close.
func (p *Pool) Submit(name string, fn Func) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.rejected.Add(1)
		return ErrPoolClosed
	}
	select {
	case p.queue <- job{name: name, fn: fn}:
		p.submitted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		p.logger.Debug().Str("task", name).Msg("Task queue full, dropping")
		return ErrQueueFull
	}
}

// Do queues fn and waits for its result. Waiting for a queue slot and for
// completion both respect ctx; a task already started keeps running after
// ctx is done. Called from a task already running on p, fn runs inline on
// that worker instead of waiting for another one.
func (p *Pool) Do(ctx context.Context, name string, fn Func) error {
	if p.OnWorker(ctx) {
		p.submitted.Add(1)
		err := p.call(job{name: name, fn: func(context.Context) error { return fn(ctx) }})
		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
		return err
	}

	done := make(chan error, 1)

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		p.rejected.Add(1)
		return ErrPoolClosed
	}
	select {
	case p.queue <- job{name: name, fn: fn, done: done}:
		p.submitted.Add(1)
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		p.rejected.Add(1)
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work and waits for queued tasks to finish. If ctx
// ends first, running tasks are cancelled and ctx's error is returned.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-drained
		return fmt.Errorf("drain task queue: %w", ctx.Err())
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		QueueSize: cap(p.queue),
		Queued:    len(p.queue),
		Active:    p.active.Load(),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}
