// Package workers provides a fixed-size goroutine pool with a bounded task
// queue and typed futures for task results.
package workers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	apperrors "github.com/go-i2p/respool/lib/errors"
)

// Config configures a WorkerPool.
type Config struct {
	// Workers is the number of goroutines consuming the queue.
	// Default: 4
	Workers int `toml:"workers" yaml:"workers"`
	// QueueSize bounds the number of tasks waiting for a worker.
	// Default: 64
	QueueSize int `toml:"queue_size" yaml:"queue_size"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:   4,
		QueueSize: 64,
	}
}

// Stats is a snapshot of worker pool counters.
type Stats struct {
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Running   bool   `json:"running"`
}

// WorkerPool runs submitted tasks on a fixed number of goroutines.
type WorkerPool struct {
	cfg   Config
	tasks chan func()

	mu      sync.RWMutex
	running bool
	stopped bool
	wg      sync.WaitGroup

	completed atomic.Uint64
	failed    atomic.Uint64
}

// New creates a worker pool. Call Start before submitting.
func New(cfg Config) (*WorkerPool, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("%w: workers must be at least 1", apperrors.ErrInvalidConfig)
	}
	if cfg.QueueSize < 0 {
		return nil, fmt.Errorf("%w: queue_size must not be negative", apperrors.ErrInvalidConfig)
	}
	return &WorkerPool{
		cfg:   cfg,
		tasks: make(chan func(), cfg.QueueSize),
	}, nil
}

// Start launches the workers. Starting twice is a no-op.
func (wp *WorkerPool) Start() error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.stopped {
		return fmt.Errorf("worker pool: %w", apperrors.ErrClosed)
	}
	if wp.running {
		return nil
	}
	wp.running = true

	for i := 0; i < wp.cfg.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
	log.WithField("workers", wp.cfg.Workers).Debug("worker pool started")
	return nil
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for task := range wp.tasks {
		task()
	}
}

// Stop stops accepting tasks, lets the workers drain the queue and waits for
// them to exit. If ctx is done first, Stop returns its error and the workers
// keep draining in the background.
func (wp *WorkerPool) Stop(ctx context.Context) error {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return nil
	}
	wp.stopped = true
	wasRunning := wp.running
	wp.running = false
	close(wp.tasks)
	wp.mu.Unlock()

	if !wasRunning {
		return nil
	}

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug("worker pool stopped")
		return nil
	case <-ctx.Done():
		log.WithError(ctx.Err()).Warn("worker pool stop interrupted")
		return ctx.Err()
	}
}

// Stats returns current counters.
func (wp *WorkerPool) Stats() Stats {
	wp.mu.RLock()
	running := wp.running
	wp.mu.RUnlock()

	return Stats{
		Workers:   wp.cfg.Workers,
		Queued:    len(wp.tasks),
		Completed: wp.completed.Load(),
		Failed:    wp.failed.Load(),
		Running:   running,
	}
}

// Future holds the eventual result of a submitted task.
type Future[R any] struct {
	done  chan struct{}
	value R
	err   error
}

// Get waits for the task to finish and returns its result, or ctx's error if
// ctx is done first.
func (f *Future[R]) Get(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Ready reports whether the task has finished.
func (f *Future[R]) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Done is closed when the task finishes.
func (f *Future[R]) Done() <-chan struct{} {
	return f.done
}

// Submit queues fn and returns a future for its result. fn receives ctx.
// If the queue is full Submit waits for space until ctx is done, then fails
// with ErrQueueFull. A task that panics completes with an error.
func Submit[R any](ctx context.Context, wp *WorkerPool, fn func(ctx context.Context) (R, error)) (*Future[R], error) {
	f := &Future[R]{done: make(chan struct{})}
	task := func() {
		defer close(f.done)
		defer func() {
			if rec := recover(); rec != nil {
				f.err = fmt.Errorf("task panic: %v", rec)
				log.WithField("panic", fmt.Sprint(rec)).Warn("worker task panicked")
			}
			if f.err != nil {
				wp.failed.Add(1)
			} else {
				wp.completed.Add(1)
			}
		}()
		f.value, f.err = fn(ctx)
	}

	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		return nil, fmt.Errorf("worker pool: %w", apperrors.ErrNotRunning)
	}

	select {
	case wp.tasks <- task:
		return f, nil
	default:
	}

	select {
	case wp.tasks <- task:
		return f, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", apperrors.ErrQueueFull, ctx.Err())
	}
}
