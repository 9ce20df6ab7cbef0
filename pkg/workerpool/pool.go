// Package workerpool provides a bounded worker pool used by the fulfillment
// worker to process requests with controlled concurrency.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrQueueFull is returned when the task queue cannot accept another task
var ErrQueueFull = errors.New("task queue is full")

// ErrStopped is returned when submitting to a stopped pool
var ErrStopped = errors.New("pool is shutting down")

// Task is one unit of work
type Task struct {
	ID      string
	Payload interface{}

	// done receives the result exactly once when set by SubmitWait
	done chan *Result
}

// Result is the outcome of one task
type Result struct {
	TaskID string
	Err    error
}

// WorkerFunc processes one task. A non-nil error is retried up to MaxRetries
// times with linear backoff.
type WorkerFunc func(ctx context.Context, task *Task) error

// Config tunes the pool
type Config struct {
	Workers                 int
	QueueSize               int
	MaxRetries              int
	RetryDelay              time.Duration
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig returns defaults for the fulfillment worker
func DefaultConfig() Config {
	return Config{
		Workers:                 16,
		QueueSize:               1024,
		MaxRetries:              3,
		RetryDelay:              100 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// Pool runs tasks on a fixed set of workers
type Pool struct {
	config Config
	fn     WorkerFunc
	logger *zap.Logger

	tasks chan *Task
	wg    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	// mu orders Submit against Stop: Stop closes the task channel under the
	// write lock, so a send can never race the close.
	mu      sync.RWMutex
	stopped bool

	submitted int64
	completed int64
	failed    int64
	retried   int64
}

// New creates a pool; call Start to launch the workers
func New(cfg Config, fn WorkerFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, errors.New("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		config: cfg,
		fn:     fn,
		logger: logger,
		tasks:  make(chan *Task, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start launches the workers
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit enqueues a task without waiting for its result
func (p *Pool) Submit(task *Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.tasks <- task:
		atomic.AddInt64(&p.submitted, 1)
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitWait enqueues a task and blocks until it finishes or ctx expires
func (p *Pool) SubmitWait(ctx context.Context, task *Task) (*Result, error) {
	task.done = make(chan *Result, 1)
	if err := p.Submit(task); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-task.done:
		return result, nil
	}
}

// Stop refuses new submissions, drains queued work, and cancels whatever is
// still running once the grace period expires
func (p *Pool) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
	case <-time.After(p.config.GracefulShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out, cancelling running tasks")
		p.cancel()
		<-done
	}
	p.cancel()
	return nil
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for task := range p.tasks {
		p.run(id, task)
	}
}

func (p *Pool) run(workerID int, task *Task) {
	var err error

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if p.ctx.Err() != nil {
			err = p.ctx.Err()
			break
		}

		err = p.fn(p.ctx, task)
		if err == nil {
			break
		}
		if attempt == p.config.MaxRetries {
			err = fmt.Errorf("task failed after %d retries: %w", p.config.MaxRetries, err)
			break
		}

		atomic.AddInt64(&p.retried, 1)
		p.logger.Debug("retrying task",
			zap.String("task_id", task.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		select {
		case <-p.ctx.Done():
			err = p.ctx.Err()
		case <-time.After(p.config.RetryDelay * time.Duration(attempt+1)):
			continue
		}
		break
	}

	if err == nil {
		atomic.AddInt64(&p.completed, 1)
	} else {
		atomic.AddInt64(&p.failed, 1)
		p.logger.Error("task failed",
			zap.String("task_id", task.ID),
			zap.Int("worker_id", workerID),
			zap.Error(err))
	}

	if task.done != nil {
		task.done <- &Result{TaskID: task.ID, Err: err}
	}
}

// Stats is a point-in-time snapshot of pool counters
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
	Retried   int64
	QueueLen  int
	Workers   int
}

// Stats returns current counters
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: atomic.LoadInt64(&p.submitted),
		Completed: atomic.LoadInt64(&p.completed),
		Failed:    atomic.LoadInt64(&p.failed),
		Retried:   atomic.LoadInt64(&p.retried),
		QueueLen:  len(p.tasks),
		Workers:   p.config.Workers,
	}
}
