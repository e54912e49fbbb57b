// Package queue is a bounded job queue drained by a fixed worker pool.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Job encapsulates a unit of work processed by the worker pool.
type Job struct {
	ID       string
	Source   string
	Work     func(context.Context) error
	// OnDrop runs instead of Work when the queue stops with the job still
	// buffered.
	OnDrop func()
}

// Stats exposes current queue metrics.
type Stats struct {
	Length      int    `json:"length"`
	Capacity    int    `json:"capacity"`
	WorkerCount int    `json:"worker_count"`
	Busy        int64  `json:"busy"`
	Processed   uint64 `json:"processed"`
	Failed      uint64 `json:"failed"`
}

// Queue represents a bounded job queue with a fixed worker pool.
type Queue struct {
	jobs        chan Job
	workerCount int
	timeout     time.Duration
	log         *slog.Logger
	started     bool
	stopped     bool
	mu          sync.RWMutex
	wg          sync.WaitGroup
	busy        int64
	processed   uint64
	failed      uint64
}

// New creates a Queue. A zero timeout leaves jobs unbounded in time.
func New(capacity, workerCount int, timeout time.Duration, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		jobs:        make(chan Job, capacity),
		workerCount: workerCount,
		timeout:     timeout,
		log:         logger,
	}
}

// Start launches the worker pool.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()
	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Enqueue attempts to queue a job without blocking. Returns false if the
// queue is full, not started, or stopped.
func (q *Queue) Enqueue(j Job) bool {
	return q.tryEnqueue(j, true)
}

// EnqueueWithRetry attempts to queue a job with a bounded retry window. Returns (enqueued, droppedFull).
// It gives up at once when the queue is not running.
func (q *Queue) EnqueueWithRetry(ctx context.Context, j Job, window time.Duration, interval time.Duration) (bool, bool) {
	deadline := time.Now().Add(window)
	if q.tryEnqueue(j, false) {
		return true, false
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		if !q.Healthy() {
			q.log.Warn("enqueue rejected, queue not running", "job", j.ID, "source", j.Source)
			return false, false
		}
		select {
		case <-ctx.Done():
			return false, false
		case <-ticker.C:
			if q.tryEnqueue(j, false) {
				return true, false
			}
		}
	}
	q.log.Warn("job queue full after retry window", "job", j.ID, "source", j.Source, "window", window)
	return false, true
}

func (q *Queue) tryEnqueue(j Job, logDrop bool) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if !q.started || q.stopped {
		if logDrop {
			q.log.Warn("enqueue rejected, queue not running", "job", j.ID, "source", j.Source)
		}
		return false
	}
	select {
	case q.jobs <- j:
		return true
	default:
		if logDrop {
			q.log.Warn("job queue full, dropping job", "job", j.ID, "source", j.Source)
		}
		return false
	}
}

// Stop stops accepting new jobs and waits for workers to drain until context is done.
// Jobs still buffered once the workers are gone are handed to their OnDrop.
func (q *Queue) Stop(ctx context.Context) {
	q.mu.Lock()
	if !q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
	for j := range q.jobs {
		q.log.Warn("job dropped at shutdown", "job", j.ID, "source", j.Source)
		if j.OnDrop != nil {
			j.OnDrop()
		}
	}
}

// Stats returns current queue metrics.
func (q *Queue) Stats() Stats {
	return Stats{
		Length:      len(q.jobs),
		Capacity:    cap(q.jobs),
		WorkerCount: q.workerCount,
		Busy:        atomic.LoadInt64(&q.busy),
		Processed:   atomic.LoadUint64(&q.processed),
		Failed:      atomic.LoadUint64(&q.failed),
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q.jobs:
			if !ok {
				return
			}
			q.handleJob(ctx, j)
		}
	}
}

func (q *Queue) handleJob(ctx context.Context, j Job) {
	start := time.Now()
	atomic.AddInt64(&q.busy, 1)
	defer atomic.AddInt64(&q.busy, -1)

	err := q.run(ctx, j)
	atomic.AddUint64(&q.processed, 1)
	status := "success"
	if err != nil {
		atomic.AddUint64(&q.failed, 1)
		status = err.Error()
	}
	q.log.Debug("job finished", "job_source", j.Source, "job", j.ID, "duration_ms", time.Since(start).Milliseconds(), "status", status)
}

func (q *Queue) run(ctx context.Context, j Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("job panic recovered", "job", j.ID, "panic", r)
			err = &PanicError{Value: r}
		}
	}()
	jobCtx := ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	return j.Work(jobCtx)
}

// PanicError reports a job that panicked.
type PanicError struct{ Value any }

func (p *PanicError) Error() string { return "job panicked" }

// Healthy returns true if the queue is running.
func (q *Queue) Healthy() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.started && !q.stopped
}
