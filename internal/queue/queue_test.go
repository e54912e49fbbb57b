package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueueProcessesJob(t *testing.T) {
	q := New(10, 1, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	var processed int32
	done := make(chan struct{})
	ok := q.Enqueue(Job{
		ID:     "job1",
		Source: "test",
		Work: func(ctx context.Context) error {
			atomic.AddInt32(&processed, 1)
			close(done)
			return nil
		},
	})
	if !ok {
		t.Fatalf("expected enqueue to succeed")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("job did not complete")
	}
	if atomic.LoadInt32(&processed) != 1 {
		t.Fatalf("job not processed")
	}
}

func TestQueueTimeoutAndBounded(t *testing.T) {
	q := New(1, 0, 100*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	ok := q.Enqueue(Job{ID: "slow", Source: "test", Work: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	if !ok {
		t.Fatalf("expected first enqueue to succeed")
	}

	if ok := q.Enqueue(Job{ID: "drop", Source: "test", Work: func(ctx context.Context) error { return nil }}); ok {
		t.Fatalf("expected enqueue to be rejected when queue is full")
	}
}

func TestEnqueueWithRetryDropsWhenFull(t *testing.T) {
	q := New(1, 0, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	// Fill the queue so the retry path triggers.
	first := q.Enqueue(Job{ID: "first", Source: "test", Work: func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }})
	if !first {
		t.Fatalf("expected initial enqueue to succeed")
	}

	enqueued, dropped := q.EnqueueWithRetry(ctx, Job{ID: "retry", Source: "test", Work: func(ctx context.Context) error { return nil }}, 200*time.Millisecond, 50*time.Millisecond)
	if enqueued {
		t.Fatalf("expected enqueue to fail due to full queue")
	}
	if !dropped {
		t.Fatalf("expected enqueue to be reported as dropped after retries")
	}
}

func TestQueueRecoversPanics(t *testing.T) {
	q := New(4, 1, 0, nil)
	err := q.run(context.Background(), Job{ID: "boom", Work: func(context.Context) error { panic("kaboom") }})
	var p *PanicError
	if !errors.As(err, &p) || p.Value != "kaboom" {
		t.Fatalf("expected panic error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	if !q.Enqueue(Job{ID: "boom", Source: "test", Work: func(context.Context) error { panic("kaboom") }}) {
		t.Fatalf("expected enqueue to succeed")
	}

	// The worker survives and keeps serving.
	done := make(chan struct{})
	q.Enqueue(Job{ID: "next", Work: func(context.Context) error { close(done); return nil }})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker did not survive panic")
	}
}

func TestZeroTimeoutHasNoDeadline(t *testing.T) {
	q := New(1, 1, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	result := make(chan bool, 1)
	q.Enqueue(Job{ID: "deadline", Work: func(ctx context.Context) error {
		_, has := ctx.Deadline()
		result <- has
		return nil
	}})
	select {
	case has := <-result:
		if has {
			t.Fatalf("expected no deadline")
		}
	case <-time.After(time.Second):
		t.Fatalf("job did not run")
	}
}

func TestStopRejectsNewJobs(t *testing.T) {
	q := New(2, 1, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	q.Stop(stopCtx)

	if q.Enqueue(Job{ID: "late", Work: func(context.Context) error { return nil }}) {
		t.Fatalf("expected enqueue after stop to fail")
	}
	if q.Healthy() {
		t.Fatalf("stopped queue should not be healthy")
	}
	q.Stop(stopCtx)
}

func TestStopDropsBufferedJobs(t *testing.T) {
	q := New(4, 1, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	release := make(chan struct{})
	started := make(chan struct{})
	q.Enqueue(Job{ID: "running", Work: func(context.Context) error {
		close(started)
		<-release
		return nil
	}})
	<-started

	var mu sync.Mutex
	var dropped []string
	for _, id := range []string{"a", "b"} {
		id := id
		ok := q.Enqueue(Job{ID: id, Work: func(context.Context) error { return nil }, OnDrop: func() {
			mu.Lock()
			dropped = append(dropped, id)
			mu.Unlock()
		}})
		if !ok {
			t.Fatalf("expected %s to be queued", id)
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer stopCancel()
	q.Stop(stopCtx)
	close(release)

	mu.Lock()
	defer mu.Unlock()
	if len(dropped) != 2 {
		t.Fatalf("expected both buffered jobs dropped, got %v", dropped)
	}
}

func TestEnqueueWithRetryGivesUpWhenStopped(t *testing.T) {
	q := New(1, 0, 0, nil)
	q.Start(context.Background())
	q.Enqueue(Job{ID: "fill", Work: func(context.Context) error { return nil }})

	go func() {
		time.Sleep(20 * time.Millisecond)
		stopCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		q.Stop(stopCtx)
	}()
	start := time.Now()
	enqueued, dropped := q.EnqueueWithRetry(context.Background(), Job{ID: "late", Work: func(context.Context) error { return nil }}, 5*time.Second, 10*time.Millisecond)
	if enqueued || dropped {
		t.Fatalf("expected a plain rejection, got enqueued=%v dropped=%v", enqueued, dropped)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("retry loop kept waiting on a stopped queue")
	}
}
