package workerpool_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/medassure/go-dispense/pkg/workerpool"
)

func testConfig() workerpool.Config {
	return workerpool.Config{
		Workers:                 4,
		QueueSize:               16,
		MaxRetries:              2,
		RetryDelay:              time.Millisecond,
		GracefulShutdownTimeout: time.Second,
	}
}

func TestSubmitWait_ReturnsOwnResult(t *testing.T) {
	pool, err := workerpool.New(testConfig(), func(_ context.Context, task *workerpool.Task) error {
		if task.ID == "bad" {
			return errors.New("boom")
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	pool.Start()
	defer pool.Stop()

	result, err := pool.SubmitWait(context.Background(), &workerpool.Task{ID: "good"})
	if err != nil {
		t.Fatalf("SubmitWait failed: %v", err)
	}
	if result.TaskID != "good" || result.Err != nil {
		t.Errorf("result = %+v, want good/nil", result)
	}

	result, err = pool.SubmitWait(context.Background(), &workerpool.Task{ID: "bad"})
	if err != nil {
		t.Fatalf("SubmitWait failed: %v", err)
	}
	if result.TaskID != "bad" || result.Err == nil {
		t.Errorf("result = %+v, want bad with error", result)
	}
}

func TestRetry_EventuallySucceeds(t *testing.T) {
	var attempts int32
	pool, err := workerpool.New(testConfig(), func(context.Context, *workerpool.Task) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	pool.Start()
	defer pool.Stop()

	result, err := pool.SubmitWait(context.Background(), &workerpool.Task{ID: "t"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Err != nil {
		t.Errorf("result.Err = %v, want success after retries", result.Err)
	}

	stats := pool.Stats()
	if stats.Retried != 2 || stats.Completed != 1 {
		t.Errorf("stats = %+v, want 2 retries and 1 completion", stats)
	}
}

func TestSubmit_QueueFull(t *testing.T) {
	block := make(chan struct{})
	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueSize = 1

	pool, err := workerpool.New(cfg, func(context.Context, *workerpool.Task) error {
		<-block
		return nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	pool.Start()
	defer func() {
		close(block)
		pool.Stop()
	}()

	// One task occupies the worker, one fills the queue; the third must be
	// rejected rather than block the caller.
	if err := pool.Submit(&workerpool.Task{ID: "running"}); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(time.Second)
	for pool.Stats().QueueLen != 0 {
		select {
		case <-deadline:
			t.Fatal("worker never picked up the first task")
		case <-time.After(time.Millisecond):
		}
	}
	if err := pool.Submit(&workerpool.Task{ID: "queued"}); err != nil {
		t.Fatal(err)
	}
	if err := pool.Submit(&workerpool.Task{ID: "rejected"}); !errors.Is(err, workerpool.ErrQueueFull) {
		t.Errorf("Submit = %v, want ErrQueueFull", err)
	}
}

func TestStop_DrainsQueuedTasks(t *testing.T) {
	var completed int32
	pool, err := workerpool.New(testConfig(), func(context.Context, *workerpool.Task) error {
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&completed, 1)
		return nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	pool.Start()

	const n = 8
	for i := 0; i < n; i++ {
		if err := pool.Submit(&workerpool.Task{ID: "t"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := pool.Stop(); err != nil {
		t.Fatal(err)
	}

	if got := atomic.LoadInt32(&completed); got != n {
		t.Errorf("completed = %d, want %d (queued work must finish on Stop)", got, n)
	}
	if err := pool.Submit(&workerpool.Task{ID: "late"}); !errors.Is(err, workerpool.ErrStopped) {
		t.Errorf("Submit after Stop = %v, want ErrStopped", err)
	}
}

func TestSubmit_ConcurrentWithStop(t *testing.T) {
	pool, err := workerpool.New(testConfig(), func(context.Context, *workerpool.Task) error {
		return nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	pool.Start()

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 200; j++ {
				err := pool.Submit(&workerpool.Task{ID: "t"})
				if errors.Is(err, workerpool.ErrStopped) {
					return
				}
				if err != nil && !errors.Is(err, workerpool.ErrQueueFull) {
					t.Errorf("Submit = %v", err)
					return
				}
			}
		}()
	}

	close(start)
	if err := pool.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	wg.Wait()

	if err := pool.Submit(&workerpool.Task{ID: "late"}); !errors.Is(err, workerpool.ErrStopped) {
		t.Errorf("Submit after Stop = %v, want ErrStopped", err)
	}
}
