package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunAllTasks(t *testing.T) {
	p := New(4)

	var done atomic.Int32
	tasks := make([]Task, 10)
	for i := range tasks {
		tasks[i] = func(context.Context) error {
			done.Add(1)
			return nil
		}
	}

	if err := p.Run(context.Background(), tasks); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if done.Load() != 10 {
		t.Errorf("expected 10 tasks run, got %d", done.Load())
	}
}

func TestRunBoundedConcurrency(t *testing.T) {
	p := New(2)

	var current, peak atomic.Int32
	tasks := make([]Task, 8)
	for i := range tasks {
		tasks[i] = func(context.Context) error {
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			return nil
		}
	}

	if err := p.Run(context.Background(), tasks); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if peak.Load() > 2 {
		t.Errorf("concurrency exceeded the bound: peak %d", peak.Load())
	}
}

func TestRunFailFast(t *testing.T) {
	p := New(1)

	boom := errors.New("boom")
	var ran atomic.Int32
	tasks := []Task{
		func(context.Context) error { ran.Add(1); return boom },
		func(ctx context.Context) error {
			ran.Add(1)
			return ctx.Err()
		},
	}

	err := p.Run(context.Background(), tasks)
	if !errors.Is(err, boom) {
		t.Errorf("expected the task error, got %v", err)
	}
}

func TestRunEmpty(t *testing.T) {
	p := New(4)
	if err := p.Run(context.Background(), nil); err != nil {
		t.Errorf("empty batch should succeed, got %v", err)
	}
}

func TestRunRespectsCancelledContext(t *testing.T) {
	p := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	block := make(chan struct{})
	defer close(block)
	tasks := []Task{
		func(ctx context.Context) error {
			select {
			case <-block:
			case <-ctx.Done():
			}
			return ctx.Err()
		},
	}

	if err := p.Run(ctx, tasks); err == nil {
		t.Error("expected an error from a cancelled context")
	}
}
