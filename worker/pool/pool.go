package pool

import (
	"context"
	"sync"
)

// Task is one unit of fan-out work.
type Task func(ctx context.Context) error

// WorkerPool runs a batch of tasks with bounded concurrency and fail-fast
// fan-in: the first error cancels the remaining tasks and is returned once
// every started task has finished.
type WorkerPool struct {
	sem chan struct{}
}

func New(maxWorkers int) *WorkerPool {
	return &WorkerPool{
		sem: make(chan struct{}, maxWorkers),
	}
}

func (p *WorkerPool) Run(ctx context.Context, tasks []Task) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)

	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for _, task := range tasks {
		wg.Add(1)
		go func(task Task) {
			defer wg.Done()

			select {
			case p.sem <- struct{}{}:
				defer func() { <-p.sem }()
				if err := task(ctx); err != nil {
					fail(err)
				}
			case <-ctx.Done():
				fail(ctx.Err())
			}
		}(task)
	}

	wg.Wait()
	return firstErr
}
