// Package async holds the bounded worker pool used to evaluate positions in
// parallel
package async

import (
	"context"
	"runtime"
	"sync"
)

// WorkerPool runs indexed tasks on a fixed number of goroutines
type WorkerPool struct {
	workers int
}

// NewWorkerPool creates a pool; workers <= 0 uses GOMAXPROCS
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &WorkerPool{workers: workers}
}

// Workers returns the pool size
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// Run calls fn(ctx, i) for every i in [0, n). Tasks not yet started when ctx
// is cancelled are skipped; Run returns ctx.Err() in that case.
func (wp *WorkerPool) Run(ctx context.Context, n int, fn func(ctx context.Context, i int)) error {
	if n == 0 {
		return ctx.Err()
	}

	tasks := make(chan int)
	var wg sync.WaitGroup

	workers := wp.workers
	if workers > n {
		workers = n
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range tasks {
				fn(ctx, i)
			}
		}()
	}

	var err error
feed:
	for i := 0; i < n; i++ {
		select {
		case tasks <- i:
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		}
	}
	close(tasks)
	wg.Wait()
	return err
}

// Map applies fn to every item on the pool and returns results in input order
func Map[T, R any](ctx context.Context, wp *WorkerPool, items []T, fn func(ctx context.Context, item T) R) ([]R, error) {
	out := make([]R, len(items))
	err := wp.Run(ctx, len(items), func(ctx context.Context, i int) {
		out[i] = fn(ctx, items[i])
	})
	return out, err
}
