package worker

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool runs a function over a fixed list of items on a bounded number of
// goroutines.
type Pool struct {
	concurrency int
}

// NewPool creates a new worker pool. A non-positive concurrency uses one
// worker per CPU.
func NewPool(concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Pool{concurrency: concurrency}
}

// Concurrency returns the number of workers.
func (p *Pool) Concurrency() int {
	return p.concurrency
}

// Stats tracks how many items a run handled
type Stats struct {
	Processed int64
	Cancelled int64
}

// Execute calls fn for the item at each index of n items. Workers check ctx
// before picking up each item; once it is done the remaining items are
// counted as cancelled and fn is not called for them. An item already being
// processed is never interrupted.
func (p *Pool) Execute(ctx context.Context, n int, fn func(ctx context.Context, idx int)) Stats {
	jobs := make(chan int, n)
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)

	var stats Stats
	workers := p.concurrency
	if workers > n {
		workers = n
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.worker(ctx, jobs, fn, &stats, &wg)
	}
	wg.Wait()

	return stats
}

// worker processes jobs
func (p *Pool) worker(ctx context.Context, jobs <-chan int, fn func(context.Context, int), stats *Stats, wg *sync.WaitGroup) {
	defer wg.Done()

	for idx := range jobs {
		select {
		case <-ctx.Done():
			atomic.AddInt64(&stats.Cancelled, 1)
			continue
		default:
		}

		fn(ctx, idx)
		atomic.AddInt64(&stats.Processed, 1)
	}
}

// Map runs fn over items on the pool and returns the outputs in input order.
func Map[T, R any](ctx context.Context, p *Pool, items []T, fn func(ctx context.Context, item T) R) ([]R, Stats) {
	out := make([]R, len(items))
	stats := p.Execute(ctx, len(items), func(ctx context.Context, idx int) {
		out[idx] = fn(ctx, items[idx])
	})
	return out, stats
}
