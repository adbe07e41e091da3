// Package lanes executes indicator kernels in data-parallel fashion: the
// output range is split into fixed-size chunks and each worker drives the
// kernel's lane surface across its claimed chunks, one lane per output
// index. The kernels themselves never spawn goroutines; all parallelism
// lives here.
package lanes

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"ti-systemv1/internal/ti"
)

// chunkSize is the number of lanes a worker claims per cursor advance.
// Small enough to balance ragged work, large enough to amortize the atomic.
const chunkSize = 1024

// Pool fans kernel evaluation across a fixed set of workers. A Pool is
// stateless between calls and safe for concurrent use.
type Pool struct {
	workers int
}

// NewPool returns a Pool with the given worker count; workers <= 0 selects
// GOMAXPROCS.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{workers: workers}
}

// Workers reports the pool's worker count.
func (p *Pool) Workers() int { return p.workers }

// Run evaluates every index of data on k's lane surface and returns a
// freshly allocated result slice.
func (p *Pool) Run(ctx context.Context, k ti.Kernel, data []float32, param int) ([]float32, error) {
	dst := make([]float32, len(data))
	if err := p.RunInto(ctx, dst, k, data, param, -1); err != nil {
		return nil, err
	}
	return dst, nil
}

// RunInto evaluates indices [0, n) of data into dst; n < 0 means len(data).
// Cancellation is observed between chunks, so dst may hold a partial result
// when an error comes back.
func (p *Pool) RunInto(ctx context.Context, dst []float32, k ti.Kernel, data []float32, param, n int) error {
	if n < 0 {
		n = len(data)
	}
	if n == 0 {
		return ctx.Err()
	}

	workers := p.workers
	if max := (n + chunkSize - 1) / chunkSize; workers > max {
		workers = max
	}

	var cursor atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				lo := int(cursor.Add(chunkSize)) - chunkSize
				if lo >= n {
					return
				}
				hi := lo + chunkSize
				if hi > n {
					hi = n
				}
				for i := lo; i < hi; i++ {
					k.Lane(dst, i, data, param, i)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Job pairs a kernel with its parameter for batch evaluation against one
// shared series.
type Job struct {
	Kernel ti.Kernel
	Param  int
}

// RunBatch evaluates every job over the same series and returns the result
// slices in job order. Each job runs on a single worker via the kernel's
// fill surface; parallelism is across jobs.
func (p *Pool) RunBatch(ctx context.Context, data []float32, jobs []Job) ([][]float32, error) {
	out := make([][]float32, len(jobs))
	jobCh := make(chan int)

	workers := p.workers
	if workers > len(jobs) {
		workers = len(jobs)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobCh {
				buf := make([]float32, len(data))
				jobs[idx].Kernel.Fill(buf, data, jobs[idx].Param, -1)
				out[idx] = buf
			}
		}()
	}

feed:
	for idx := range jobs {
		select {
		case jobCh <- idx:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobCh)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
