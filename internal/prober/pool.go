package prober

import (
	"context"
	"sync"
)

// probeFunc classifies one endpoint.
type probeFunc func(ctx context.Context, endpoint string) Result

// WorkerPool manages a fixed set of goroutines that probe endpoints
// concurrently. Completed results are handed back over a channel so only
// the consumer touches the outcome map.
type WorkerPool struct {
	jobs     chan string
	results  chan Result
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewWorkerPool creates a new worker pool and starts its workers.
func NewWorkerPool(ctx context.Context, probe probeFunc, maxConcurrency int) *WorkerPool {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	pool := &WorkerPool{
		jobs:    make(chan string, maxConcurrency*2),
		results: make(chan Result, maxConcurrency),
	}
	pool.startWorkers(ctx, probe, maxConcurrency)
	return pool
}

// startWorkers launches the worker goroutines. The results channel is
// closed once every worker has exited.
func (p *WorkerPool) startWorkers(ctx context.Context, probe probeFunc, count int) {
	p.wg.Add(count)
	for i := 0; i < count; i++ {
		go func() {
			defer p.wg.Done()
			for endpoint := range p.jobs {
				p.results <- probe(ctx, endpoint)
			}
		}()
	}
	go func() {
		p.wg.Wait()
		close(p.results)
	}()
}

// Submit queues an endpoint, blocking while the queue is full. It returns
// false without queueing when ctx is done.
func (p *WorkerPool) Submit(ctx context.Context, endpoint string) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case p.jobs <- endpoint:
		return true
	case <-ctx.Done():
		return false
	}
}

// Results returns the channel of completed probes.
func (p *WorkerPool) Results() <-chan Result {
	return p.results
}

// Stop tells the workers no more jobs are coming. Queued jobs still run.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		close(p.jobs)
	})
}
