package prober

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestHostLimiter tests the per-host cap on in-flight probes.
func TestHostLimiter(t *testing.T) {
	t.Run("acquire and release", func(t *testing.T) {
		limiter := NewHostLimiter(1)
		host := "example.com"
		ctx := context.Background()

		if err := limiter.Acquire(ctx, host); err != nil {
			t.Fatalf("expected first acquisition to succeed, got %v", err)
		}

		// A second acquisition blocks until the context gives up.
		short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		if err := limiter.Acquire(short, host); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected second acquisition to time out, got %v", err)
		}

		limiter.Release(host)
		if err := limiter.Acquire(ctx, host); err != nil {
			t.Errorf("expected re-acquisition after release to succeed, got %v", err)
		}
		limiter.Release(host)
	})

	t.Run("different hosts", func(t *testing.T) {
		limiter := NewHostLimiter(1)
		ctx := context.Background()
		if err := limiter.Acquire(ctx, "example.com"); err != nil {
			t.Errorf("expected host1 acquisition to succeed, got %v", err)
		}
		if err := limiter.Acquire(ctx, "example.org"); err != nil {
			t.Errorf("expected host2 acquisition to succeed, got %v", err)
		}
		limiter.Release("example.com")
		limiter.Release("example.org")
	})

	t.Run("unlimited", func(t *testing.T) {
		limiter := NewHostLimiter(0)
		for i := 0; i < 100; i++ {
			if err := limiter.Acquire(context.Background(), "example.com"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		limiter := NewHostLimiter(4)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := limiter.Acquire(ctx, "example.com"); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("caps concurrency", func(t *testing.T) {
		const limit = 3
		limiter := NewHostLimiter(limit)
		var inFlight, peak atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := limiter.Acquire(context.Background(), "example.com"); err != nil {
					t.Error(err)
					return
				}
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				limiter.Release("example.com")
			}()
		}
		wg.Wait()
		if p := peak.Load(); p > limit {
			t.Errorf("expected at most %d in flight, saw %d", limit, p)
		}
	})
}

// TestWorkerPoolConcurrency tests the worker pool concurrency limit.
func TestWorkerPoolConcurrency(t *testing.T) {
	const workers = 2
	var inFlight, peak atomic.Int32
	probe := func(ctx context.Context, endpoint string) Result {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return Result{Endpoint: endpoint}
	}

	ctx := context.Background()
	pool := NewWorkerPool(ctx, probe, workers)
	go func() {
		defer pool.Stop()
		for _, e := range []string{"a", "b", "c", "d", "e", "f"} {
			pool.Submit(ctx, e)
		}
	}()

	got := 0
	for range pool.Results() {
		got++
	}
	if got != 6 {
		t.Errorf("expected 6 results, got %d", got)
	}
	if p := peak.Load(); p > workers {
		t.Errorf("expected at most %d concurrent probes, saw %d", workers, p)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if pool.Submit(canceled, "late") {
		t.Error("expected Submit to refuse work after cancellation")
	}
}
