package prober

import (
	"context"
	"sync"
)

// HostLimiter caps the number of in-flight probes against any single host.
// IPTV lists cluster many endpoints on a few origins, and a full pool
// pointed at one of them looks like abuse.
type HostLimiter struct {
	mu    sync.Mutex
	limit int
	hosts map[string]chan struct{}
}

// NewHostLimiter creates a new HostLimiter. A limit of zero or less disables
// the cap.
func NewHostLimiter(limit int) *HostLimiter {
	return &HostLimiter{
		limit: limit,
		hosts: make(map[string]chan struct{}),
	}
}

// Acquire blocks until a slot for host is free or ctx is done. It returns
// ctx.Err() when the slot could not be taken.
func (hl *HostLimiter) Acquire(ctx context.Context, host string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sem := hl.slot(host)
	if sem == nil {
		return nil
	}
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (hl *HostLimiter) Release(host string) {
	if sem := hl.slot(host); sem != nil {
		<-sem
	}
}

func (hl *HostLimiter) slot(host string) chan struct{} {
	if hl.limit <= 0 || host == "" {
		return nil
	}
	hl.mu.Lock()
	defer hl.mu.Unlock()
	sem, ok := hl.hosts[host]
	if !ok {
		sem = make(chan struct{}, hl.limit)
		hl.hosts[host] = sem
	}
	return sem
}
