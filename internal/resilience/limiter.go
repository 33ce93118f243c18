package resilience

import (
	"context"
	"sync/atomic"
)

// Limiter bounds the number of simultaneously in-flight units of work. A
// unit acquires a slot before starting and releases it when done; excess
// acquirers queue until a slot frees.
type Limiter struct {
	slots    chan struct{}
	capacity int
	active   atomic.Int64
}

// NewLimiter creates a limiter with the given slot count.
func NewLimiter(capacity int) *Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	return &Limiter{
		slots:    make(chan struct{}, capacity),
		capacity: capacity,
	}
}

// Acquire blocks until a slot is free or the context ends.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		l.active.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot acquired earlier. It must be called exactly once per
// successful Acquire.
func (l *Limiter) Release() {
	l.active.Add(-1)
	<-l.slots
}

// Active returns the number of slots currently held.
func (l *Limiter) Active() int { return int(l.active.Load()) }

// Capacity returns the configured slot count.
func (l *Limiter) Capacity() int { return l.capacity }
