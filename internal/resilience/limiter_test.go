package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimiter_BoundsConcurrency(t *testing.T) {
	const capacity = 3
	const workers = 40

	l := NewLimiter(capacity)

	var active, maxActive atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			defer l.Release()

			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	if got := maxActive.Load(); got > capacity {
		t.Fatalf("observed %d simultaneously active units, capacity is %d", got, capacity)
	}
	if l.Active() != 0 {
		t.Fatalf("expected all slots released, %d still active", l.Active())
	}
}

func TestLimiter_AcquireHonorsContext(t *testing.T) {
	l := NewLimiter(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	if err := l.Acquire(ctx); err == nil {
		t.Fatal("expected acquire to fail once the context expired")
	}

	l.Release()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestLimiter_Observability(t *testing.T) {
	l := NewLimiter(2)
	if l.Capacity() != 2 {
		t.Fatalf("capacity = %d, want 2", l.Capacity())
	}
	_ = l.Acquire(context.Background())
	if l.Active() != 1 {
		t.Fatalf("active = %d, want 1", l.Active())
	}
	l.Release()
	if l.Active() != 0 {
		t.Fatalf("active = %d, want 0", l.Active())
	}
}
