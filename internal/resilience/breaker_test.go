package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/user/district-metrics/internal/domain"
)

var errTransient = &domain.HTTPStatusError{Source: "test", StatusCode: 503}

func newTestBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *time.Time) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := NewCircuitBreaker("test", BreakerConfig{FailureThreshold: threshold, Cooldown: cooldown}, logger, nil)
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func failNTimes(b *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = b.Execute(context.Background(), func(ctx context.Context) error { return errTransient })
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	failNTimes(b, 2)
	if b.State() != StateClosed {
		t.Fatalf("expected closed after 2 failures, got %s", b.State())
	}

	failNTimes(b, 1)
	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.State())
	}

	called := false
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("operation must not be invoked while circuit is open")
	}
}

func TestCircuitBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	b, now := newTestBreaker(2, time.Minute)
	failNTimes(b, 2)

	*now = now.Add(2 * time.Minute)

	probes := 0
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		probes++
		return nil
	})
	if err != nil {
		t.Fatalf("probe should succeed, got %v", err)
	}
	if probes != 1 {
		t.Fatalf("expected exactly one probe, got %d", probes)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after successful probe, got %s", b.State())
	}

	// Circuit is fully healthy again: one new failure must not reopen it.
	failNTimes(b, 1)
	if b.State() != StateClosed {
		t.Fatalf("failure count should have reset, got %s", b.State())
	}
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	b, now := newTestBreaker(2, time.Minute)
	failNTimes(b, 2)

	*now = now.Add(2 * time.Minute)
	failNTimes(b, 1) // the probe

	if b.State() != StateOpen {
		t.Fatalf("expected open after failed probe, got %s", b.State())
	}

	// Still within the new cooldown window.
	err := b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after reopen, got %v", err)
	}
}

func TestCircuitBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)

	permanent := &domain.ValidationError{Msg: "bad input"}
	for i := 0; i < 10; i++ {
		_ = b.Execute(context.Background(), func(ctx context.Context) error { return permanent })
	}
	if b.State() != StateClosed {
		t.Fatalf("permanent errors must not open the circuit, got %s", b.State())
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	failNTimes(b, 2)
	_ = b.Execute(context.Background(), func(ctx context.Context) error { return nil })
	failNTimes(b, 2)

	if b.State() != StateClosed {
		t.Fatalf("expected closed, interleaved success should reset the count, got %s", b.State())
	}
}
