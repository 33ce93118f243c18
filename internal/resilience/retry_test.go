package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/user/district-metrics/internal/domain"
)

func newTestRetryer(maxAttempts int) *Retryer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRetryer(RetryPolicy{
		MaxAttempts:   maxAttempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}, logger)
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return r
}

func TestRetryer_SucceedsAfterTransientFailures(t *testing.T) {
	r := newTestRetryer(3)

	calls := 0
	err := r.Do(context.Background(), "fetch", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryer_PermanentErrorNotRetried(t *testing.T) {
	r := newTestRetryer(5)

	calls := 0
	permanent := &domain.ValidationError{Msg: "bad shape"}
	err := r.Do(context.Background(), "fetch", func(ctx context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, error(permanent)) {
		t.Fatalf("expected the permanent error back, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("permanent error must not be retried, got %d attempts", calls)
	}
}

func TestRetryer_ExhaustsAttempts(t *testing.T) {
	r := newTestRetryer(3)

	calls := 0
	err := r.Do(context.Background(), "fetch", func(ctx context.Context) error {
		calls++
		return errTransient
	})
	if err == nil {
		t.Fatal("expected an error after exhausting attempts")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("error should mention attempt budget, got %q", err.Error())
	}
	if !errors.Is(err, error(errTransient)) {
		t.Errorf("exhaustion error should wrap the last failure, got %v", err)
	}
}

func TestRetryer_ContextCancelledDuringBackoff(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRetryer(RetryPolicy{MaxAttempts: 5, InitialDelay: time.Millisecond}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	r.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := r.Do(ctx, "fetch", func(ctx context.Context) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt before cancellation, got %d", calls)
	}
}
