package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// RetryPolicy tunes the retryer.
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

// DefaultRetryPolicy matches the collection defaults: three attempts,
// exponential backoff capped at 30s, with jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = 2.0
	}
	return p
}

// Retryer re-runs a failing operation with exponential backoff. Only errors
// classified retryable are retried; permanent and not-found errors propagate
// immediately.
type Retryer struct {
	policy RetryPolicy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryer creates a Retryer with the given policy.
func NewRetryer(policy RetryPolicy, logger *slog.Logger) *Retryer {
	return &Retryer{
		policy: policy.normalized(),
		logger: logger.With("component", "retryer"),
		sleep:  sleepCtx,
	}
}

// Do runs fn until it succeeds, fails terminally, exhausts the attempt
// budget, or the context ends. name identifies the operation in logs.
func (r *Retryer) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := r.policy.InitialDelay

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
		if attempt == r.policy.MaxAttempts {
			break
		}

		wait := delay
		if r.policy.Jitter {
			wait = delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))
		}
		r.logger.Warn("operation failed, retrying",
			"op", name, "attempt", attempt, "max_attempts", r.policy.MaxAttempts,
			"backoff", wait.String(), "error", lastErr)

		if err := r.sleep(ctx, wait); err != nil {
			return err
		}

		delay = time.Duration(float64(delay) * r.policy.BackoffFactor)
		if delay > r.policy.MaxDelay {
			delay = r.policy.MaxDelay
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, r.policy.MaxAttempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
