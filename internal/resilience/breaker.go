package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without invoking the wrapped operation while
// the circuit is open.
var ErrCircuitOpen = errors.New("circuit open")

// BreakerState is the circuit's current mode.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive transient failures that
	// opens the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before allowing a single
	// half-open probe.
	Cooldown time.Duration
}

// CircuitBreaker wraps a flaky dependency with closed/open/half-open gating.
// One breaker instance guards one logical operation class (snapshot storage,
// fetch, ...). Only failures classified retryable count toward the
// threshold; permanent errors pass through without affecting the circuit.
type CircuitBreaker struct {
	name     string
	cfg      BreakerConfig
	logger   *slog.Logger
	onChange func(name string, from, to BreakerState)
	now      func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker creates a closed breaker. onChange may be nil; when set
// it is invoked outside the lock on every state transition.
func NewCircuitBreaker(name string, cfg BreakerConfig, logger *slog.Logger, onChange func(name string, from, to BreakerState)) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		name:     name,
		cfg:      cfg,
		logger:   logger.With("component", "circuit_breaker", "breaker", name),
		onChange: onChange,
		now:      time.Now,
	}
}

// State returns the breaker's current state, accounting for an elapsed
// cooldown.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Execute runs op through the breaker. While open it fails fast with
// ErrCircuitOpen; after the cooldown exactly one probe is admitted, and its
// outcome decides whether the circuit closes or reopens.
func (b *CircuitBreaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := op(ctx)
	b.record(err)
	return err
}

func (b *CircuitBreaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
		}
		b.probing = true
		return nil
	}
	return nil
}

func (b *CircuitBreaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != StateClosed {
			b.transition(StateClosed)
		}
		b.failures = 0
		b.probing = false
		return
	}

	if Classify(err) != ClassRetryable {
		// Permanent and not-found outcomes say nothing about the
		// dependency's health.
		if b.state == StateHalfOpen {
			b.probing = false
		}
		return
	}

	if b.state == StateHalfOpen {
		b.probing = false
		b.openedAt = b.now()
		b.transition(StateOpen)
		return
	}

	b.failures++
	if b.failures >= b.cfg.FailureThreshold && b.state == StateClosed {
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

// transition must be called with the lock held.
func (b *CircuitBreaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if to == StateClosed {
		b.logger.Info("circuit closed", "from", from.String())
	} else {
		b.logger.Warn("circuit state change", "from", from.String(), "to", to.String())
	}
	if b.onChange != nil {
		cb, name := b.onChange, b.name
		go cb(name, from, to)
	}
}
