// Package resilience guards the calls a coordinating searcher makes to its
// partitions: a circuit breaker per partition, retry with jittered backoff
// and per-call deadlines.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling through while a breaker is
// open, or half-open with its trial calls taken.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the phase of a breaker. Its numeric value is what the
// circuit_breaker_state gauge reports.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerConfig sets when a breaker opens and how it recovers. Zero
// fields take defaults: 5 failures, 30s, 1 trial call.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int
}

// BreakerSnapshot is a breaker's state as reported by health checks.
type BreakerSnapshot struct {
	Name     string
	State    State
	Failures int
	// RetryIn is how long an open breaker keeps refusing calls.
	RetryIn time.Duration
}

// CircuitBreaker stops calls to a partition after FailureThreshold failures
// in a row. Once ResetTimeout has passed it lets HalfOpenMaxRequests trial
// calls through: a success closes it, a failure opens it again.
//
// Only failures that say the partition is unhealthy count. Errors marked
// Permanent mean the partition answered, and a call cut short by its
// caller's context says nothing about the partition at all.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trials   int
	notify   func(name string, s State)
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
		now:    time.Now,
	}
}

// Execute calls fn unless the breaker refuses, and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

// OnStateChange sets fn to be called on every transition. fn runs with the
// breaker locked and must not call back into it.
func (cb *CircuitBreaker) OnStateChange(fn func(name string, s State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.notify = fn
}

func (cb *CircuitBreaker) Name() string { return cb.name }

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := BreakerSnapshot{Name: cb.name, State: cb.state, Failures: cb.failures}
	if cb.state == StateOpen {
		s.RetryIn = max(0, cb.cfg.ResetTimeout-cb.now().Sub(cb.openedAt))
	}
	return s
}

// Reset closes the breaker and forgets its failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures, cb.trials = 0, 0
	cb.transition(StateClosed)
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen {
		wait := cb.cfg.ResetTimeout - cb.now().Sub(cb.openedAt)
		if wait > 0 {
			return fmt.Errorf("%w: %s, next trial in %v", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond))
		}
		cb.trials = 0
		cb.transition(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.trials >= cb.cfg.HalfOpenMaxRequests {
			return fmt.Errorf("%w: %s, trial in progress", ErrCircuitOpen, cb.name)
		}
		cb.trials++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	var answered *permanentError
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch {
	case err == nil || errors.As(err, &answered):
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.transition(StateClosed)
		}
	case errors.Is(err, context.Canceled):
		if cb.state == StateHalfOpen {
			cb.trials--
		}
	default:
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			cb.openedAt = cb.now()
			cb.transition(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) transition(s State) {
	if cb.state == s {
		return
	}
	prev := cb.state
	cb.state = s
	if s == StateClosed {
		cb.logger.Info("circuit closed", "was", prev.String())
	} else {
		cb.logger.Warn("circuit "+s.String(), "was", prev.String(), "consecutive_failures", cb.failures)
	}
	if cb.notify != nil {
		cb.notify(cb.name, s)
	}
}
