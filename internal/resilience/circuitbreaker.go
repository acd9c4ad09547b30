// Package resilience provides a circuit breaker and jittered exponential
// backoff for outbound calls to the external collaborators, adapted from
// packages/shared/circuitbreaker and
// packages/workflows/internal/activities/retry_handler.go. The forecast
// provider and the oracle are wrapped in both; deployer calls and
// delayed-task enqueues use backoff only.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the circuit breaker's current state.
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
	default:
		return "unknown"
	}
}

var (
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrTooManyRequests  = errors.New("too many requests in half-open state")
)

// Config configures one CircuitBreaker instance.
type Config struct {
	Name         string
	MaxFailures  int
	ResetTimeout time.Duration
	HalfOpenMax  int
}

// CircuitBreaker implements the classic closed/open/half-open pattern.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu              sync.Mutex
	state           State
	failures        int
	lastFailureTime time.Time
	halfOpenCount   int

	logger *zap.Logger
}

// New creates a CircuitBreaker, filling in the package's usual defaults
// (5 failures, 60s reset, 3 half-open probes).
func New(cfg Config, logger *zap.Logger) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		state:        StateClosed,
		logger:       logger,
	}
}

// Execute runs fn under circuit-breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.canExecute(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.recordResult(err)
	return err
}

func (cb *CircuitBreaker) canExecute() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if now.Sub(cb.lastFailureTime) > cb.resetTimeout {
			cb.changeState(StateHalfOpen)
			cb.halfOpenCount = 0
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenCount >= cb.halfOpenMax {
			return ErrTooManyRequests
		}
		cb.halfOpenCount++
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		switch cb.state {
		case StateClosed:
			cb.failures = 0
		case StateHalfOpen:
			cb.failures = 0
			cb.changeState(StateClosed)
		}
		return
	}

	cb.failures++
	cb.lastFailureTime = time.Now()
	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.maxFailures {
			cb.changeState(StateOpen)
		}
	case StateHalfOpen:
		cb.changeState(StateOpen)
	}
}

func (cb *CircuitBreaker) changeState(newState State) {
	if cb.state == newState {
		return
	}
	old := cb.state
	cb.state = newState
	if cb.logger != nil {
		cb.logger.Info("circuit breaker state changed",
			zap.String("circuit", cb.name),
			zap.String("from", old.String()),
			zap.String("to", newState.String()),
		)
	}
}

// CurrentState returns the current breaker state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
