// Package circuitbreaker guards calls to one external identity so a failing
// connection stops being hammered until a cool-down elapses.
package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config tunes a breaker. IsFailure decides which errors count against the
// breaker; nil counts every error.
type Config struct {
	MaxFailures      uint32
	Timeout          time.Duration
	HalfOpenMaxCalls uint32
	IsFailure        func(error) bool
}

type CircuitBreaker struct {
	name   string
	config Config
	logger *logrus.Logger
	now    func() time.Time

	mu           sync.Mutex
	state        State
	failures     uint32
	openedAt     time.Time
	halfOpenUsed uint32
	halfOpenOK   uint32
}

func New(name string, config Config, logger *logrus.Logger) *CircuitBreaker {
	if config.MaxFailures == 0 {
		config.MaxFailures = 1
	}
	if config.HalfOpenMaxCalls == 0 {
		config.HalfOpenMaxCalls = 1
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// OpenError is returned without calling fn while the breaker rejects calls.
type OpenError struct {
	Name       string
	State      State
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is %s", e.Name, e.State)
}

// Execute runs fn when the breaker admits the call and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance()

	switch cb.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if cb.halfOpenUsed < cb.config.HalfOpenMaxCalls {
			cb.halfOpenUsed++
			return nil
		}
		return &OpenError{Name: cb.name, State: cb.state, RetryAfter: cb.config.Timeout}
	default:
		remaining := cb.config.Timeout - cb.now().Sub(cb.openedAt)
		return &OpenError{Name: cb.name, State: cb.state, RetryAfter: remaining}
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := err != nil && (cb.config.IsFailure == nil || cb.config.IsFailure(err))

	if !failed {
		switch cb.state {
		case StateHalfOpen:
			cb.halfOpenOK++
			if cb.halfOpenOK >= cb.config.HalfOpenMaxCalls {
				cb.reset()
				cb.logger.WithField("circuit_breaker", cb.name).Info("Circuit breaker closed after successful recovery")
			}
		case StateClosed:
			cb.failures = 0
		}
		return
	}

	cb.failures++
	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.trip()
		}
	case StateHalfOpen:
		cb.trip()
	}
}

// advance moves an open breaker to half-open once the timeout elapsed.
// Callers hold mu.
func (cb *CircuitBreaker) advance() {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.Timeout {
		cb.state = StateHalfOpen
		cb.halfOpenUsed = 0
		cb.halfOpenOK = 0
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"failures":        cb.failures,
	}).Warn("Circuit breaker opened due to failures")
}

func (cb *CircuitBreaker) reset() {
	cb.state = StateClosed
	cb.failures = 0
	cb.halfOpenUsed = 0
	cb.halfOpenOK = 0
}

// Reset closes the breaker, e.g. after a fresh connection was established.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.reset()
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return cb.state
}

func (cb *CircuitBreaker) Failures() uint32 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Blocked returns an OpenError while the breaker is open. Unlike Execute it
// does not use up a half-open call.
func (cb *CircuitBreaker) Blocked() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	if cb.state != StateOpen {
		return nil
	}
	return &OpenError{Name: cb.name, State: cb.state, RetryAfter: cb.config.Timeout - cb.now().Sub(cb.openedAt)}
}
