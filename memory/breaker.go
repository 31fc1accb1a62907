package memory

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BreakerState is the circuit breaker's current position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreaker stops calling a failing embedding service for a cooldown
// period. State is scoped to one pipeline instance and mutated only through
// Allow/RecordSuccess/RecordFailure under the mutex.
type CircuitBreaker struct {
	mu sync.Mutex

	state            BreakerState
	failures         int
	halfOpenAttempts int
	lastFailure      time.Time

	maxFailures         int
	timeout             time.Duration
	maxHalfOpenAttempts int

	logger zerolog.Logger
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(maxFailures int, timeout time.Duration, maxHalfOpenAttempts int, logger zerolog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		state:               BreakerClosed,
		maxFailures:         maxFailures,
		timeout:             timeout,
		maxHalfOpenAttempts: maxHalfOpenAttempts,
		logger:              logger.With().Str("component", "circuitBreaker").Logger(),
	}
}

// Allow reports whether a call may proceed. In the open state calls are
// rejected until the timeout since the last failure has elapsed, at which
// point the breaker transitions to half-open and admits a bounded number of
// probe calls.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if time.Since(b.lastFailure) < b.timeout {
			return NewCircuitOpenError("circuit breaker is open")
		}
		b.state = BreakerHalfOpen
		b.halfOpenAttempts = 1
		b.logger.Info().Msg("Circuit breaker transitioning to half-open")
		return nil
	case BreakerHalfOpen:
		if b.halfOpenAttempts >= b.maxHalfOpenAttempts {
			return NewCircuitOpenError("circuit breaker half-open probe limit reached")
		}
		b.halfOpenAttempts++
		return nil
	}
	return nil
}

// RecordSuccess notes a successful call. A success in half-open closes the
// circuit and resets the failure counter.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.logger.Info().Msg("Circuit breaker closing after successful probe")
	}
	b.state = BreakerClosed
	b.failures = 0
	b.halfOpenAttempts = 0
}

// RecordFailure notes a failed call. A failure in half-open reopens the
// circuit; in closed, the failure counter opens the circuit once it reaches
// the configured maximum.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()

	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.halfOpenAttempts = 0
		b.logger.Warn().Msg("Circuit breaker reopened after failed probe")
	case BreakerClosed:
		b.failures++
		if b.failures >= b.maxFailures {
			b.state = BreakerOpen
			b.logger.Warn().
				Int("failures", b.failures).
				Int("maxFailures", b.maxFailures).
				Msg("Circuit breaker opened")
		}
	}
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset returns the breaker to closed with counters cleared.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.halfOpenAttempts = 0
	b.lastFailure = time.Time{}
}
