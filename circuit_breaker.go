package polystore

import (
	"context"
	"sync"
	"time"
)

// BreakerState is the state of a CircuitBreaker
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker fails fast while a storage backend is known to be down.
//
// States:
//   - Closed: calls pass through; consecutive backend failures are counted
//   - Open: calls fail with ErrBackendUnavailable without touching the backend
//   - Half-Open: after the reset timeout, one call tries the backend again
//
// Only hard backend failures (IsBackendUnavailable) count. A missing
// document is an answer, not an outage. On the store path an open SQL
// breaker sends the write straight to the document backend.
type CircuitBreaker struct {
	name          string
	mu            sync.Mutex
	maxFailures   int
	resetTimeout  time.Duration
	failures      int
	openedAt      time.Time
	state         BreakerState
	onStateChange func(name string, from, to BreakerState)
	now           func() time.Time
}

// NewCircuitBreaker creates a closed breaker for the named backend.
//
//	cb := NewCircuitBreaker("SQL", 5, 30*time.Second)
//	err := cb.Execute(ctx, func(ctx context.Context) error {
//	    return db.PingContext(ctx)
//	})
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = DefaultBreakerMaxFailures
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultBreakerResetTimeout
	}
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// WithStateChangeCallback registers fn for state transitions. fn runs with
// the breaker locked and must not call back into it.
func (cb *CircuitBreaker) WithStateChangeCallback(fn func(name string, from, to BreakerState)) *CircuitBreaker {
	cb.onStateChange = fn
	return cb
}

// Execute runs fn unless the breaker is open
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allow() {
		return WithContext(ErrBackendUnavailable, map[string]interface{}{
			"backend": cb.name,
			"reason":  "circuit breaker is open",
		})
	}

	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false
		}
		cb.setState(BreakerHalfOpen)
	}
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil || !IsBackendUnavailable(err) {
		cb.failures = 0
		if cb.state == BreakerHalfOpen {
			cb.setState(BreakerClosed)
		}
		return
	}

	cb.failures++
	if cb.state == BreakerHalfOpen || cb.failures >= cb.maxFailures {
		cb.openedAt = cb.now()
		if cb.state != BreakerOpen {
			cb.setState(BreakerOpen)
		}
	}
}

func (cb *CircuitBreaker) setState(to BreakerState) {
	from := cb.state
	cb.state = to
	if cb.onStateChange != nil && from != to {
		cb.onStateChange(cb.name, from, to)
	}
}

// Name returns the backend the breaker guards
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the breaker and clears the failure count
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.setState(BreakerClosed)
}
