// Package breaker implements the three-state circuit breaker gating
// Transport dispatch: CLOSED, OPEN and HALF_OPEN, per spec.md §4.4.
package breaker

import (
	"sync"
	"time"
)

// State is one of the breaker's three states.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

const (
	DefaultFailureThreshold    = 5
	DefaultSuccessThreshold    = 2
	DefaultResetTimeout        = 30 * time.Second
	DefaultHalfOpenMaxInFlight = 1
)

// Config holds the breaker's tunable thresholds.
type Config struct {
	FailureThreshold    int
	SuccessThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxInFlight int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = DefaultSuccessThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenMaxInFlight <= 0 {
		c.HalfOpenMaxInFlight = DefaultHalfOpenMaxInFlight
	}
	return c
}

// Stats is a snapshot of the breaker's internal counters.
type Stats struct {
	State              State
	ConsecutiveFailures int
	HalfOpenSuccesses  int
	InFlight           int
	LastFailureTime    time.Time
}

// Breaker gates outbound Transport calls. Every mutating method and every
// read is serialized by a single mutex (spec.md §4.4).
type Breaker struct {
	mu sync.Mutex

	cfg   Config
	state State
	now   func() time.Time

	consecutiveFailures int
	halfOpenSuccesses   int
	inFlight            int
	lastFailureTime     time.Time
}

// New constructs a Breaker starting in CLOSED.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), state: StateClosed, now: time.Now}
}

// Allow reports whether a call may proceed, mutating internal state as a
// side effect of the OPEN → HALF_OPEN transition.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.inFlight < b.cfg.HalfOpenMaxInFlight {
			b.inFlight++
			return true
		}
		return false
	case StateOpen:
		if b.now().After(b.lastFailureTime.Add(b.cfg.ResetTimeout)) {
			b.state = StateHalfOpen
			b.inFlight = 1
			b.halfOpenSuccesses = 0
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess reports a successful call outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.inFlight > 0 {
			b.inFlight--
		}
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.consecutiveFailures = 0
			b.halfOpenSuccesses = 0
			b.inFlight = 0
		}
	}
}

// RecordFailure reports a failed call outcome. lastFailureTime is updated
// unconditionally, in every state.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = b.now()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.state = StateOpen
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.consecutiveFailures = 0
		b.halfOpenSuccesses = 0
		b.inFlight = 0
	}
}

// GetState returns the breaker's current state.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// GetStats returns a snapshot of the breaker's counters.
func (b *Breaker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		HalfOpenSuccesses:   b.halfOpenSuccesses,
		InFlight:            b.inFlight,
		LastFailureTime:     b.lastFailureTime,
	}
}

// WithClock overrides the breaker's time source; used by tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
	return b
}
