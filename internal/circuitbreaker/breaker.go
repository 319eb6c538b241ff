// Package circuitbreaker skips a failing aggregation source for a cooldown
// after repeated consecutive failures.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

type sourceState struct {
	state               state
	consecutiveFailures int
	openedAt            time.Time
}

// CircuitBreaker tracks state per source name. A threshold of 0 disables it.
type CircuitBreaker struct {
	mu        sync.Mutex
	states    map[string]*sourceState
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

func New(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		states:    make(map[string]*sourceState),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Allow returns ErrCircuitOpen while name is cooling down. After the cooldown
// a single probe is let through.
func (cb *CircuitBreaker) Allow(name string) error {
	if cb.threshold <= 0 {
		return nil
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[name]
	if !ok {
		return nil
	}

	switch s.state {
	case stateOpen:
		if cb.now().Sub(s.openedAt) >= cb.cooldown {
			s.state = stateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	case stateHalfOpen:
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (cb *CircuitBreaker) RecordSuccess(name string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[name]
	if !ok {
		return
	}
	s.state = stateClosed
	s.consecutiveFailures = 0
}

func (cb *CircuitBreaker) RecordFailure(name string) {
	if cb.threshold <= 0 {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s, ok := cb.states[name]
	if !ok {
		s = &sourceState{}
		cb.states[name] = s
	}

	s.consecutiveFailures++
	if s.state == stateHalfOpen || s.consecutiveFailures >= cb.threshold {
		s.state = stateOpen
		s.openedAt = cb.now()
	}
}

// Release gives back a half-open probe slot without judging the source, for
// attempts abandoned by the caller. The next Allow probes again.
func (cb *CircuitBreaker) Release(name string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if s, ok := cb.states[name]; ok && s.state == stateHalfOpen {
		s.state = stateOpen
	}
}
