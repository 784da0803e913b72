// Package ai wires embedding and LLM providers into ordered fallback
// chains guarded by per-provider circuit breakers and rate limits.
package ai

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state of one provider.
type BreakerState string

const (
	// StateClosed passes calls through and counts consecutive failures.
	StateClosed BreakerState = "closed"

	// StateOpen skips the provider until the cooldown elapses.
	StateOpen BreakerState = "open"

	// StateHalfOpen lets trial calls through; enough successes close the
	// breaker again, any failure reopens it.
	StateHalfOpen BreakerState = "half-open"
)

// breaker is a per-provider circuit breaker. Consecutive failures open
// it; after the cooldown it admits trial calls, and a run of successes
// closes it again.
type breaker struct {
	mu sync.Mutex

	failureThreshold  int
	cooldown          time.Duration
	halfOpenSuccesses int

	state       BreakerState
	failures    int
	successes   int
	openedAt    time.Time
	lastFailure error
	now         func() time.Time
}

func newBreaker(failureThreshold int, cooldown time.Duration, halfOpenSuccesses int) *breaker {
	return &breaker{
		failureThreshold:  failureThreshold,
		cooldown:          cooldown,
		halfOpenSuccesses: halfOpenSuccesses,
		state:             StateClosed,
		now:               time.Now,
	}
}

// allow reports whether a call may proceed, transitioning an open
// breaker to half-open once the cooldown has elapsed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cooldown {
			b.state = StateHalfOpen
			b.successes = 0
			return true
		}
		return false
	}
	return false
}

// recordSuccess counts towards closing a half-open breaker and resets
// the failure streak of a closed one.
func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.halfOpenSuccesses {
			b.state = StateClosed
			b.failures = 0
			b.lastFailure = nil
		}
	}
}

// recordFailure counts towards opening the breaker. A half-open breaker
// reopens on the first failure.
func (b *breaker) recordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = err
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = b.now()
		b.failures = b.failureThreshold
	}
}

// snapshot returns the state and consecutive failure count for health
// reporting.
func (b *breaker) snapshot() (BreakerState, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.failures
}
