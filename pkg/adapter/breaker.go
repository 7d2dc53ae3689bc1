package adapter

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state for one backend endpoint.
type BreakerState int

const (
	// BreakerClosed indicates normal operation.
	BreakerClosed BreakerState = iota

	// BreakerOpen indicates calls are rejected without contacting the backend.
	BreakerOpen

	// BreakerHalfOpen indicates a single probe call is in flight.
	BreakerHalfOpen
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Breaker is a per-endpoint circuit breaker. It is the only state in the
// gateway shared across requests; every update happens under the mutex and
// is O(1).
type Breaker struct {
	mu             sync.Mutex
	state          BreakerState
	failures       int
	threshold      int
	cooldown       time.Duration
	lastTransition time.Time

	// now is the clock, injectable in tests.
	now func() time.Time

	// onTransition is invoked (outside any request path concern, still under
	// the lock) on every state change.
	onTransition func(from, to BreakerState)
}

// NewBreaker creates a closed breaker that opens after threshold consecutive
// failures and probes again after cooldown.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		state:     BreakerClosed,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// OnTransition registers a callback for state changes.
func (b *Breaker) OnTransition(fn func(from, to BreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransition = fn
}

// Allow reports whether a call may proceed. While open, it returns false
// until the cooldown elapses; the first call after cooldown transitions to
// half-open and is admitted as the probe. While half-open, only that probe
// is in flight and all other calls are rejected.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.lastTransition) >= b.cooldown {
			b.transition(BreakerHalfOpen)
			return true
		}
		return false
	case BreakerHalfOpen:
		return false
	default:
		return false
	}
}

// RecordSuccess resets the failure counter. A successful probe closes the
// breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.transition(BreakerClosed)
	}
	b.failures = 0
}

// RecordFailure increments the failure counter, opening the breaker at the
// threshold. A failed probe reopens the breaker and restarts the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.transition(BreakerOpen)
		return
	}

	b.failures++
	if b.state == BreakerClosed && b.failures >= b.threshold {
		b.transition(BreakerOpen)
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition changes state and stamps the transition time. Callers hold the lock.
func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	b.lastTransition = b.now()
	if to == BreakerClosed {
		b.failures = 0
	}
	if b.onTransition != nil {
		b.onTransition(from, to)
	}
}
