package adapter

import (
	"testing"
	"time"
)

// fakeClock lets tests advance the breaker's notion of time.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	b := NewBreaker(threshold, cooldown)
	b.now = clock.Now
	return b, clock
}

func TestBreakerStartsClosed(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	if b.State() != BreakerClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
	if !b.Allow() {
		t.Fatal("closed breaker should allow calls")
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != BreakerClosed {
		t.Fatalf("breaker opened before threshold: %s", b.State())
	}

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("expected open after %d failures, got %s", 3, b.State())
	}
	if b.Allow() {
		t.Fatal("open breaker should reject calls")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if b.State() != BreakerClosed {
		t.Fatalf("non-consecutive failures should not open the breaker, got %s", b.State())
	}
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	b.RecordFailure()
	if b.Allow() {
		t.Fatal("open breaker allowed a call before cooldown")
	}

	clock.Advance(59 * time.Second)
	if b.Allow() {
		t.Fatal("breaker allowed a call with cooldown not yet elapsed")
	}

	clock.Advance(2 * time.Second)
	if !b.Allow() {
		t.Fatal("breaker should admit a probe after cooldown")
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("expected half_open, got %s", b.State())
	}

	// Only one probe is admitted.
	if b.Allow() {
		t.Fatal("half-open breaker admitted a second probe")
	}
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	b.RecordFailure()
	clock.Advance(2 * time.Minute)
	if !b.Allow() {
		t.Fatal("probe not admitted")
	}

	b.RecordSuccess()
	if b.State() != BreakerClosed {
		t.Fatalf("probe success should close the breaker, got %s", b.State())
	}
	if !b.Allow() {
		t.Fatal("closed breaker should allow calls")
	}
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	b.RecordFailure()
	clock.Advance(2 * time.Minute)
	if !b.Allow() {
		t.Fatal("probe not admitted")
	}

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("probe failure should reopen the breaker, got %s", b.State())
	}

	// Cooldown restarts from the reopen.
	clock.Advance(59 * time.Second)
	if b.Allow() {
		t.Fatal("cooldown should restart after a failed probe")
	}
	clock.Advance(2 * time.Second)
	if !b.Allow() {
		t.Fatal("breaker should admit a probe after the restarted cooldown")
	}
}

func TestBreakerTransitionCallback(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	var transitions []BreakerState
	b.OnTransition(func(from, to BreakerState) {
		transitions = append(transitions, to)
	})

	b.RecordFailure()
	clock.Advance(2 * time.Minute)
	b.Allow()
	b.RecordSuccess()

	want := []BreakerState{BreakerOpen, BreakerHalfOpen, BreakerClosed}
	if len(transitions) != len(want) {
		t.Fatalf("expected %d transitions, got %d: %v", len(want), len(transitions), transitions)
	}
	for i, state := range want {
		if transitions[i] != state {
			t.Errorf("transition %d: expected %s, got %s", i, state, transitions[i])
		}
	}
}

func TestBreakerStateString(t *testing.T) {
	cases := map[BreakerState]string{
		BreakerClosed:   "closed",
		BreakerOpen:     "open",
		BreakerHalfOpen: "half_open",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("state %d: expected %q, got %q", state, want, got)
		}
	}
}
