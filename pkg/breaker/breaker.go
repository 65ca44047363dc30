// Package breaker implements the per-destination circuit breaker that
// isolates a failing destination from consuming dispatcher time.
package breaker

import (
	"sync"
	"time"
)

// State is the breaker's gate position.
type State int

const (
	// Closed passes calls through to the destination.
	Closed State = iota
	// Open fast-fails calls without invoking the destination.
	Open
	// HalfOpen allows exactly one trial call after the reset timeout.
	HalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Clock supplies the current time; injectable for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Breaker tracks consecutive delivery failures for one destination.
// Closed -> Open after threshold consecutive failures; Open -> HalfOpen once
// the reset timeout elapses; the single HalfOpen trial decides between
// Closed (success, counter reset) and Open (failure, timer restarted).
type Breaker struct {
	mu            sync.Mutex
	state         State
	failures      int
	threshold     int
	resetTimeout  time.Duration
	openedAt      time.Time
	trialInFlight bool
	clock         Clock
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the breaker's time source.
func WithClock(c Clock) Option {
	return func(b *Breaker) { b.clock = c }
}

// New creates a closed breaker. threshold is the number of consecutive
// failures that opens it; resetTimeout is how long it stays open before the
// trial call is allowed.
func New(threshold int, resetTimeout time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		state:        Closed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		clock:        systemClock{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow reports whether a delivery call may proceed. In Open state it
// returns false until the reset timeout elapses, then admits exactly one
// trial; concurrent callers during a trial are refused as if Open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.clock.Now().Sub(b.openedAt) < b.resetTimeout {
			return false
		}
		b.state = HalfOpen
		b.trialInFlight = true
		return true
	case HalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	}
	return false
}

// FastFail reports whether a call would be refused right now, without
// consuming the HalfOpen trial. Used on the enqueue path to skip queuing
// events that the dispatcher would only discard.
func (b *Breaker) FastFail() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return false
	}
	// Past the deadline the next Allow starts a trial, so let it through.
	return b.clock.Now().Sub(b.openedAt) < b.resetTimeout
}

// RecordSuccess feeds back a successful delivery. A HalfOpen trial success
// closes the breaker and resets the failure counter to zero.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trialInFlight = false
	b.state = Closed
}

// RecordFailure feeds back a failed delivery. In Closed state it extends the
// failure streak and opens the breaker at the threshold; a HalfOpen trial
// failure reopens it and restarts the timeout.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = Open
			b.openedAt = b.clock.Now()
		}
	case HalfOpen:
		b.trialInFlight = false
		b.state = Open
		b.openedAt = b.clock.Now()
	case Open:
		// Late failure from a call admitted before opening; the timer is
		// already running.
	}
}

// State returns the current gate position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
