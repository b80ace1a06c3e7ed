// Package breaker implements a generic three-state circuit breaker guarding
// any callable, with fail-open semantics for its caller. See spec.md §4.2.
//
// This is grounded on the teacher's sony/gobreaker wrapper
// (pkg/infra/httpx/circuit_breaker.go: Settings + ReadyToTrip + named
// breaker), but hand-rolled rather than built on gobreaker itself — see
// DESIGN.md for why: gobreaker v1.0.0 exposes neither a programmatic manual
// reset nor a HALF_OPEN probe-count knob independent of MaxRequests, both of
// which spec.md §4.2 requires as first-class behavior.
package breaker

import (
	"sync"
	"time"
)

// State is one of the three states a Breaker can be in.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Settings configures a Breaker. A HalfOpenMaxAttempts of 0 or less is
// treated as 1; New does not enforce an upper bound (internal/config rejects
// values outside [1,3] before they reach here).
type Settings struct {
	Name                string
	FailureThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxAttempts int
}

// Breaker guards a callable returning a value of arbitrary type. Execute is
// a free function (Go has no generic methods) operating on *Breaker.
type Breaker struct {
	mu sync.Mutex

	name                string
	failureThreshold    int
	resetTimeout        time.Duration
	halfOpenMaxAttempts int

	state           State
	failureCount    int
	successCount    int
	inFlight        int // HALF_OPEN probes admitted but not yet completed
	lastFailureTime time.Time
}

// New constructs a Breaker in the CLOSED state.
func New(settings Settings) *Breaker {
	maxAttempts := settings.HalfOpenMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Breaker{
		name:                settings.Name,
		failureThreshold:    settings.FailureThreshold,
		resetTimeout:        settings.ResetTimeout,
		halfOpenMaxAttempts: maxAttempts,
		state:               Closed,
	}
}

// Name returns the breaker's configured name, used in metrics/logging.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the breaker's current state. Exposed for health/metrics
// reporting (spec.md §4.4).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the current consecutive-failure count, used by the
// metrics endpoint.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// Reset manually returns the breaker to CLOSED with all counters zeroed
// (spec.md §4.2 "Manual reset"), for tests and operator control.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failureCount = 0
	b.successCount = 0
}

// admit decides, under lock, whether the caller may proceed to invoke the
// protected operation. It returns false when the breaker is refusing the
// call (the "open" sentinel case in Execute). On success it accounts the
// call as in-flight so HALF_OPEN can cap concurrent probes rather than just
// completed ones.
func (b *Breaker) admit(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if now.Sub(b.lastFailureTime) < b.resetTimeout {
			return false
		}
		b.state = HalfOpen
		b.successCount = 0
		b.inFlight = 0
	}
	// falls through to HALF_OPEN admission below whether we just
	// transitioned or were already there.
	if b.state == HalfOpen {
		if b.inFlight >= b.halfOpenMaxAttempts {
			return false
		}
		b.inFlight++
		return true
	}
	return true
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		b.inFlight--
		b.successCount++
		if b.successCount >= b.halfOpenMaxAttempts {
			b.state = Closed
			b.failureCount = 0
			b.successCount = 0
			b.inFlight = 0
		}
	}
}

func (b *Breaker) recordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = now
	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.state = Open
		}
	case HalfOpen:
		b.inFlight--
		b.state = Open
		b.successCount = 0
	}
}

// Execute invokes fn under the breaker's guard. wasOpen is true when the
// breaker refused to invoke fn (the sentinel case from spec.md §4.2); in
// that case the zero value of T and a nil error are returned. Otherwise fn
// is invoked exactly once; its error, if any, counts toward the breaker's
// failure tracking and is re-raised to the caller per spec.md's contract
// ("the breaker accounts for thrown exceptions as failures but re-raises
// them").
func Execute[T any](b *Breaker, fn func() (T, error)) (result T, wasOpen bool, err error) {
	now := time.Now()
	if !b.admit(now) {
		return result, true, nil
	}

	result, err = fn()
	if err != nil {
		b.recordFailure(time.Now())
		return result, false, err
	}
	b.recordSuccess()
	return result, false, nil
}
