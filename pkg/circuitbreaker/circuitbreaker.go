// Package circuitbreaker implements the per-pipeline CircuitBreaker from
// spec §4.4: closed/open/half-open with an absolute failure-count trip
// threshold and a success quorum to close again.
//
// gobreaker's built-in ReadyToTrip only sees ratio or consecutive-run
// counts that reset to zero on any state change or opposite outcome; it
// cannot express "decrement the failure counter by one on success, trip at
// an absolute threshold" (§4.4's table, and the §9 Open Question choosing
// "by one" over a full reset). The state enum and its String() form are
// still reused from gobreaker so the breaker's vocabulary matches the rest
// of the ecosystem; the transition bookkeeping is implemented here to match
// the exact table.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/oncallops/incident-core/internal/config"
	"github.com/oncallops/incident-core/pkg/eventbus"
	"github.com/oncallops/incident-core/pkg/types"
)

// ErrOpen is returned by Call when the breaker refuses to run fn because
// the circuit is open.
var ErrOpen = errors.New("circuit breaker is open")

// Breaker is a single process-wide (by composition) pipeline breaker.
type Breaker struct {
	mu   sync.Mutex
	name string
	bus  *eventbus.Bus

	state     gobreaker.State
	failures  int
	successes int
	openedAt  time.Time

	failureThreshold int
	successThreshold int
	cooldown         time.Duration
}

// New constructs a Breaker named name, configured from cfg. bus may be nil
// (no transition events published), used by tests exercising the state
// machine in isolation.
func New(name string, cfg config.CircuitBreakerConfig, bus *eventbus.Bus) *Breaker {
	return &Breaker{
		name:             name,
		bus:              bus,
		state:            gobreaker.StateClosed,
		failureThreshold: cfg.FailureThresholdOrDefault(),
		successThreshold: cfg.SuccessThresholdOrDefault(),
		cooldown:         cfg.CooldownDuration(),
	}
}

// Call runs fn if the breaker permits it, recording the outcome. It returns
// ErrOpen without invoking fn when the circuit is open and the cooldown has
// not yet elapsed.
func (b *Breaker) Call(fn func() error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn()
	b.record(err)
	return err
}

// Allow reports whether a call would currently be permitted, applying the
// same lazy open->half_open transition as Call, without running anything.
// Callers that need to short-circuit ahead of other side effects (building
// a command preview, consulting CommandGate) check this before doing that
// work rather than discovering circuit_open only after it.
func (b *Breaker) Allow() bool {
	return b.allow()
}

// allow reports whether a call may proceed, lazily transitioning
// open->half_open once the cooldown has elapsed (mirroring
// ApprovalRegistry's lazy-expiry style: state only advances on observation).
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == gobreaker.StateOpen {
		if time.Since(b.openedAt) < b.cooldown {
			return false
		}
		b.transitionLocked(gobreaker.StateHalfOpen)
	}
	return true
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case gobreaker.StateClosed:
		if err == nil {
			if b.failures > 0 {
				b.failures--
			}
			return
		}
		b.failures++
		if b.failures >= b.failureThreshold {
			b.transitionLocked(gobreaker.StateOpen)
		}
	case gobreaker.StateHalfOpen:
		if err == nil {
			b.successes++
			if b.successes >= b.successThreshold {
				b.transitionLocked(gobreaker.StateClosed)
			}
			return
		}
		b.transitionLocked(gobreaker.StateOpen)
	case gobreaker.StateOpen:
		// Call's allow() blocks entry while open; nothing to record here.
	}
}

func (b *Breaker) transitionLocked(to gobreaker.State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	switch to {
	case gobreaker.StateOpen:
		b.openedAt = time.Now()
		b.successes = 0
	case gobreaker.StateHalfOpen:
		b.successes = 0
	case gobreaker.StateClosed:
		b.failures = 0
		b.successes = 0
	}

	if b.bus == nil {
		return
	}
	level := types.EventInfo
	if to == gobreaker.StateOpen {
		level = types.EventWarning
	}
	b.bus.Publish(types.Event{
		Level:       level,
		Message:     fmt.Sprintf("circuit breaker %q transitioned %s -> %s", b.name, from, to),
		Integration: b.name,
	})
}

// State returns the breaker's last-observed state without forcing the
// lazy open->half_open transition (use Call for that).
func (b *Breaker) State() types.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case gobreaker.StateOpen:
		return types.CircuitOpen
	case gobreaker.StateHalfOpen:
		return types.CircuitHalfOpen
	default:
		return types.CircuitClosed
	}
}

// Reset forces the breaker back to closed, for the AUTO-mode manual
// override spec.md §4.4 allows ("an override MAY reset it when explicitly
// requested").
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(gobreaker.StateClosed)
}

// Failures returns the current closed-state failure counter, for tests.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
