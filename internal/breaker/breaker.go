// Package breaker implements a per-process circuit breaker that protects
// crash-looping children from being restarted indefinitely.
package breaker

import (
	"fmt"
	"sync"
	"time"
)

// State is the circuit breaker's state.
type State int32

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
		return "halfOpen"
	default:
		return "unknown"
	}
}

// Config configures breaker thresholds. Threshold must be positive for the
// breaker to trip; with a zero Window every failure since the last reset
// counts toward it.
type Config struct {
	Threshold int           // failures needed within Window to open the breaker
	Window    time.Duration // sliding window over which failures are counted
	Cooldown  time.Duration // time an Open breaker waits before allowing a half-open probe
}

// RejectedError is returned by AttemptStart when the breaker is Open.
type RejectedError struct {
	RetryAfter time.Duration
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("circuit open, retry after %s", e.RetryAfter)
}

// Breaker tracks failures for a single process and gates start attempts.
type Breaker struct {
	cfg Config

	mu            sync.Mutex
	state         State
	failures      []time.Time
	openedAt      time.Time
	halfOpenInUse bool
}

// New constructs a Breaker. A zero Threshold disables tripping entirely
// (AttemptStart always succeeds, RecordFailure never opens the circuit).
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, state: Closed}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentStateLocked()
}

// currentStateLocked promotes Open -> HalfOpen once Cooldown has elapsed.
// Caller must hold b.mu.
func (b *Breaker) currentStateLocked() State {
	if b.state == Open && b.cfg.Cooldown > 0 && time.Since(b.openedAt) >= b.cfg.Cooldown {
		b.state = HalfOpen
		b.halfOpenInUse = false
	}
	return b.state
}

// AttemptStart reports whether a start attempt is permitted right now. In
// HalfOpen it allows exactly one concurrent attempt; further callers are
// rejected until that attempt resolves via RecordSuccess/RecordFailure.
func (b *Breaker) AttemptStart() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentStateLocked() {
	case Closed:
		return nil
	case HalfOpen:
		if b.halfOpenInUse {
			return &RejectedError{RetryAfter: b.cfg.Cooldown}
		}
		b.halfOpenInUse = true
		return nil
	default: // Open
		retryAfter := b.cfg.Cooldown - time.Since(b.openedAt)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return &RejectedError{RetryAfter: retryAfter}
	}
}

// RecordSuccess resets the breaker to Closed with no recorded failures.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = nil
	b.halfOpenInUse = false
}

// RecordFailure records a failure and, if the threshold is reached within
// the window (or a HalfOpen probe just failed), transitions to Open.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	cur := b.currentStateLocked()
	if cur == HalfOpen {
		b.trip(now)
		return
	}

	if b.cfg.Threshold <= 0 {
		return
	}

	b.failures = append(b.failures, now)
	if b.cfg.Window > 0 {
		cutoff := now.Add(-b.cfg.Window)
		kept := b.failures[:0]
		for _, t := range b.failures {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		b.failures = kept
	}

	if len(b.failures) >= b.cfg.Threshold {
		b.trip(now)
	}
}

func (b *Breaker) trip(now time.Time) {
	b.state = Open
	b.openedAt = now
	b.halfOpenInUse = false
	b.failures = nil
}
