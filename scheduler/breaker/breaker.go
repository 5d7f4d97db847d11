// Package breaker implements the circuit breaker that vetoes spawns when
// the recent spawn success/failure ratio indicates systemic trouble.
package breaker

import (
	"sync"
	"time"
)

// State is one of the three breaker states.
type State int

// Valid State values.
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

// Config tunes the breaker's trip conditions and recovery timing.
type Config struct {
	// WindowSize is how many recent outcomes are kept for the failure
	// ratio computation, in CLOSED state.
	WindowSize int
	// MinSamples is the minimum number of outcomes in the window before
	// the failure ratio is evaluated at all.
	MinSamples int
	// FailureThreshold is the failure ratio, in [0,1], above which the
	// breaker trips OPEN.
	FailureThreshold float64
	// OpenDuration is how long the breaker stays OPEN before allowing a
	// HALF_OPEN probe.
	OpenDuration time.Duration
	// HalfOpenProbes is how many consecutive trial spawns must succeed
	// while HALF_OPEN before the breaker closes.
	HalfOpenProbes int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		WindowSize:       50,
		MinSamples:       20,
		FailureThreshold: 0.5,
		OpenDuration:      30 * time.Second,
		HalfOpenProbes:    3,
	}
}

// Breaker is the circuit breaker state machine. It must be checked by the
// throttler, never directly by callers.
type Breaker struct {
	mu sync.Mutex

	cfg Config
	now func() time.Time

	state State

	outcomes []bool // ring buffer of recent successes (true) / failures (false)
	head     int
	filled   int

	openedAt time.Time

	halfOpenAttempts  int
	halfOpenSuccesses int
}

// New creates a Breaker in the CLOSED state.
func New(cfg Config, now func() time.Time) *Breaker {
	if now == nil {
		now = time.Now
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 50
	}
	return &Breaker{
		cfg:      cfg,
		now:      now,
		outcomes: make([]bool, cfg.WindowSize),
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeRecoverLocked()
	return b.state
}

// AllowRequest reports whether a spawn attempt may proceed.
func (b *Breaker) AllowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeRecoverLocked()

	switch b.state {
	case Closed:
		return true
	case Open:
		return false
	case HalfOpen:
		// Allow up to HalfOpenProbes trial spawns in flight before
		// refusing further probes until an outcome is recorded.
		if b.halfOpenAttempts < b.cfg.HalfOpenProbes {
			b.halfOpenAttempts++
			return true
		}
		return false
	default:
		return false
	}
}

// maybeRecoverLocked transitions OPEN -> HALF_OPEN once OpenDuration has
// elapsed. Caller must hold b.mu.
func (b *Breaker) maybeRecoverLocked() {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.OpenDuration {
		b.state = HalfOpen
		b.halfOpenAttempts = 0
		b.halfOpenSuccesses = 0
	}
}

// RecordSuccess records a successful spawn outcome.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.HalfOpenProbes {
			b.closeLocked()
		}
	default:
		b.pushOutcomeLocked(true)
	}
}

// RecordFailure records a failed spawn outcome. reason is accepted for
// logging/telemetry call sites; the breaker itself does not branch on it.
func (b *Breaker) RecordFailure(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.tripLocked()
	default:
		b.pushOutcomeLocked(false)
		if b.shouldTripLocked() {
			b.tripLocked()
		}
	}
}

func (b *Breaker) pushOutcomeLocked(ok bool) {
	b.outcomes[b.head] = ok
	b.head = (b.head + 1) % len(b.outcomes)
	if b.filled < len(b.outcomes) {
		b.filled++
	}
}

func (b *Breaker) shouldTripLocked() bool {
	if b.filled < b.cfg.MinSamples {
		return false
	}
	failures := 0
	for i := 0; i < b.filled; i++ {
		if !b.outcomes[i] {
			failures++
		}
	}
	return float64(failures)/float64(b.filled) > b.cfg.FailureThreshold
}

func (b *Breaker) tripLocked() {
	b.state = Open
	b.openedAt = b.now()
	b.halfOpenAttempts = 0
	b.halfOpenSuccesses = 0
}

func (b *Breaker) closeLocked() {
	b.state = Closed
	b.head = 0
	b.filled = 0
	b.halfOpenAttempts = 0
	b.halfOpenSuccesses = 0
}
