// Package startup implements the graduated bring-up state machine that
// caps the spawn rate for a bounded wall-clock window after init, avoiding
// a cold-start stampede against the host's resource monitor and the
// external persistence layer.
package startup

import (
	"sync"
	"time"
)

// Phase identifies which graduated window the orchestrator is currently in.
type Phase int

// Valid Phase values. Phase4 is unrestricted - the orchestrator defers to
// the throttler alone from that point on.
const (
	Phase1 Phase = iota
	Phase2
	Phase3
	Phase4
)

func (p Phase) String() string {
	switch p {
	case Phase1:
		return "phase1"
	case Phase2:
		return "phase2"
	case Phase3:
		return "phase3"
	case Phase4:
		return "phase4"
	default:
		return "unknown"
	}
}

// Config describes the phase boundaries and their per-second budgets.
type Config struct {
	T1, T2, T3     time.Duration
	K1, K2, K3     int
	// Armed, when true, engages the orchestrator immediately at
	// construction (Spawn.OnServerStart). When false, the orchestrator
	// stays disarmed until Engage is called, typically on first real
	// player arrival.
	Armed bool
}

// DefaultConfig returns a conservative three-stage ramp.
func DefaultConfig() Config {
	return Config{
		T1: 30 * time.Second, K1: 2,
		T2: 2 * time.Minute, K2: 5,
		T3: 5 * time.Minute, K3: 10,
		Armed: true,
	}
}

// Orchestrator is the phased startup state machine.
type Orchestrator struct {
	mu sync.Mutex

	cfg Config
	now func() time.Time

	armed     bool
	startTime time.Time

	currentSecondStart  time.Time
	currentSecondBudget int
}

// New creates an Orchestrator. If cfg.Armed is true it is engaged
// immediately; otherwise call Engage once a real player has been observed.
func New(cfg Config, now func() time.Time) *Orchestrator {
	if now == nil {
		now = time.Now
	}
	o := &Orchestrator{cfg: cfg, now: now}
	if cfg.Armed {
		o.armed = true
		o.startTime = now()
	}
	return o
}

// Engage arms the orchestrator if it has not already been armed, starting
// its phase clock from this call.
func (o *Orchestrator) Engage() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.armed {
		o.armed = true
		o.startTime = o.now()
	}
}

// Armed reports whether the orchestrator is currently engaged.
func (o *Orchestrator) Armed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.armed
}

func (o *Orchestrator) phaseLocked(elapsed time.Duration) (Phase, int) {
	switch {
	case elapsed < o.cfg.T1:
		return Phase1, o.cfg.K1
	case elapsed < o.cfg.T2:
		return Phase2, o.cfg.K2
	case elapsed < o.cfg.T3:
		return Phase3, o.cfg.K3
	default:
		return Phase4, 0
	}
}

// ShouldSpawnNext reports whether the current phase's per-second budget
// still has room. Phase4 always returns true, deferring entirely to the
// throttler.
func (o *Orchestrator) ShouldSpawnNext() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.armed {
		return false
	}

	now := o.now()
	elapsed := now.Sub(o.startTime)
	phase, budget := o.phaseLocked(elapsed)

	if phase == Phase4 {
		return true
	}

	if now.Sub(o.currentSecondStart) >= time.Second {
		o.currentSecondStart = now
		o.currentSecondBudget = budget
	}

	return o.currentSecondBudget > 0
}

// OnBotSpawned decrements the current second's budget. It is a no-op in
// Phase4 or while disarmed.
func (o *Orchestrator) OnBotSpawned() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.armed {
		return
	}
	if o.currentSecondBudget > 0 {
		o.currentSecondBudget--
	}
}

// CurrentPhase reports the orchestrator's phase for telemetry.
func (o *Orchestrator) CurrentPhase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.armed {
		return Phase1
	}
	phase, _ := o.phaseLocked(o.now().Sub(o.startTime))
	return phase
}
