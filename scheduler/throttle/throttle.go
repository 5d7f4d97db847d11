// Package throttle turns resource pressure and circuit breaker state into a
// permitted spawn rate, enforced via a token-bucket "may I spawn now?"
// predicate.
package throttle

import (
	"math"
	"sync"
	"time"

	"github.com/TheRockettek/bot-spawn-scheduler/scheduler/breaker"
	"github.com/TheRockettek/bot-spawn-scheduler/scheduler/resource"
)

// Config tunes the throttler's rate envelope.
type Config struct {
	// RateMin/RateMax bound the permitted spawn rate, in bots/sec.
	RateMin, RateMax float64
	// MaxGrowthFactorPerSecond caps how fast the permitted rate can rise -
	// at the default of 2 the rate may not more than double within one
	// second.
	MaxGrowthFactorPerSecond float64
	// SuccessRatioAlpha is the EWMA weight given to the newest outcome.
	SuccessRatioAlpha float64
}

// DefaultConfig returns the documented defaults (0.2 - 20 bots/sec).
func DefaultConfig() Config {
	return Config{
		RateMin:                  0.2,
		RateMax:                  20,
		MaxGrowthFactorPerSecond: 2.0,
		SuccessRatioAlpha:        0.1,
	}
}

// pressureFactor maps a resource.Level to a multiplier on RateMax. Lower
// pressure permits a higher rate; this table is the sole source of the
// pressure->rate relationship and is intentionally monotone non-increasing.
var pressureFactor = map[resource.Level]float64{
	resource.None:     1.0,
	resource.Low:      0.7,
	resource.Medium:   0.4,
	resource.High:     0.15,
	resource.Critical: 0.0,
}

// Throttler is the adaptive rate limiter. It does not own the breaker or
// monitor - both are passed in, per the pull-based composition the Spawner
// Core relies on. The monitor is only read; the breaker is asked
// AllowRequest (which counts HALF_OPEN probes) and receives every outcome
// recorded through RecordSuccess/RecordFailure.
type Throttler struct {
	mu sync.Mutex

	cfg     Config
	breaker *breaker.Breaker
	monitor *resource.Monitor
	now     func() time.Time

	currentRate  float64
	tokens       float64
	lastRefill   time.Time
	successRatio float64
}

// New creates a Throttler wrapping the given breaker and monitor.
func New(cfg Config, b *breaker.Breaker, m *resource.Monitor, now func() time.Time) *Throttler {
	if now == nil {
		now = time.Now
	}
	return &Throttler{
		cfg:          cfg,
		breaker:      b,
		monitor:      m,
		now:          now,
		currentRate:  cfg.RateMin,
		lastRefill:   now(),
		successRatio: 1.0,
	}
}

// CanSpawnNow reports whether a spawn attempt may proceed right now. It
// returns false when the breaker is OPEN, pressure is CRITICAL, or no
// token is available in the bucket; true at most at the currently
// permitted rate otherwise.
func (t *Throttler) CanSpawnNow() bool {
	if !t.breaker.AllowRequest() {
		return false
	}

	level := t.monitor.PressureLevel()
	if level == resource.Critical {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.refillLocked(level)

	if t.tokens < 1.0 {
		return false
	}
	t.tokens -= 1.0
	return true
}

// refillLocked recomputes the target rate from pressure + success ratio,
// smooths the transition toward it, and adds tokens for elapsed time.
// Caller must hold t.mu.
func (t *Throttler) refillLocked(level resource.Level) {
	now := t.now()
	elapsed := now.Sub(t.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	t.lastRefill = now

	target := t.cfg.RateMax * pressureFactor[level] * t.successRatio
	if target < t.cfg.RateMin && level != resource.Critical {
		target = t.cfg.RateMin
	}

	maxRate := t.currentRate * math.Pow(t.cfg.MaxGrowthFactorPerSecond, elapsed)
	if target > maxRate {
		target = maxRate
	}
	t.currentRate = clamp(target, t.cfg.RateMin, t.cfg.RateMax)

	t.tokens += t.currentRate * elapsed
	if t.tokens > t.currentRate {
		// Cap burst capacity at one second's worth of tokens.
		t.tokens = t.currentRate
	}
}

// RecordSuccess forwards to the breaker and nudges the success ratio up.
func (t *Throttler) RecordSuccess() {
	t.breaker.RecordSuccess()

	t.mu.Lock()
	t.successRatio += t.cfg.SuccessRatioAlpha * (1.0 - t.successRatio)
	t.mu.Unlock()
}

// RecordFailure forwards to the breaker and nudges the success ratio down.
func (t *Throttler) RecordFailure(reason string) {
	t.breaker.RecordFailure(reason)

	t.mu.Lock()
	t.successRatio += t.cfg.SuccessRatioAlpha * (0.0 - t.successRatio)
	t.mu.Unlock()
}

// CurrentRate returns the currently permitted rate, for telemetry.
func (t *Throttler) CurrentRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentRate
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

