// Package resource discretizes host resource pressure - CPU, memory,
// database backlog, map-tick latency, and active bot count - into a single
// ordered level the rest of the scheduler gates work on.
package resource

import "sync"

// Level is the discrete pressure level published by the Monitor.
type Level int

// Valid Level values, lowest pressure first.
const (
	None Level = iota
	Low
	Medium
	High
	Critical
)

// String renders the level name for logging.
func (l Level) String() string {
	switch l {
	case None:
		return "none"
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Thresholds configures the high-water marks that map a raw sample to a
// Level. Each field is the value at which the signal alone pushes the
// level to at least the named tier.
type Thresholds struct {
	CPULowPct, CPUMediumPct, CPUHighPct, CPUCriticalPct float64
	MemLowMB, MemMediumMB, MemHighMB, MemCriticalMB     float64
	DBBacklogLow, DBBacklogMedium, DBBacklogHigh, DBBacklogCritical int
	MapTickLowMs, MapTickMediumMs, MapTickHighMs, MapTickCriticalMs float64
	BotsLow, BotsMedium, BotsHigh, BotsCritical int
}

// DefaultThresholds returns sensible defaults for a ~5000-bot deployment.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPULowPct: 50, CPUMediumPct: 70, CPUHighPct: 85, CPUCriticalPct: 95,
		MemLowMB: 4096, MemMediumMB: 8192, MemHighMB: 12288, MemCriticalMB: 16384,
		DBBacklogLow: 50, DBBacklogMedium: 200, DBBacklogHigh: 500, DBBacklogCritical: 1000,
		MapTickLowMs: 50, MapTickMediumMs: 100, MapTickHighMs: 150, MapTickCriticalMs: 250,
		BotsLow: 1000, BotsMedium: 2500, BotsHigh: 4000, BotsCritical: 5000,
	}
}

// Sample is one pass of raw readings taken once per scheduler tick.
type Sample struct {
	CPUPct       float64
	MemMB        float64
	DBBacklog    int
	MapTickMs    float64
	ActiveBots   int
}

func levelOf(v float64, low, medium, high, critical float64) Level {
	switch {
	case v >= critical:
		return Critical
	case v >= high:
		return High
	case v >= medium:
		return Medium
	case v >= low:
		return Low
	default:
		return None
	}
}

// Monitor tracks the most recent confirmed pressure level. Increases in
// pressure are applied immediately (a single sample crossing a high-water
// mark strictly raises the level); decreases are debounced so that a level
// is stable across at least one tick before the Monitor reports it lower,
// preventing single-sample oscillation.
type Monitor struct {
	mu sync.Mutex

	thresholds Thresholds

	confirmed Level
	pending   Level
	pendingStreak int
}

// New creates a Monitor seeded at the None pressure level.
func New(thresholds Thresholds) *Monitor {
	return &Monitor{thresholds: thresholds}
}

// Sample folds one tick's raw readings into the monitor's confirmed level.
func (m *Monitor) Sample(s Sample) Level {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.thresholds
	candidate := maxLevel(
		levelOf(s.CPUPct, t.CPULowPct, t.CPUMediumPct, t.CPUHighPct, t.CPUCriticalPct),
		levelOf(s.MemMB, t.MemLowMB, t.MemMediumMB, t.MemHighMB, t.MemCriticalMB),
		levelOf(float64(s.DBBacklog), float64(t.DBBacklogLow), float64(t.DBBacklogMedium), float64(t.DBBacklogHigh), float64(t.DBBacklogCritical)),
		levelOf(s.MapTickMs, t.MapTickLowMs, t.MapTickMediumMs, t.MapTickHighMs, t.MapTickCriticalMs),
		levelOf(float64(s.ActiveBots), float64(t.BotsLow), float64(t.BotsMedium), float64(t.BotsHigh), float64(t.BotsCritical)),
	)

	if candidate > m.confirmed {
		// A worst-signal crossing its high-water mark raises pressure
		// immediately - no debounce on the way up.
		m.confirmed = candidate
		m.pending = candidate
		m.pendingStreak = 0
		return m.confirmed
	}

	if candidate == m.confirmed {
		m.pending = candidate
		m.pendingStreak = 0
		return m.confirmed
	}

	// candidate < confirmed: require the lower reading to repeat before
	// trusting it, so a single low sample can't flap the level down.
	if m.pending == candidate {
		m.pendingStreak++
	} else {
		m.pending = candidate
		m.pendingStreak = 1
	}

	if m.pendingStreak >= 2 {
		m.confirmed = candidate
	}

	return m.confirmed
}

// PressureLevel returns the current confirmed level.
func (m *Monitor) PressureLevel() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmed
}

func maxLevel(levels ...Level) Level {
	max := None
	for _, l := range levels {
		if l > max {
			max = l
		}
	}
	return max
}
