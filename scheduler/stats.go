package scheduler

import "sync/atomic"

// GlobalStats holds the atomic counters telemetry and operators read.
// Relaxed ordering is sufficient for every field - these are counters, not
// synchronization points.
type GlobalStats struct {
	totalSpawned       int64
	totalDespawned     int64
	currentlyActive    int64
	peakConcurrent     int64
	failedSpawns       int64
	cumulativeAttempts int64
}

// StatsSnapshot is the msgpack/json-friendly point-in-time copy of
// GlobalStats, suitable for telemetry publication.
type StatsSnapshot struct {
	TotalSpawned       int64 `json:"total_spawned" msgpack:"total_spawned"`
	TotalDespawned     int64 `json:"total_despawned" msgpack:"total_despawned"`
	CurrentlyActive    int64 `json:"currently_active" msgpack:"currently_active"`
	PeakConcurrent     int64 `json:"peak_concurrent" msgpack:"peak_concurrent"`
	FailedSpawns       int64 `json:"failed_spawns" msgpack:"failed_spawns"`
	CumulativeAttempts int64 `json:"cumulative_attempts" msgpack:"cumulative_attempts"`
}

func (s *GlobalStats) recordAttempt() {
	atomic.AddInt64(&s.cumulativeAttempts, 1)
}

func (s *GlobalStats) recordSpawnSuccess(activeNow int64) {
	atomic.AddInt64(&s.totalSpawned, 1)
	atomic.StoreInt64(&s.currentlyActive, activeNow)

	for {
		peak := atomic.LoadInt64(&s.peakConcurrent)
		if activeNow <= peak {
			return
		}
		if atomic.CompareAndSwapInt64(&s.peakConcurrent, peak, activeNow) {
			return
		}
	}
}

func (s *GlobalStats) recordSpawnFailure() {
	atomic.AddInt64(&s.failedSpawns, 1)
}

func (s *GlobalStats) recordDespawn(activeNow int64) {
	atomic.AddInt64(&s.totalDespawned, 1)
	atomic.StoreInt64(&s.currentlyActive, activeNow)
}

// Snapshot returns a consistent-enough point-in-time copy for telemetry.
func (s *GlobalStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		TotalSpawned:       atomic.LoadInt64(&s.totalSpawned),
		TotalDespawned:     atomic.LoadInt64(&s.totalDespawned),
		CurrentlyActive:    atomic.LoadInt64(&s.currentlyActive),
		PeakConcurrent:     atomic.LoadInt64(&s.peakConcurrent),
		FailedSpawns:       atomic.LoadInt64(&s.failedSpawns),
		CumulativeAttempts: atomic.LoadInt64(&s.cumulativeAttempts),
	}
}
