package scheduler

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsRecordsPeakConcurrent(t *testing.T) {
	var s GlobalStats

	s.recordSpawnSuccess(1)
	s.recordSpawnSuccess(5)
	s.recordSpawnSuccess(3)

	snap := s.Snapshot()
	assert.Equal(t, int64(3), snap.TotalSpawned)
	assert.Equal(t, int64(3), snap.CurrentlyActive)
	assert.Equal(t, int64(5), snap.PeakConcurrent)
}

func TestStatsFailureAndDespawnCounters(t *testing.T) {
	var s GlobalStats

	s.recordSpawnFailure()
	s.recordSpawnFailure()
	s.recordDespawn(0)

	snap := s.Snapshot()
	assert.Equal(t, int64(2), snap.FailedSpawns)
	assert.Equal(t, int64(1), snap.TotalDespawned)
	assert.Equal(t, int64(0), snap.CurrentlyActive)
}

func TestStatsConcurrentAttempts(t *testing.T) {
	var s GlobalStats
	var wg sync.WaitGroup

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.recordAttempt()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(200), s.Snapshot().CumulativeAttempts)
}
