package population

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddRemoveKeepsInvariants(t *testing.T) {
	tr := NewTracker()

	tr.ReserveSlot()
	tr.AddBot(1, 12)
	tr.ReserveSlot()
	tr.AddBot(2, 12)

	assert.Equal(t, int64(2), tr.ActiveCount())
	zone, ok := tr.ZoneOf(1)
	require.True(t, ok)
	assert.Equal(t, uint32(12), zone)
	assert.Contains(t, tr.BotsInZone(12), uint64(1))
	assert.Contains(t, tr.BotsInZone(12), uint64(2))

	zone, ok = tr.RemoveBot(1)
	require.True(t, ok)
	assert.Equal(t, uint32(12), zone)
	assert.Equal(t, int64(1), tr.ActiveCount())
	assert.NotContains(t, tr.BotsInZone(12), uint64(1))
}

func TestReserveSlotCapEnforcementUnderConcurrency(t *testing.T) {
	tr := NewTracker()
	const capLimit = 100
	const threads = 32
	const attemptsPerThread = 1000

	var wg sync.WaitGroup
	var successes int64
	var mu sync.Mutex

	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := 0; j < attemptsPerThread; j++ {
				previous := tr.ReserveSlot()
				if previous >= capLimit {
					tr.ReleaseSlot()
					continue
				}
				tr.AddBot(uint64(base*attemptsPerThread+j+1), 1)
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(capLimit), successes)
	assert.Equal(t, int64(capLimit), tr.ActiveCount())
}

func TestDespawnAllIsAtomicAndComplete(t *testing.T) {
	tr := NewTracker()
	for i := 1; i <= 1000; i++ {
		tr.ReserveSlot()
		tr.AddBot(uint64(i), uint32(i%10))
	}

	require.Equal(t, int64(1000), tr.ActiveCount())

	snapshot := tr.DespawnAll()
	assert.Len(t, snapshot, 1000)
	assert.Equal(t, int64(0), tr.ActiveCount())

	for zoneID := uint32(0); zoneID < 10; zoneID++ {
		assert.Empty(t, tr.BotsInZone(zoneID))
	}
}

func TestZoneBotCountTracksAddRemove(t *testing.T) {
	tr := NewTracker()
	tr.UpsertZone(5, func(zp *ZonePopulation) { zp.MapID = 99 })

	tr.ReserveSlot()
	tr.AddBot(1, 5)
	tr.ReserveSlot()
	tr.AddBot(2, 5)

	zp, ok := tr.Zone(5)
	require.True(t, ok)
	assert.Equal(t, 2, zp.BotCount)

	tr.RemoveBot(1)
	zp, _ = tr.Zone(5)
	assert.Equal(t, 1, zp.BotCount)
}
