package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheRockettek/bot-spawn-scheduler/collab"
	"github.com/TheRockettek/bot-spawn-scheduler/scheduler/queue"
)

type fakeClock struct{ ms uint64 }

func (c *fakeClock) NowMs() uint64         { return atomic.LoadUint64(&c.ms) }
func (c *fakeClock) NowTimestamp() time.Time { return time.UnixMilli(int64(c.NowMs())) }

func newTestDeps(accountCount, namesCount int) Dependencies {
	accounts := make([]uint64, accountCount)
	for i := range accounts {
		accounts[i] = uint64(i + 1)
	}
	names := make([]string, namesCount)
	for i := range names {
		names[i] = stringsRepeatName(i)
	}

	table := collab.NewRaceClassTable([]collab.RaceClassPair{{Race: 1, Class: 1, Weight: 1}})
	dist := collab.NewWeightedCharacterDistribution([]collab.RaceClassPair{{Race: 1, Class: 1, Weight: 1}}, table, 7)

	return Dependencies{
		Accounts:      collab.NewInMemoryAccountSource(accounts),
		Names:         collab.NewInMemoryNameAllocator(names),
		Distribution:  dist,
		Store:         collab.NewInMemoryPersistence(),
		Sessions:      collab.NewInMemorySessionManager(),
		Clock:         &fakeClock{ms: 1},
		Cache:         collab.NewInMemoryCharacterCache(),
		Pool:          collab.NewInMemoryPoolRegistry(),
		RaceClass:     table,
		Customization: collab.NewCustomizationTables(nil),
	}
}

func stringsRepeatName(i int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz"
	out := make([]byte, 0, 4)
	for {
		out = append([]byte{alphabet[i%26]}, out...)
		i = i/26 - 1
		if i < 0 {
			break
		}
	}
	return string(out)
}

func newTestSpawner(t *testing.T, cfg Config, deps Dependencies) *Spawner {
	t.Helper()
	return New(cfg, deps, zerolog.Nop())
}

func TestSpawnBotRespectsGlobalCapUnderConcurrency(t *testing.T) {
	const capLimit = 100
	const threads = 32
	const attemptsPerThread = 1000

	cfg := DefaultConfig()
	cfg.MaxBotsTotal = capLimit
	cfg.RespectPopulationCaps = true
	cfg.AutoCreateCharacters = true
	cfg.MaxCharactersPerAccount = 1000

	deps := newTestDeps(50, 2000)
	s := newTestSpawner(t, cfg, deps)

	var wg sync.WaitGroup
	var successes int64

	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < attemptsPerThread; j++ {
				wg.Add(1)
				req := queue.SpawnRequest{
					Kind: queue.Random,
					Callback: func(ok bool, guid uint64) {
						defer wg.Done()
						if ok {
							atomic.AddInt64(&successes, 1)
						}
					},
				}
				s.SpawnBot(context.Background(), req)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(capLimit), successes)
	assert.Equal(t, int64(capLimit), s.Population().ActiveCount())
}

func TestSpawnBotsDuplicateSuppressionEndToEnd(t *testing.T) {
	cfg := DefaultConfig()
	deps := newTestDeps(5, 50)
	s := newTestSpawner(t, cfg, deps)

	reqs := []queue.SpawnRequest{
		{Kind: queue.SpecificCharacter, CharacterGuid: 42},
		{Kind: queue.SpecificCharacter, CharacterGuid: 42},
	}

	accepted := s.SpawnBots(reqs)
	assert.Equal(t, 1, accepted)
}

func TestZoneAndCharacterRequestsCoexist(t *testing.T) {
	cfg := DefaultConfig()
	deps := newTestDeps(5, 50)
	s := newTestSpawner(t, cfg, deps)

	var reqs []queue.SpawnRequest
	for i := 0; i < 500; i++ {
		reqs = append(reqs, queue.SpawnRequest{Kind: queue.SpecificZone, ZoneID: 12})
	}
	for i := 1; i <= 500; i++ {
		reqs = append(reqs, queue.SpawnRequest{Kind: queue.SpecificCharacter, CharacterGuid: uint64(i)})
	}

	accepted := s.SpawnBots(reqs)
	assert.Equal(t, 1000, accepted)
}

func TestDespawnAllBotsReleasesEverySessionExactlyOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBotsTotal = 10000
	cfg.AutoCreateCharacters = true
	cfg.MaxCharactersPerAccount = 10000

	deps := newTestDeps(20, 2000)
	sessions := deps.Sessions.(*collab.InMemorySessionManager)
	s := newTestSpawner(t, cfg, deps)

	var wg sync.WaitGroup
	spawned := make(chan uint64, 1000)
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		req := queue.SpawnRequest{
			Kind: queue.Random,
			Callback: func(ok bool, guid uint64) {
				defer wg.Done()
				if ok {
					spawned <- guid
				}
			},
		}
		s.SpawnBot(context.Background(), req)
	}
	wg.Wait()
	close(spawned)

	require.Equal(t, int64(1000), s.Population().ActiveCount())

	var guids []uint64
	for g := range spawned {
		guids = append(guids, g)
	}

	var despawnWG sync.WaitGroup
	despawnWG.Add(1)
	go func() {
		defer despawnWG.Done()
		s.DespawnAllBots(context.Background())
	}()

	for i := 0; i < 100 && i < len(guids); i++ {
		despawnWG.Add(1)
		go func(guid uint64) {
			defer despawnWG.Done()
			s.DespawnBot(context.Background(), guid, 0)
		}(guids[i])
	}
	despawnWG.Wait()

	assert.Equal(t, int64(0), s.Population().ActiveCount())

	for _, g := range guids {
		assert.LessOrEqual(t, sessions.ReleaseCount(g), 1)
	}

	// Every one of the 1000 spawned bots is removed exactly once, whether
	// by DespawnAllBots's snapshot or a racing individual DespawnBot call,
	// so the counter must reflect all of them, not just one mass-despawn
	// event.
	assert.Equal(t, int64(1000), s.Snapshot().Stats.TotalDespawned)
}
