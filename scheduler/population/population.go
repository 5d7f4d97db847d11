// Package population tracks which bots are live, which zone each one
// occupies, and the target bot count each zone should be reconciled
// towards.
package population

import (
	"sync"
	"sync/atomic"
)

// ZonePopulation is the per-zone record the reconciliation loop reads and
// writes.
type ZonePopulation struct {
	ZoneID          uint32  `json:"zone_id" msgpack:"zone_id"`
	MapID           uint32  `json:"map_id" msgpack:"map_id"`
	PlayerCount     int     `json:"player_count" msgpack:"player_count"`
	BotCount        int     `json:"bot_count" msgpack:"bot_count"`
	TargetBotCount  int     `json:"target_bot_count" msgpack:"target_bot_count"`
	MinLevel        uint8   `json:"min_level" msgpack:"min_level"`
	MaxLevel        uint8   `json:"max_level" msgpack:"max_level"`
	DensityFactor   float64 `json:"density_factor" msgpack:"density_factor"`
	LastUpdateMs    int64   `json:"last_update_ms" msgpack:"last_update_ms"`
}

// Tracker owns activeBots (character -> zone), botsByZone (zone -> ordered
// character list), the activeBotCount fast-path scalar, and the per-zone
// population table. All mutation paths are safe for concurrent use from
// many producer goroutines plus the single tick consumer.
type Tracker struct {
	activeBots    *shardedGuidMap // characterGuid -> zoneID
	activeCount   int64           // atomic, always == activeBots.Len() at quiescence

	zonesMu sync.RWMutex
	botsByZone      map[uint32][]uint64
	zonePopulations map[uint32]*ZonePopulation
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		activeBots:      newShardedGuidMap(),
		botsByZone:      make(map[uint32][]uint64),
		zonePopulations: make(map[uint32]*ZonePopulation),
	}
}

// ActiveCount returns the fast-path atomic scalar, for O(1) cap checks.
func (t *Tracker) ActiveCount() int64 {
	return atomic.LoadInt64(&t.activeCount)
}

// ReserveSlot performs the atomic pre-increment cap reservation from
// §4.6 step 2: it unconditionally increments activeCount and returns the
// value observed *before* the increment, so the caller can decide whether
// the reservation must be rolled back.
func (t *Tracker) ReserveSlot() (previousCount int64) {
	return atomic.AddInt64(&t.activeCount, 1) - 1
}

// ReleaseSlot rolls back a reservation that did not result in a tracked
// bot (validation/cap/pipeline failure after ReserveSlot).
func (t *Tracker) ReleaseSlot() {
	atomic.AddInt64(&t.activeCount, -1)
}

// AddBot records a successful spawn: characterGuid now occupies zoneID.
// The caller must already hold a reservation from ReserveSlot - AddBot does
// not touch activeCount, preserving the single-increment-per-attempt
// invariant.
func (t *Tracker) AddBot(characterGuid uint64, zoneID uint32) {
	t.activeBots.Set(characterGuid, uint64(zoneID))

	t.zonesMu.Lock()
	t.botsByZone[zoneID] = append(t.botsByZone[zoneID], characterGuid)
	if zp, ok := t.zonePopulations[zoneID]; ok {
		zp.BotCount++
	}
	t.zonesMu.Unlock()
}

// RemoveBot removes characterGuid from tracking and decrements
// activeCount exactly once. It reports the zone the bot occupied and
// whether it was tracked at all.
func (t *Tracker) RemoveBot(characterGuid uint64) (zoneID uint32, ok bool) {
	v, existed := t.activeBots.Delete(characterGuid)
	if !existed {
		return 0, false
	}
	zoneID = uint32(v)
	atomic.AddInt64(&t.activeCount, -1)

	t.zonesMu.Lock()
	list := t.botsByZone[zoneID]
	for i, g := range list {
		if g == characterGuid {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(t.botsByZone, zoneID)
	} else {
		t.botsByZone[zoneID] = list
	}
	if zp, found := t.zonePopulations[zoneID]; found && zp.BotCount > 0 {
		zp.BotCount--
	}
	t.zonesMu.Unlock()

	return zoneID, true
}

// ZoneOf returns the zone characterGuid currently occupies, if tracked.
func (t *Tracker) ZoneOf(characterGuid uint64) (zoneID uint32, ok bool) {
	v, found := t.activeBots.Get(characterGuid)
	return uint32(v), found
}

// Contains reports whether characterGuid is currently tracked as active.
func (t *Tracker) Contains(characterGuid uint64) bool {
	_, ok := t.activeBots.Get(characterGuid)
	return ok
}

// BotsInZone returns a snapshot copy of the character list for zoneID.
func (t *Tracker) BotsInZone(zoneID uint32) []uint64 {
	t.zonesMu.RLock()
	defer t.zonesMu.RUnlock()

	src := t.botsByZone[zoneID]
	out := make([]uint64, len(src))
	copy(out, src)
	return out
}

// CountInZone returns how many tracked bots currently occupy zoneID.
func (t *Tracker) CountInZone(zoneID uint32) int {
	t.zonesMu.RLock()
	defer t.zonesMu.RUnlock()
	return len(t.botsByZone[zoneID])
}

// CountInMap returns the best-effort sum of BotCount across every zone
// registered (via UpsertZone) as belonging to mapID. It is an aggregate
// over the same zonePopulations bookkeeping CountInZone reads, not a
// separate map-keyed counter, so it stays consistent with per-zone caps
// without a second source of truth. Zones never registered with UpsertZone
// (e.g. the zoneless "unassigned" bucket) do not contribute, matching the
// same best-effort caveat §4.6 step 3 accepts for the per-zone cap.
func (t *Tracker) CountInMap(mapID uint32) int {
	t.zonesMu.RLock()
	defer t.zonesMu.RUnlock()

	total := 0
	for _, zp := range t.zonePopulations {
		if zp.MapID == mapID {
			total += zp.BotCount
		}
	}
	return total
}

// DespawnAll atomically swaps both tracking structures with empty ones and
// returns the isolated snapshot of (characterGuid -> zoneID) pairs that
// were active, for the caller to release sessions against without holding
// any lock.
func (t *Tracker) DespawnAll() map[uint64]uint64 {
	snapshot := t.activeBots.Reset()

	t.zonesMu.Lock()
	t.botsByZone = make(map[uint32][]uint64)
	for _, zp := range t.zonePopulations {
		zp.BotCount = 0
	}
	t.zonesMu.Unlock()

	atomic.StoreInt64(&t.activeCount, 0)

	return snapshot
}

// UpsertZone creates or updates the stored ZonePopulation for zoneID,
// leaving BotCount alone (it is maintained by AddBot/RemoveBot) and
// applying the rest of the observed fields.
func (t *Tracker) UpsertZone(zoneID uint32, update func(zp *ZonePopulation)) {
	t.zonesMu.Lock()
	defer t.zonesMu.Unlock()

	zp, ok := t.zonePopulations[zoneID]
	if !ok {
		zp = &ZonePopulation{ZoneID: zoneID}
		zp.BotCount = len(t.botsByZone[zoneID])
		t.zonePopulations[zoneID] = zp
	}
	update(zp)
}

// Zone returns a copy of the ZonePopulation for zoneID, if known.
func (t *Tracker) Zone(zoneID uint32) (ZonePopulation, bool) {
	t.zonesMu.RLock()
	defer t.zonesMu.RUnlock()

	zp, ok := t.zonePopulations[zoneID]
	if !ok {
		return ZonePopulation{}, false
	}
	return *zp, true
}

// Zones returns a copy of every known zone's population record.
func (t *Tracker) Zones() []ZonePopulation {
	t.zonesMu.RLock()
	defer t.zonesMu.RUnlock()

	out := make([]ZonePopulation, 0, len(t.zonePopulations))
	for _, zp := range t.zonePopulations {
		out = append(out, *zp)
	}
	return out
}
