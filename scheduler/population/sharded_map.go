package population

import (
	"hash/fnv"
	"sync"
)

const shardCount = 32

// shardedGuidMap is a concurrency-safe uint64->uint64 map split across
// fixed shards, each behind its own RWMutex, so that the O(1) hot-path
// lookups the global population cap relies on do not serialize across the
// whole ~5000-entry active-bot set. This generalizes the teacher's
// single-RWMutex LockSet (utils.go) to per-bucket locking, the discipline
// §5 requires for activeBots/botsByZone.
type shardedGuidMap struct {
	shards [shardCount]guidShard
}

type guidShard struct {
	mu sync.RWMutex
	m  map[uint64]uint64
}

func newShardedGuidMap() *shardedGuidMap {
	sm := &shardedGuidMap{}
	for i := range sm.shards {
		sm.shards[i].m = make(map[uint64]uint64)
	}
	return sm
}

func (sm *shardedGuidMap) shardFor(key uint64) *guidShard {
	h := fnv.New64a()
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(key >> (8 * i))
	}
	_, _ = h.Write(b[:])
	return &sm.shards[h.Sum64()%shardCount]
}

// Set stores key->value. Readers of the same shard are released before any
// write, per the hash-map access discipline in §5: callers must not hold a
// read accessor across a call that may write the same shard.
func (sm *shardedGuidMap) Set(key, value uint64) {
	s := sm.shardFor(key)
	s.mu.Lock()
	s.m[key] = value
	s.mu.Unlock()
}

// Get returns the value for key and whether it was present.
func (sm *shardedGuidMap) Get(key uint64) (uint64, bool) {
	s := sm.shardFor(key)
	s.mu.RLock()
	v, ok := s.m[key]
	s.mu.RUnlock()
	return v, ok
}

// Delete removes key, returning the prior value and whether it existed.
func (sm *shardedGuidMap) Delete(key uint64) (uint64, bool) {
	s := sm.shardFor(key)
	s.mu.Lock()
	v, ok := s.m[key]
	if ok {
		delete(s.m, key)
	}
	s.mu.Unlock()
	return v, ok
}

// Len returns the total number of entries across all shards.
func (sm *shardedGuidMap) Len() int {
	n := 0
	for i := range sm.shards {
		sm.shards[i].mu.RLock()
		n += len(sm.shards[i].m)
		sm.shards[i].mu.RUnlock()
	}
	return n
}

// Reset atomically swaps every shard's backing map with a fresh empty one
// and returns a snapshot of what was isolated out, for shutdown-style mass
// clearing without holding any shard lock while the caller iterates.
func (sm *shardedGuidMap) Reset() map[uint64]uint64 {
	snapshot := make(map[uint64]uint64)
	for i := range sm.shards {
		s := &sm.shards[i]
		s.mu.Lock()
		old := s.m
		s.m = make(map[uint64]uint64)
		s.mu.Unlock()
		for k, v := range old {
			snapshot[k] = v
		}
	}
	return snapshot
}
