// Package queue implements the priority staging area for pending bot spawn
// work: a max-heap keyed on a four-level priority with duplicate
// suppression for requests that name a specific character.
package queue

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

// RequestKind identifies what a SpawnRequest is asking the scheduler to do.
type RequestKind int

// Valid RequestKind values.
const (
	SpecificCharacter RequestKind = iota
	GroupMember
	SpecificZone
	Random
)

// Priority orders PrioritySpawnRequests in the queue. Lower ordinal wins.
type Priority int

// Valid Priority values, ordered highest to lowest.
const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

// ErrInvalidCharacterGuid is returned when Kind requires a character
// identifier but none was supplied.
var ErrInvalidCharacterGuid = errors.New("queue: SPECIFIC_CHARACTER request requires a non-empty character guid")

// ErrInvertedLevelRange is returned when MaxLevel is non-zero and below MinLevel.
var ErrInvertedLevelRange = errors.New("queue: max level is below min level")

// SpawnRequest is the caller-facing spawn intent described in the data model.
type SpawnRequest struct {
	Kind RequestKind `json:"kind" msgpack:"kind"`

	CharacterGuid uint64 `json:"character_guid,omitempty" msgpack:"character_guid,omitempty"`
	AccountID     uint64 `json:"account_id,omitempty" msgpack:"account_id,omitempty"`

	ZoneID uint32 `json:"zone_id,omitempty" msgpack:"zone_id,omitempty"`
	MapID  uint32 `json:"map_id,omitempty" msgpack:"map_id,omitempty"`

	MinLevel uint8 `json:"min_level,omitempty" msgpack:"min_level,omitempty"`
	MaxLevel uint8 `json:"max_level,omitempty" msgpack:"max_level,omitempty"`

	Race  uint8 `json:"race,omitempty" msgpack:"race,omitempty"`
	Class uint8 `json:"class,omitempty" msgpack:"class,omitempty"`

	// BypassGlobalCap allows privileged spawns (e.g. warm pool fill) to
	// skip the global population ceiling.
	BypassGlobalCap bool `json:"bypass_global_cap,omitempty" msgpack:"bypass_global_cap,omitempty"`

	// Callback, if set, is invoked exactly once with the outcome of the
	// request once it has been fully processed (success or failure).
	Callback func(ok bool, characterGuid uint64) `json:"-" msgpack:"-"`
}

// Validate checks the invariants from the data model section. It does not
// perform any of the cap, persistence, or account-matching validation that
// belongs to the Spawner Core's pre-cap validation pass.
func (r SpawnRequest) Validate() error {
	if r.Kind == SpecificCharacter && r.CharacterGuid == 0 {
		return ErrInvalidCharacterGuid
	}
	if r.MaxLevel != 0 && r.MinLevel > r.MaxLevel {
		return ErrInvertedLevelRange
	}
	return nil
}

// DerivedPriority implements the §4.6.b priority derivation table. Critical
// is reserved for explicit future callers and is never derived.
func (r SpawnRequest) DerivedPriority() Priority {
	switch r.Kind {
	case SpecificCharacter, GroupMember:
		return PriorityHigh
	case SpecificZone:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// PrioritySpawnRequest is the scheduling wrapper around a SpawnRequest.
type PrioritySpawnRequest struct {
	Priority    Priority     `json:"priority" msgpack:"priority"`
	EnqueueTime int64        `json:"enqueue_time_ms" msgpack:"enqueue_time_ms"`
	RetryCount  int          `json:"retry_count" msgpack:"retry_count"`
	Reason      string       `json:"reason,omitempty" msgpack:"reason,omitempty"`
	Request     SpawnRequest `json:"request" msgpack:"request"`

	// index is maintained by container/heap and is not part of the
	// public contract.
	index int
}

// Metrics is a point-in-time scanning snapshot of queue depth.
type Metrics struct {
	Size             int           `json:"size" msgpack:"size"`
	SizeByPriority   [4]int        `json:"size_by_priority" msgpack:"size_by_priority"`
	AvgDequeueLatency time.Duration `json:"avg_dequeue_latency" msgpack:"avg_dequeue_latency"`
	TotalDequeues    int64         `json:"total_dequeues" msgpack:"total_dequeues"`
}

// innerHeap implements container/heap.Interface. Ordering is strict:
// priority ascending first (lower ordinal is higher priority), enqueue
// time ascending on ties. No other field may influence ordering.
type innerHeap []*PrioritySpawnRequest

func (h innerHeap) Len() int { return len(h) }

func (h innerHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].EnqueueTime < h[j].EnqueueTime
}

func (h innerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *innerHeap) Push(x interface{}) {
	req := x.(*PrioritySpawnRequest)
	req.index = len(*h)
	*h = append(*h, req)
}

func (h *innerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	req := old[n-1]
	old[n-1] = nil
	req.index = -1
	*h = old[:n-1]
	return req
}

// Queue is the concurrency-safe priority staging area. All operations
// acquire a single mutex; the queue is deliberately not lock-free because
// §5 requires only the drain body itself to be mutually exclusive, not the
// queue's own bookkeeping.
type Queue struct {
	mu    sync.Mutex
	heap  innerHeap
	index map[uint64]*PrioritySpawnRequest

	totalDequeues   int64
	dequeueLatency  time.Duration

	now func() int64
}

// New creates an empty Queue. now supplies the millisecond clock used to
// stamp EnqueueTime when the caller leaves it zero; pass nil to use the
// wall clock.
func New(now func() int64) *Queue {
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}
	q := &Queue{
		heap:  make(innerHeap, 0, 256),
		index: make(map[uint64]*PrioritySpawnRequest),
		now:   now,
	}
	heap.Init(&q.heap)
	return q
}

// Enqueue stages req. If req carries a non-empty CharacterGuid that is
// already indexed, the request is silently rejected and false is returned -
// the caller is expected to react (log, decrement its own accepted count).
// Requests without a character guid (zone/random spawns) are always
// accepted; identity is assigned later in the pipeline.
func (q *Queue) Enqueue(req *PrioritySpawnRequest) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	guid := req.Request.CharacterGuid
	if guid != 0 {
		if _, exists := q.index[guid]; exists {
			return false
		}
	}

	if req.EnqueueTime == 0 {
		req.EnqueueTime = q.now()
	}

	heap.Push(&q.heap, req)

	if guid != 0 {
		q.index[guid] = req
	}

	return true
}

// Dequeue pops the highest-priority, oldest-enqueued request. ok is false
// when the queue is empty.
func (q *Queue) Dequeue() (req *PrioritySpawnRequest, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		return nil, false
	}

	start := time.Now()
	req = heap.Pop(&q.heap).(*PrioritySpawnRequest)
	q.recordDequeueLocked(start)

	if guid := req.Request.CharacterGuid; guid != 0 {
		delete(q.index, guid)
	}

	return req, true
}

func (q *Queue) recordDequeueLocked(start time.Time) {
	elapsed := time.Since(start)
	q.totalDequeues++
	// Running average, weighted by count so far - avoids keeping a full
	// latency history for a hot-path accumulator.
	q.dequeueLatency += (elapsed - q.dequeueLatency) / time.Duration(q.totalDequeues)
}

// Remove performs an O(n) removal of the request carrying characterGuid, if
// queued. It rebuilds the heap excluding the target and updates the index.
func (q *Queue) Remove(characterGuid uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	target, exists := q.index[characterGuid]
	if !exists {
		return false
	}

	remaining := make(innerHeap, 0, len(q.heap)-1)
	for _, r := range q.heap {
		if r != target {
			remaining = append(remaining, r)
		}
	}

	q.heap = remaining
	heap.Init(&q.heap)
	delete(q.index, characterGuid)

	return true
}

// Contains reports whether characterGuid currently has a queued request.
func (q *Queue) Contains(characterGuid uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, exists := q.index[characterGuid]
	return exists
}

// Size returns the total number of queued requests.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// SizeByPriority returns how many queued requests carry the given priority.
func (q *Queue) SizeByPriority(p Priority) (n int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, r := range q.heap {
		if r.Priority == p {
			n++
		}
	}
	return
}

// Metrics returns a scanning snapshot of queue depth and drain latency.
func (q *Queue) Metrics() Metrics {
	q.mu.Lock()
	defer q.mu.Unlock()

	m := Metrics{
		Size:              q.heap.Len(),
		AvgDequeueLatency: q.dequeueLatency,
		TotalDequeues:     q.totalDequeues,
	}
	for _, r := range q.heap {
		m.SizeByPriority[r.Priority]++
	}
	return m
}
