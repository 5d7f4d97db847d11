package collab

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNoNamesAvailable is returned by InMemoryNameAllocator when its
// configured name pool is exhausted.
var ErrNoNamesAvailable = errors.New("collab: no names available")

// InMemoryPersistence is a reference Persistence implementation backed by
// plain maps guarded by a single RWMutex, in the style of the teacher's
// LockSet (utils.go). It is suitable for tests and for embedding a
// scheduler in a process that keeps its own character store in memory.
type InMemoryPersistence struct {
	mu sync.RWMutex

	// characterAccount maps characterID -> accountID.
	characterAccount map[uint64]uint64
	// accountCharacters maps accountID -> set of characterIDs, stored as
	// a slice to keep CharactersByAccount's ordering deterministic.
	accountCharacters map[uint64][]uint64
	// levels/races/classes let CharactersByAccount apply the request's
	// filters without a second collaborator.
	levels  map[uint64]uint8
	races   map[uint64]uint8
	classes map[uint64]uint8

	// realmCharacterCount mirrors RedisPersistence's
	// "realm_character_count" counter for telemetry/tests.
	realmCharacterCount int64
}

// NewInMemoryPersistence creates an empty store.
func NewInMemoryPersistence() *InMemoryPersistence {
	return &InMemoryPersistence{
		characterAccount:  make(map[uint64]uint64),
		accountCharacters: make(map[uint64][]uint64),
		levels:            make(map[uint64]uint8),
		races:             make(map[uint64]uint8),
		classes:           make(map[uint64]uint8),
	}
}

// Seed registers an existing character for tests/fixtures.
func (p *InMemoryPersistence) Seed(characterID, accountID uint64, level, race, class uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.characterAccount[characterID] = accountID
	p.accountCharacters[accountID] = append(p.accountCharacters[accountID], characterID)
	p.levels[characterID] = level
	p.races[characterID] = race
	p.classes[characterID] = class
}

// CharactersByAccount implements collab.Persistence.
func (p *InMemoryPersistence) CharactersByAccount(ctx context.Context, accountID uint64, filter CharacterFilter) ([]uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []uint64
	for _, cid := range p.accountCharacters[accountID] {
		lvl := p.levels[cid]
		if filter.MaxLevel != 0 && (lvl < filter.MinLevel || lvl > filter.MaxLevel) {
			continue
		}
		if filter.Race != 0 && p.races[cid] != filter.Race {
			continue
		}
		if filter.Class != 0 && p.classes[cid] != filter.Class {
			continue
		}
		out = append(out, cid)
	}
	// Lowest identifier first, per §4.6.d's deterministic-selection rule.
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// AccountIDOfCharacter implements collab.Persistence.
func (p *InMemoryPersistence) AccountIDOfCharacter(ctx context.Context, characterID uint64) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.characterAccount[characterID], nil
}

// SumCharactersOnAccount implements collab.Persistence.
func (p *InMemoryPersistence) SumCharactersOnAccount(ctx context.Context, accountID uint64) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.accountCharacters[accountID]), nil
}

// CharacterExists implements collab.Persistence.
func (p *InMemoryPersistence) CharacterExists(ctx context.Context, characterID uint64) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.characterAccount[characterID]
	return ok, nil
}

// memTx queues the same domain-level statement vocabulary RedisPersistence
// accepts ("create_character", "add_character_to_account",
// "increment_realm_character_count") and applies them against the parent
// store's maps on Commit, so scheduler code can drive either adapter
// through the identical collab.Tx contract.
type memTx struct {
	store        *InMemoryPersistence
	stmts        []func()
	realmCounter *int64
	applied      bool
}

// BeginTx implements collab.Persistence. Commit applies every appended
// statement in order - a stand-in for the real prepared-statement
// transaction a production adapter would run against two physical
// databases.
func (p *InMemoryPersistence) BeginTx(ctx context.Context, database string) (Tx, error) {
	return &memTx{store: p}, nil
}

// Append queues one of the domain-level statements character creation
// issues: "create_character", "add_character_to_account", or
// "increment_realm_character_count".
func (tx *memTx) Append(stmt string, args ...interface{}) error {
	switch stmt {
	case "create_character":
		s := args[0].(CreateCharacterStmt)
		tx.stmts = append(tx.stmts, func() {
			tx.store.mu.Lock()
			defer tx.store.mu.Unlock()
			tx.store.characterAccount[s.CharacterID] = s.AccountID
			tx.store.levels[s.CharacterID] = s.Level
			tx.store.races[s.CharacterID] = s.Race
			tx.store.classes[s.CharacterID] = s.Class
		})
	case "add_character_to_account":
		s := args[0].(AddCharacterToAccountStmt)
		tx.stmts = append(tx.stmts, func() {
			tx.store.mu.Lock()
			defer tx.store.mu.Unlock()
			tx.store.accountCharacters[s.AccountID] = append(tx.store.accountCharacters[s.AccountID], s.CharacterID)
		})
	case "increment_realm_character_count":
		tx.stmts = append(tx.stmts, func() {
			tx.store.mu.Lock()
			defer tx.store.mu.Unlock()
			tx.store.realmCharacterCount++
		})
	default:
		return errors.New("collab: unsupported tx statement " + stmt)
	}
	return nil
}

func (tx *memTx) Commit(ctx context.Context) error {
	if tx.applied {
		return nil
	}
	for _, apply := range tx.stmts {
		apply()
	}
	tx.applied = true
	return nil
}

func (tx *memTx) Rollback(ctx context.Context) error {
	tx.stmts = nil
	return nil
}

// InMemoryAccountSource hands out accounts from a fixed pool round-robin.
type InMemoryAccountSource struct {
	mu       sync.Mutex
	accounts []uint64
	next     int
}

// NewInMemoryAccountSource creates a source over the given account pool.
func NewInMemoryAccountSource(accounts []uint64) *InMemoryAccountSource {
	return &InMemoryAccountSource{accounts: accounts}
}

// AcquireAccount implements collab.AccountSource.
func (a *InMemoryAccountSource) AcquireAccount(ctx context.Context) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.accounts) == 0 {
		return 0, nil
	}
	acct := a.accounts[a.next%len(a.accounts)]
	a.next++
	return acct, nil
}

// HasAccount reports whether acctID is part of the configured pool. It is
// not part of the AccountSource interface; character creation does not
// call it.
func (a *InMemoryAccountSource) HasAccount(acctID uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, acct := range a.accounts {
		if acct == acctID {
			return true
		}
	}
	return false
}

// InMemoryNameAllocator reserves names from a fixed pool.
type InMemoryNameAllocator struct {
	mu        sync.Mutex
	available []string
	reserved  map[string]bool
}

// NewInMemoryNameAllocator creates an allocator over the given name pool.
func NewInMemoryNameAllocator(names []string) *InMemoryNameAllocator {
	return &InMemoryNameAllocator{
		available: append([]string(nil), names...),
		reserved:  make(map[string]bool),
	}
}

// Allocate implements collab.NameAllocator.
func (n *InMemoryNameAllocator) Allocate(ctx context.Context, gender uint8, characterIDHint uint64) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, name := range n.available {
		if !n.reserved[name] {
			n.reserved[name] = true
			n.available = append(n.available[:i], n.available[i+1:]...)
			return name, nil
		}
	}
	return "", ErrNoNamesAvailable
}

// Release implements collab.NameAllocator.
func (n *InMemoryNameAllocator) Release(ctx context.Context, name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.reserved[name] {
		delete(n.reserved, name)
		n.available = append(n.available, name)
	}
	return nil
}

// InMemorySessionManager tracks created sessions in memory, counting
// releases so double-release bugs in tests are caught.
type InMemorySessionManager struct {
	mu       sync.Mutex
	sessions map[uint64]uint64 // characterID -> accountID
	releases map[uint64]int    // characterID -> release count
}

// NewInMemorySessionManager creates an empty session manager.
func NewInMemorySessionManager() *InMemorySessionManager {
	return &InMemorySessionManager{
		sessions: make(map[uint64]uint64),
		releases: make(map[uint64]int),
	}
}

// CreateSession implements collab.SessionManager.
func (s *InMemorySessionManager) CreateSession(ctx context.Context, accountID, characterID uint64, bypassFlag bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[characterID] = accountID
	return true, nil
}

// ReleaseSession implements collab.SessionManager.
func (s *InMemorySessionManager) ReleaseSession(ctx context.Context, accountID, characterID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, characterID)
	s.releases[characterID]++
	return nil
}

// ReleaseCount returns how many times characterID's session was released,
// for P7-style double-release assertions in tests.
func (s *InMemorySessionManager) ReleaseCount(characterID uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases[characterID]
}

// InMemoryCharacterCache is a no-op-but-observable CharacterCache.
type InMemoryCharacterCache struct {
	mu      sync.Mutex
	entries map[uint64]string
}

// NewInMemoryCharacterCache creates an empty cache.
func NewInMemoryCharacterCache() *InMemoryCharacterCache {
	return &InMemoryCharacterCache{entries: make(map[uint64]string)}
}

// Register implements collab.CharacterCache.
func (c *InMemoryCharacterCache) Register(ctx context.Context, characterID uint64, name string, level, race, class, gender uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[characterID] = name
	return nil
}

// InMemoryPoolRegistry is a minimal JIT-bot registry stub satisfying
// collab.PoolRegistry - the warm pool itself is out of scope.
type InMemoryPoolRegistry struct {
	mu  sync.RWMutex
	jit map[uint64]bool
}

// NewInMemoryPoolRegistry creates an empty registry.
func NewInMemoryPoolRegistry() *InMemoryPoolRegistry {
	return &InMemoryPoolRegistry{jit: make(map[uint64]bool)}
}

// MarkJIT implements collab.PoolRegistry.
func (r *InMemoryPoolRegistry) MarkJIT(ctx context.Context, characterID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jit[characterID] = true
	return nil
}

// UnmarkJIT implements collab.PoolRegistry.
func (r *InMemoryPoolRegistry) UnmarkJIT(ctx context.Context, characterID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jit, characterID)
	return nil
}

// IsJIT implements collab.PoolRegistry.
func (r *InMemoryPoolRegistry) IsJIT(ctx context.Context, characterID uint64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jit[characterID], nil
}
