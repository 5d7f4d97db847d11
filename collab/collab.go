// Package collab defines the capability-set interfaces for the six
// external collaborators the Spawner Core consumes (Account Source, Name
// Allocator, Character Distribution, Persistence, Session Manager, Clock)
// plus the Character Cache touched by character creation and the
// warm-pool registry interface. Everything in this package is a thin abstraction: the
// scheduler never reaches past these interfaces into a concrete database
// driver or session implementation.
package collab

import (
	"context"
	"time"
)

// Clock is the monotonic millisecond source the whole scheduler reads
// wall-clock time through, so tests can substitute a fake.
type Clock interface {
	NowMs() uint64
	NowTimestamp() time.Time
}

// AccountSource issues account identifiers usable for bot ownership.
type AccountSource interface {
	// AcquireAccount returns an account id, or 0 if none is available.
	AcquireAccount(ctx context.Context) (accountID uint64, err error)
}

// NameAllocator atomically reserves and releases unique character names.
type NameAllocator interface {
	// Allocate reserves a name for the given gender, optionally hinted by
	// characterIDHint for deterministic test fixtures. Returns "" if no
	// name is available.
	Allocate(ctx context.Context, gender uint8, characterIDHint uint64) (name string, err error)
	Release(ctx context.Context, name string) error
}

// CharacterDistribution samples a weighted (race, class) pair. (0, 0)
// signals exhaustion of the distribution (no valid pair configured).
type CharacterDistribution interface {
	SampleRaceClass(ctx context.Context) (race, class uint8, err error)
}

// CharacterFilter narrows CharactersByAccount's candidate search to the
// request's level/race/class constraints.
type CharacterFilter struct {
	MinLevel, MaxLevel uint8
	Race, Class        uint8 // 0 means "no filter" for that field
}

// Tx is a transaction handle returned by Persistence.BeginTx. Statements
// are appended and only take effect on Commit.
type Tx interface {
	Append(stmt string, args ...interface{}) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Persistence executes prepared queries and transactions against the
// character and account databases, synchronously or asynchronously
// depending on the method.
type Persistence interface {
	// CharactersByAccount is the asynchronous candidate search used by
	// character selection; it may be paginated internally.
	CharactersByAccount(ctx context.Context, accountID uint64, filter CharacterFilter) ([]uint64, error)

	AccountIDOfCharacter(ctx context.Context, characterID uint64) (uint64, error)
	SumCharactersOnAccount(ctx context.Context, accountID uint64) (int, error)
	CharacterExists(ctx context.Context, characterID uint64) (bool, error)

	// BeginTx opens a transaction against the named database ("character"
	// or "account"); Persistence implementations that share one physical
	// store may return the same Tx for both names.
	BeginTx(ctx context.Context, database string) (Tx, error)
}

// SessionManager takes (account, character) and materializes an in-world
// session.
type SessionManager interface {
	CreateSession(ctx context.Context, accountID, characterID uint64, bypassFlag bool) (bool, error)
	// ReleaseSession tears down a previously created session, invoked
	// exactly once per successful despawn.
	ReleaseSession(ctx context.Context, accountID, characterID uint64) error
}

// CharacterCache registers a newly created character so name lookups by
// other players succeed; it is out of scope in detail and consumed only
// through this interface.
type CharacterCache interface {
	Register(ctx context.Context, characterID uint64, name string, level, race, class, gender uint8) error
}

// PoolRegistry models the warm-pool and JIT-bot registries named in the
// persisted-state layout. It is carried in scheduler.Dependencies, but the
// scheduler does not call it; ownership of the warm pool itself is out of
// scope.
type PoolRegistry interface {
	MarkJIT(ctx context.Context, characterID uint64) error
	UnmarkJIT(ctx context.Context, characterID uint64) error
	IsJIT(ctx context.Context, characterID uint64) (bool, error)
}
