package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheRockettek/bot-spawn-scheduler/collab"
	"github.com/TheRockettek/bot-spawn-scheduler/scheduler/queue"
)

// faultyPersistence wraps an InMemoryPersistence and fails the first
// failUntil invocations of BeginTx, then behaves normally - used to inject
// commit failures into character creation.
type faultyPersistence struct {
	*collab.InMemoryPersistence
	calls     int64
	failUntil int64
}

func (f *faultyPersistence) BeginTx(ctx context.Context, database string) (collab.Tx, error) {
	f.calls++
	if f.calls <= f.failUntil {
		return nil, errors.New("injected persistence fault")
	}
	return f.InMemoryPersistence.BeginTx(ctx, database)
}

func TestCharacterCreationAutoCreatesWhenNoExistingCandidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoCreateCharacters = true
	cfg.MaxCharactersPerAccount = 10

	deps := newTestDeps(3, 10)
	s := newTestSpawner(t, cfg, deps)

	var gotGuid uint64
	var gotOk bool
	done := make(chan struct{})

	s.SpawnBot(context.Background(), queue.SpawnRequest{
		Kind: queue.Random,
		Callback: func(ok bool, guid uint64) {
			gotOk, gotGuid = ok, guid
			close(done)
		},
	})
	<-done

	require.True(t, gotOk)
	assert.NotZero(t, gotGuid)

	exists, err := deps.Store.CharacterExists(context.Background(), gotGuid)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCharacterCreationReusesExistingCandidateOnAccount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoCreateCharacters = true
	cfg.MaxCharactersPerAccount = 1

	deps := newTestDeps(1, 10)
	store := deps.Store.(*collab.InMemoryPersistence)
	store.Seed(999, 1, 1, 1, 1)

	s := newTestSpawner(t, cfg, deps)

	var gotGuid uint64
	done := make(chan bool, 1)
	s.SpawnBot(context.Background(), queue.SpawnRequest{
		Kind:      queue.Random,
		AccountID: 1,
		Callback:  func(ok bool, guid uint64) { gotGuid = guid; done <- ok },
	})

	assert.True(t, <-done, "an existing character on the account should be reused rather than blocked by the creation limit")
	assert.Equal(t, uint64(999), gotGuid)
}

func TestCharacterCreationBlockedByPerAccountLimitWhenNoCandidateMatches(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoCreateCharacters = true
	cfg.MaxCharactersPerAccount = 1

	deps := newTestDeps(1, 10)
	store := deps.Store.(*collab.InMemoryPersistence)
	store.Seed(999, 1, 1, 1, 1)

	s := newTestSpawner(t, cfg, deps)

	done := make(chan bool, 1)
	// Race/Class 2/2 never matches the seeded 1/1 character, so selection
	// falls through to creation, which must then hit the per-account cap.
	s.SpawnBot(context.Background(), queue.SpawnRequest{
		Kind:      queue.Random,
		AccountID: 1,
		Race:      2,
		Class:     2,
		Callback:  func(ok bool, guid uint64) { done <- ok },
	})

	assert.False(t, <-done, "creation must be blocked once the account is already at its character cap")
}

func TestNameReleasedWhenCommitFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoCreateCharacters = true
	cfg.MaxCharactersPerAccount = 10

	deps := newTestDeps(2, 1)
	faulty := &faultyPersistence{InMemoryPersistence: collab.NewInMemoryPersistence(), failUntil: 1}
	deps.Store = faulty

	s := newTestSpawner(t, cfg, deps)

	done := make(chan bool, 1)
	s.SpawnBot(context.Background(), queue.SpawnRequest{
		Kind:     queue.Random,
		Callback: func(ok bool, guid uint64) { done <- ok },
	})
	assert.False(t, <-done)

	names := deps.Names.(*collab.InMemoryNameAllocator)
	_, err := names.Allocate(context.Background(), 0, 1)
	assert.NoError(t, err, "the name reserved by the failed attempt must have been released back to the pool")
}

func TestBreakerTripsAcrossRepeatedPersistenceFaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoCreateCharacters = true
	cfg.MaxCharactersPerAccount = 1000

	deps := newTestDeps(10, 2000)
	faulty := &faultyPersistence{InMemoryPersistence: collab.NewInMemoryPersistence(), failUntil: 1000}
	deps.Store = faulty

	s := newTestSpawner(t, cfg, deps)

	for i := 0; i < 60; i++ {
		done := make(chan struct{})
		s.SpawnBot(context.Background(), queue.SpawnRequest{
			Kind:     queue.Random,
			Callback: func(ok bool, guid uint64) { close(done) },
		})
		<-done
	}

	snap := s.Snapshot()
	assert.NotEqual(t, "closed", snap.BreakerState.String())
}
