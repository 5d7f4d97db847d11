package collab

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryPersistenceCharactersByAccountFilter(t *testing.T) {
	p := NewInMemoryPersistence()
	p.Seed(1, 100, 10, 1, 1)
	p.Seed(2, 100, 40, 2, 3)
	p.Seed(3, 100, 20, 1, 1)

	ids, err := p.CharactersByAccount(context.Background(), 100, CharacterFilter{Race: 1})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 3}, ids)
}

func TestInMemoryPersistenceTxCommitsCreateCharacter(t *testing.T) {
	p := NewInMemoryPersistence()
	ctx := context.Background()

	tx, err := p.BeginTx(ctx, "character")
	require.NoError(t, err)

	require.NoError(t, tx.Append("create_character", CreateCharacterStmt{
		CharacterID: 99, AccountID: 7, Name: "Brynn", Level: 1, Race: 1, Class: 1,
	}))
	require.NoError(t, tx.Commit(ctx))

	exists, err := p.CharacterExists(ctx, 99)
	require.NoError(t, err)
	assert.True(t, exists)

	account, err := p.AccountIDOfCharacter(ctx, 99)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), account)
}

func TestInMemoryPersistenceTxAddCharacterToAccount(t *testing.T) {
	p := NewInMemoryPersistence()
	ctx := context.Background()

	tx, err := p.BeginTx(ctx, "account")
	require.NoError(t, err)
	require.NoError(t, tx.Append("add_character_to_account", AddCharacterToAccountStmt{AccountID: 5, CharacterID: 88}))
	require.NoError(t, tx.Commit(ctx))

	count, err := p.SumCharactersOnAccount(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInMemoryPersistenceTxRollbackDiscardsStatements(t *testing.T) {
	p := NewInMemoryPersistence()
	ctx := context.Background()

	tx, err := p.BeginTx(ctx, "character")
	require.NoError(t, err)
	require.NoError(t, tx.Append("create_character", CreateCharacterStmt{CharacterID: 1, AccountID: 1}))
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, tx.Commit(ctx))

	exists, err := p.CharacterExists(ctx, 1)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestInMemoryNameAllocatorExhaustion(t *testing.T) {
	a := NewInMemoryNameAllocator([]string{"Only"})
	ctx := context.Background()

	name, err := a.Allocate(ctx, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, "Only", name)

	_, err = a.Allocate(ctx, 0, 2)
	assert.ErrorIs(t, err, ErrNoNamesAvailable)

	require.NoError(t, a.Release(ctx, "Only"))
	name, err = a.Allocate(ctx, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, "Only", name)
}

func TestInMemorySessionManagerReleaseCount(t *testing.T) {
	s := NewInMemorySessionManager()
	ctx := context.Background()

	ok, err := s.CreateSession(ctx, 1, 2, false)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.ReleaseSession(ctx, 1, 2))
	require.NoError(t, s.ReleaseSession(ctx, 1, 2))

	assert.Equal(t, 2, s.ReleaseCount(2))
}
