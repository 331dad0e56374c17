package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportPGNMultipleGames(t *testing.T) {
	games := &fakeGameStore{}
	svc := newTestService(fastConfig("", ""), games, newFakeCheckpointStore(), testNow())

	tag := "club-night"
	result, err := svc.ImportPGN(context.Background(), testPGN+"\n"+testPGN, "bob", &tag)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.TotalImported)
	assert.Equal(t, 0, result.ParseErrors)

	require.Len(t, games.upserts, 1, "one batch for the whole paste")
	all := games.all()
	require.Len(t, all, 2)
	for _, g := range all {
		assert.Nil(t, g.ProviderGameID)
		assert.True(t, g.IsHero)
		require.NotNil(t, g.ImportTag)
		assert.Equal(t, "club-night", *g.ImportTag)
	}
}

func TestImportPGNCountsParseErrors(t *testing.T) {
	games := &fakeGameStore{}
	svc := newTestService(fastConfig("", ""), games, newFakeCheckpointStore(), testNow())

	bad := "[White \"a\"]\n[Black \"b\"]\n\n1. e4 e5 2. Ke3 1-0\n"
	result, err := svc.ImportPGN(context.Background(), testPGN+"\n"+bad, "alice", nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.TotalImported)
	assert.Equal(t, 1, result.ParseErrors)
}

func TestImportPGNEmptyInput(t *testing.T) {
	svc := newTestService(fastConfig("", ""), &fakeGameStore{}, newFakeCheckpointStore(), testNow())

	_, err := svc.ImportPGN(context.Background(), "   \n  ", "alice", nil)
	assert.Error(t, err)
}

func TestImportPGNAllUnparseableStillSucceeds(t *testing.T) {
	games := &fakeGameStore{}
	svc := newTestService(fastConfig("", ""), games, newFakeCheckpointStore(), testNow())

	bad := "[White \"a\"]\n[Black \"b\"]\n\n1. e4 e5 2. Ke3 1-0\n"
	result, err := svc.ImportPGN(context.Background(), bad, "alice", nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.TotalImported)
	assert.Equal(t, 1, result.ParseErrors)
	assert.Empty(t, games.upserts)
}
