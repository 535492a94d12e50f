package server

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTokens(t *testing.T) (*BoltTokenStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auth", "tokens.db")
	s, err := OpenBoltTokenStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestBoltTokenStore_CreateAndLookup(t *testing.T) {
	s, _ := openTokens(t)

	raw, info, err := s.CreateToken("ci", "builder", []string{"game-*"}, "rw")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "depot_"))
	assert.Equal(t, HashToken(raw), info.TokenHash)
	assert.Nil(t, info.LastUsedAt)

	got, err := s.GetByHash(HashToken(raw))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, info.ID, got.ID)
	assert.Equal(t, "builder", got.UserID)
	assert.Equal(t, []string{"game-*"}, got.Repos)

	missing, err := s.GetByHash(HashToken("nope"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestBoltTokenStore_UpdateLastUsed(t *testing.T) {
	s, _ := openTokens(t)
	raw, info, err := s.CreateToken("ci", "builder", []string{"*"}, "ro")
	require.NoError(t, err)

	require.NoError(t, s.UpdateLastUsed(info.ID))
	got, err := s.GetByHash(HashToken(raw))
	require.NoError(t, err)
	assert.NotNil(t, got.LastUsedAt)

	assert.ErrorIs(t, s.UpdateLastUsed("unknown"), ErrTokenNotFound)
}

func TestBoltTokenStore_ListAndDelete(t *testing.T) {
	s, _ := openTokens(t)
	_, a, err := s.CreateToken("a", "alice", []string{"*"}, "rw")
	require.NoError(t, err)
	rawB, b, err := s.CreateToken("b", "bob", []string{"*"}, "ro")
	require.NoError(t, err)

	list, err := s.ListTokens()
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, s.DeleteToken(b.ID))
	got, err := s.GetByHash(HashToken(rawB))
	require.NoError(t, err)
	assert.Nil(t, got)

	list, err = s.ListTokens()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)

	assert.ErrorIs(t, s.DeleteToken(b.ID), ErrTokenNotFound)
}

func TestBoltTokenStore_Persists(t *testing.T) {
	s, path := openTokens(t)
	raw, _, err := s.CreateToken("keep", "alice", []string{"*"}, "admin")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := OpenBoltTokenStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetByHash(HashToken(raw))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "admin", got.Permission)
}
