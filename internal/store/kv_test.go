package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "objects.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestElementMeta(t *testing.T) {
	db := openTestDB(t)

	ok, err := db.HasElement("abc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.PutElementMeta("abc", []byte{1, 2, 3}))
	ok, err = db.HasElement("abc")
	require.NoError(t, err)
	assert.True(t, ok)

	meta, err := db.GetElementMeta("abc")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, meta)

	keys, err := db.ElementKeys()
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, keys)

	_, err = db.GetElementMeta("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNicknamesAndStashes(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.PutNickname("main", "b-1"))
	require.NoError(t, db.PutNickname("dev", "b-2"))
	require.NoError(t, db.RemoveNickname("dev"))
	nicks, err := db.Nicknames()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"main": "b-1"}, nicks)

	require.NoError(t, db.PutStash("wip", "deadbeef"))
	stashes, err := db.Stashes()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"wip": "deadbeef"}, stashes)
	require.NoError(t, db.RemoveStash("wip"))
	stashes, err = db.Stashes()
	require.NoError(t, err)
	assert.Empty(t, stashes)
}

func TestHeadsStateConfig(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.PutHead("repo-1", []byte("head")))
	head, err := db.GetHead("repo-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("head"), head)
	repos, err := db.Repositories()
	require.NoError(t, err)
	assert.Equal(t, []string{"repo-1"}, repos)

	require.NoError(t, db.PutState("branch", "b-1"))
	v, err := db.GetState("branch")
	require.NoError(t, err)
	assert.Equal(t, "b-1", v)

	require.NoError(t, db.PutConfig("user.name", "Uma"))
	v, err = db.GetConfig("user.name")
	require.NoError(t, err)
	assert.Equal(t, "Uma", v)
	require.NoError(t, db.RemoveConfig("user.name"))
	_, err = db.GetConfig("user.name")
	assert.ErrorIs(t, err, ErrNotFound)
}
