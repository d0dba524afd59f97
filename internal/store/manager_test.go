package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSharedCountsReferences(t *testing.T) {
	path := filepath.Join(t.TempDir(), "objects.db")
	a, err := OpenShared(path)
	require.NoError(t, err)
	b, err := OpenShared(path)
	require.NoError(t, err)
	assert.Same(t, a.DB, b.DB)

	require.NoError(t, a.PutState("branch", "b-1"))
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	v, err := b.GetState("branch")
	require.NoError(t, err, "the second handle must stay usable")
	assert.Equal(t, "b-1", v)
	require.NoError(t, b.Close())

	c, err := OpenShared(path)
	require.NoError(t, err)
	defer c.Close()
	assert.NotSame(t, a.DB, c.DB)
	v, err = c.GetState("branch")
	require.NoError(t, err)
	assert.Equal(t, "b-1", v)
}
