package element

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javanhut/Ivaldi-objects/internal/cas"
	"github.com/javanhut/Ivaldi-objects/internal/errors"
	"github.com/javanhut/Ivaldi-objects/internal/schema"
	"github.com/javanhut/Ivaldi-objects/internal/store"
)

var testType = schema.TypeDescriptor{Package: "example", Class: "Thing", Version: "1.0.0"}

func TestNewNormalizesChildren(t *testing.T) {
	a := cas.Sum([]byte("a"))
	b := cas.Sum([]byte("b"))

	e1 := New([]byte("v"), testType, false, []cas.Hash{b, a, b})
	e2 := New([]byte("v"), testType, false, []cas.Hash{a, b})

	assert.Equal(t, e1.ChildLinks, e2.ChildLinks)
	assert.Len(t, e1.ChildLinks, 2)
	assert.Equal(t, cas.Sum([]byte("v")), e1.Key)
	require.NoError(t, e1.Verify())
}

func TestVerifyDetectsMismatch(t *testing.T) {
	e := New([]byte("value"), testType, true, nil)
	e.Value = []byte("tampered")
	err := e.Verify()
	assert.True(t, errors.Is(err, errors.Integrity))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	child := cas.Sum([]byte("child"))
	e := New([]byte{0x0a, 0x03, 'U', 'm', 'a'}, testType, true, []cas.Hash{child})

	got, err := Decode(Encode(e))
	require.NoError(t, err)
	if diff := cmp.Diff(e, got); diff != "" {
		t.Errorf("envelope round trip (-want +got):\n%s", diff)
	}

	// Encoding is deterministic.
	assert.Equal(t, Encode(e), Encode(got))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte{0x0a, 0xff})
	assert.True(t, errors.Is(err, errors.Integrity))
}

func testStores(t *testing.T) map[string]Store {
	dir := t.TempDir()
	disk, err := OpenDiskStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = disk.Close() })

	db, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return map[string]Store{
		"memory":     NewMemoryStore(),
		"disk":       disk,
		"memory cas": NewCASStore(cas.NewMemoryCAS(), db),
	}
}

func TestStores(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			child := New([]byte("leaf payload"), testType, true, nil)
			parent := New([]byte("parent payload"), testType, false, []cas.Hash{child.Key})

			ok, err := s.Has(parent.Key)
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = s.Get(parent.Key)
			assert.True(t, errors.Is(err, errors.NotFound))

			require.NoError(t, s.Put(child))
			require.NoError(t, s.Put(parent))
			require.NoError(t, s.Put(parent))

			got, err := s.Get(parent.Key)
			require.NoError(t, err)
			if diff := cmp.Diff(parent, got); diff != "" {
				t.Errorf("Get (-want +got):\n%s", diff)
			}

			keys, err := s.Keys()
			require.NoError(t, err)
			assert.ElementsMatch(t, []cas.Hash{child.Key, parent.Key}, keys)
		})
	}
}

func TestCASStoreRejectsMismatchedPut(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	defer db.Close()

	s := NewCASStore(cas.NewMemoryCAS(), db)
	e := New([]byte("good"), testType, true, nil)
	e.Value = []byte("bad")
	err = s.Put(e)
	assert.True(t, errors.Is(err, errors.Integrity))
}

func TestMemoryStoreKeepsCorruptElements(t *testing.T) {
	s := NewMemoryStore()
	e := New([]byte("good"), testType, true, nil)
	e.Value = []byte("bad")
	require.NoError(t, s.Put(e))

	got, err := s.Get(e.Key)
	require.NoError(t, err)
	assert.True(t, errors.Is(got.Verify(), errors.Integrity))
}
