package pack

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javanhut/Ivaldi-objects/internal/cas"
	"github.com/javanhut/Ivaldi-objects/internal/element"
	"github.com/javanhut/Ivaldi-objects/internal/errors"
	"github.com/javanhut/Ivaldi-objects/internal/schema"
)

var testType = schema.TypeDescriptor{Package: "example", Class: "Thing", Version: "1.0.0"}

func testBundle() Bundle {
	leaf := element.New([]byte("leaf payload"), testType, true, nil)
	root := element.New([]byte("root payload"), testType, false, []cas.Hash{leaf.Key})
	head := element.New([]byte("head payload"), testType, false, nil)
	return Bundle{Head: head, Root: root.Key, Elements: []*element.Element{root, leaf}}
}

func TestRoundTrip(t *testing.T) {
	for _, algo := range []CompressAlgo{CompressZlib, CompressZstd} {
		t.Run(algo.String(), func(t *testing.T) {
			want := testBundle()
			data, err := WriteWith(want, algo)
			require.NoError(t, err)

			got, err := Read(data)
			require.NoError(t, err)
			if diff := cmp.Diff(&want, got); diff != "" {
				t.Errorf("bundle round trip (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOptionalParts(t *testing.T) {
	b := testBundle()
	b.Head = nil
	data, err := Write(b)
	require.NoError(t, err)
	got, err := Read(data)
	require.NoError(t, err)
	assert.Nil(t, got.Head)
	assert.Equal(t, b.Root, got.Root)

	data, err = Write(Bundle{Elements: b.Elements})
	require.NoError(t, err)
	got, err = Read(data)
	require.NoError(t, err)
	assert.True(t, got.Root.IsZero())
	assert.Len(t, got.Elements, 2)

	data, err = Write(Bundle{})
	require.NoError(t, err)
	got, err = Read(data)
	require.NoError(t, err)
	assert.Empty(t, got.Elements)
}

func TestWriteIsDeterministic(t *testing.T) {
	a, err := Write(testBundle())
	require.NoError(t, err)
	b, err := Write(testBundle())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestReadRejectsDamage(t *testing.T) {
	data, err := Write(testBundle())
	require.NoError(t, err)

	flipped := append([]byte(nil), data...)
	flipped[len(flipped)/2] ^= 0xff
	_, err = Read(flipped)
	assert.True(t, errors.Is(err, errors.Integrity), "flipped byte: %v", err)

	_, err = Read(data[:10])
	assert.True(t, errors.Is(err, errors.Integrity), "truncated: %v", err)

	_, err = Read(data[:len(data)-1])
	assert.True(t, errors.Is(err, errors.Integrity), "short trailer: %v", err)
}

func TestReadVerifiesElements(t *testing.T) {
	b := testBundle()
	bad := b.Elements[1].Clone()
	bad.Value = []byte("tampered")
	b.Elements[1] = bad

	data, err := Write(b)
	require.NoError(t, err)
	_, err = Read(data)
	assert.True(t, errors.Is(err, errors.Integrity), "got %v", err)
}
