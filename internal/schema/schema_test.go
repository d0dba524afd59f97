package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javanhut/Ivaldi-objects/internal/errors"
)

var person = TypeDescriptor{Package: "example.people", Class: "Person", Version: "1.2.0"}

func TestCompatible(t *testing.T) {
	testCases := map[string]struct {
		a, b     TypeDescriptor
		expected bool
	}{
		"identical": {
			a: person, b: person, expected: true,
		},
		"minor bump": {
			a: person, b: TypeDescriptor{Package: "example.people", Class: "Person", Version: "1.9.1"}, expected: true,
		},
		"major bump": {
			a: person, b: TypeDescriptor{Package: "example.people", Class: "Person", Version: "2.0.0"}, expected: false,
		},
		"other class": {
			a: person, b: TypeDescriptor{Package: "example.people", Class: "Address", Version: "1.2.0"}, expected: false,
		},
		"non-semver equal": {
			a: TypeDescriptor{Package: "p", Class: "C", Version: "draft"},
			b: TypeDescriptor{Package: "p", Class: "C", Version: "draft"}, expected: true,
		},
		"non-semver differ": {
			a: TypeDescriptor{Package: "p", Class: "C", Version: "draft"},
			b: TypeDescriptor{Package: "p", Class: "C", Version: "1.0.0"}, expected: false,
		},
	}

	for tn, tc := range testCases {
		t.Run(tn, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.a.Compatible(tc.b))
		})
	}
}

func TestNewValidates(t *testing.T) {
	_, err := New(person, StringField("name"), IntField("name"))
	assert.True(t, errors.Is(err, errors.Configuration))

	_, err = New(person, FieldSpec{Name: "address", Kind: Composite})
	assert.True(t, errors.Is(err, errors.Configuration))

	_, err = New(TypeDescriptor{}, StringField("name"))
	assert.True(t, errors.Is(err, errors.Configuration))

	s, err := New(person, StringField("name"), Repeated(StringField("tags")))
	require.NoError(t, err)
	i, f, ok := s.Field("tags")
	require.True(t, ok)
	assert.Equal(t, 1, i)
	assert.True(t, f.Repeated)
	assert.Equal(t, String, f.Kind)
}

func TestAsLeafRejectsLinks(t *testing.T) {
	blob := MustNew(TypeDescriptor{Package: "p", Class: "Blob"}, BytesField("data")).AsLeaf()
	assert.True(t, blob.Leaf)

	assert.Panics(t, func() {
		MustNew(TypeDescriptor{Package: "p", Class: "Node"}, LinkField("next", TypeDescriptor{})).AsLeaf()
	})
}

func TestRegistryLookup(t *testing.T) {
	s := MustNew(person, StringField("name"))
	reg, err := NewRegistry(s)
	require.NoError(t, err)

	got, err := reg.Lookup(TypeDescriptor{Package: "example.people", Class: "Person", Version: "1.0.0"})
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = reg.Lookup(TypeDescriptor{Package: "example.people", Class: "Person", Version: "2.0.0"})
	assert.True(t, errors.Is(err, errors.Configuration))

	_, err = reg.Lookup(TypeDescriptor{Package: "example.people", Class: "Missing"})
	assert.True(t, errors.Is(err, errors.Configuration))

	other := MustNew(TypeDescriptor{Package: "example.people", Class: "Person", Version: "3.0.0"})
	assert.True(t, errors.Is(reg.Register(other), errors.Configuration))

	var nilReg *Registry
	_, err = nilReg.Lookup(person)
	assert.True(t, errors.Is(err, errors.Configuration))
}

func TestParseType(t *testing.T) {
	got, err := ParseType("example.people.Person@1.2.0")
	require.NoError(t, err)
	assert.Equal(t, person, got)
	assert.Equal(t, "example.people.Person@1.2.0", got.String())

	got, err = ParseType("p.C")
	require.NoError(t, err)
	assert.Equal(t, TypeDescriptor{Package: "p", Class: "C"}, got)

	_, err = ParseType("nodot")
	assert.Error(t, err)
}
