// Package element defines the serialized, content-addressed form of objects
// and the stores that hold them.
//
// An Element carries the canonical bytes of one object together with its
// type, whether it is a leaf, and the keys of the elements it links to. The
// child keys let a consumer discover every dependency of an element without
// parsing its payload.
package element

import (
	"slices"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/javanhut/Ivaldi-objects/internal/cas"
	"github.com/javanhut/Ivaldi-objects/internal/errors"
	"github.com/javanhut/Ivaldi-objects/internal/schema"
)

// Element is one immutable, hashed object.
type Element struct {
	Key        cas.Hash
	Value      []byte
	Type       schema.TypeDescriptor
	IsLeaf     bool
	ChildLinks []cas.Hash
}

// New hashes value and returns the element keyed by that hash. Child keys
// are sorted and de-duplicated.
func New(value []byte, t schema.TypeDescriptor, leaf bool, children []cas.Hash) *Element {
	return &Element{
		Key:        cas.Sum(value),
		Value:      value,
		Type:       t,
		IsLeaf:     leaf,
		ChildLinks: normalize(children),
	}
}

func normalize(keys []cas.Hash) []cas.Hash {
	if len(keys) == 0 {
		return nil
	}
	out := slices.Clone(keys)
	slices.SortFunc(out, func(a, b cas.Hash) int { return slices.Compare(a[:], b[:]) })
	return slices.Compact(out)
}

// Verify checks that the key is the hash of the value.
func (e *Element) Verify() error {
	computed := cas.Sum(e.Value)
	if computed != e.Key {
		return errors.E(errors.Op("element.Verify"), errors.Integrity, &cas.MismatchError{Expected: e.Key, Computed: computed})
	}
	return nil
}

// Clone returns a copy whose slices do not alias e.
func (e *Element) Clone() *Element {
	c := *e
	c.Value = slices.Clone(e.Value)
	c.ChildLinks = slices.Clone(e.ChildLinks)
	return &c
}

// Envelope field numbers.
const (
	fieldKey    protowire.Number = 1
	fieldValue  protowire.Number = 2
	fieldType   protowire.Number = 3
	fieldLeaf   protowire.Number = 4
	fieldChild  protowire.Number = 5
	typePackage protowire.Number = 1
	typeClass   protowire.Number = 2
	typeVersion protowire.Number = 3
)

// Encode serializes e into its envelope.
func Encode(e *Element) []byte {
	return encode(e, true)
}

// encodeMeta serializes everything except the value.
func encodeMeta(e *Element) []byte {
	return encode(e, false)
}

func encode(e *Element, withValue bool) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldKey, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Key[:])
	if withValue {
		b = protowire.AppendTag(b, fieldValue, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Value)
	}
	b = protowire.AppendTag(b, fieldType, protowire.BytesType)
	b = protowire.AppendBytes(b, AppendType(nil, e.Type))
	if e.IsLeaf {
		b = protowire.AppendTag(b, fieldLeaf, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	for _, c := range e.ChildLinks {
		b = protowire.AppendTag(b, fieldChild, protowire.BytesType)
		b = protowire.AppendBytes(b, c[:])
	}
	return b
}

// Decode parses an envelope. It does not verify the key; see Verify.
func Decode(b []byte) (*Element, error) {
	const op errors.Op = "element.Decode"
	e := &Element{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.E(op, errors.Integrity, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errors.E(op, errors.Integrity, protowire.ParseError(n))
			}
			h, err := cas.FromBytes(v)
			if err != nil {
				return nil, errors.E(op, errors.Integrity, err)
			}
			e.Key = h
			b = b[n:]
		case num == fieldValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errors.E(op, errors.Integrity, protowire.ParseError(n))
			}
			e.Value = slices.Clone(v)
			b = b[n:]
		case num == fieldType && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errors.E(op, errors.Integrity, protowire.ParseError(n))
			}
			t, err := DecodeType(v)
			if err != nil {
				return nil, errors.E(op, err)
			}
			e.Type = t
			b = b[n:]
		case num == fieldLeaf && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errors.E(op, errors.Integrity, protowire.ParseError(n))
			}
			e.IsLeaf = protowire.DecodeBool(v)
			b = b[n:]
		case num == fieldChild && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errors.E(op, errors.Integrity, protowire.ParseError(n))
			}
			h, err := cas.FromBytes(v)
			if err != nil {
				return nil, errors.E(op, errors.Integrity, err)
			}
			e.ChildLinks = append(e.ChildLinks, h)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errors.E(op, errors.Integrity, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return e, nil
}

// AppendType appends the wire form of t to b.
func AppendType(b []byte, t schema.TypeDescriptor) []byte {
	b = protowire.AppendTag(b, typePackage, protowire.BytesType)
	b = protowire.AppendString(b, t.Package)
	b = protowire.AppendTag(b, typeClass, protowire.BytesType)
	b = protowire.AppendString(b, t.Class)
	if t.Version != "" {
		b = protowire.AppendTag(b, typeVersion, protowire.BytesType)
		b = protowire.AppendString(b, t.Version)
	}
	return b
}

// DecodeType parses a type descriptor written by AppendType.
func DecodeType(b []byte) (schema.TypeDescriptor, error) {
	const op errors.Op = "element.DecodeType"
	var t schema.TypeDescriptor
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return t, errors.E(op, errors.Integrity, protowire.ParseError(n))
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return t, errors.E(op, errors.Integrity, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return t, errors.E(op, errors.Integrity, protowire.ParseError(n))
		}
		switch num {
		case typePackage:
			t.Package = v
		case typeClass:
			t.Class = v
		case typeVersion:
			t.Version = v
		}
		b = b[n:]
	}
	return t, nil
}
