package repository

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/javanhut/Ivaldi-objects/internal/cas"
	"github.com/javanhut/Ivaldi-objects/internal/element"
	"github.com/javanhut/Ivaldi-objects/internal/errors"
	"github.com/javanhut/Ivaldi-objects/internal/schema"
)

// Object values are encoded canonically with protowire: fields in schema
// order, field number = position + 1, unset fields omitted, repeated values
// as one tag per element. Links are embedded as {1 key, 2 type, 3 leaf}.

const (
	linkKey  protowire.Number = 1
	linkType protowire.Number = 2
	linkLeaf protowire.Number = 3
)

// keyFunc returns the content hash a link should be serialized with.
type keyFunc func(*Link) (cas.Hash, error)

func (o *Object) encode(keyOf keyFunc) ([]byte, []cas.Hash, error) {
	var children []cas.Hash
	b, err := o.appendFields(nil, func(l *Link) (cas.Hash, error) {
		h, err := keyOf(l)
		if err == nil {
			children = append(children, h)
		}
		return h, err
	})
	return b, children, err
}

func (o *Object) appendFields(b []byte, keyOf keyFunc) ([]byte, error) {
	var err error
	for i, f := range o.schema.Fields {
		num := protowire.Number(i + 1)
		switch v := o.fields[i].(type) {
		case nil:
		case []any:
			for _, x := range v {
				b = appendScalar(b, num, f.Kind, x)
			}
		case *Link:
			if b, err = appendLink(b, num, v, keyOf); err != nil {
				return nil, err
			}
		case []*Link:
			for _, l := range v {
				if b, err = appendLink(b, num, l, keyOf); err != nil {
					return nil, err
				}
			}
		case *Object:
			if b, err = appendNested(b, num, v, keyOf); err != nil {
				return nil, err
			}
		case []*Object:
			for _, n := range v {
				if b, err = appendNested(b, num, n, keyOf); err != nil {
					return nil, err
				}
			}
		default:
			b = appendScalar(b, num, f.Kind, v)
		}
	}
	return b, nil
}

func appendScalar(b []byte, num protowire.Number, k schema.Kind, v any) []byte {
	switch k {
	case schema.Int:
		b = protowire.AppendTag(b, num, protowire.VarintType)
		return protowire.AppendVarint(b, protowire.EncodeZigZag(v.(int64)))
	case schema.Float:
		b = protowire.AppendTag(b, num, protowire.Fixed64Type)
		return protowire.AppendFixed64(b, math.Float64bits(v.(float64)))
	case schema.String:
		b = protowire.AppendTag(b, num, protowire.BytesType)
		return protowire.AppendString(b, v.(string))
	case schema.Bytes:
		b = protowire.AppendTag(b, num, protowire.BytesType)
		return protowire.AppendBytes(b, v.([]byte))
	case schema.Bool:
		b = protowire.AppendTag(b, num, protowire.VarintType)
		return protowire.AppendVarint(b, protowire.EncodeBool(v.(bool)))
	}
	return b
}

func appendLink(b []byte, num protowire.Number, l *Link, keyOf keyFunc) ([]byte, error) {
	h, err := keyOf(l)
	if err != nil {
		return nil, err
	}
	var m []byte
	m = protowire.AppendTag(m, linkKey, protowire.BytesType)
	m = protowire.AppendBytes(m, h[:])
	m = protowire.AppendTag(m, linkType, protowire.BytesType)
	m = protowire.AppendBytes(m, element.AppendType(nil, l.typ))
	if l.leaf {
		m = protowire.AppendTag(m, linkLeaf, protowire.VarintType)
		m = protowire.AppendVarint(m, protowire.EncodeBool(true))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m), nil
}

func appendNested(b []byte, num protowire.Number, n *Object, keyOf keyFunc) ([]byte, error) {
	m, err := n.appendFields(nil, keyOf)
	if err != nil {
		return nil, err
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m), nil
}

// decode fills o's fields from its canonical encoding.
func (o *Object) decode(b []byte) error {
	const op errors.Op = "repository.decode"
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.E(op, errors.Integrity, protowire.ParseError(n))
		}
		b = b[n:]
		i := int(num) - 1
		if i < 0 || i >= len(o.schema.Fields) {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errors.E(op, errors.Integrity, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		f := &o.schema.Fields[i]
		n, err := o.decodeField(i, f, typ, b)
		if err != nil {
			return errors.E(op, errors.Integrity, "%s.%s: %v", o.schema.Type, f.Name, err)
		}
		b = b[n:]
	}
	return nil
}

func wireType(k schema.Kind) protowire.Type {
	switch k {
	case schema.Int, schema.Bool:
		return protowire.VarintType
	case schema.Float:
		return protowire.Fixed64Type
	}
	return protowire.BytesType
}

func (o *Object) decodeField(i int, f *schema.FieldSpec, typ protowire.Type, b []byte) (int, error) {
	if typ != wireType(f.Kind) {
		return 0, errors.New("wire type does not match schema")
	}
	var (
		v any
		n int
	)
	switch f.Kind {
	case schema.Int:
		var x uint64
		x, n = protowire.ConsumeVarint(b)
		v = protowire.DecodeZigZag(x)
	case schema.Bool:
		var x uint64
		x, n = protowire.ConsumeVarint(b)
		v = protowire.DecodeBool(x)
	case schema.Float:
		var x uint64
		x, n = protowire.ConsumeFixed64(b)
		v = math.Float64frombits(x)
	case schema.String:
		v, n = protowire.ConsumeString(b)
	case schema.Bytes:
		var x []byte
		x, n = protowire.ConsumeBytes(b)
		v = append([]byte{}, x...)
	case schema.Link, schema.Composite:
		var m []byte
		m, n = protowire.ConsumeBytes(b)
		if n < 0 {
			break
		}
		if f.Kind == schema.Link {
			l, err := decodeLink(m)
			if err != nil {
				return 0, err
			}
			l.owner, l.field = o, i
			if f.Repeated {
				list, _ := o.fields[i].([]*Link)
				l.index = len(list)
				o.fields[i] = append(list, l)
			} else {
				l.index = -1
				o.fields[i] = l
			}
			return n, nil
		}
		nested := o.newNested(f.Elem)
		if err := nested.decode(m); err != nil {
			return 0, err
		}
		if f.Repeated {
			list, _ := o.fields[i].([]*Object)
			o.fields[i] = append(list, nested)
		} else {
			o.fields[i] = nested
		}
		return n, nil
	}
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	if f.Repeated {
		list, _ := o.fields[i].([]any)
		o.fields[i] = append(list, v)
	} else {
		o.fields[i] = v
	}
	return n, nil
}

func decodeLink(b []byte) (*Link, error) {
	l := &Link{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == linkKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			h, err := cas.FromBytes(v)
			if err != nil {
				return nil, err
			}
			l.key = h.String()
			b = b[n:]
		case num == linkType && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			t, err := element.DecodeType(v)
			if err != nil {
				return nil, err
			}
			l.typ = t
			b = b[n:]
		case num == linkLeaf && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			l.leaf = protowire.DecodeBool(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	if l.key == "" {
		return nil, errors.New("link has no key")
	}
	return l, nil
}
