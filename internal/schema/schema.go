// Package schema is the static type registry for structured objects.
//
// A Schema describes the ordered fields of one object type. Schemas are
// registered once at startup; resolving an unknown type descriptor is a
// configuration error rather than a runtime lookup fault.
package schema

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/javanhut/Ivaldi-objects/internal/errors"
)

// TypeDescriptor names an object type.
type TypeDescriptor struct {
	Package string
	Class   string
	Version string
}

func (t TypeDescriptor) String() string {
	if t.Version == "" {
		return t.Package + "." + t.Class
	}
	return t.Package + "." + t.Class + "@" + t.Version
}

// IsZero reports whether t is unset.
func (t TypeDescriptor) IsZero() bool {
	return t.Package == "" && t.Class == ""
}

func (t TypeDescriptor) name() string {
	return t.Package + "." + t.Class
}

// Compatible reports whether values of type o may be used where t is
// expected: package and class must match and the major versions must agree.
// Versions that are not valid semver must match exactly.
func (t TypeDescriptor) Compatible(o TypeDescriptor) bool {
	if t.Package != o.Package || t.Class != o.Class {
		return false
	}
	if t.Version == o.Version {
		return true
	}
	a, err := semver.NewVersion(t.Version)
	if err != nil {
		return false
	}
	b, err := semver.NewVersion(o.Version)
	if err != nil {
		return false
	}
	return a.Major() == b.Major()
}

// Kind is the wire kind of a field.
type Kind int

const (
	Int Kind = iota + 1
	Float
	String
	Bytes
	Bool
	Link
	Composite
)

func (k Kind) String() string {
	switch k {
	case Int:
		return "int"
	case Float:
		return "float"
	case String:
		return "string"
	case Bytes:
		return "bytes"
	case Bool:
		return "bool"
	case Link:
		return "link"
	case Composite:
		return "composite"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsScalar reports whether k holds a plain value.
func (k Kind) IsScalar() bool {
	return k >= Int && k <= Bool
}

// FieldSpec describes one field of a schema.
type FieldSpec struct {
	Name     string
	Kind     Kind
	Repeated bool

	// Elem is the nested schema of a Composite field.
	Elem *Schema

	// Target restricts the type a Link field may point at. Zero accepts any.
	Target TypeDescriptor
}

// Schema is the ordered field list of an object type. Field numbers on the
// wire are the field's position plus one.
type Schema struct {
	Type   TypeDescriptor
	Fields []FieldSpec

	// Leaf objects have no outgoing links and are stored with their payload
	// left unparsed until first accessed.
	Leaf bool

	index map[string]int
}

// New builds a schema and validates its field list.
func New(t TypeDescriptor, fields ...FieldSpec) (*Schema, error) {
	const op errors.Op = "schema.New"
	if t.IsZero() {
		return nil, errors.E(op, errors.Configuration, "type descriptor must name a package and class")
	}
	s := &Schema{Type: t, Fields: fields, index: make(map[string]int, len(fields))}
	for i, f := range fields {
		if f.Name == "" {
			return nil, errors.E(op, errors.Configuration, "%s: field %d has no name", t, i+1)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, errors.E(op, errors.Configuration, "%s: duplicate field %q", t, f.Name)
		}
		if f.Kind == Composite && f.Elem == nil {
			return nil, errors.E(op, errors.Configuration, "%s: composite field %q has no element schema", t, f.Name)
		}
		if f.Kind < Int || f.Kind > Composite {
			return nil, errors.E(op, errors.Configuration, "%s: field %q has invalid kind", t, f.Name)
		}
		s.index[f.Name] = i
	}
	return s, nil
}

// MustNew is New for schemas declared at package init.
func MustNew(t TypeDescriptor, fields ...FieldSpec) *Schema {
	s, err := New(t, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// AsLeaf marks s as a leaf type. It panics if s declares link fields,
// directly or through a nested composite.
func (s *Schema) AsLeaf() *Schema {
	if s.hasLinks() {
		panic(fmt.Sprintf("schema %s declares links and cannot be a leaf", s.Type))
	}
	s.Leaf = true
	return s
}

func (s *Schema) hasLinks() bool {
	for _, f := range s.Fields {
		if f.Kind == Link {
			return true
		}
		if f.Kind == Composite && f.Elem.hasLinks() {
			return true
		}
	}
	return false
}

// Field returns the position and spec of the named field.
func (s *Schema) Field(name string) (int, *FieldSpec, bool) {
	i, ok := s.index[name]
	if !ok {
		return 0, nil, false
	}
	return i, &s.Fields[i], true
}

// Field constructors.

func IntField(name string) FieldSpec    { return FieldSpec{Name: name, Kind: Int} }
func FloatField(name string) FieldSpec  { return FieldSpec{Name: name, Kind: Float} }
func StringField(name string) FieldSpec { return FieldSpec{Name: name, Kind: String} }
func BytesField(name string) FieldSpec  { return FieldSpec{Name: name, Kind: Bytes} }
func BoolField(name string) FieldSpec   { return FieldSpec{Name: name, Kind: Bool} }

// LinkField declares a link to a root object of type target (zero for any).
func LinkField(name string, target TypeDescriptor) FieldSpec {
	return FieldSpec{Name: name, Kind: Link, Target: target}
}

// NestedField declares a composite field embedding elem.
func NestedField(name string, elem *Schema) FieldSpec {
	return FieldSpec{Name: name, Kind: Composite, Elem: elem}
}

// Repeated turns f into a repeated field.
func Repeated(f FieldSpec) FieldSpec {
	f.Repeated = true
	return f
}

// Registry maps type descriptors to schemas.
type Registry struct {
	schemas map[string]*Schema
}

// NewRegistry returns a registry holding the given schemas.
func NewRegistry(schemas ...*Schema) (*Registry, error) {
	r := &Registry{schemas: make(map[string]*Schema)}
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds s. Registering two versions of the same package and class is
// an error.
func (r *Registry) Register(s *Schema) error {
	const op errors.Op = "schema.Register"
	if s == nil {
		return errors.E(op, errors.Configuration, "nil schema")
	}
	name := s.Type.name()
	if prev, ok := r.schemas[name]; ok && prev != s {
		return errors.E(op, errors.Configuration, "type %s already registered as %s", s.Type, prev.Type)
	}
	r.schemas[name] = s
	return nil
}

// Lookup resolves t to its registered schema.
func (r *Registry) Lookup(t TypeDescriptor) (*Schema, error) {
	const op errors.Op = "schema.Lookup"
	if r == nil {
		return nil, errors.E(op, errors.Configuration, "no type registry configured")
	}
	s, ok := r.schemas[t.name()]
	if !ok {
		return nil, errors.E(op, errors.Configuration, "type %s is not registered", t)
	}
	if !s.Type.Compatible(t) {
		return nil, errors.E(op, errors.Configuration, "type %s is incompatible with registered %s", t, s.Type)
	}
	return s, nil
}

// Types lists registered descriptors.
func (r *Registry) Types() []TypeDescriptor {
	out := make([]TypeDescriptor, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s.Type)
	}
	return out
}

// ParseType parses "package.Class@version"; the version is optional.
func ParseType(s string) (TypeDescriptor, error) {
	var t TypeDescriptor
	name := s
	if at := strings.LastIndex(s, "@"); at >= 0 {
		name, t.Version = s[:at], s[at+1:]
	}
	dot := strings.LastIndex(name, ".")
	if dot <= 0 || dot == len(name)-1 {
		return t, errors.E(errors.Op("schema.ParseType"), errors.Configuration, "invalid type %q", s)
	}
	t.Package, t.Class = name[:dot], name[dot+1:]
	return t, nil
}
