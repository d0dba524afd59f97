package repository

import (
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/javanhut/Ivaldi-objects/internal/cas"
	"github.com/javanhut/Ivaldi-objects/internal/errors"
	"github.com/javanhut/Ivaldi-objects/internal/schema"
)

// Object is a typed tree node owned by one repository arena.
//
// Root objects have an id (a local counter value while modified, the content
// hash once committed or loaded) and may be the target of links. Nested
// composite fields are non-root objects of the same tree; modifying them
// modifies their root.
type Object struct {
	repo   *Repository
	ws     *workspace
	schema *schema.Schema
	id     string
	root   *Object

	// fields is indexed by schema position; nil means unset. Scalars hold
	// int64, float64, string, []byte or bool; repeated scalars []any; links
	// *Link or []*Link; composites *Object or []*Object.
	fields []any

	parents mapset.Set[*Link]

	// raw is the unparsed payload of a leaf element.
	raw []byte

	modified bool
	readOnly bool
	invalid  bool
}

func (r *Repository) newObject(ws *workspace, s *schema.Schema, id string) *Object {
	o := &Object{
		repo:     r,
		ws:       ws,
		schema:   s,
		id:       id,
		fields:   make([]any, len(s.Fields)),
		parents:  mapset.NewThreadUnsafeSet[*Link](),
		readOnly: ws.readOnly,
	}
	o.root = o
	return o
}

func (o *Object) newNested(s *schema.Schema) *Object {
	return &Object{
		repo:   o.repo,
		ws:     o.ws,
		schema: s,
		root:   o.root,
		fields: make([]any, len(s.Fields)),
	}
}

// ID returns the object's id; nested objects have none.
func (o *Object) ID() string { return o.id }

// Type returns the object's type descriptor.
func (o *Object) Type() schema.TypeDescriptor { return o.schema.Type }

// Schema returns the object's schema.
func (o *Object) Schema() *schema.Schema { return o.schema }

// Repository returns the owning repository.
func (o *Object) Repository() *Repository { return o.repo }

// Root returns the root of o's tree.
func (o *Object) Root() *Object { return o.root }

// IsRoot reports whether o is the root of its tree and so can be linked.
func (o *Object) IsRoot() bool { return o.root == o }

// IsModified reports whether o's tree changed since it was last hashed.
func (o *Object) IsModified() bool { return o.root.modified }

// IsReadOnly reports whether o belongs to a detached or merged tree.
func (o *Object) IsReadOnly() bool { return o.root.readOnly }

// IsInvalid reports whether o's workspace was replaced and o is unusable.
func (o *Object) IsInvalid() bool { return o.root.invalid }

// ParentLinks returns the links pointing at o's tree.
func (o *Object) ParentLinks() []*Link {
	if o.root.parents == nil {
		return nil
	}
	return o.root.parents.ToSlice()
}

// ChildLinks returns every set link held in o's subtree.
func (o *Object) ChildLinks() ([]*Link, error) {
	if err := o.usable("repository.ChildLinks"); err != nil {
		return nil, err
	}
	var out []*Link
	o.eachLink(func(l *Link) { out = append(out, l) })
	return out, nil
}

// eachLink visits set links of o's subtree in schema order.
func (o *Object) eachLink(fn func(*Link)) {
	for _, field := range o.fields {
		switch v := field.(type) {
		case *Link:
			fn(v)
		case []*Link:
			for _, l := range v {
				fn(l)
			}
		case *Object:
			v.eachLink(fn)
		case []*Object:
			for _, n := range v {
				n.eachLink(fn)
			}
		}
	}
}

func (o *Object) usable(op errors.Op) error {
	if o.root.invalid {
		return errors.E(op, errors.State, "object belongs to a discarded workspace")
	}
	return o.root.ensureParsed()
}

func (o *Object) writable(op errors.Op) error {
	if err := o.usable(op); err != nil {
		return err
	}
	if o.root.readOnly {
		return errors.E(op, errors.State, "object is read only")
	}
	return nil
}

// ensureParsed decodes a leaf payload on first access.
func (o *Object) ensureParsed() error {
	if o.raw == nil {
		return nil
	}
	raw := o.raw
	o.raw = nil
	if err := o.decode(raw); err != nil {
		o.raw = raw
		return errors.E(errors.Op("repository.parse"), errors.Integrity, err)
	}
	return nil
}

// touch marks o's tree modified and propagates to every parent. A committed
// tree is re-keyed to a fresh local id so lookups by its hash keep resolving
// to the committed content.
func (o *Object) touch() {
	root := o.root
	if root.modified {
		return
	}
	root.modified = true
	root.repo.rekey(root)
	for _, l := range root.parents.ToSlice() {
		if l.owner != nil {
			l.owner.touch()
		}
	}
}

func (r *Repository) rekey(o *Object) {
	if _, hashed := parseKey(o.id); !hashed {
		return
	}
	old := o.id
	if o.ws.objects[old] == o {
		delete(o.ws.objects, old)
	}
	o.id = r.newID()
	o.ws.objects[o.id] = o
	for _, l := range o.parents.ToSlice() {
		l.key = o.id
	}
}

// settle records that o was serialized to h: o becomes unmodified and is
// re-keyed by its hash, and every link to it follows.
func (r *Repository) settle(o *Object, h cas.Hash) {
	o.modified = false
	key := h.String()
	if o.ws.objects[o.id] == o {
		delete(o.ws.objects, o.id)
	}
	o.id = key
	if _, ok := o.ws.objects[key]; !ok {
		o.ws.objects[key] = o
	}
	for _, l := range o.parents.ToSlice() {
		l.key = key
	}
}

func (o *Object) field(op errors.Op, name string) (int, *schema.FieldSpec, error) {
	i, f, ok := o.schema.Field(name)
	if !ok {
		return 0, nil, errors.E(op, "type %s has no field %q", o.schema.Type, name)
	}
	return i, f, nil
}

func (o *Object) scalarField(op errors.Op, name string, repeated bool) (int, *schema.FieldSpec, error) {
	i, f, err := o.field(op, name)
	if err != nil {
		return 0, nil, err
	}
	if !f.Kind.IsScalar() || f.Repeated != repeated {
		return 0, nil, errors.E(op, "field %q is a %s field", name, describe(f))
	}
	return i, f, nil
}

func describe(f *schema.FieldSpec) string {
	if f.Repeated {
		return "repeated " + f.Kind.String()
	}
	return f.Kind.String()
}

func zero(k schema.Kind) any {
	switch k {
	case schema.Int:
		return int64(0)
	case schema.Float:
		return float64(0)
	case schema.String:
		return ""
	case schema.Bytes:
		return []byte(nil)
	case schema.Bool:
		return false
	}
	return nil
}

func convert(k schema.Kind, v any) (any, bool) {
	switch k {
	case schema.Int:
		switch x := v.(type) {
		case int:
			return int64(x), true
		case int32:
			return int64(x), true
		case int64:
			return x, true
		case uint32:
			return int64(x), true
		}
	case schema.Float:
		switch x := v.(type) {
		case float32:
			return float64(x), true
		case float64:
			return x, true
		}
	case schema.String:
		if x, ok := v.(string); ok {
			return x, true
		}
	case schema.Bytes:
		if x, ok := v.([]byte); ok {
			return slices.Clone(x), true
		}
	case schema.Bool:
		if x, ok := v.(bool); ok {
			return x, true
		}
	}
	return nil, false
}

// Has reports whether the named field is set.
func (o *Object) Has(name string) bool {
	i, _, ok := o.schema.Field(name)
	if !ok || o.usable("repository.Has") != nil {
		return false
	}
	return o.fields[i] != nil
}

// Get returns a scalar field, or its zero value when unset. Repeated scalar
// fields are returned as []any.
func (o *Object) Get(name string) (any, error) {
	const op errors.Op = "repository.Get"
	if err := o.usable(op); err != nil {
		return nil, err
	}
	i, f, err := o.field(op, name)
	if err != nil {
		return nil, err
	}
	if !f.Kind.IsScalar() {
		return nil, errors.E(op, "field %q is a %s field", name, describe(f))
	}
	v := o.fields[i]
	if f.Repeated {
		list, _ := v.([]any)
		return slices.Clone(list), nil
	}
	if v == nil {
		return zero(f.Kind), nil
	}
	if b, ok := v.([]byte); ok {
		return slices.Clone(b), nil
	}
	return v, nil
}

// GetString returns a string field.
func (o *Object) GetString(name string) (string, error) {
	v, err := o.Get(name)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.E(errors.Op("repository.GetString"), "field %q is not a string", name)
	}
	return s, nil
}

// GetInt returns an int field.
func (o *Object) GetInt(name string) (int64, error) {
	v, err := o.Get(name)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int64)
	if !ok {
		return 0, errors.E(errors.Op("repository.GetInt"), "field %q is not an int", name)
	}
	return n, nil
}

// Set assigns a scalar field.
func (o *Object) Set(name string, v any) error {
	const op errors.Op = "repository.Set"
	if err := o.writable(op); err != nil {
		return err
	}
	i, f, err := o.scalarField(op, name, false)
	if err != nil {
		return err
	}
	cv, ok := convert(f.Kind, v)
	if !ok {
		return errors.E(op, "cannot assign %T to %s field %q", v, f.Kind, name)
	}
	o.fields[i] = cv
	o.touch()
	return nil
}

// Append adds a value to a repeated scalar field.
func (o *Object) Append(name string, v any) error {
	const op errors.Op = "repository.Append"
	if err := o.writable(op); err != nil {
		return err
	}
	i, f, err := o.scalarField(op, name, true)
	if err != nil {
		return err
	}
	cv, ok := convert(f.Kind, v)
	if !ok {
		return errors.E(op, "cannot append %T to %s field %q", v, describe(f), name)
	}
	list, _ := o.fields[i].([]any)
	o.fields[i] = append(list, cv)
	o.touch()
	return nil
}

// Len returns the length of a repeated field, or 1/0 for a set/unset
// singular field.
func (o *Object) Len(name string) int {
	i, _, ok := o.schema.Field(name)
	if !ok || o.usable("repository.Len") != nil {
		return 0
	}
	switch v := o.fields[i].(type) {
	case []any:
		return len(v)
	case []*Link:
		return len(v)
	case []*Object:
		return len(v)
	case nil:
		return 0
	default:
		return 1
	}
}

// Index returns element i of a repeated scalar field.
func (o *Object) Index(name string, i int) (any, error) {
	const op errors.Op = "repository.Index"
	if err := o.usable(op); err != nil {
		return nil, err
	}
	fi, _, err := o.scalarField(op, name, true)
	if err != nil {
		return nil, err
	}
	list, _ := o.fields[fi].([]any)
	if i < 0 || i >= len(list) {
		return nil, errors.E(op, "index %d out of range for field %q of length %d", i, name, len(list))
	}
	return list[i], nil
}

// Clear unsets a field of any kind. Links dropped this way no longer count
// their targets as children.
func (o *Object) Clear(name string) error {
	const op errors.Op = "repository.Clear"
	if err := o.writable(op); err != nil {
		return err
	}
	i, _, err := o.field(op, name)
	if err != nil {
		return err
	}
	if o.fields[i] == nil {
		return nil
	}
	switch v := o.fields[i].(type) {
	case *Link:
		o.repo.dropParent(v)
	case []*Link:
		for _, l := range v {
			o.repo.dropParent(l)
		}
	case *Object:
		v.eachLink(o.repo.dropParent)
	case []*Object:
		for _, n := range v {
			n.eachLink(o.repo.dropParent)
		}
	}
	o.fields[i] = nil
	o.touch()
	return nil
}

func (o *Object) compositeField(op errors.Op, name string, repeated bool) (int, *schema.FieldSpec, error) {
	i, f, err := o.field(op, name)
	if err != nil {
		return 0, nil, err
	}
	if f.Kind != schema.Composite || f.Repeated != repeated {
		return 0, nil, errors.E(op, "field %q is a %s field", name, describe(f))
	}
	return i, f, nil
}

// Nested returns the composite held in a singular composite field. An unset
// field is created when o is writable; on read-only objects nil is returned.
func (o *Object) Nested(name string) (*Object, error) {
	const op errors.Op = "repository.Nested"
	if err := o.usable(op); err != nil {
		return nil, err
	}
	i, f, err := o.compositeField(op, name, false)
	if err != nil {
		return nil, err
	}
	if n, ok := o.fields[i].(*Object); ok {
		return n, nil
	}
	if o.root.readOnly {
		return nil, nil
	}
	n := o.newNested(f.Elem)
	o.fields[i] = n
	o.touch()
	return n, nil
}

// AddNested appends a new composite to a repeated composite field.
func (o *Object) AddNested(name string) (*Object, error) {
	const op errors.Op = "repository.AddNested"
	if err := o.writable(op); err != nil {
		return nil, err
	}
	i, f, err := o.compositeField(op, name, true)
	if err != nil {
		return nil, err
	}
	n := o.newNested(f.Elem)
	list, _ := o.fields[i].([]*Object)
	o.fields[i] = append(list, n)
	o.touch()
	return n, nil
}

// NestedAt returns element i of a repeated composite field.
func (o *Object) NestedAt(name string, i int) (*Object, error) {
	const op errors.Op = "repository.NestedAt"
	if err := o.usable(op); err != nil {
		return nil, err
	}
	fi, _, err := o.compositeField(op, name, true)
	if err != nil {
		return nil, err
	}
	list, _ := o.fields[fi].([]*Object)
	if i < 0 || i >= len(list) {
		return nil, errors.E(op, "index %d out of range for field %q of length %d", i, name, len(list))
	}
	return list[i], nil
}

// Values returns a plain snapshot of o: scalars by value, composites as
// nested maps and links as the snapshot of their (locally resolved) target.
func (o *Object) Values() (map[string]any, error) {
	if err := o.usable("repository.Values"); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(o.schema.Fields))
	for i, f := range o.schema.Fields {
		var (
			v   any
			err error
		)
		switch x := o.fields[i].(type) {
		case nil:
			continue
		case *Link:
			v, err = o.linkValues(x)
		case []*Link:
			list := make([]any, len(x))
			for j, l := range x {
				if list[j], err = o.linkValues(l); err != nil {
					break
				}
			}
			v = list
		case *Object:
			v, err = x.Values()
		case []*Object:
			list := make([]any, len(x))
			for j, n := range x {
				if list[j], err = n.Values(); err != nil {
					break
				}
			}
			v = list
		case []any:
			v = slices.Clone(x)
		case []byte:
			v = slices.Clone(x)
		default:
			v = x
		}
		if err != nil {
			return nil, err
		}
		out[f.Name] = v
	}
	return out, nil
}

func (o *Object) linkValues(l *Link) (any, error) {
	target, err := o.repo.resolveLocal(o.ws, l)
	if err != nil {
		return nil, err
	}
	return target.Values()
}
