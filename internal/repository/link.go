package repository

import (
	"context"
	"encoding/hex"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"k8s.io/klog/v2"

	"github.com/javanhut/Ivaldi-objects/internal/cas"
	"github.com/javanhut/Ivaldi-objects/internal/element"
	"github.com/javanhut/Ivaldi-objects/internal/errors"
	"github.com/javanhut/Ivaldi-objects/internal/schema"
)

// Link is a typed reference to a root object. The key is the target's
// content hash, or its local id while the target is uncommitted. A link
// with an empty key is unset.
type Link struct {
	key  string
	typ  schema.TypeDescriptor
	leaf bool

	// owner is the object holding the link; nil for links held by commit
	// references.
	owner *Object
	field int
	index int
}

// NewLink returns an unowned link to the element keyed by h.
func NewLink(h cas.Hash, t schema.TypeDescriptor, leaf bool) Link {
	return Link{key: h.String(), typ: t, leaf: leaf, index: -1}
}

// Key returns the target's content key, or its local id while uncommitted.
func (l Link) Key() string { return l.key }

// Type returns the declared type of the target.
func (l Link) Type() schema.TypeDescriptor { return l.typ }

// IsLeaf reports whether the target is a leaf element.
func (l Link) IsLeaf() bool { return l.leaf }

// IsSet reports whether the link points anywhere.
func (l Link) IsSet() bool { return l.key != "" }

// Hash returns the link key as a content hash; false while the key is a
// local id.
func (l Link) Hash() (cas.Hash, bool) { return parseKey(l.key) }

// parseKey accepts only 64-character hex content keys; local ids fail.
func parseKey(s string) (cas.Hash, bool) {
	var h cas.Hash
	if len(s) != 2*cas.Size {
		return h, false
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, false
	}
	return h, true
}

func (o *Object) linkField(op errors.Op, name string, repeated bool) (int, *schema.FieldSpec, error) {
	i, f, err := o.field(op, name)
	if err != nil {
		return 0, nil, err
	}
	if f.Kind != schema.Link || f.Repeated != repeated {
		return 0, nil, errors.E(op, "field %q is a %s field", name, describe(f))
	}
	return i, f, nil
}

// Link returns the link held in a singular link field, or nil when unset.
func (o *Object) Link(name string) (*Link, error) {
	const op errors.Op = "repository.Link"
	if err := o.usable(op); err != nil {
		return nil, err
	}
	i, _, err := o.linkField(op, name, false)
	if err != nil {
		return nil, err
	}
	l, _ := o.fields[i].(*Link)
	return l, nil
}

// SetLink points a singular link field at target.
//
// target must be a root object and must not already be a transitive parent
// of o. A target owned by another repository, or by another arena of this
// one, is deep-copied into o's arena first and the copy is linked; the
// original is left untouched. Nothing is mutated when an error is returned.
func (o *Object) SetLink(name string, target *Object) error {
	const op errors.Op = "repository.SetLink"
	if err := o.writable(op); err != nil {
		return err
	}
	i, f, err := o.linkField(op, name, false)
	if err != nil {
		return err
	}
	target, err = o.adopt(op, f, target)
	if err != nil {
		return err
	}
	l, _ := o.fields[i].(*Link)
	if l == nil {
		l = &Link{owner: o, field: i, index: -1}
		o.fields[i] = l
	}
	o.repo.setLink(l, target)
	return nil
}

// AppendLink appends a link to target to a repeated link field.
func (o *Object) AppendLink(name string, target *Object) error {
	const op errors.Op = "repository.AppendLink"
	if err := o.writable(op); err != nil {
		return err
	}
	i, f, err := o.linkField(op, name, true)
	if err != nil {
		return err
	}
	target, err = o.adopt(op, f, target)
	if err != nil {
		return err
	}
	list, _ := o.fields[i].([]*Link)
	l := &Link{owner: o, field: i, index: len(list)}
	o.fields[i] = append(list, l)
	o.repo.setLink(l, target)
	return nil
}

// LinkAt returns element i of a repeated link field.
func (o *Object) LinkAt(name string, i int) (*Link, error) {
	const op errors.Op = "repository.LinkAt"
	if err := o.usable(op); err != nil {
		return nil, err
	}
	fi, _, err := o.linkField(op, name, true)
	if err != nil {
		return nil, err
	}
	list, _ := o.fields[fi].([]*Link)
	if i < 0 || i >= len(list) {
		return nil, errors.E(op, "index %d out of range for field %q of length %d", i, name, len(list))
	}
	return list[i], nil
}

// Linked resolves a singular link field to its target. The target must be
// available locally; nil is returned for an unset link.
func (o *Object) Linked(name string) (*Object, error) {
	l, err := o.Link(name)
	if err != nil || l == nil {
		return nil, err
	}
	return o.repo.resolveLocal(o.ws, l)
}

// LinkedAt resolves element i of a repeated link field.
func (o *Object) LinkedAt(name string, i int) (*Object, error) {
	l, err := o.LinkAt(name, i)
	if err != nil {
		return nil, err
	}
	return o.repo.resolveLocal(o.ws, l)
}

// adopt validates target for a link held by o and returns the object that
// should actually be linked.
func (o *Object) adopt(op errors.Op, f *schema.FieldSpec, target *Object) (*Object, error) {
	if target == nil {
		return nil, errors.E(op, "cannot link to nil; use Clear")
	}
	if err := target.usable(op); err != nil {
		return nil, err
	}
	if !target.IsRoot() {
		return nil, errors.E(op, errors.State, "links may only point at root objects, not into another tree")
	}
	if !f.Target.IsZero() && !f.Target.Compatible(target.Type()) {
		return nil, errors.E(op, errors.Integrity, "field %q links %s, not %s", f.Name, f.Target, target.Type())
	}
	if target.repo != o.repo || target.ws != o.ws {
		cp, err := o.repo.copyInto(context.Background(), o.ws, target)
		if err != nil {
			return nil, errors.E(op, err)
		}
		return cp, nil
	}
	if target == o.root || o.repo.inParents(o.root, target) {
		return nil, errors.E(op, errors.State, "link would create a cycle: %s is already a parent of %s", target.id, o.root.id)
	}
	return target, nil
}

// inParents reports whether candidate is a transitive parent of o.
func (r *Repository) inParents(o, candidate *Object) bool {
	visited := mapset.NewThreadUnsafeSet[*Object]()
	queue := []*Object{o}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if !visited.Add(cur) {
			continue
		}
		for _, l := range cur.parents.ToSlice() {
			if l.owner == nil {
				continue
			}
			p := l.owner.root
			if p == candidate {
				return true
			}
			queue = append(queue, p)
		}
	}
	return false
}

// setLink points l at target, moving l between the parent sets of the old
// and new targets.
func (r *Repository) setLink(l *Link, target *Object) {
	if l.key == target.id {
		target.parents.Add(l)
		return
	}
	r.dropParent(l)
	l.key = target.id
	l.typ = target.Type()
	l.leaf = target.schema.Leaf
	target.parents.Add(l)
	l.owner.touch()
}

// dropParent removes l from the parent set of its current target, if that
// target is live.
func (r *Repository) dropParent(l *Link) {
	if l.key == "" || l.owner == nil {
		return
	}
	if old, ok := l.owner.ws.objects[l.key]; ok {
		old.parents.Remove(l)
	}
}

// Copy deep-copies obj, which may belong to any repository or arena, into
// this repository's workspace. The copy is a new, modified root object with
// its own local id; obj is not changed.
func (r *Repository) Copy(obj *Object) (*Object, error) {
	const op errors.Op = "repository.Copy"
	if r.ws.readOnly {
		return nil, errors.E(op, errors.State, "workspace is a detached head and read only")
	}
	cp, err := r.copyInto(context.Background(), r.ws, obj)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return cp, nil
}

func (r *Repository) copyInto(ctx context.Context, ws *workspace, src *Object) (*Object, error) {
	const op errors.Op = "repository.copyInto"
	if !src.IsRoot() {
		return nil, errors.E(op, errors.State, "only root objects can be copied")
	}
	key, els, err := src.repo.Export(src)
	if err != nil {
		return nil, errors.E(op, err)
	}
	for _, el := range els {
		if err := r.store.Put(el); err != nil {
			return nil, errors.E(op, err)
		}
	}
	cp, err := r.importInto(ctx, ws, key)
	if err != nil {
		return nil, errors.E(op, err)
	}
	klog.V(2).Infof("copied %s from repository %s as %s", src.id, src.repo.RepositoryKey(), cp.id)
	return cp, nil
}

// Import loads the tree stored under key, fetching missing elements from
// upstream, and adds it to the workspace as a new, modified root object.
func (r *Repository) Import(ctx context.Context, key cas.Hash) (*Object, error) {
	const op errors.Op = "repository.Import"
	if r.ws.readOnly {
		return nil, errors.E(op, errors.State, "workspace is a detached head and read only")
	}
	obj, err := r.importInto(ctx, r.ws, key)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return obj, nil
}

func (r *Repository) importInto(ctx context.Context, ws *workspace, key cas.Hash) (*Object, error) {
	has, err := r.store.Has(key)
	if err != nil {
		return nil, err
	}
	if !has {
		if err := r.fetchRemoteObjects(ctx, []Link{{key: key.String(), index: -1}}); err != nil {
			return nil, err
		}
	}
	el, err := r.store.Get(key)
	if err != nil {
		return nil, err
	}
	cp, err := r.loadElement(ws, el)
	if err != nil {
		return nil, err
	}
	if err := cp.ensureParsed(); err != nil {
		return nil, err
	}
	cp.id = r.newID()
	cp.modified = true
	ws.objects[cp.id] = cp
	if err := r.loadRemoteLinks(ctx, ws, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// Export serializes obj and everything reachable from it without committing
// or modifying anything. It returns obj's key and every element needed to
// rebuild the graph: the freshly serialized ones plus the already hashed
// descendants from the store.
func (r *Repository) Export(obj *Object) (cas.Hash, []*element.Element, error) {
	const op errors.Op = "repository.Export"
	if err := obj.usable(op); err != nil {
		return cas.Hash{}, nil, err
	}
	s := newSealer()
	key, err := s.seal(obj)
	if err != nil {
		return cas.Hash{}, nil, errors.E(op, err)
	}
	missing, err := r.closure(s.out, []cas.Hash{key}, mapset.NewThreadUnsafeSet[cas.Hash]())
	if err != nil {
		return cas.Hash{}, nil, errors.E(op, err)
	}
	if len(missing) > 0 {
		return cas.Hash{}, nil, errors.E(op, errors.NotFound, "element %s is not in the store", missing[0].Short())
	}
	els := make([]*element.Element, 0, len(s.out))
	for _, el := range s.out {
		els = append(els, el)
	}
	return key, els, nil
}

// closure adds to out every element reachable from keys that out lacks,
// reading from the store. Keys the store does not hold are returned and
// left out of seen, so a later call can resume from them.
func (r *Repository) closure(out map[cas.Hash]*element.Element, keys []cas.Hash, seen mapset.Set[cas.Hash]) ([]cas.Hash, error) {
	queue := slices.Clone(keys)
	var missing []cas.Hash
	absent := mapset.NewThreadUnsafeSet[cas.Hash]()
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if !seen.Add(h) {
			continue
		}
		el, ok := out[h]
		if !ok {
			var err error
			el, err = r.store.Get(h)
			if errors.Is(err, errors.NotFound) {
				seen.Remove(h)
				if absent.Add(h) {
					missing = append(missing, h)
				}
				continue
			}
			if err != nil {
				return nil, err
			}
			out[h] = el
		}
		queue = append(queue, el.ChildLinks...)
	}
	return missing, nil
}

// remoteClosure is closure over heads, fetching what the store lacks from
// upstream one level per round.
func (r *Repository) remoteClosure(ctx context.Context, out map[cas.Hash]*element.Element, heads []cas.Hash) error {
	const op errors.Op = "repository.remoteClosure"
	seen := mapset.NewThreadUnsafeSet[cas.Hash]()
	missing, err := r.closure(out, heads, seen)
	for round := 0; err == nil && len(missing) > 0; round++ {
		if round == r.maxFetchRounds {
			return errors.E(op, errors.NotFound, "%d elements still missing after %d fetch rounds", len(missing), round)
		}
		links := make([]Link, 0, len(missing))
		for _, h := range missing {
			links = append(links, Link{key: h.String(), index: -1})
		}
		if err := r.fetchRemoteObjects(ctx, links); err != nil {
			return errors.E(op, err)
		}
		requested := missing
		missing, err = r.closure(out, requested, seen)
		for _, h := range missing {
			if slices.Contains(requested, h) {
				return errors.E(op, errors.NotFound, "element %s not found locally or upstream", h.Short())
			}
		}
	}
	if err != nil {
		return errors.E(op, err)
	}
	return nil
}
