package repository

import (
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/javanhut/Ivaldi-objects/internal/cas"
	"github.com/javanhut/Ivaldi-objects/internal/element"
	"github.com/javanhut/Ivaldi-objects/internal/errors"
)

// sealer serializes object graphs bottom-up. Objects that are already
// hashed and unmodified are referenced by key and not re-serialized, so
// identical subtrees are shared automatically. Sealing never touches the
// workspace; settle does, once the elements are stored.
type sealer struct {
	out    map[cas.Hash]*element.Element
	memo   map[*Object]cas.Hash
	sealed []*Object
}

func newSealer() *sealer {
	return &sealer{
		out:  make(map[cas.Hash]*element.Element),
		memo: make(map[*Object]cas.Hash),
	}
}

func (s *sealer) seal(o *Object) (cas.Hash, error) {
	if h, ok := s.memo[o]; ok {
		return h, nil
	}
	if !o.modified {
		if h, ok := parseKey(o.id); ok {
			return h, nil
		}
	}
	if err := o.ensureParsed(); err != nil {
		return cas.Hash{}, err
	}
	value, children, err := o.encode(func(l *Link) (cas.Hash, error) {
		if h, ok := parseKey(l.key); ok {
			return h, nil
		}
		child, ok := o.ws.objects[l.key]
		if !ok {
			return cas.Hash{}, errors.E(errors.Invariant, "link to %s does not resolve in the workspace", l.key)
		}
		return s.seal(child)
	})
	if err != nil {
		return cas.Hash{}, err
	}
	el := element.New(value, o.schema.Type, o.schema.Leaf, children)
	s.out[el.Key] = el
	s.memo[o] = el.Key
	s.sealed = append(s.sealed, o)
	return el.Key, nil
}

// settle marks every sealed object unmodified and re-keys it by its hash,
// children first.
func (s *sealer) settle() {
	for _, o := range s.sealed {
		o.repo.settle(o, s.memo[o])
	}
}

type commitOptions struct {
	date time.Time
}

// CommitOption customizes a single commit.
type CommitOption func(*commitOptions)

// WithDate dates the commit t instead of now.
func WithDate(t time.Time) CommitOption {
	return func(o *commitOptions) { o.date = t }
}

// Commit hashes every modified object reachable from the workspace root into
// the element store and records a new commit reference as the single head of
// the current branch. An unmodified workspace can be committed too; the new
// commit differs by date and comment. It returns the commit id.
func (r *Repository) Commit(comment string, opts ...CommitOption) (string, error) {
	const op errors.Op = "repository.Commit"
	if r.Status() == NotInitialized {
		return "", errors.E(op, errors.State, "nothing to commit: workspace is not initialized")
	}
	if r.detached {
		return "", errors.E(op, errors.State, "cannot commit on a detached head; create a branch first")
	}
	co := commitOptions{date: r.now()}
	for _, opt := range opts {
		opt(&co)
	}

	b := r.current
	anonymous := b == nil
	if anonymous {
		b = &Branch{key: uuid.NewString()}
	}
	if b.IsDivergent() {
		return "", errors.E(op, errors.Invariant, "branch %s has %d heads at commit time", b.key, len(b.heads))
	}

	s := newSealer()
	rootKey, err := s.seal(r.root)
	if err != nil {
		return "", errors.E(op, err)
	}
	c := &CommitRef{
		date:    normalizeDate(co.date),
		comment: comment,
		root:    Link{key: rootKey.String(), typ: r.root.Type(), leaf: r.root.schema.Leaf, index: -1},
	}
	if len(b.heads) == 1 {
		c.parents = append(c.parents, ParentRef{Commit: b.heads[0], Relationship: Parent})
	} else {
		c.rootSeed = r.head.repositoryKey
	}
	for _, h := range r.mergeFrom {
		c.parents = append(c.parents, ParentRef{Commit: h, Relationship: MergedFrom})
	}
	el, err := c.seal()
	if err != nil {
		return "", errors.E(op, err)
	}
	// Objects before the commit that references them.
	for _, e := range s.out {
		if err := r.store.Put(e); err != nil {
			return "", errors.E(op, err)
		}
	}
	if err := r.store.Put(el); err != nil {
		return "", errors.E(op, err)
	}
	s.settle()
	if anonymous {
		r.head.branches = append(r.head.branches, b)
		r.current = b
		klog.Infof("no current branch; committed on new branch %s", b.key)
	}
	r.commits[c.key] = c
	r.clearMerge()
	b.heads = []cas.Hash{c.key}
	r.checkedOut = c.key
	klog.V(1).Infof("committed %s on branch %s (%d elements)", c.key.Short(), b.key, len(s.out)+1)
	return c.ID(), nil
}
