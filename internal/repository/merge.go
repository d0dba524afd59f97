package repository

import (
	"context"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"k8s.io/klog/v2"

	"github.com/javanhut/Ivaldi-objects/internal/cas"
	"github.com/javanhut/Ivaldi-objects/internal/element"
	"github.com/javanhut/Ivaldi-objects/internal/errors"
)

// mergeByDate collapses the heads of a divergent branch into one synthetic
// commit. The newest head (first one on ties) is its parent and supplies its
// object tree; the others become merged-from parents. Content is not
// combined.
func (r *Repository) mergeByDate(ctx context.Context, b *Branch) (*CommitRef, error) {
	const op errors.Op = "repository.mergeByDate"
	heads := make([]*CommitRef, 0, len(b.heads))
	for _, h := range b.heads {
		c, err := r.getCommit(ctx, h)
		if err != nil {
			return nil, errors.E(op, err)
		}
		heads = append(heads, c)
	}
	primary := heads[0]
	for _, c := range heads[1:] {
		if c.date.After(primary.date) {
			primary = c
		}
	}
	m := &CommitRef{
		date:    normalizeDate(r.now()),
		comment: "merge by date",
		root:    primary.root,
		parents: []ParentRef{{Commit: primary.key, Relationship: Parent}},
	}
	for _, c := range heads {
		if c != primary {
			m.parents = append(m.parents, ParentRef{Commit: c.key, Relationship: MergedFrom})
		}
	}
	el, err := m.seal()
	if err != nil {
		return nil, errors.E(op, err)
	}
	if err := r.store.Put(el); err != nil {
		return nil, errors.E(op, err)
	}
	r.commits[m.key] = m
	b.heads = []cas.Hash{m.key}
	klog.V(1).Infof("merged %d heads of branch %s by date into %s", len(heads), b.key, m.key.Short())
	return m, nil
}

// MergeOptions selects what Merge stages. With a CommitID only that ancestor
// of the branch is staged; otherwise every head of the branch is.
type MergeOptions struct {
	Branch   string
	CommitID string
}

// Merge stages commits as merged-from parents of the next commit and loads
// their object trees read-only, for the caller to reconcile by hand through
// MergedRoots. Neither the workspace nor the history is changed.
//
// Merging the current branch into itself requires divergent heads: the
// heads other than the one the workspace came from (or the newest) are
// staged, and the branch is collapsed to that one.
func (r *Repository) Merge(ctx context.Context, opts MergeOptions) error {
	const op errors.Op = "repository.Merge"
	if r.Status() == NotInitialized {
		return errors.E(op, errors.State, "cannot merge into an uninitialized workspace")
	}
	if r.Status() == Modified {
		klog.Warningf("merging into a workspace with uncommitted changes")
	}
	b, err := r.checkoutBranch(op, opts.Branch)
	if err != nil {
		return err
	}

	var (
		staged   []cas.Hash
		collapse []cas.Hash
	)
	switch {
	case opts.CommitID != "":
		id, perr := cas.ParseHash(opts.CommitID)
		if perr != nil {
			return errors.E(op, errors.NotFound, perr)
		}
		c, err := r.findAncestor(ctx, b.heads, id)
		if err != nil {
			return errors.E(op, err)
		}
		staged = []cas.Hash{c.key}
	case b.key == r.currentBranchKey():
		if !b.IsDivergent() {
			return errors.E(op, errors.State, "nothing to merge: branch %s has a single head", b.key)
		}
		primary, err := r.primaryHead(ctx, b)
		if err != nil {
			return errors.E(op, err)
		}
		for _, h := range b.heads {
			if h != primary {
				staged = append(staged, h)
			}
		}
		collapse = []cas.Hash{primary}
	default:
		staged = slices.Clone(b.heads)
	}

	if r.mergeWS == nil {
		r.mergeWS = newWorkspace(true)
	}
	for _, h := range staged {
		if slices.Contains(r.mergeFrom, h) {
			continue
		}
		c, err := r.getCommit(ctx, h)
		if err != nil {
			return errors.E(op, err)
		}
		l := c.root
		root, err := r.getRemoteLinkedObject(ctx, r.mergeWS, &l)
		if err != nil {
			return errors.E(op, err)
		}
		if err := r.loadRemoteLinks(ctx, r.mergeWS, root); err != nil {
			return errors.E(op, err)
		}
		r.mergeFrom = append(r.mergeFrom, h)
		r.mergeRoots = append(r.mergeRoots, root)
		klog.V(1).Infof("staged %s for merge", h.Short())
	}
	if collapse != nil {
		b.heads = collapse
	}
	return nil
}

// primaryHead picks the head a self-merge keeps: the checked-out commit when
// it is a head, else the newest.
func (r *Repository) primaryHead(ctx context.Context, b *Branch) (cas.Hash, error) {
	if b.hasHead(r.checkedOut) {
		return r.checkedOut, nil
	}
	var best *CommitRef
	for _, h := range b.heads {
		c, err := r.getCommit(ctx, h)
		if err != nil {
			return cas.Hash{}, err
		}
		if best == nil || c.date.After(best.date) {
			best = c
		}
	}
	return best.key, nil
}

// MergedRoots returns the read-only object trees staged by Merge.
func (r *Repository) MergedRoots() []*Object { return slices.Clone(r.mergeRoots) }

// MergeFrom returns the commits staged as merged-from parents.
func (r *Repository) MergeFrom() []cas.Hash { return slices.Clone(r.mergeFrom) }

// Pull adds the branch heads recorded in another instance's head element to
// this head. Heads known locally to be ancestors of other heads are dropped;
// concurrent commits remain as divergent heads until the next checkout.
func (r *Repository) Pull(headElement *element.Element) error {
	const op errors.Op = "repository.Pull"
	other, err := decodeHeadElement(headElement)
	if err != nil {
		return errors.E(op, err)
	}
	if other.repositoryKey != r.head.repositoryKey {
		return errors.E(op, errors.State, "cannot pull repository %s into %s", other.repositoryKey, r.head.repositoryKey)
	}
	for _, ob := range other.branches {
		b := r.head.find(ob.key)
		if b == nil {
			r.head.branches = append(r.head.branches, &Branch{key: ob.key, heads: slices.Clone(ob.heads)})
			continue
		}
		for _, h := range ob.heads {
			if !b.hasHead(h) {
				b.heads = append(b.heads, h)
			}
		}
		b.heads = r.pruneAncestors(b.heads)
		if b.IsDivergent() {
			klog.V(1).Infof("branch %s now has %d heads", b.key, len(b.heads))
		}
	}
	return nil
}

func (r *Repository) pruneAncestors(heads []cas.Hash) []cas.Hash {
	var out []cas.Hash
	for i, h := range heads {
		redundant := false
		for j, g := range heads {
			if i != j && r.isAncestorLocal(h, g) {
				redundant = true
				break
			}
		}
		if !redundant {
			out = append(out, h)
		}
	}
	return out
}

// isAncestorLocal reports whether a is a strict ancestor of d, looking only
// at commits available locally.
func (r *Repository) isAncestorLocal(a, d cas.Hash) bool {
	if a == d {
		return false
	}
	c, err := r.loadCommit(d)
	if err != nil {
		return false
	}
	queue := c.Parents()
	seen := mapset.NewThreadUnsafeSet[cas.Hash]()
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if p.Commit == a {
			return true
		}
		if !seen.Add(p.Commit) {
			continue
		}
		pc, err := r.loadCommit(p.Commit)
		if err != nil {
			continue
		}
		queue = append(queue, pc.parents...)
	}
	return false
}
