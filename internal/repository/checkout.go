package repository

import (
	"context"
	"slices"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"k8s.io/klog/v2"

	"github.com/javanhut/Ivaldi-objects/internal/cas"
	"github.com/javanhut/Ivaldi-objects/internal/errors"
)

// CheckoutOptions selects what Checkout loads. CommitID and OlderThan are
// mutually exclusive; with neither, the branch head is loaded.
type CheckoutOptions struct {
	// Branch is a nickname or branch key. Empty means the current branch,
	// or the branch a detached head was taken from.
	Branch string

	// CommitID is a commit id (hex or CID) reachable from the branch heads.
	CommitID string

	// OlderThan selects the latest ancestor dated at or before it.
	OlderThan time.Time
}

// Checkout replaces the workspace with the object tree of a commit and
// returns its root. Any result other than the branch's head is a detached,
// read-only head. Objects and commits missing locally are fetched.
func (r *Repository) Checkout(ctx context.Context, opts CheckoutOptions) (*Object, error) {
	const op errors.Op = "repository.Checkout"
	if r.Status() == Modified {
		return nil, errors.E(op, errors.State, "workspace has uncommitted changes; commit or reset first")
	}
	if opts.CommitID != "" && !opts.OlderThan.IsZero() {
		return nil, errors.E(op, errors.State, "cannot check out by both commit id and date")
	}
	b, err := r.checkoutBranch(op, opts.Branch)
	if err != nil {
		return nil, err
	}

	var target *CommitRef
	switch {
	case opts.CommitID != "":
		id, perr := cas.ParseHash(opts.CommitID)
		if perr != nil {
			return nil, errors.E(op, errors.NotFound, perr)
		}
		target, err = r.findAncestor(ctx, b.heads, id)
	case !opts.OlderThan.IsZero():
		target, err = r.findOlderThan(ctx, b.heads, opts.OlderThan)
	default:
		target, err = r.branchHead(ctx, b)
	}
	if err != nil {
		return nil, errors.E(op, err)
	}

	attached := len(b.heads) == 1 && b.heads[0] == target.key
	root, err := r.hydrate(ctx, target, !attached)
	if err != nil {
		return nil, errors.E(op, err)
	}
	if attached {
		r.current = b
		r.detached = false
		r.detachedFrom = ""
	} else {
		r.current = &Branch{key: DetachedHead, heads: []cas.Hash{target.key}}
		r.detached = true
		r.detachedFrom = b.key
		klog.V(1).Infof("detached head at %s (from branch %s)", target.key.Short(), b.key)
	}
	r.checkedOut = target.key
	return root, nil
}

// checkoutBranch resolves the branch named by a checkout or merge.
func (r *Repository) checkoutBranch(op errors.Op, name string) (*Branch, error) {
	key := r.currentBranchKey()
	if name != "" {
		key = r.resolveBranchKey(name)
	}
	if key == "" {
		return nil, errors.E(op, errors.State, "no branch given and no current branch")
	}
	b := r.head.find(key)
	if b == nil {
		return nil, errors.E(op, errors.NotFound, "branch %q does not exist", name)
	}
	if b.IsEmpty() {
		return nil, errors.E(op, errors.State, "branch %s has no commits", b.key)
	}
	return b, nil
}

// Reset discards uncommitted changes by reloading the current branch's head.
// It does nothing unless the workspace is modified.
func (r *Repository) Reset(ctx context.Context) (*Object, error) {
	const op errors.Op = "repository.Reset"
	if r.Status() != Modified {
		return r.root, nil
	}
	b := r.current
	if b == nil {
		return nil, errors.E(op, errors.State, "no current branch to reset to")
	}
	if b.IsEmpty() {
		return nil, errors.E(op, errors.State, "branch %s has no commits to reset to", b.key)
	}
	target, err := r.branchHead(ctx, b)
	if err != nil {
		return nil, errors.E(op, err)
	}
	root, err := r.hydrate(ctx, target, false)
	if err != nil {
		return nil, errors.E(op, err)
	}
	r.checkedOut = target.key
	return root, nil
}

// branchHead returns the single head of b, merging divergent heads by date
// first.
func (r *Repository) branchHead(ctx context.Context, b *Branch) (*CommitRef, error) {
	if b.IsDivergent() {
		return r.mergeByDate(ctx, b)
	}
	return r.getCommit(ctx, b.heads[0])
}

// hydrate discards the workspace and loads c's object tree into a new one.
func (r *Repository) hydrate(ctx context.Context, c *CommitRef, readOnly bool) (*Object, error) {
	r.discardWorkspace()
	r.clearMerge()
	l := c.root
	root, err := r.getRemoteLinkedObject(ctx, r.ws, &l)
	if err != nil {
		return nil, err
	}
	if err := r.loadRemoteLinks(ctx, r.ws, root); err != nil {
		return nil, err
	}
	r.ws.setReadOnly(readOnly)
	r.root = root
	klog.V(2).Infof("loaded %d objects for commit %s", len(r.ws.objects), c.key.Short())
	return root, nil
}

// findAncestor searches breadth first from heads through every parent ref
// for the commit id.
func (r *Repository) findAncestor(ctx context.Context, heads []cas.Hash, id cas.Hash) (*CommitRef, error) {
	const op errors.Op = "repository.findAncestor"
	var found *CommitRef
	err := r.walk(ctx, heads, func(c *CommitRef) walkAction {
		if c.key == id {
			found = c
			return walkStop
		}
		return walkParents
	})
	if err != nil {
		return nil, errors.E(op, err)
	}
	if found == nil {
		return nil, errors.E(op, errors.NotFound, "commit %s is not an ancestor of the branch", id.Short())
	}
	return found, nil
}

// findOlderThan returns the latest commit dated at or before cutoff. Ties go
// to the commit visited first. Parents of a qualifying commit are older
// still, so they are not explored.
func (r *Repository) findOlderThan(ctx context.Context, heads []cas.Hash, cutoff time.Time) (*CommitRef, error) {
	const op errors.Op = "repository.findOlderThan"
	var best *CommitRef
	err := r.walk(ctx, heads, func(c *CommitRef) walkAction {
		if c.date.After(cutoff) {
			return walkParents
		}
		if best == nil || c.date.After(best.date) {
			best = c
		}
		return walkSkip
	})
	if err != nil {
		return nil, errors.E(op, err)
	}
	if best == nil {
		return nil, errors.E(op, errors.NotFound, "no commit at or before %s", cutoff.Format(time.RFC3339))
	}
	return best, nil
}

type walkAction int

const (
	walkParents walkAction = iota
	walkSkip
	walkStop
)

// walk visits commits breadth first from heads, each once. visit decides
// whether the parents of a commit are queued or the walk ends.
func (r *Repository) walk(ctx context.Context, heads []cas.Hash, visit func(*CommitRef) walkAction) error {
	visited := mapset.NewThreadUnsafeSet[cas.Hash]()
	queue := slices.Clone(heads)
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if !visited.Add(h) {
			continue
		}
		c, err := r.getCommit(ctx, h)
		if err != nil {
			return err
		}
		switch visit(c) {
		case walkStop:
			return nil
		case walkSkip:
			continue
		}
		for _, p := range c.parents {
			queue = append(queue, p.Commit)
		}
	}
	return nil
}
