package repository

import (
	"context"
	"maps"

	"k8s.io/klog/v2"

	"github.com/javanhut/Ivaldi-objects/internal/cas"
	"github.com/javanhut/Ivaldi-objects/internal/errors"
)

// Stash saves the workspace tree into the element store under name without
// committing it. The workspace itself is not changed.
func (r *Repository) Stash(name string) (cas.Hash, error) {
	const op errors.Op = "repository.Stash"
	if r.root == nil {
		return cas.Hash{}, errors.E(op, errors.State, "nothing to stash: workspace is not initialized")
	}
	if name == "" {
		return cas.Hash{}, errors.E(op, "empty stash name")
	}
	key, els, err := r.Export(r.root)
	if err != nil {
		return cas.Hash{}, errors.E(op, err)
	}
	for _, el := range els {
		if err := r.store.Put(el); err != nil {
			return cas.Hash{}, errors.E(op, err)
		}
	}
	r.stashes[name] = key
	klog.V(1).Infof("stashed workspace as %q (%s)", name, key.Short())
	return key, nil
}

// Unstash replaces an unmodified workspace with a stashed tree and removes
// the stash. The restored root is modified, ready to be committed on the
// current branch.
func (r *Repository) Unstash(ctx context.Context, name string) (*Object, error) {
	const op errors.Op = "repository.Unstash"
	key, ok := r.stashes[name]
	if !ok {
		return nil, errors.E(op, errors.NotFound, "no stash named %q", name)
	}
	if r.Status() == Modified {
		return nil, errors.E(op, errors.State, "workspace has uncommitted changes; commit or reset first")
	}
	if r.detached {
		return nil, errors.E(op, errors.State, "cannot unstash onto a detached head")
	}
	r.discardWorkspace()
	l := Link{key: key.String(), index: -1}
	root, err := r.getRemoteLinkedObject(ctx, r.ws, &l)
	if err != nil {
		return nil, errors.E(op, err)
	}
	if err := r.loadRemoteLinks(ctx, r.ws, root); err != nil {
		return nil, errors.E(op, err)
	}
	root.touch()
	r.root = root
	delete(r.stashes, name)
	return root, nil
}

// Stashes returns the stash table.
func (r *Repository) Stashes() map[string]cas.Hash { return maps.Clone(r.stashes) }

// RestoreStash records a stash saved by an earlier instance on the same
// store.
func (r *Repository) RestoreStash(name string, key cas.Hash) { r.stashes[name] = key }
