package repository

import (
	"context"
	"fmt"
	"maps"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/philopon/go-toposort"
	"github.com/xlab/treeprint"

	"github.com/javanhut/Ivaldi-objects/internal/cas"
	"github.com/javanhut/Ivaldi-objects/internal/element"
	"github.com/javanhut/Ivaldi-objects/internal/errors"
)

// startCommits resolves the commits a history query starts from: the given
// id, or the heads of the current branch.
func (r *Repository) startCommits(op errors.Op, commitID string) ([]cas.Hash, error) {
	if commitID != "" {
		h, err := cas.ParseHash(commitID)
		if err != nil {
			return nil, errors.E(op, errors.NotFound, err)
		}
		return []cas.Hash{h}, nil
	}
	if r.current == nil || r.current.IsEmpty() {
		return nil, errors.E(op, errors.State, "no commits on the current branch")
	}
	return slices.Clone(r.current.heads), nil
}

// ancestry loads every commit reachable from start.
func (r *Repository) ancestry(ctx context.Context, start []cas.Hash) (map[cas.Hash]*CommitRef, []cas.Hash, error) {
	found := make(map[cas.Hash]*CommitRef)
	var order []cas.Hash
	err := r.walk(ctx, start, func(c *CommitRef) walkAction {
		found[c.key] = c
		order = append(order, c.key)
		return walkParents
	})
	return found, order, err
}

// Log returns up to limit commits reachable from commitID (or the current
// branch heads), children before their parents. A limit <= 0 returns all.
func (r *Repository) Log(ctx context.Context, commitID string, limit int) ([]*CommitRef, error) {
	const op errors.Op = "repository.Log"
	start, err := r.startCommits(op, commitID)
	if err != nil {
		return nil, err
	}
	found, order, err := r.ancestry(ctx, start)
	if err != nil {
		return nil, errors.E(op, err)
	}

	graph := toposort.NewGraph(len(order))
	for _, h := range order {
		graph.AddNode(h.String())
	}
	for _, h := range order {
		for _, p := range found[h].parents {
			graph.AddEdge(h.String(), p.Commit.String())
		}
	}
	sorted, ok := graph.Toposort()
	if !ok {
		return nil, errors.E(op, errors.Invariant, "commit history contains a cycle")
	}

	out := make([]*CommitRef, 0, len(sorted))
	for _, id := range sorted {
		if limit > 0 && len(out) == limit {
			break
		}
		h, _ := parseKey(id)
		out = append(out, found[h])
	}
	return out, nil
}

// AncestryTree renders the ancestors of commitID (or of the current branch
// heads) as a tree. A commit reachable along several paths is expanded once.
func (r *Repository) AncestryTree(ctx context.Context, commitID string) (string, error) {
	const op errors.Op = "repository.AncestryTree"
	start, err := r.startCommits(op, commitID)
	if err != nil {
		return "", err
	}
	found, _, err := r.ancestry(ctx, start)
	if err != nil {
		return "", errors.E(op, err)
	}

	tree := treeprint.New()
	tree.SetValue(r.head.repositoryKey)
	expanded := mapset.NewThreadUnsafeSet[cas.Hash]()
	var add func(t treeprint.Tree, h cas.Hash, rel Relationship)
	add = func(t treeprint.Tree, h cas.Hash, rel Relationship) {
		c := found[h]
		label := fmt.Sprintf("%s %s %q", h.Short(), c.date.Format("2006-01-02 15:04:05"), c.comment)
		if rel == MergedFrom {
			label += " (merged)"
		}
		if !expanded.Add(h) {
			t.AddNode(label + " ...")
			return
		}
		if len(c.parents) == 0 {
			t.AddNode(label)
			return
		}
		branch := t.AddBranch(label)
		for _, p := range c.parents {
			add(branch, p.Commit, p.Relationship)
		}
	}
	for _, h := range start {
		add(tree, h, Parent)
	}
	return tree.String(), nil
}

// ExportHistory returns every element needed to rebuild the repository
// elsewhere: the head, each branch's commits and the object trees they
// reference.
func (r *Repository) ExportHistory(ctx context.Context) (*element.Element, []*element.Element, error) {
	const op errors.Op = "repository.ExportHistory"
	var heads []cas.Hash
	for _, b := range r.head.branches {
		heads = append(heads, b.heads...)
	}
	_, order, err := r.ancestry(ctx, heads)
	if err != nil {
		return nil, nil, errors.E(op, err)
	}
	out := make(map[cas.Hash]*element.Element)
	if err := r.remoteClosure(ctx, out, heads); err != nil {
		return nil, nil, errors.E(op, err)
	}
	els := make([]*element.Element, 0, len(out))
	for _, h := range order {
		els = append(els, out[h])
		delete(out, h)
	}
	rest := slices.Collect(maps.Values(out))
	slices.SortFunc(rest, func(a, b *element.Element) int { return slices.Compare(a.Key[:], b.Key[:]) })
	return r.head.element(), append(els, rest...), nil
}
