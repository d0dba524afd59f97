package repository

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"
	"k8s.io/klog/v2"

	"github.com/javanhut/Ivaldi-objects/internal/cas"
	"github.com/javanhut/Ivaldi-objects/internal/element"
	"github.com/javanhut/Ivaldi-objects/internal/errors"
)

// Fetcher supplies elements that are missing locally. Implementations
// return the requested elements (and may return more, such as their
// descendants); the repository adds them to its own store.
type Fetcher interface {
	FetchLinkedObjects(ctx context.Context, upstream string, links []Link) ([]*element.Element, error)
}

// errNotLocal signals a local resolution miss. It never leaves the package:
// the remote path turns it into a fetch, everything else into NotFound.
var errNotLocal = errors.New("object not available locally")

// loadElement verifies el and builds a detached object from it. Leaf
// payloads stay unparsed until first access.
func (r *Repository) loadElement(ws *workspace, el *element.Element) (*Object, error) {
	const op errors.Op = "repository.loadElement"
	if err := el.Verify(); err != nil {
		return nil, errors.E(op, err)
	}
	s, err := r.reg.Lookup(el.Type)
	if err != nil {
		return nil, errors.E(op, err)
	}
	o := r.newObject(ws, s, el.Key.String())
	if el.IsLeaf {
		o.raw = el.Value
		if o.raw == nil {
			o.raw = []byte{}
		}
		return o, nil
	}
	if err := o.decode(el.Value); err != nil {
		return nil, errors.E(op, err)
	}
	return o, nil
}

// getLinkedObject resolves l within ws: a live object first, then the
// element store. The caller's link is registered as a parent of the result.
// A miss returns errNotLocal.
func (r *Repository) getLinkedObject(ws *workspace, l *Link) (*Object, error) {
	const op errors.Op = "repository.getLinkedObject"
	if !l.IsSet() {
		return nil, nil
	}
	if obj, ok := ws.objects[l.key]; ok {
		if l.owner != nil {
			obj.parents.Add(l)
		}
		return obj, nil
	}
	h, ok := parseKey(l.key)
	if !ok {
		return nil, errors.E(op, errors.Invariant, "local id %s is not in the workspace", l.key)
	}
	el, err := r.store.Get(h)
	if errors.Is(err, errors.NotFound) {
		return nil, errNotLocal
	}
	if err != nil {
		return nil, errors.E(op, err)
	}
	if !l.typ.IsZero() && !l.typ.Compatible(el.Type) {
		return nil, errors.E(op, errors.Integrity, "link to %s expects %s but the element is a %s", h.Short(), l.typ, el.Type)
	}
	obj, err := r.loadElement(ws, el)
	if err != nil {
		return nil, errors.E(op, err)
	}
	ws.objects[obj.id] = obj
	if l.owner != nil {
		obj.parents.Add(l)
	}
	return obj, nil
}

// resolveLocal is getLinkedObject for callers outside the fetch path.
func (r *Repository) resolveLocal(ws *workspace, l *Link) (*Object, error) {
	obj, err := r.getLinkedObject(ws, l)
	if err == errNotLocal {
		return nil, errors.E(errors.Op("repository.resolve"), errors.NotFound, "object %s is not available locally", l.key)
	}
	return obj, err
}

// getRemoteLinkedObject resolves l, fetching it from upstream once on a
// local miss.
func (r *Repository) getRemoteLinkedObject(ctx context.Context, ws *workspace, l *Link) (*Object, error) {
	const op errors.Op = "repository.getRemoteLinkedObject"
	obj, err := r.getLinkedObject(ws, l)
	if err != errNotLocal {
		return obj, err
	}
	if err := r.fetchRemoteObjects(ctx, []Link{*l}); err != nil {
		return nil, errors.E(op, err)
	}
	obj, err = r.getLinkedObject(ws, l)
	if err == errNotLocal {
		return nil, errors.E(op, errors.NotFound, "object %s not found locally or upstream", l.key)
	}
	return obj, err
}

// loadRemoteLinks loads every non-leaf descendant of obj into ws. Each round
// walks the graph once, collects every link missing locally into one batch
// and fetches it; the walk is repeated until nothing is missing or the round
// limit is reached. Missing leaf elements are fetched but not parsed.
func (r *Repository) loadRemoteLinks(ctx context.Context, ws *workspace, obj *Object) error {
	const op errors.Op = "repository.loadRemoteLinks"
	for round := 0; ; round++ {
		if err := ctx.Err(); err != nil {
			return errors.E(op, err)
		}
		var missing []Link
		seen := mapset.NewThreadUnsafeSet[string]()
		visited := mapset.NewThreadUnsafeSet[*Object]()
		if err := r.collectMissing(ws, obj, visited, seen, &missing); err != nil {
			return errors.E(op, err)
		}
		if len(missing) == 0 {
			return nil
		}
		if round == r.maxFetchRounds {
			return errors.E(op, errors.NotFound, "%d objects still missing after %d fetch rounds", len(missing), round)
		}
		klog.V(2).Infof("fetch round %d: %d objects missing", round+1, len(missing))
		if err := r.fetchRemoteObjects(ctx, missing); err != nil {
			return errors.E(op, err)
		}
	}
}

func (r *Repository) collectMissing(ws *workspace, obj *Object, visited mapset.Set[*Object], seen mapset.Set[string], missing *[]Link) error {
	if !visited.Add(obj) {
		return nil
	}
	if err := obj.ensureParsed(); err != nil {
		return err
	}
	var links []*Link
	obj.eachLink(func(l *Link) { links = append(links, l) })
	for _, l := range links {
		if l.leaf {
			if _, live := ws.objects[l.key]; live {
				continue
			}
			h, ok := parseKey(l.key)
			if !ok {
				return errors.E(errors.Invariant, "leaf link %s is neither live nor hashed", l.key)
			}
			has, err := r.store.Has(h)
			if err != nil {
				return err
			}
			if !has && seen.Add(l.key) {
				*missing = append(*missing, *l)
			}
			continue
		}
		child, err := r.getLinkedObject(ws, l)
		if err == errNotLocal {
			if seen.Add(l.key) {
				*missing = append(*missing, *l)
			}
			continue
		}
		if err != nil {
			return err
		}
		if err := r.collectMissing(ws, child, visited, seen, missing); err != nil {
			return err
		}
	}
	return nil
}

// fetchRemoteObjects asks the workbench for links and stores what it returns.
func (r *Repository) fetchRemoteObjects(ctx context.Context, links []Link) error {
	const op errors.Op = "repository.fetchRemoteObjects"
	if r.fetcher == nil {
		return errors.E(op, errors.Configuration, "no workbench attached; cannot fetch %d objects", len(links))
	}
	if r.upstream == "" {
		return errors.E(op, errors.Configuration, "no upstream source configured; cannot fetch %d objects", len(links))
	}
	els, err := r.fetcher.FetchLinkedObjects(ctx, r.upstream, links)
	if err != nil {
		return errors.E(op, err)
	}
	for _, el := range els {
		if err := r.store.Put(el); err != nil {
			return errors.E(op, err)
		}
	}
	klog.V(2).Infof("fetched %d elements for %d links from %s", len(els), len(links), r.upstream)
	return nil
}

// loadCommit resolves a commit from the index or the store; errNotLocal on
// a miss.
func (r *Repository) loadCommit(h cas.Hash) (*CommitRef, error) {
	if c, ok := r.commits[h]; ok {
		return c, nil
	}
	el, err := r.store.Get(h)
	if errors.Is(err, errors.NotFound) {
		return nil, errNotLocal
	}
	if err != nil {
		return nil, err
	}
	c, err := decodeCommitRef(el)
	if err != nil {
		return nil, err
	}
	r.commits[h] = c
	return c, nil
}

// getCommit is loadCommit with one remote fetch on a local miss.
func (r *Repository) getCommit(ctx context.Context, h cas.Hash) (*CommitRef, error) {
	const op errors.Op = "repository.getCommit"
	c, err := r.loadCommit(h)
	if err != errNotLocal {
		if err != nil {
			return nil, errors.E(op, err)
		}
		return c, nil
	}
	if err := r.fetchRemoteObjects(ctx, []Link{NewLink(h, CommitRefType, false)}); err != nil {
		return nil, errors.E(op, err)
	}
	c, err = r.loadCommit(h)
	if err == errNotLocal {
		return nil, errors.E(op, errors.NotFound, "commit %s not found locally or upstream", h.Short())
	}
	if err != nil {
		return nil, errors.E(op, err)
	}
	return c, nil
}
