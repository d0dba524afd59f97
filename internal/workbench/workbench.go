// Package workbench hosts repositories in one process and moves elements
// between them.
//
// A Workbench owns a schema registry and an element store shared by its
// repositories, keeps a table of repositories by key and nickname, and
// implements repository.Fetcher by asking named peers for missing
// elements. Repositories are shipped between workbenches as pack bundles.
package workbench

import (
	"context"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/javanhut/Ivaldi-objects/internal/cas"
	"github.com/javanhut/Ivaldi-objects/internal/element"
	"github.com/javanhut/Ivaldi-objects/internal/errors"
	"github.com/javanhut/Ivaldi-objects/internal/keys"
	"github.com/javanhut/Ivaldi-objects/internal/pack"
	"github.com/javanhut/Ivaldi-objects/internal/repository"
	"github.com/javanhut/Ivaldi-objects/internal/schema"
)

const (
	DefaultBatchSize   = 64
	DefaultConcurrency = 4
)

// Workbench is safe for concurrent use. The repositories it returns are
// not; each must be driven by one goroutine at a time.
type Workbench struct {
	reg   *schema.Registry
	store element.Store

	batchSize      int
	concurrency    int
	maxFetchRounds int

	mu        sync.Mutex
	repos     map[string]*repository.Repository
	nicknames map[string]string
	peers     map[string]Peer
}

// Option configures a Workbench.
type Option func(*Workbench)

// WithStore sets the element store shared by the workbench's repositories.
func WithStore(s element.Store) Option {
	return func(w *Workbench) { w.store = s }
}

// WithBatchSize caps the number of links sent to a peer in one request.
func WithBatchSize(n int) Option {
	return func(w *Workbench) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithConcurrency caps the number of peer requests in flight per fetch.
func WithConcurrency(n int) Option {
	return func(w *Workbench) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithMaxFetchRounds is passed on to every repository the workbench opens.
func WithMaxFetchRounds(n int) Option {
	return func(w *Workbench) { w.maxFetchRounds = n }
}

func New(reg *schema.Registry, opts ...Option) *Workbench {
	w := &Workbench{
		reg:         reg,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		repos:       make(map[string]*repository.Repository),
		nicknames:   make(map[string]string),
		peers:       make(map[string]Peer),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.store == nil {
		w.store = element.NewMemoryStore()
	}
	return w
}

// Store returns the element store shared by the workbench's repositories.
func (w *Workbench) Store() element.Store { return w.store }

// Registry returns the type registry repositories are opened with.
func (w *Workbench) Registry() *schema.Registry { return w.reg }

func (w *Workbench) repoOptions(upstream string) []repository.Option {
	opts := []repository.Option{
		repository.WithStore(w.store),
		repository.WithMaxFetchRounds(w.maxFetchRounds),
	}
	if upstream != "" {
		opts = append(opts, repository.WithWorkbench(w, upstream))
	}
	return opts
}

// register adds r under its key and, if given, a nickname. w.mu must be
// held.
func (w *Workbench) register(r *repository.Repository, nickname string) {
	w.repos[r.RepositoryKey()] = r
	if nickname != "" {
		w.nicknames[nickname] = r.RepositoryKey()
	}
}

// InitRepository creates a repository with a "main" branch and a root of
// rootType. An empty nickname is replaced by a generated one.
func (w *Workbench) InitRepository(rootType schema.TypeDescriptor, nickname string) (*repository.Repository, error) {
	const op errors.Op = "workbench.InitRepository"
	w.mu.Lock()
	defer w.mu.Unlock()

	lookup := keys.MapLookup(w.nicknames)
	if nickname == "" {
		var err error
		if nickname, err = keys.GenerateUniquePhrase(lookup, 2, 3); err != nil {
			return nil, errors.E(op, err)
		}
	} else if lookup.Taken(nickname) {
		return nil, errors.E(op, errors.State, "repository nickname %q already exists", nickname)
	}

	r := repository.New(w.reg, w.repoOptions("")...)
	if _, err := r.Branch("main"); err != nil {
		return nil, errors.E(op, err)
	}
	if _, err := r.CreateRoot(rootType); err != nil {
		return nil, errors.E(op, err)
	}
	w.register(r, nickname)
	klog.V(1).Infof("initialized repository %s as %q", r.RepositoryKey(), nickname)
	return r, nil
}

// GetRepository looks a repository up by nickname, then by key.
func (w *Workbench) GetRepository(keyOrNick string) (*repository.Repository, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := keyOrNick
	if k, ok := w.nicknames[keyOrNick]; ok {
		key = k
	}
	r, ok := w.repos[key]
	if !ok {
		return nil, errors.E(errors.Op("workbench.GetRepository"), errors.NotFound, "no repository %q", keyOrNick)
	}
	return r, nil
}

// Nicknames returns a copy of the repository nickname table.
func (w *Workbench) Nicknames() map[string]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return maps.Clone(w.nicknames)
}

// Open opens the repository described by head from the workbench store
// and registers it under nickname, which may be empty. When upstream is
// set, objects missing from the store are fetched from that peer.
func (w *Workbench) Open(head *element.Element, nickname, upstream string) (*repository.Repository, error) {
	const op errors.Op = "workbench.Open"
	w.mu.Lock()
	defer w.mu.Unlock()
	if nickname != "" && keys.MapLookup(w.nicknames).Taken(nickname) {
		return nil, errors.E(op, errors.State, "repository nickname %q already exists", nickname)
	}
	r, err := repository.Load(head, w.reg, w.repoOptions(upstream)...)
	if err != nil {
		return nil, errors.E(op, err)
	}
	if _, ok := w.repos[r.RepositoryKey()]; ok {
		return nil, errors.E(op, errors.State, "repository %s is already open", r.RepositoryKey())
	}
	w.register(r, nickname)
	return r, nil
}

// Clone opens the repository described by head. Nothing is copied up
// front: objects are fetched from upstream as checkouts need them.
func (w *Workbench) Clone(upstream string, head *element.Element) (*repository.Repository, error) {
	w.mu.Lock()
	_, ok := w.peers[upstream]
	w.mu.Unlock()
	if !ok {
		return nil, errors.E(errors.Op("workbench.Clone"), errors.Configuration, "no peer named %q", upstream)
	}
	return w.Open(head, "", upstream)
}

// PackStructure bundles obj and everything it reaches.
func (w *Workbench) PackStructure(obj *repository.Object) ([]byte, error) {
	const op errors.Op = "workbench.PackStructure"
	key, els, err := obj.Repository().Export(obj)
	if err != nil {
		return nil, errors.E(op, err)
	}
	slices.SortFunc(els, func(a, b *element.Element) int { return slices.Compare(a.Key[:], b.Key[:]) })
	data, err := pack.Write(pack.Bundle{Root: key, Elements: els})
	if err != nil {
		return nil, errors.E(op, err)
	}
	return data, nil
}

// UnpackStructure adds the tree in a PackStructure bundle to into's
// workspace as a new modified root object.
func (w *Workbench) UnpackStructure(ctx context.Context, data []byte, into *repository.Repository) (*repository.Object, error) {
	const op errors.Op = "workbench.UnpackStructure"
	b, err := pack.Read(data)
	if err != nil {
		return nil, errors.E(op, err)
	}
	if b.Root.IsZero() {
		return nil, errors.E(op, errors.Integrity, "bundle carries no object tree")
	}
	for _, el := range b.Elements {
		if err := into.Store().Put(el); err != nil {
			return nil, errors.E(op, err)
		}
	}
	obj, err := into.Import(ctx, b.Root)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return obj, nil
}

// PackRepositoryCommits bundles r's head, every commit reachable from its
// branches and the object trees those commits reference.
func (w *Workbench) PackRepositoryCommits(ctx context.Context, r *repository.Repository) ([]byte, error) {
	const op errors.Op = "workbench.PackRepositoryCommits"
	head, els, err := r.ExportHistory(ctx)
	if err != nil {
		return nil, errors.E(op, err)
	}
	data, err := pack.Write(pack.Bundle{Head: head, Elements: els})
	if err != nil {
		return nil, errors.E(op, err)
	}
	klog.V(1).Infof("packed repository %s: %d elements, %d bytes", r.RepositoryKey(), len(els), len(data))
	return data, nil
}

// UnpackRepository stores the elements of a PackRepositoryCommits bundle.
// A repository the workbench already holds pulls the shipped branch heads;
// otherwise a new repository is opened and registered.
func (w *Workbench) UnpackRepository(data []byte) (*repository.Repository, error) {
	const op errors.Op = "workbench.UnpackRepository"
	b, err := pack.Read(data)
	if err != nil {
		return nil, errors.E(op, err)
	}
	if b.Head == nil {
		return nil, errors.E(op, errors.Integrity, "bundle carries no repository head")
	}
	for _, el := range b.Elements {
		if err := w.store.Put(el); err != nil {
			return nil, errors.E(op, err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	r, err := repository.Load(b.Head, w.reg, w.repoOptions("")...)
	if err != nil {
		return nil, errors.E(op, err)
	}
	if existing, ok := w.repos[r.RepositoryKey()]; ok {
		if err := existing.Pull(b.Head); err != nil {
			return nil, errors.E(op, err)
		}
		return existing, nil
	}
	w.register(r, "")
	return r, nil
}

// AddPeer registers p as the source named name, replacing any previous one.
func (w *Workbench) AddPeer(name string, p Peer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.peers[name] = p
}

// FetchLinkedObjects asks the peer named upstream for the targets of links.
// The links are split into batches that are requested concurrently; the
// result holds each returned element once, ordered by key.
func (w *Workbench) FetchLinkedObjects(ctx context.Context, upstream string, links []repository.Link) ([]*element.Element, error) {
	const op errors.Op = "workbench.FetchLinkedObjects"
	w.mu.Lock()
	p, ok := w.peers[upstream]
	w.mu.Unlock()
	if !ok {
		return nil, errors.E(op, errors.Configuration, "no peer named %q", upstream)
	}

	want := make([]cas.Hash, 0, len(links))
	for _, l := range links {
		h, ok := l.Hash()
		if !ok {
			return nil, errors.E(op, errors.Invariant, "link %s is not content addressed", l.Key())
		}
		want = append(want, h)
	}

	var (
		mu  sync.Mutex
		got = make(map[cas.Hash]*element.Element)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for batch := range slices.Chunk(want, w.batchSize) {
		g.Go(func() error {
			els, err := p.Serve(gctx, batch)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, el := range els {
				got[el.Key] = el
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.E(op, err)
	}

	out := slices.Collect(maps.Values(got))
	slices.SortFunc(out, func(a, b *element.Element) int { return slices.Compare(a.Key[:], b.Key[:]) })
	klog.V(2).Infof("fetched %d elements for %d links from %s", len(out), len(links), upstream)
	return out, nil
}
