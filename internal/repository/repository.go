// Package repository implements a content-addressed version-control engine
// for structured objects.
//
// A Repository owns a mutable workspace of object trees, an immutable store
// of hashed elements, and a history of commit references arranged as a DAG.
// Branches point at commit references; Commit hashes the reachable workspace
// into the store, Checkout and Reset rehydrate a workspace from history, and
// Merge stages other commits as merged-from parents of the next commit.
// Objects missing locally are fetched through a Fetcher.
//
// A Repository is not safe for concurrent use. Callers must serialize calls
// on one instance.
package repository

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/javanhut/Ivaldi-objects/internal/cas"
	"github.com/javanhut/Ivaldi-objects/internal/element"
	"github.com/javanhut/Ivaldi-objects/internal/errors"
	"github.com/javanhut/Ivaldi-objects/internal/schema"
)

// Status of the workspace.
type Status int

const (
	NotInitialized Status = iota
	UpToDate
	Modified
)

func (s Status) String() string {
	switch s {
	case UpToDate:
		return "up to date"
	case Modified:
		return "modified"
	}
	return "not initialized"
}

// DefaultMaxFetchRounds bounds the fetch-and-retry loop of remote link loading.
const DefaultMaxFetchRounds = 4

// workspace is one arena of live objects keyed by local id or content hash.
type workspace struct {
	objects  map[string]*Object
	readOnly bool
}

func newWorkspace(readOnly bool) *workspace {
	return &workspace{objects: make(map[string]*Object), readOnly: readOnly}
}

// invalidate marks every object of the arena unusable.
func (ws *workspace) invalidate() {
	for _, o := range ws.objects {
		o.invalid = true
	}
}

func (ws *workspace) setReadOnly(ro bool) {
	ws.readOnly = ro
	for _, o := range ws.objects {
		o.readOnly = ro
	}
}

// Repository is a versioned store of structured objects.
type Repository struct {
	reg            *schema.Registry
	store          element.Store
	fetcher        Fetcher
	upstream       string
	maxFetchRounds int
	now            func() time.Time

	counter int
	head    *Head

	ws   *workspace
	root *Object

	commits map[cas.Hash]*CommitRef

	current      *Branch
	detached     bool
	detachedFrom string
	checkedOut   cas.Hash

	nicknames map[string]string
	stashes   map[string]cas.Hash

	mergeFrom  []cas.Hash
	mergeWS    *workspace
	mergeRoots []*Object
}

// Option configures a Repository.
type Option func(*Repository)

// WithStore injects the element store. Repositories sharing a store share
// hashed content; nothing else is shared.
func WithStore(s element.Store) Option {
	return func(r *Repository) { r.store = s }
}

// WithWorkbench attaches the collaborator used to fetch objects missing
// locally, and the upstream source it should fetch from.
func WithWorkbench(f Fetcher, upstream string) Option {
	return func(r *Repository) {
		r.fetcher = f
		r.upstream = upstream
	}
}

// WithClock overrides the clock used to date commits.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithMaxFetchRounds bounds remote link loading to n fetch rounds.
func WithMaxFetchRounds(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.maxFetchRounds = n
		}
	}
}

func newRepository(reg *schema.Registry, opts []Option) *Repository {
	r := &Repository{
		reg:            reg,
		maxFetchRounds: DefaultMaxFetchRounds,
		now:            time.Now,
		counter:        1,
		ws:             newWorkspace(false),
		commits:        make(map[cas.Hash]*CommitRef),
		nicknames:      make(map[string]string),
		stashes:        make(map[string]cas.Hash),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.store == nil {
		r.store = element.NewMemoryStore()
	}
	return r
}

// New creates an empty repository with a fresh repository key.
func New(reg *schema.Registry, opts ...Option) *Repository {
	r := newRepository(reg, opts)
	r.head = &Head{repositoryKey: uuid.NewString()}
	klog.V(1).Infof("created repository %s", r.head.repositoryKey)
	return r
}

// Load opens a repository from a serialized head. Branches are hydrated but
// no workspace exists until Checkout.
func Load(headElement *element.Element, reg *schema.Registry, opts ...Option) (*Repository, error) {
	const op errors.Op = "repository.Load"
	h, err := decodeHeadElement(headElement)
	if err != nil {
		return nil, errors.E(op, err)
	}
	r := newRepository(reg, opts)
	r.head = h
	klog.V(1).Infof("loaded repository %s with %d branches", h.repositoryKey, len(h.branches))
	return r, nil
}

// RepositoryKey returns the repository's GUID.
func (r *Repository) RepositoryKey() string { return r.head.repositoryKey }

// Head returns the mutable head.
func (r *Repository) Head() *Head { return r.head }

// Store returns the element store.
func (r *Repository) Store() element.Store { return r.store }

// Status reports the state of the workspace.
func (r *Repository) Status() Status {
	if r.root == nil {
		return NotInitialized
	}
	if r.root.modified {
		return Modified
	}
	return UpToDate
}

// Root returns the workspace root, or nil.
func (r *Repository) Root() *Object { return r.root }

// IsDetached reports whether the workspace is a detached, read-only
// checkout of a historical commit.
func (r *Repository) IsDetached() bool { return r.detached }

// DetachedFrom returns the key of the branch a detached head was checked
// out from, or "".
func (r *Repository) DetachedFrom() string { return r.detachedFrom }

// CheckedOut returns the commit the workspace was last checked out from or
// committed as; zero if none.
func (r *Repository) CheckedOut() cas.Hash { return r.checkedOut }

// HeadElement serializes the mutable head for persistence or transport.
func (r *Repository) HeadElement() *element.Element {
	return r.head.element()
}

// newID returns the next local workspace id.
func (r *Repository) newID() string {
	r.counter++
	return strconv.Itoa(r.counter)
}

// CreateObject creates a root object of type t in the workspace.
func (r *Repository) CreateObject(t schema.TypeDescriptor) (*Object, error) {
	const op errors.Op = "repository.CreateObject"
	if r.ws.readOnly {
		return nil, errors.E(op, errors.State, "workspace is a detached head and read only")
	}
	s, err := r.reg.Lookup(t)
	if err != nil {
		return nil, errors.E(op, err)
	}
	o := r.newObject(r.ws, s, r.newID())
	o.modified = true
	r.ws.objects[o.id] = o
	return o, nil
}

// SetWorkspaceRoot makes o the root of the workspace.
func (r *Repository) SetWorkspaceRoot(o *Object) error {
	const op errors.Op = "repository.SetWorkspaceRoot"
	if err := o.usable(op); err != nil {
		return err
	}
	if o.repo != r || o.ws != r.ws {
		return errors.E(op, errors.State, "object is not part of this repository's workspace")
	}
	if !o.IsRoot() {
		return errors.E(op, errors.State, "workspace root must be a root object")
	}
	r.root = o
	return nil
}

// CreateRoot creates an object of type t and makes it the workspace root.
func (r *Repository) CreateRoot(t schema.TypeDescriptor) (*Object, error) {
	o, err := r.CreateObject(t)
	if err != nil {
		return nil, err
	}
	if err := r.SetWorkspaceRoot(o); err != nil {
		return nil, err
	}
	return o, nil
}

// discardWorkspace invalidates every live object and starts a new arena.
func (r *Repository) discardWorkspace() {
	r.ws.invalidate()
	r.ws = newWorkspace(false)
	r.root = nil
}

func (r *Repository) clearMerge() {
	if r.mergeWS != nil {
		r.mergeWS.invalidate()
	}
	r.mergeWS = nil
	r.mergeFrom = nil
	r.mergeRoots = nil
}
