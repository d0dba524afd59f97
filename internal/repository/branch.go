package repository

import (
	"maps"
	"slices"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
	"k8s.io/klog/v2"

	"github.com/javanhut/Ivaldi-objects/internal/cas"
	"github.com/javanhut/Ivaldi-objects/internal/element"
	"github.com/javanhut/Ivaldi-objects/internal/errors"
)

// DetachedHead is the key of the synthetic branch used for checkouts of
// historical commits.
const DetachedHead = "detached head"

// Branch points at zero, one or (transiently, until the next read) several
// head commits.
type Branch struct {
	key   string
	heads []cas.Hash
}

// Key returns the branch's unique key.
func (b *Branch) Key() string { return b.key }

// Heads returns a copy of the branch's head commits.
func (b *Branch) Heads() []cas.Hash { return slices.Clone(b.heads) }

// IsEmpty reports whether the branch has no commits yet.
func (b *Branch) IsEmpty() bool { return len(b.heads) == 0 }

// IsDetached reports whether b is the synthetic branch of a detached head.
func (b *Branch) IsDetached() bool { return b.key == DetachedHead }

// IsDivergent reports whether concurrent commits left b with several heads.
func (b *Branch) IsDivergent() bool { return len(b.heads) > 1 }

func (b *Branch) hasHead(h cas.Hash) bool { return slices.Contains(b.heads, h) }

// Head is the mutable root record of a repository: its key and branches.
// It is not content addressed.
type Head struct {
	repositoryKey string
	branches      []*Branch
}

// RepositoryKey returns the key shared by every instance of the repository.
func (h *Head) RepositoryKey() string { return h.repositoryKey }

// Branches returns a copy of the branch list.
func (h *Head) Branches() []*Branch { return slices.Clone(h.branches) }

func (h *Head) find(key string) *Branch {
	for _, b := range h.branches {
		if b.key == key {
			return b
		}
	}
	return nil
}

const (
	headRepositoryKey protowire.Number = 1
	headBranch        protowire.Number = 2
	branchKey         protowire.Number = 1
	branchHead        protowire.Number = 2
)

func (h *Head) element() *element.Element {
	var b []byte
	var children []cas.Hash
	b = protowire.AppendTag(b, headRepositoryKey, protowire.BytesType)
	b = protowire.AppendString(b, h.repositoryKey)
	for _, br := range h.branches {
		var m []byte
		m = protowire.AppendTag(m, branchKey, protowire.BytesType)
		m = protowire.AppendString(m, br.key)
		for _, c := range br.heads {
			m = protowire.AppendTag(m, branchHead, protowire.BytesType)
			m = protowire.AppendBytes(m, c[:])
			children = append(children, c)
		}
		b = protowire.AppendTag(b, headBranch, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}
	return element.New(b, HeadType, false, children)
}

func decodeHeadElement(el *element.Element) (*Head, error) {
	const op errors.Op = "repository.decodeHead"
	if el == nil {
		return nil, errors.E(op, errors.State, "no head element")
	}
	if err := el.Verify(); err != nil {
		return nil, errors.E(op, err)
	}
	if !HeadType.Compatible(el.Type) {
		return nil, errors.E(op, errors.Integrity, "element %s is a %s, not a repository head", el.Key.Short(), el.Type)
	}
	h := &Head{}
	b := el.Value
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.E(op, errors.Integrity, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == headRepositoryKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, errors.E(op, errors.Integrity, protowire.ParseError(n))
			}
			h.repositoryKey = v
			b = b[n:]
		case num == headBranch && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errors.E(op, errors.Integrity, protowire.ParseError(n))
			}
			br, err := decodeBranch(v)
			if err != nil {
				return nil, errors.E(op, errors.Integrity, err)
			}
			h.branches = append(h.branches, br)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errors.E(op, errors.Integrity, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if h.repositoryKey == "" {
		return nil, errors.E(op, errors.Integrity, "head has no repository key")
	}
	return h, nil
}

func decodeBranch(b []byte) (*Branch, error) {
	br := &Branch{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		switch num {
		case branchKey:
			br.key = string(v)
		case branchHead:
			h, err := cas.FromBytes(v)
			if err != nil {
				return nil, err
			}
			br.heads = append(br.heads, h)
		}
		b = b[n:]
	}
	if br.key == "" {
		return nil, errors.New("branch has no key")
	}
	return br, nil
}

// Branch creates a new branch at the current branch's head commit, makes it
// current and returns its key. A detached workspace becomes writable again.
func (r *Repository) Branch(nickname string) (string, error) {
	const op errors.Op = "repository.Branch"
	if r.current != nil {
		if r.current.IsEmpty() {
			return "", errors.E(op, errors.State, "cannot branch from empty branch %s", r.current.key)
		}
		if r.current.IsDivergent() {
			return "", errors.E(op, errors.Invariant, "branch %s has %d heads", r.current.key, len(r.current.heads))
		}
	}
	if nickname != "" {
		if _, taken := r.nicknames[nickname]; taken {
			return "", errors.E(op, errors.State, "branch nickname %q already exists", nickname)
		}
	}

	b := &Branch{key: uuid.NewString()}
	if r.current != nil {
		b.heads = []cas.Hash{r.current.heads[0]}
	}
	r.head.branches = append(r.head.branches, b)
	if nickname != "" {
		r.nicknames[nickname] = b.key
	}
	if r.detached {
		r.ws.setReadOnly(false)
		r.detached = false
		r.detachedFrom = ""
	}
	r.current = b
	klog.V(1).Infof("created branch %s (%q)", b.key, nickname)
	return b.key, nil
}

// resolveBranchKey maps a nickname to its branch key; other names are
// returned as given.
func (r *Repository) resolveBranchKey(name string) string {
	if key, ok := r.nicknames[name]; ok {
		return key
	}
	return name
}

// GetBranch looks a branch up by nickname, then by key. A miss is logged and
// returns nil.
func (r *Repository) GetBranch(name string) *Branch {
	b := r.head.find(r.resolveBranchKey(name))
	if b == nil {
		klog.Warningf("branch %q does not exist in repository %s", name, r.head.repositoryKey)
	}
	return b
}

// RemoveBranch deletes a branch by nickname or key. A miss is logged and
// ignored. The current branch cannot be removed.
func (r *Repository) RemoveBranch(name string) error {
	const op errors.Op = "repository.RemoveBranch"
	key := r.resolveBranchKey(name)
	i := slices.IndexFunc(r.head.branches, func(b *Branch) bool { return b.key == key })
	if i < 0 {
		klog.Warningf("cannot remove branch %q: it does not exist", name)
		return nil
	}
	if r.current == r.head.branches[i] {
		return errors.E(op, errors.State, "cannot remove the current branch %s", key)
	}
	r.head.branches = slices.Delete(r.head.branches, i, i+1)
	maps.DeleteFunc(r.nicknames, func(_, v string) bool { return v == key })
	klog.V(1).Infof("removed branch %s", key)
	return nil
}

// CurrentBranch returns the current branch, possibly the synthetic detached
// head branch, or nil.
func (r *Repository) CurrentBranch() *Branch { return r.current }

// Branches returns the branches of the head.
func (r *Repository) Branches() []*Branch { return r.head.Branches() }

// Nicknames returns a copy of the local nickname table.
func (r *Repository) Nicknames() map[string]string { return maps.Clone(r.nicknames) }

// SetNickname names an existing branch locally.
func (r *Repository) SetNickname(nickname, key string) error {
	const op errors.Op = "repository.SetNickname"
	if nickname == "" {
		return errors.E(op, "empty nickname")
	}
	if _, taken := r.nicknames[nickname]; taken {
		return errors.E(op, errors.State, "branch nickname %q already exists", nickname)
	}
	if r.head.find(key) == nil {
		return errors.E(op, errors.NotFound, "branch %s does not exist", key)
	}
	r.nicknames[nickname] = key
	return nil
}

// currentBranchKey is the branch a checkout or merge without an explicit
// branch refers to.
func (r *Repository) currentBranchKey() string {
	if r.detached {
		return r.detachedFrom
	}
	if r.current != nil {
		return r.current.key
	}
	return ""
}
