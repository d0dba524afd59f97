package repository

import (
	"slices"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/javanhut/Ivaldi-objects/internal/cas"
	"github.com/javanhut/Ivaldi-objects/internal/element"
	"github.com/javanhut/Ivaldi-objects/internal/errors"
	"github.com/javanhut/Ivaldi-objects/internal/schema"
)

// Built-in types of repository metadata.
var (
	CommitRefType = schema.TypeDescriptor{Package: "ivaldi.objects", Class: "CommitRef", Version: "1.0.0"}
	HeadType      = schema.TypeDescriptor{Package: "ivaldi.objects", Class: "MutableHead", Version: "1.0.0"}
)

// Relationship tags a parent of a commit.
type Relationship int

const (
	Parent     Relationship = 1
	MergedFrom Relationship = 2
)

func (r Relationship) String() string {
	switch r {
	case Parent:
		return "parent"
	case MergedFrom:
		return "merged from"
	}
	return "unknown"
}

// ParentRef is one ancestor of a commit.
type ParentRef struct {
	Commit       cas.Hash
	Relationship Relationship
}

// CommitRef is an immutable node of the history DAG.
type CommitRef struct {
	key      cas.Hash
	date     time.Time
	comment  string
	root     Link
	parents  []ParentRef
	rootSeed string
}

// Key returns the commit's content hash.
func (c *CommitRef) Key() cas.Hash { return c.key }

// ID returns the hex form of Key.
func (c *CommitRef) ID() string { return c.key.String() }

// Date returns the commit date, in UTC.
func (c *CommitRef) Date() time.Time { return c.date }

// Comment returns the commit message.
func (c *CommitRef) Comment() string { return c.comment }

// ObjectRoot returns the link to the committed object tree.
func (c *CommitRef) ObjectRoot() Link { return c.root }

// Parents returns a copy of the commit's ancestors.
func (c *CommitRef) Parents() []ParentRef { return slices.Clone(c.parents) }

// RootSeed is the repository key, set only on a repository's first commit.
func (c *CommitRef) RootSeed() string { return c.rootSeed }

// Parent returns the PARENT ancestor, if any.
func (c *CommitRef) Parent() (cas.Hash, bool) {
	for _, p := range c.parents {
		if p.Relationship == Parent {
			return p.Commit, true
		}
	}
	return cas.Hash{}, false
}

func normalizeDate(t time.Time) time.Time {
	return time.Unix(0, t.UnixNano()).UTC()
}

const (
	crefDate     protowire.Number = 1
	crefComment  protowire.Number = 2
	crefRoot     protowire.Number = 3
	crefParent   protowire.Number = 4
	crefRootSeed protowire.Number = 5

	parentKey          protowire.Number = 1
	parentRelationship protowire.Number = 2
)

// seal serializes c, sets its key and returns its element.
func (c *CommitRef) seal() (*element.Element, error) {
	var b []byte
	b = protowire.AppendTag(b, crefDate, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(c.date.UnixNano()))
	if c.comment != "" {
		b = protowire.AppendTag(b, crefComment, protowire.BytesType)
		b = protowire.AppendString(b, c.comment)
	}
	rootKey, ok := c.root.Hash()
	if !ok {
		return nil, errors.E(errors.Op("repository.CommitRef.seal"), errors.Invariant, "commit object root %q is not hashed", c.root.key)
	}
	b, _ = appendLink(b, crefRoot, &c.root, func(*Link) (cas.Hash, error) { return rootKey, nil })
	children := []cas.Hash{rootKey}
	for _, p := range c.parents {
		var m []byte
		m = protowire.AppendTag(m, parentKey, protowire.BytesType)
		m = protowire.AppendBytes(m, p.Commit[:])
		m = protowire.AppendTag(m, parentRelationship, protowire.VarintType)
		m = protowire.AppendVarint(m, uint64(p.Relationship))
		b = protowire.AppendTag(b, crefParent, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
		children = append(children, p.Commit)
	}
	if c.rootSeed != "" {
		b = protowire.AppendTag(b, crefRootSeed, protowire.BytesType)
		b = protowire.AppendString(b, c.rootSeed)
	}
	el := element.New(b, CommitRefType, false, children)
	c.key = el.Key
	return el, nil
}

// decodeCommitRef verifies el and parses it as a commit reference.
func decodeCommitRef(el *element.Element) (*CommitRef, error) {
	const op errors.Op = "repository.decodeCommitRef"
	if err := el.Verify(); err != nil {
		return nil, errors.E(op, err)
	}
	if !CommitRefType.Compatible(el.Type) {
		return nil, errors.E(op, errors.Integrity, "element %s is a %s, not a commit", el.Key.Short(), el.Type)
	}
	c := &CommitRef{key: el.Key}
	b := el.Value
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.E(op, errors.Integrity, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == crefDate && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errors.E(op, errors.Integrity, protowire.ParseError(n))
			}
			c.date = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
			b = b[n:]
		case num == crefComment && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, errors.E(op, errors.Integrity, protowire.ParseError(n))
			}
			c.comment = v
			b = b[n:]
		case num == crefRoot && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errors.E(op, errors.Integrity, protowire.ParseError(n))
			}
			l, err := decodeLink(v)
			if err != nil {
				return nil, errors.E(op, errors.Integrity, err)
			}
			l.index = -1
			c.root = *l
			b = b[n:]
		case num == crefParent && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errors.E(op, errors.Integrity, protowire.ParseError(n))
			}
			p, err := decodeParentRef(v)
			if err != nil {
				return nil, errors.E(op, errors.Integrity, err)
			}
			c.parents = append(c.parents, p)
			b = b[n:]
		case num == crefRootSeed && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, errors.E(op, errors.Integrity, protowire.ParseError(n))
			}
			c.rootSeed = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errors.E(op, errors.Integrity, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if !c.root.IsSet() {
		return nil, errors.E(op, errors.Integrity, "commit %s has no object root", el.Key.Short())
	}
	return c, nil
}

func decodeParentRef(b []byte) (ParentRef, error) {
	var p ParentRef
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return p, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == parentKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			h, err := cas.FromBytes(v)
			if err != nil {
				return p, err
			}
			p.Commit = h
			b = b[n:]
		case num == parentRelationship && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			p.Relationship = Relationship(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	if p.Relationship != Parent && p.Relationship != MergedFrom {
		return p, errors.New("parent ref has no relationship")
	}
	return p, nil
}
