package workbench

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/javanhut/Ivaldi-objects/internal/cas"
	"github.com/javanhut/Ivaldi-objects/internal/element"
	"github.com/javanhut/Ivaldi-objects/internal/errors"
)

// Peer serves elements to a fetching workbench. Serve may be called from
// several goroutines at once. Keys the peer does not hold are left out of
// the result; that is not an error.
type Peer interface {
	Serve(ctx context.Context, keys []cas.Hash) ([]*element.Element, error)
}

// LocalPeer serves elements from a store in the same process, typically
// another workbench's.
type LocalPeer struct {
	store element.Store
	// deep makes Serve return every descendant of a requested element too.
	deep bool
}

// NewLocalPeer serves exactly the requested elements held by s.
func NewLocalPeer(s element.Store) *LocalPeer { return &LocalPeer{store: s} }

// NewDeepPeer serves the requested elements and their descendant closure.
func NewDeepPeer(s element.Store) *LocalPeer { return &LocalPeer{store: s, deep: true} }

func (p *LocalPeer) Serve(ctx context.Context, keys []cas.Hash) ([]*element.Element, error) {
	const op errors.Op = "workbench.Serve"
	var out []*element.Element
	seen := mapset.NewThreadUnsafeSet[cas.Hash]()
	queue := append([]cas.Hash(nil), keys...)
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, errors.E(op, err)
		}
		h := queue[0]
		queue = queue[1:]
		if !seen.Add(h) {
			continue
		}
		el, err := p.store.Get(h)
		if errors.Is(err, errors.NotFound) {
			continue
		}
		if err != nil {
			return nil, errors.E(op, err)
		}
		out = append(out, el)
		if p.deep {
			queue = append(queue, el.ChildLinks...)
		}
	}
	return out, nil
}
