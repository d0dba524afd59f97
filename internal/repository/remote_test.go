package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javanhut/Ivaldi-objects/internal/cas"
	"github.com/javanhut/Ivaldi-objects/internal/element"
	"github.com/javanhut/Ivaldi-objects/internal/errors"
)

// storeFetcher serves exactly the requested elements from a store and
// records every request.
type storeFetcher struct {
	src      element.Store
	requests [][]Link
}

func (f *storeFetcher) FetchLinkedObjects(_ context.Context, upstream string, links []Link) ([]*element.Element, error) {
	if upstream != "origin" {
		return nil, fmt.Errorf("unknown upstream %q", upstream)
	}
	f.requests = append(f.requests, links)
	var out []*element.Element
	for _, l := range links {
		h, ok := l.Hash()
		if !ok {
			return nil, fmt.Errorf("unhashed link %q", l.Key())
		}
		el, err := f.src.Get(h)
		if errors.Is(err, errors.NotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, el)
	}
	return out, nil
}

// twoLevelTree commits a root with three children, each with one child of
// its own, and returns the repository and branch key.
func twoLevelTree(t *testing.T) (*Repository, string) {
	t.Helper()
	r := New(testRegistry(t))
	key, err := r.Branch("main")
	require.NoError(t, err)
	root, err := r.CreateRoot(nodeType)
	require.NoError(t, err)
	for i := range 3 {
		child := newNode(t, r, fmt.Sprintf("child-%d", i))
		require.NoError(t, child.SetLink("child", newNode(t, r, fmt.Sprintf("grandchild-%d", i))))
		require.NoError(t, root.AppendLink("children", child))
	}
	_, err = r.Commit("tree")
	require.NoError(t, err)
	return r, key
}

func TestRemoteLinksFetchedInBatches(t *testing.T) {
	ctx := context.Background()
	origin, key := twoLevelTree(t)
	f := &storeFetcher{src: origin.Store()}

	r, err := Load(origin.HeadElement(), testRegistry(t), WithWorkbench(f, "origin"))
	require.NoError(t, err)
	root, err := r.Checkout(ctx, CheckoutOptions{Branch: key})
	require.NoError(t, err)

	// commit, root, then one batch per tree level
	require.Len(t, f.requests, 4)
	assert.Len(t, f.requests[0], 1)
	assert.Len(t, f.requests[1], 1)
	assert.Len(t, f.requests[2], 3)
	assert.Len(t, f.requests[3], 3)

	child, err := root.LinkedAt("children", 2)
	require.NoError(t, err)
	grandchild, err := child.Linked("child")
	require.NoError(t, err)
	assert.Equal(t, "grandchild-2", getString(t, grandchild, "name"))

	// Everything is local now; a second checkout fetches nothing.
	_, err = r.Checkout(ctx, CheckoutOptions{Branch: key})
	require.NoError(t, err)
	assert.Len(t, f.requests, 4)
}

func TestRemoteFetchRoundsAreBounded(t *testing.T) {
	ctx := context.Background()
	origin, key := twoLevelTree(t)
	f := &storeFetcher{src: origin.Store()}

	r, err := Load(origin.HeadElement(), testRegistry(t), WithWorkbench(f, "origin"), WithMaxFetchRounds(1))
	require.NoError(t, err)
	_, err = r.Checkout(ctx, CheckoutOptions{Branch: key})
	assert.True(t, errors.Is(err, errors.NotFound), "got %v", err)
	assert.Len(t, f.requests, 3)
}

func TestRemoteMissAfterFetchIsNotFound(t *testing.T) {
	ctx := context.Background()
	origin, key := twoLevelTree(t)
	f := &storeFetcher{src: element.NewMemoryStore()}

	r, err := Load(origin.HeadElement(), testRegistry(t), WithWorkbench(f, "origin"))
	require.NoError(t, err)
	_, err = r.Checkout(ctx, CheckoutOptions{Branch: key})
	assert.True(t, errors.Is(err, errors.NotFound), "got %v", err)
	assert.Len(t, f.requests, 1)
}

func TestRemoteFetchWithoutWorkbench(t *testing.T) {
	ctx := context.Background()
	origin, key := twoLevelTree(t)

	r, err := Load(origin.HeadElement(), testRegistry(t))
	require.NoError(t, err)
	_, err = r.Checkout(ctx, CheckoutOptions{Branch: key})
	assert.True(t, errors.Is(err, errors.Configuration), "got %v", err)

	r, err = Load(origin.HeadElement(), testRegistry(t), WithWorkbench(&storeFetcher{src: origin.Store()}, ""))
	require.NoError(t, err)
	_, err = r.Checkout(ctx, CheckoutOptions{Branch: key})
	assert.True(t, errors.Is(err, errors.Configuration), "got %v", err)
}

func TestRemoteFetchHonoursCancellation(t *testing.T) {
	origin, _ := twoLevelTree(t)
	r, err := Load(origin.HeadElement(), testRegistry(t), WithStore(origin.Store()))
	require.NoError(t, err)
	root := origin.Root()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = r.loadRemoteLinks(ctx, r.ws, root)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalMissIsDistinct(t *testing.T) {
	r := New(testRegistry(t))
	l := NewLink(element.New([]byte("absent"), nodeType, false, nil).Key, nodeType, false)
	_, err := r.getLinkedObject(r.ws, &l)
	assert.Same(t, errNotLocal, err)

	_, err = r.resolveLocal(r.ws, &l)
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestExportHistoryFetchesMissingElements(t *testing.T) {
	ctx := context.Background()
	origin, key := twoLevelTree(t)
	set(t, origin.Root(), "name", "renamed")
	_, err := origin.Commit("rename")
	require.NoError(t, err)
	_, want, err := origin.ExportHistory(ctx)
	require.NoError(t, err)

	f := &storeFetcher{src: origin.Store()}
	r, err := Load(origin.HeadElement(), testRegistry(t), WithWorkbench(f, "origin"))
	require.NoError(t, err)
	_, err = r.Checkout(ctx, CheckoutOptions{Branch: key})
	require.NoError(t, err)
	fetched := len(f.requests)

	_, got, err := r.ExportHistory(ctx)
	require.NoError(t, err)
	assert.Greater(t, len(f.requests), fetched, "the first tree must be fetched")
	assert.Equal(t, elementKeys(want), elementKeys(got))

	// Everything is local now.
	fetched = len(f.requests)
	_, _, err = r.ExportHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, f.requests, fetched)
}

func TestExportHistoryMissingUpstream(t *testing.T) {
	ctx := context.Background()
	origin, key := twoLevelTree(t)
	src := element.NewMemoryStore()
	head, err := origin.Store().Get(origin.CheckedOut())
	require.NoError(t, err)
	require.NoError(t, src.Put(head))

	r, err := Load(origin.HeadElement(), testRegistry(t), WithWorkbench(&storeFetcher{src: src}, "origin"))
	require.NoError(t, err)
	require.NotNil(t, r.GetBranch(key))
	_, _, err = r.ExportHistory(ctx)
	assert.True(t, errors.Is(err, errors.NotFound), "got %v", err)
}

func elementKeys(els []*element.Element) []cas.Hash {
	keys := make([]cas.Hash, 0, len(els))
	for _, el := range els {
		keys = append(keys, el.Key)
	}
	return keys
}
