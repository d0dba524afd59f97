package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javanhut/Ivaldi-objects/internal/cas"
	"github.com/javanhut/Ivaldi-objects/internal/colors"
	"github.com/javanhut/Ivaldi-objects/internal/config"
	"github.com/javanhut/Ivaldi-objects/internal/repository"
	"github.com/javanhut/Ivaldi-objects/internal/seals"
)

func init() {
	colors.SetColorEnabled(false)
}

func getString(t *testing.T, o *repository.Object, name string) string {
	t.Helper()
	s, err := o.GetString(name)
	require.NoError(t, err)
	return s
}

// memoryRepo returns an in-memory notes repository with a root note.
func memoryRepo(t *testing.T) (*repository.Repository, *repository.Object) {
	t.Helper()
	reg, err := registry()
	require.NoError(t, err)
	r := repository.New(reg)
	_, err = r.Branch("main")
	require.NoError(t, err)
	root, err := r.CreateRoot(noteType)
	require.NoError(t, err)
	require.NoError(t, root.Set("title", "groceries"))
	return r, root
}

// initStore initializes a repository in a fresh store directory.
func initStore(t *testing.T, nickname string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "store")
	s, err := openStore(dir, config.DefaultConfig())
	require.NoError(t, err)
	defer s.close()
	_, err = initRepository(s, nickname, "groceries")
	require.NoError(t, err)
	return dir
}

// inSession opens the store at dir, runs fn and saves.
func inSession(t *testing.T, dir string, fn func(ctx context.Context, s *session)) {
	t.Helper()
	ctx := context.Background()
	s, err := openSession(ctx, dir, config.DefaultConfig())
	require.NoError(t, err)
	defer func() { require.NoError(t, s.close()) }()
	fn(ctx, s)
	require.NoError(t, s.save())
}

func TestResolvePath(t *testing.T) {
	r, root := memoryRepo(t)
	_, err := addNote(r, "", "dairy")
	require.NoError(t, err)
	n, err := addNote(r, "children/0", "milk")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	n, err = addNote(r, "/children/0/", "butter")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	o, err := resolvePath(root, "")
	require.NoError(t, err)
	assert.Same(t, root, o)

	o, err = resolvePath(root, "children/0/children/1")
	require.NoError(t, err)
	assert.Equal(t, "butter", getString(t, o, "title"))

	for _, bad := range []string{
		"children",
		"children/x",
		"children/5",
		"title",
		"nope",
	} {
		_, err := resolvePath(root, bad)
		assert.Error(t, err, bad)
	}
}

func TestSetField(t *testing.T) {
	_, root := memoryRepo(t)
	require.NoError(t, setField(root, "priority", "3", false))
	require.NoError(t, setField(root, "done", "true", false))
	require.NoError(t, setField(root, "estimate", "1.5", false))
	require.NoError(t, setField(root, "tags", "weekly", false))
	require.NoError(t, setField(root, "tags", "urgent", true))

	p, err := root.GetInt("priority")
	require.NoError(t, err)
	assert.Equal(t, int64(3), p)
	done, err := root.Get("done")
	require.NoError(t, err)
	assert.Equal(t, true, done)
	est, err := root.Get("estimate")
	require.NoError(t, err)
	assert.Equal(t, 1.5, est)
	assert.Equal(t, 2, root.Len("tags"))
	tag, err := root.Index("tags", 1)
	require.NoError(t, err)
	assert.Equal(t, "urgent", tag)

	assert.Error(t, setField(root, "priority", "high", false))
	assert.Error(t, setField(root, "title", "x", true), "title is not repeated")
	assert.Error(t, setField(root, "children", "x", false), "links are not set from text")
	assert.Error(t, setField(root, "missing", "x", false))
}

func TestRenderObject(t *testing.T) {
	r, root := memoryRepo(t)
	_, err := addNote(r, "", "milk")
	require.NoError(t, err)
	blob, err := r.CreateObject(blobType)
	require.NoError(t, err)
	require.NoError(t, blob.Set("name", "list.txt"))
	require.NoError(t, blob.Set("data", []byte("eggs\n")))
	require.NoError(t, root.AppendLink("attachments", blob))

	out, err := renderObject(root, 1)
	require.NoError(t, err)
	assert.Contains(t, out, "ivaldi.objects.Note")
	assert.Contains(t, out, "title: groceries")
	assert.Contains(t, out, "children/0 Note")
	assert.Contains(t, out, "title: milk")
	assert.Contains(t, out, "attachments/0 Blob")
	assert.Contains(t, out, "data: <5 bytes>")

	out, err = renderObject(root, 0)
	require.NoError(t, err)
	assert.Contains(t, out, "children/0 Note ...")
	assert.NotContains(t, out, "title: milk")
}

func TestParseDate(t *testing.T) {
	d, err := parseDate("2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 23, 59, 59, 999999999, time.UTC), d)

	d, err = parseDate("2024-05-01T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), d)

	_, err = parseDate("yesterday")
	assert.Error(t, err)
}

func TestCommitComment(t *testing.T) {
	c := config.DefaultConfig()
	assert.Equal(t, "fix", commitComment("fix", c))
	c.User.Name = "Ada"
	assert.Equal(t, "fix\n\nSigned-off-by: Ada", commitComment("fix", c))
	c.User.Email = "ada@example.com"
	assert.Equal(t, "fix\n\nSigned-off-by: Ada <ada@example.com>", commitComment("fix", c))
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "children/2", joinPath("", "children", 2))
	assert.Equal(t, "children/0/children/2", joinPath("/children/0/", "children", 2))
}

func TestSessionKeepsUncommittedWork(t *testing.T) {
	dir := initStore(t, "notes")

	inSession(t, dir, func(ctx context.Context, s *session) {
		assert.Equal(t, repository.UpToDate, s.repo.Status())
		assert.Equal(t, "groceries", getString(t, s.repo.Root(), "title"))
		_, err := addNote(s.repo, "", "milk")
		require.NoError(t, err)
	})

	inSession(t, dir, func(ctx context.Context, s *session) {
		require.Equal(t, repository.Modified, s.repo.Status())
		child, err := resolvePath(s.repo.Root(), "children/0")
		require.NoError(t, err)
		assert.Equal(t, "milk", getString(t, child, "title"))
		assert.NotContains(t, s.repo.Stashes(), workspaceStash)
		_, err = s.repo.Commit("add milk")
		require.NoError(t, err)
	})

	inSession(t, dir, func(ctx context.Context, s *session) {
		assert.Equal(t, repository.UpToDate, s.repo.Status())
		log, err := s.repo.Log(ctx, "", 0)
		require.NoError(t, err)
		require.Len(t, log, 2)
		assert.Equal(t, "add milk", log[0].Comment())
		assert.Equal(t, "initialize repository", log[1].Comment())

		nickname, err := s.state(stateNickname)
		require.NoError(t, err)
		assert.Equal(t, "notes", nickname)
		stashes, err := s.db.Stashes()
		require.NoError(t, err)
		assert.Empty(t, stashes)
	})
}

func TestSessionKeepsStashesAndBranches(t *testing.T) {
	dir := initStore(t, "notes")

	inSession(t, dir, func(ctx context.Context, s *session) {
		_, err := addNote(s.repo, "", "milk")
		require.NoError(t, err)
		_, err = s.repo.Stash("shopping")
		require.NoError(t, err)
		_, err = s.repo.Reset(ctx)
		require.NoError(t, err)

		nick, _, err := createBranch(s.repo, "feature")
		require.NoError(t, err)
		assert.Equal(t, "feature", nick)
		_, _, err = createBranch(s.repo, "Not Valid")
		assert.Error(t, err)
	})

	inSession(t, dir, func(ctx context.Context, s *session) {
		assert.Equal(t, repository.UpToDate, s.repo.Status())
		assert.Contains(t, s.repo.Stashes(), "shopping")
		assert.Equal(t, "feature", branchLabel(s.repo, s.repo.CurrentBranch().Key()))
		assert.Contains(t, s.repo.Nicknames(), "main")

		root, err := s.repo.Unstash(ctx, "shopping")
		require.NoError(t, err)
		assert.Equal(t, 1, root.Len("children"))
	})

	inSession(t, dir, func(ctx context.Context, s *session) {
		assert.Equal(t, repository.Modified, s.repo.Status())
		assert.Empty(t, s.repo.Stashes())
	})
}

func TestDetachedCheckoutAndSealNames(t *testing.T) {
	dir := initStore(t, "notes")
	var first, second string

	inSession(t, dir, func(ctx context.Context, s *session) {
		log, err := s.repo.Log(ctx, "", 0)
		require.NoError(t, err)
		first = log[0].ID()
		require.NoError(t, s.repo.Root().Set("title", "groceries v2"))
		second, err = s.repo.Commit("rename")
		require.NoError(t, err)

		h, err := cas.ParseHash(first)
		require.NoError(t, err)
		id, err := resolveCommit(ctx, s.repo, seals.Name(h))
		require.NoError(t, err)
		assert.Equal(t, first, id)

		id, err = resolveCommit(ctx, s.repo, second)
		require.NoError(t, err)
		assert.Equal(t, second, id)

		_, err = resolveCommit(ctx, s.repo, "no-such-commit")
		assert.Error(t, err)

		_, err = s.repo.Checkout(ctx, repository.CheckoutOptions{CommitID: first})
		require.NoError(t, err)
		require.True(t, s.repo.IsDetached())
	})

	inSession(t, dir, func(ctx context.Context, s *session) {
		require.True(t, s.repo.IsDetached())
		assert.Equal(t, first, s.repo.CheckedOut().String())
		assert.Equal(t, "groceries", getString(t, s.repo.Root(), "title"))
		assert.True(t, s.repo.Root().IsReadOnly())

		_, err := s.repo.Checkout(ctx, repository.CheckoutOptions{})
		require.NoError(t, err)
	})

	inSession(t, dir, func(ctx context.Context, s *session) {
		assert.False(t, s.repo.IsDetached())
		assert.Equal(t, second, s.repo.CheckedOut().String())
	})
}

func TestCloneAndPull(t *testing.T) {
	ctx := context.Background()
	origin := initStore(t, "notes")
	inSession(t, origin, func(ctx context.Context, s *session) {
		_, err := addNote(s.repo, "", "milk")
		require.NoError(t, err)
		_, err = addNote(s.repo, "children/0", "oat")
		require.NoError(t, err)
		_, err = s.repo.Commit("add milk")
		require.NoError(t, err)
	})

	clone := filepath.Join(t.TempDir(), "clone")
	s, err := openStore(clone, config.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, cloneRepository(ctx, s, origin))
	child, err := resolvePath(s.repo.Root(), "children/0/children/0")
	require.NoError(t, err)
	assert.Equal(t, "oat", getString(t, child, "title"))
	require.NoError(t, s.close())

	inSession(t, origin, func(ctx context.Context, s *session) {
		require.NoError(t, s.repo.Root().Set("title", "groceries v2"))
		_, err := s.repo.Commit("rename")
		require.NoError(t, err)
	})

	inSession(t, clone, func(ctx context.Context, s *session) {
		nickname, err := s.state(stateNickname)
		require.NoError(t, err)
		assert.Equal(t, "notes", nickname)
		assert.Equal(t, "groceries", getString(t, s.repo.Root(), "title"))
		dir, err := s.db.GetConfig(remoteOrigin)
		require.NoError(t, err)
		assert.Equal(t, origin, dir)

		require.NoError(t, pullOrigin(ctx, s))
		assert.Equal(t, "groceries v2", getString(t, s.repo.Root(), "title"))
		heads := s.repo.CurrentBranch().Heads()
		require.Len(t, heads, 1, "a fast-forward leaves one head")

		log, err := s.repo.Log(ctx, "", 0)
		require.NoError(t, err)
		assert.Len(t, log, 3)
	})

	s, err = openStore(filepath.Join(t.TempDir(), "other"), config.DefaultConfig())
	require.NoError(t, err)
	defer s.close()
	assert.Error(t, cloneRepository(ctx, s, t.TempDir()), "not a store")
}

func TestPackAndUnpackStructure(t *testing.T) {
	src := initStore(t, "notes")
	var data []byte
	inSession(t, src, func(ctx context.Context, s *session) {
		_, err := addNote(s.repo, "", "milk")
		require.NoError(t, err)
		o, err := resolvePath(s.repo.Root(), "children/0")
		require.NoError(t, err)
		require.NoError(t, o.Set("body", "two litres"))
		data, err = s.wb.PackStructure(o)
		require.NoError(t, err)
	})

	dst := initStore(t, "other")
	inSession(t, dst, func(ctx context.Context, s *session) {
		obj, err := s.wb.UnpackStructure(ctx, data, s.repo)
		require.NoError(t, err)
		require.NoError(t, s.repo.Root().AppendLink("children", obj))
		child, err := resolvePath(s.repo.Root(), "children/0")
		require.NoError(t, err)
		assert.Equal(t, "two litres", getString(t, child, "body"))
	})
}

func TestConfigCommand(t *testing.T) {
	dir := t.TempDir()
	cfg = config.DefaultConfig()
	cfg.Core.Store = dir
	globalPath = ""
	t.Cleanup(func() {
		cfg, configGlobal, configList = nil, false, false
	})
	var out bytes.Buffer
	configCmd.SetOut(&out)

	require.NoError(t, runConfig(configCmd, []string{"fetch.batchsize", "16"}))
	assert.Contains(t, out.String(), "fetch.batchsize = 16")
	assert.Error(t, runConfig(configCmd, []string{"fetch.batchsize", "0"}))

	loaded, err := config.Load("", config.RepoPath(dir))
	require.NoError(t, err)
	assert.Equal(t, 16, loaded.Fetch.BatchSize)
	assert.Equal(t, 4, loaded.Fetch.Concurrency)

	cfg = loaded
	out.Reset()
	require.NoError(t, runConfig(configCmd, []string{"fetch.batchsize"}))
	assert.Equal(t, "16\n", out.String())

	out.Reset()
	configList = true
	require.NoError(t, runConfig(configCmd, nil))
	assert.Contains(t, out.String(), "user.name = (not set)")
	assert.Contains(t, out.String(), "color.ui = true")
	configList = false

	configGlobal = true
	assert.Error(t, runConfig(configCmd, []string{"user.name", "Ada"}), "no global config path")
}
