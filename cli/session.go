package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"k8s.io/klog/v2"

	"github.com/javanhut/Ivaldi-objects/internal/cas"
	"github.com/javanhut/Ivaldi-objects/internal/config"
	"github.com/javanhut/Ivaldi-objects/internal/element"
	"github.com/javanhut/Ivaldi-objects/internal/errors"
	"github.com/javanhut/Ivaldi-objects/internal/repository"
	"github.com/javanhut/Ivaldi-objects/internal/store"
	"github.com/javanhut/Ivaldi-objects/internal/workbench"
)

// State keys persisted in the store's state bucket.
const (
	stateRepository = "repository"
	stateNickname   = "nickname"
	stateBranch     = "branch"
	stateCommit     = "commit"
	stateDetached   = "detached"
)

// workspaceStash holds uncommitted work between invocations. User stash
// names must pass keys.Valid, which rejects the leading dot.
const workspaceStash = ".workspace"

// remoteOrigin is the store config key holding the directory a repository
// was cloned from.
const remoteOrigin = "remote.origin"

// session is one invocation's view of a store directory: the disk store,
// a workbench over it and, once opened, the repository it holds.
type session struct {
	dir  string
	cfg  *config.Config
	disk *element.CASStore
	db   *store.DB
	wb   *workbench.Workbench
	repo *repository.Repository

	origin *lazyPeer
}

// openStore opens (creating if needed) the store directory.
func openStore(dir string, cfg *config.Config) (*session, error) {
	disk, err := element.OpenDiskStore(dir)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", dir, err)
	}
	reg, err := registry()
	if err != nil {
		_ = disk.Close()
		return nil, err
	}
	wb := workbench.New(reg,
		workbench.WithStore(disk),
		workbench.WithBatchSize(cfg.Fetch.BatchSize),
		workbench.WithConcurrency(cfg.Fetch.Concurrency),
		workbench.WithMaxFetchRounds(cfg.Fetch.MaxRounds),
	)
	return &session{dir: dir, cfg: cfg, disk: disk, db: disk.DB(), wb: wb}, nil
}

// openSession opens the store and restores the repository, its checkout
// and any uncommitted workspace.
func openSession(ctx context.Context, dir string, cfg *config.Config) (*session, error) {
	if _, err := os.Stat(filepath.Join(dir, "objects.db")); err != nil {
		return nil, fmt.Errorf("not an ivaldi-objects repository (no %s found); run init first", dir)
	}
	s, err := openStore(dir, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.restore(ctx); err != nil {
		_ = s.close()
		return nil, err
	}
	return s, nil
}

func (s *session) state(key string) (string, error) {
	v, err := s.db.GetState(key)
	if err == store.ErrNotFound {
		return "", nil
	}
	return v, err
}

func (s *session) restore(ctx context.Context) error {
	key, err := s.state(stateRepository)
	if err != nil {
		return err
	}
	if key == "" {
		repos, err := s.db.Repositories()
		if err != nil {
			return err
		}
		if len(repos) != 1 {
			return fmt.Errorf("store %s holds %d repositories and none is selected", s.dir, len(repos))
		}
		key = repos[0]
		klog.Warningf("no repository selected in %s; using %s", s.dir, key)
	}
	encoded, err := s.db.GetHead(key)
	if err != nil {
		return fmt.Errorf("read head of repository %s: %w", key, err)
	}
	head, err := element.Decode(encoded)
	if err != nil {
		return err
	}

	upstream := ""
	if dir, err := s.db.GetConfig(remoteOrigin); err == nil {
		s.origin = &lazyPeer{dir: dir}
		s.wb.AddPeer("origin", s.origin)
		upstream = "origin"
	}
	nickname, err := s.state(stateNickname)
	if err != nil {
		return err
	}
	r, err := s.wb.Open(head, nickname, upstream)
	if err != nil {
		return err
	}
	s.repo = r

	nicknames, err := s.db.Nicknames()
	if err != nil {
		return err
	}
	for nick, branch := range nicknames {
		if err := r.SetNickname(nick, branch); err != nil {
			klog.Warningf("dropping nickname %q: %v", nick, err)
		}
	}
	stashes, err := s.db.Stashes()
	if err != nil {
		return err
	}
	for name, hex := range stashes {
		h, err := cas.ParseHash(hex)
		if err != nil {
			klog.Warningf("dropping stash %q: %v", name, err)
			continue
		}
		r.RestoreStash(name, h)
	}

	branch, err := s.state(stateBranch)
	if err != nil || branch == "" {
		return err
	}
	opts := repository.CheckoutOptions{Branch: branch}
	if detached, _ := s.state(stateDetached); detached == "true" {
		if opts.CommitID, err = s.state(stateCommit); err != nil {
			return err
		}
	}
	if _, err := r.Checkout(ctx, opts); err != nil {
		return fmt.Errorf("restore checkout of branch %s: %w", branch, err)
	}
	if _, ok := stashes[workspaceStash]; ok {
		if _, err := r.Unstash(ctx, workspaceStash); err != nil {
			return fmt.Errorf("restore workspace: %w", err)
		}
	}
	return nil
}

// save persists the head, nickname and stash tables, the checkout and the
// uncommitted workspace.
func (s *session) save() error {
	r := s.repo
	if err := s.db.PutHead(r.RepositoryKey(), element.Encode(r.HeadElement())); err != nil {
		return err
	}
	if err := s.db.PutState(stateRepository, r.RepositoryKey()); err != nil {
		return err
	}

	if r.Status() == repository.Modified {
		if _, err := r.Stash(workspaceStash); err != nil {
			return fmt.Errorf("save workspace: %w", err)
		}
	}
	if err := s.syncTable(s.db.Stashes, s.db.RemoveStash, stashTable(r.Stashes()), s.db.PutStash); err != nil {
		return err
	}
	if err := s.syncTable(s.db.Nicknames, s.db.RemoveNickname, r.Nicknames(), s.db.PutNickname); err != nil {
		return err
	}

	branch, detached := "", r.IsDetached()
	if detached {
		branch = r.DetachedFrom()
	} else if b := r.CurrentBranch(); b != nil {
		branch = b.Key()
	}
	commit := ""
	if !r.CheckedOut().IsZero() {
		commit = r.CheckedOut().String()
	}
	for k, v := range map[string]string{
		stateBranch:   branch,
		stateCommit:   commit,
		stateDetached: fmt.Sprint(detached),
	} {
		if err := s.db.PutState(k, v); err != nil {
			return err
		}
	}
	return nil
}

func stashTable(m map[string]cas.Hash) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.String()
	}
	return out
}

// syncTable makes a stored table equal to want.
func (s *session) syncTable(list func() (map[string]string, error), remove func(string) error, want map[string]string, put func(string, string) error) error {
	have, err := list()
	if err != nil {
		return err
	}
	for k := range have {
		if _, ok := want[k]; !ok {
			if err := remove(k); err != nil {
				return err
			}
		}
	}
	for k, v := range want {
		if have[k] != v {
			if err := put(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *session) close() error {
	if s.origin != nil {
		s.origin.close()
	}
	return s.disk.Close()
}

// lazyPeer serves from another store directory, opened on first use.
type lazyPeer struct {
	dir  string
	once sync.Once
	disk *element.CASStore
	err  error
}

// open returns the origin store, opening it once.
func (p *lazyPeer) open() (*element.CASStore, error) {
	p.once.Do(func() {
		p.disk, p.err = element.OpenDiskStore(p.dir)
		if p.err == nil {
			klog.V(1).Infof("opened origin store %s", p.dir)
		}
	})
	if p.err != nil {
		return nil, errors.E(errors.Op("cli.origin"), errors.Configuration, fmt.Errorf("open origin %s: %w", p.dir, p.err))
	}
	return p.disk, nil
}

func (p *lazyPeer) Serve(ctx context.Context, keys []cas.Hash) ([]*element.Element, error) {
	disk, err := p.open()
	if err != nil {
		return nil, err
	}
	return workbench.NewLocalPeer(disk).Serve(ctx, keys)
}

func (p *lazyPeer) close() {
	if p.disk != nil {
		_ = p.disk.Close()
	}
}

// storeDir returns the configured store directory.
func storeDir(cfg *config.Config) string {
	if d := strings.TrimSpace(cfg.Core.Store); d != "" {
		return d
	}
	return config.DefaultStoreDir
}
