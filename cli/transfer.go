package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/javanhut/Ivaldi-objects/internal/colors"
	"github.com/javanhut/Ivaldi-objects/internal/element"
	"github.com/javanhut/Ivaldi-objects/internal/repository"
	"github.com/javanhut/Ivaldi-objects/internal/seals"
	"github.com/javanhut/Ivaldi-objects/internal/store"
)

var packCmd = &cobra.Command{
	Use:   "pack <file>",
	Short: "Write the repository, or one note tree, to a bundle file",
	Long: `Write every branch, commit and object of the repository to a bundle.
With --structure only the note at --path and what it links to is written.`,
	Args: cobra.ExactArgs(1),
	RunE: runPack,
}

var unpackCmd = &cobra.Command{
	Use:   "unpack <file>",
	Short: "Read a bundle written by pack",
	Long: `Read a repository bundle and add its branch heads to this repository.
With --structure the bundled note tree is added as a child of the note at
--path instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runUnpack,
}

var cloneCmd = &cobra.Command{
	Use:   "clone <store-dir>",
	Short: "Clone the repository of another store directory",
	Long: `Create this store as a clone of another one. Objects are copied as the
checkout needs them; the source stays registered as origin for pull.`,
	Args: cobra.ExactArgs(1),
	RunE: runClone,
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Fetch new branch heads from origin",
	Args:  cobra.NoArgs,
	RunE:  runPull,
}

var originCmd = &cobra.Command{
	Use:   "origin [store-dir]",
	Short: "Show or change the store pull fetches from",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runOrigin,
}

var (
	packStructure   bool
	unpackStructure bool
	originUnset     bool
)

func init() {
	packCmd.Flags().BoolVar(&packStructure, "structure", false, "pack only the note at --path")
	packCmd.Flags().StringVar(&objectPath, "path", "", "path of the note, e.g. children/0")
	unpackCmd.Flags().BoolVar(&unpackStructure, "structure", false, "the bundle holds a note tree")
	unpackCmd.Flags().StringVar(&objectPath, "path", "", "note to add the unpacked tree to")
	originCmd.Flags().BoolVar(&originUnset, "unset", false, "forget the origin")
}

func runPack(cmd *cobra.Command, args []string) error {
	return withSession(cmd, false, func(ctx context.Context, s *session) error {
		var data []byte
		var err error
		if packStructure {
			root, rerr := workspaceRoot(s)
			if rerr != nil {
				return rerr
			}
			o, rerr := resolvePath(root, objectPath)
			if rerr != nil {
				return rerr
			}
			if !o.IsRoot() {
				return fmt.Errorf("only whole notes can be packed")
			}
			data, err = s.wb.PackStructure(o)
		} else {
			data, err = s.wb.PackRepositoryCommits(ctx, s.repo)
		}
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[0], data, 0644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", args[0], len(data))
		return nil
	})
}

func runUnpack(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	return withSession(cmd, true, func(ctx context.Context, s *session) error {
		out := cmd.OutOrStdout()
		if unpackStructure {
			root, err := workspaceRoot(s)
			if err != nil {
				return err
			}
			parent, err := resolvePath(root, objectPath)
			if err != nil {
				return err
			}
			obj, err := s.wb.UnpackStructure(ctx, data, s.repo)
			if err != nil {
				return err
			}
			if err := parent.AppendLink("children", obj); err != nil {
				return err
			}
			fmt.Fprintf(out, "Added %s\n", colors.Field(joinPath(objectPath, "children", parent.Len("children")-1)))
			return nil
		}
		r, err := s.wb.UnpackRepository(data)
		if err != nil {
			return err
		}
		if r != s.repo {
			return fmt.Errorf("bundle holds repository %s, not %s", r.RepositoryKey(), s.repo.RepositoryKey())
		}
		fmt.Fprintf(out, "Updated %d branches from %s\n", len(r.Branches()), args[0])
		return nil
	})
}

// readOrigin returns the head of the repository held by an origin store,
// the state it was left in and its branch nicknames.
func readOrigin(src *element.CASStore) (*element.Element, map[string]string, map[string]string, error) {
	db := src.DB()
	state := map[string]string{}
	for _, k := range []string{stateRepository, stateNickname, stateBranch} {
		v, err := db.GetState(k)
		if err != nil && err != store.ErrNotFound {
			return nil, nil, nil, err
		}
		state[k] = v
	}
	if state[stateRepository] == "" {
		return nil, nil, nil, fmt.Errorf("origin store holds no repository")
	}
	encoded, err := db.GetHead(state[stateRepository])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read head of repository %s: %w", state[stateRepository], err)
	}
	head, err := element.Decode(encoded)
	if err != nil {
		return nil, nil, nil, err
	}
	nicknames, err := db.Nicknames()
	if err != nil {
		return nil, nil, nil, err
	}
	return head, state, nicknames, nil
}

func runClone(cmd *cobra.Command, args []string) error {
	dir := storeDir(cfg)
	if _, err := os.Stat(filepath.Join(dir, "objects.db")); err == nil {
		return fmt.Errorf("repository already initialized in %s", dir)
	}
	origin, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	s, err := openStore(dir, cfg)
	if err != nil {
		return err
	}
	defer s.close()
	if err := cloneRepository(cmd.Context(), s, origin); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cloned %s into %s at %s\n",
		s.repo.RepositoryKey(), dir, colors.Commit(seals.Name(s.repo.CheckedOut())))
	return nil
}

// cloneRepository clones the repository stored in origin into the opened
// store s, checks out the branch origin had checked out and saves.
func cloneRepository(ctx context.Context, s *session, origin string) error {
	if _, err := os.Stat(filepath.Join(origin, "objects.db")); err != nil {
		return fmt.Errorf("%s is not an ivaldi-objects store", origin)
	}
	s.origin = &lazyPeer{dir: origin}
	src, err := s.origin.open()
	if err != nil {
		return err
	}
	head, state, nicknames, err := readOrigin(src)
	if err != nil {
		return err
	}
	s.wb.AddPeer("origin", s.origin)

	r, err := s.wb.Clone("origin", head)
	if err != nil {
		return err
	}
	s.repo = r
	have := r.Nicknames()
	for nick, key := range nicknames {
		if have[nick] == key {
			continue
		}
		if err := r.SetNickname(nick, key); err != nil {
			return err
		}
	}
	branch := state[stateBranch]
	if branch == "" {
		for _, b := range r.Branches() {
			if !b.IsEmpty() {
				branch = b.Key()
				break
			}
		}
	}
	if _, err := r.Checkout(ctx, repository.CheckoutOptions{Branch: branch}); err != nil {
		return err
	}
	if err := s.db.PutConfig(remoteOrigin, origin); err != nil {
		return err
	}
	if state[stateNickname] != "" {
		if err := s.db.PutState(stateNickname, state[stateNickname]); err != nil {
			return err
		}
	}
	return s.save()
}

// pullOrigin adds the branch heads of origin to the repository. The history
// behind new heads is fetched so that heads origin has moved past collapse
// into one. An attached, unmodified workspace is moved to its branch head.
func pullOrigin(ctx context.Context, s *session) error {
	if s.origin == nil {
		return fmt.Errorf("no origin configured; this repository was not cloned")
	}
	src, err := s.origin.open()
	if err != nil {
		return err
	}
	head, _, _, err := readOrigin(src)
	if err != nil {
		return err
	}
	r := s.repo
	if err := r.Pull(head); err != nil {
		return err
	}
	divergent := false
	for _, b := range r.Branches() {
		if !b.IsDivergent() {
			continue
		}
		divergent = true
		for _, h := range b.Heads() {
			if _, err := r.Log(ctx, h.String(), 0); err != nil {
				return err
			}
		}
	}
	if divergent {
		if err := r.Pull(head); err != nil {
			return err
		}
	}
	if r.Status() == repository.Modified || r.IsDetached() || r.CurrentBranch() == nil {
		return nil
	}
	_, err = r.Checkout(ctx, repository.CheckoutOptions{})
	return err
}

func runPull(cmd *cobra.Command, args []string) error {
	return withSession(cmd, true, func(ctx context.Context, s *session) error {
		if err := pullOrigin(ctx, s); err != nil {
			return err
		}
		r := s.repo
		out := cmd.OutOrStdout()
		if r.Status() == repository.Modified || r.IsDetached() {
			fmt.Fprintln(out, "Pulled branch heads; workspace left as is")
			return nil
		}
		fmt.Fprintf(out, "Pulled; %s is at %s\n",
			colors.Branch(branchLabel(r, r.CurrentBranch().Key())), colors.Commit(seals.Name(r.CheckedOut())))
		return nil
	})
}

func runOrigin(cmd *cobra.Command, args []string) error {
	return withSession(cmd, false, func(ctx context.Context, s *session) error {
		out := cmd.OutOrStdout()
		switch {
		case originUnset:
			if len(args) > 0 {
				return fmt.Errorf("--unset takes no store directory")
			}
			if err := s.db.RemoveConfig(remoteOrigin); err != nil {
				return err
			}
			fmt.Fprintln(out, "Origin removed")
		case len(args) == 1:
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if _, err := os.Stat(filepath.Join(dir, "objects.db")); err != nil {
				return fmt.Errorf("%s is not an ivaldi-objects store", dir)
			}
			if err := s.db.PutConfig(remoteOrigin, dir); err != nil {
				return err
			}
			fmt.Fprintf(out, "Origin set to %s\n", dir)
		default:
			dir, err := s.db.GetConfig(remoteOrigin)
			if err == store.ErrNotFound {
				fmt.Fprintln(out, colors.Dim("(no origin)"))
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(out, dir)
		}
		return nil
	})
}
