// Package cli implements the ivaldi-objects command line: a cobra command
// tree over a repository of notes kept in a store directory.
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/javanhut/Ivaldi-objects/internal/colors"
	"github.com/javanhut/Ivaldi-objects/internal/config"
	"github.com/javanhut/Ivaldi-objects/internal/keys"
	"github.com/javanhut/Ivaldi-objects/internal/seals"
)

var rootCmd = &cobra.Command{
	Use:   "ivaldi-objects",
	Short: "A versioned store of structured objects",
	Long: `ivaldi-objects keeps a tree of notes under version control.

Every committed object is stored once under the hash of its content. Commits
form a history per branch that can be logged, checked out at any point,
stashed, packed and cloned.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var initialCmd = &cobra.Command{
	Use:   "init [nickname]",
	Short: "Initialize a repository",
	Long:  "Creates the store directory and a repository with a main branch and an empty root note.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInit,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the repository and workspace state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var (
	cfg        *config.Config
	globalPath string

	storeFlag string
	noColor   bool
	initTitle string
)

// Execute runs the command line and exits with status 1 on error.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		klog.Flush()
		os.Exit(1)
	}
}

func init() {
	klog.InitFlags(nil)
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "store directory (overrides core.store)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable coloured output")

	initialCmd.Flags().StringVar(&initTitle, "title", "root", "title of the root note")

	rootCmd.AddCommand(initialCmd, statusCmd)

	// Object editing
	rootCmd.AddCommand(setCmd, addCmd, attachCmd, showCmd)

	// History
	rootCmd.AddCommand(commitCmd, logCmd, checkoutCmd, resetCmd)

	// Branches and stashes
	rootCmd.AddCommand(branchCmd, branchesCmd, nicknameCmd)
	rootCmd.AddCommand(stashCmd, unstashCmd, stashesCmd)

	// Transfer
	rootCmd.AddCommand(packCmd, unpackCmd, cloneCmd, pullCmd, originCmd)

	rootCmd.AddCommand(configCmd)
}

// setup loads configuration before any command runs. The store directory
// comes from --store or core.store in the global config, and the
// repository config inside it is layered on top.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if globalPath, err = config.GlobalPath(); err != nil {
		klog.V(1).Infof("no global config: %v", err)
		globalPath = ""
	}
	base, err := config.Load(globalPath, "")
	if err != nil {
		return err
	}
	dir := storeFlag
	if dir == "" {
		dir = storeDir(base)
	}
	if cfg, err = config.Load(globalPath, config.RepoPath(dir)); err != nil {
		return err
	}
	cfg.Core.Store = dir

	if f := cmd.Flags().Lookup("v"); f != nil && !f.Changed && cfg.Log.Verbosity > 0 {
		_ = flag.Set("v", strconv.Itoa(cfg.Log.Verbosity))
	}
	colors.SetColorEnabled(colors.IsColorEnabled() && cfg.Color.UI && !noColor)
	return nil
}

// withSession opens the repository, runs fn and saves the session when fn
// succeeds and mutating is set.
func withSession(cmd *cobra.Command, mutating bool, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	s, err := openSession(ctx, storeDir(cfg), cfg)
	if err != nil {
		return err
	}
	defer s.close()
	if err := fn(ctx, s); err != nil {
		return err
	}
	if mutating {
		return s.save()
	}
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := storeDir(cfg)
	if _, err := os.Stat(filepath.Join(dir, "objects.db")); err == nil {
		return fmt.Errorf("repository already initialized in %s", dir)
	}
	nickname := ""
	if len(args) == 1 {
		nickname = args[0]
		if !keys.Valid(nickname) {
			return fmt.Errorf("invalid nickname %q: use lowercase words joined by dashes", nickname)
		}
	}

	s, err := openStore(dir, cfg)
	if err != nil {
		return err
	}
	defer s.close()
	id, err := initRepository(s, nickname, initTitle)
	if err != nil {
		return err
	}
	nickname, _ = s.state(stateNickname)
	fmt.Fprintf(cmd.OutOrStdout(), "Initialized repository %s (%s) in %s\n",
		colors.Bold(nickname), s.repo.RepositoryKey(), dir)
	fmt.Fprintf(cmd.OutOrStdout(), "Initial commit %s\n", colors.Commit(sealOf(id)))
	return nil
}

// initRepository creates the repository in an opened store, commits the
// root note and saves the session. It returns the initial commit id.
func initRepository(s *session, nickname, title string) (string, error) {
	r, err := s.wb.InitRepository(noteType, nickname)
	if err != nil {
		return "", err
	}
	s.repo = r
	if err := r.Root().Set("title", title); err != nil {
		return "", err
	}
	id, err := r.Commit("initialize repository")
	if err != nil {
		return "", err
	}
	for nick, key := range s.wb.Nicknames() {
		if key == r.RepositoryKey() {
			if err := s.db.PutState(stateNickname, nick); err != nil {
				return "", err
			}
		}
	}
	return id, s.save()
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withSession(cmd, false, func(ctx context.Context, s *session) error {
		out := cmd.OutOrStdout()
		r := s.repo
		nickname, _ := s.state(stateNickname)
		fmt.Fprintf(out, "Repository: %s (%s)\n", colors.Bold(nickname), r.RepositoryKey())
		if r.IsDetached() {
			fmt.Fprintf(out, "Detached head at %s (from branch %s)\n",
				colors.Commit(seals.Name(r.CheckedOut())), colors.Branch(branchLabel(r, r.DetachedFrom())))
		} else if b := r.CurrentBranch(); b != nil {
			fmt.Fprintf(out, "On branch %s\n", colors.Branch(branchLabel(r, b.Key())))
			fmt.Fprintf(out, "Commit: %s\n", colors.Commit(seals.Name(r.CheckedOut())))
		}
		fmt.Fprintf(out, "Workspace: %s\n", colors.Status(r.Status().String()))
		if n := len(r.Stashes()); n > 0 {
			fmt.Fprintf(out, "Stashes: %d\n", n)
		}
		if dir, err := s.db.GetConfig(remoteOrigin); err == nil {
			fmt.Fprintf(out, "Origin: %s\n", dir)
		}
		return nil
	})
}
