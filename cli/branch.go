package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/javanhut/Ivaldi-objects/internal/colors"
	"github.com/javanhut/Ivaldi-objects/internal/keys"
	"github.com/javanhut/Ivaldi-objects/internal/repository"
	"github.com/javanhut/Ivaldi-objects/internal/seals"
)

var branchCmd = &cobra.Command{
	Use:   "branch [nickname]",
	Short: "Create a branch at the current commit, or remove one",
	Long: `Create a branch at the current commit and switch to it. Without a
nickname a memorable one is generated. Uncommitted changes move with you.

Examples:
  ivaldi-objects branch feature
  ivaldi-objects branch --delete feature`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBranch,
}

var branchesCmd = &cobra.Command{
	Use:   "branches",
	Short: "List branches",
	Args:  cobra.NoArgs,
	RunE:  runBranches,
}

var nicknameCmd = &cobra.Command{
	Use:   "nickname <nickname> <branch>",
	Short: "Give a branch another local nickname",
	Args:  cobra.ExactArgs(2),
	RunE:  runNickname,
}

var branchDelete string

func init() {
	branchCmd.Flags().StringVar(&branchDelete, "delete", "", "remove the named branch")
}

// createBranch branches under nickname, generating one when it is empty.
func createBranch(r *repository.Repository, nickname string) (string, string, error) {
	if nickname == "" {
		var err error
		if nickname, err = keys.GenerateUniquePhrase(keys.MapLookup(r.Nicknames()), 2, 3); err != nil {
			return "", "", err
		}
	} else if !keys.Valid(nickname) {
		return "", "", fmt.Errorf("invalid nickname %q: use lowercase words joined by dashes", nickname)
	}
	key, err := r.Branch(nickname)
	return nickname, key, err
}

func runBranch(cmd *cobra.Command, args []string) error {
	return withSession(cmd, true, func(ctx context.Context, s *session) error {
		out := cmd.OutOrStdout()
		if branchDelete != "" {
			if len(args) > 0 {
				return fmt.Errorf("--delete takes no nickname argument")
			}
			if s.repo.GetBranch(branchDelete) == nil {
				return fmt.Errorf("no branch %q", branchDelete)
			}
			if err := s.repo.RemoveBranch(branchDelete); err != nil {
				return err
			}
			fmt.Fprintf(out, "Removed branch %s\n", branchDelete)
			return nil
		}
		nickname := ""
		if len(args) == 1 {
			nickname = args[0]
		}
		nickname, key, err := createBranch(s.repo, nickname)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Switched to new branch %s (%s)\n", colors.Branch(nickname), key)
		return nil
	})
}

func runBranches(cmd *cobra.Command, args []string) error {
	return withSession(cmd, false, func(ctx context.Context, s *session) error {
		renderBranches(cmd, s.repo)
		return nil
	})
}

func renderBranches(cmd *cobra.Command, r *repository.Repository) {
	current := ""
	if r.IsDetached() {
		current = r.DetachedFrom()
	} else if b := r.CurrentBranch(); b != nil {
		current = b.Key()
	}

	branches := r.Branches()
	slices.SortFunc(branches, func(a, b *repository.Branch) int {
		return strings.Compare(branchLabel(r, a.Key()), branchLabel(r, b.Key()))
	})

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"", "BRANCH", "KEY", "HEADS", "HEAD"})
	for _, b := range branches {
		marker := ""
		if b.Key() == current {
			marker = "*"
		}
		head := "(empty)"
		if hs := b.Heads(); len(hs) > 0 {
			head = seals.Name(hs[0])
		}
		t.AppendRow([]interface{}{marker, branchLabel(r, b.Key()), b.Key(), len(b.Heads()), head})
	}
	t.AppendSeparator()
	t.Render()
}

func runNickname(cmd *cobra.Command, args []string) error {
	return withSession(cmd, true, func(ctx context.Context, s *session) error {
		nickname, name := args[0], args[1]
		if !keys.Valid(nickname) {
			return fmt.Errorf("invalid nickname %q: use lowercase words joined by dashes", nickname)
		}
		b := s.repo.GetBranch(name)
		if b == nil {
			return fmt.Errorf("no branch %q", name)
		}
		if err := s.repo.SetNickname(nickname, b.Key()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s now also names %s\n", colors.Branch(nickname), b.Key())
		return nil
	})
}
