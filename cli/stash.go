package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/javanhut/Ivaldi-objects/internal/keys"
)

var stashCmd = &cobra.Command{
	Use:   "stash <name>",
	Short: "Save the workspace under a name without committing",
	Args:  cobra.ExactArgs(1),
	RunE:  runStash,
}

var unstashCmd = &cobra.Command{
	Use:   "unstash <name>",
	Short: "Replace an unmodified workspace with a stash",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnstash,
}

var stashesCmd = &cobra.Command{
	Use:   "stashes",
	Short: "List stashes",
	Args:  cobra.NoArgs,
	RunE:  runStashes,
}

var stashKeep bool

func init() {
	stashCmd.Flags().BoolVar(&stashKeep, "keep", false, "keep the changes in the workspace")
}

func runStash(cmd *cobra.Command, args []string) error {
	name := args[0]
	if !keys.Valid(name) {
		return fmt.Errorf("invalid stash name %q: use lowercase words joined by dashes", name)
	}
	return withSession(cmd, true, func(ctx context.Context, s *session) error {
		if _, ok := s.repo.Stashes()[name]; ok {
			return fmt.Errorf("stash %q already exists", name)
		}
		key, err := s.repo.Stash(name)
		if err != nil {
			return err
		}
		if !stashKeep {
			if _, err := s.repo.Reset(ctx); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stashed workspace as %s (%s)\n", name, key.Short())
		return nil
	})
}

func runUnstash(cmd *cobra.Command, args []string) error {
	return withSession(cmd, true, func(ctx context.Context, s *session) error {
		if _, err := s.repo.Unstash(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Restored stash %s; commit to keep it\n", args[0])
		return nil
	})
}

func runStashes(cmd *cobra.Command, args []string) error {
	return withSession(cmd, false, func(ctx context.Context, s *session) error {
		stashes := s.repo.Stashes()
		names := make([]string, 0, len(stashes))
		for name := range stashes {
			if name != workspaceStash {
				names = append(names, name)
			}
		}
		slices.Sort(names)

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.AppendHeader(table.Row{"STASH", "ROOT"})
		for _, name := range names {
			t.AppendRow([]interface{}{name, stashes[name].String()})
		}
		t.Render()
		return nil
	})
}
