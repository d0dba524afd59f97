package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/javanhut/Ivaldi-objects/internal/cas"
	"github.com/javanhut/Ivaldi-objects/internal/colors"
	"github.com/javanhut/Ivaldi-objects/internal/config"
	"github.com/javanhut/Ivaldi-objects/internal/repository"
	"github.com/javanhut/Ivaldi-objects/internal/seals"
)

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Commit the workspace",
	Args:  cobra.NoArgs,
	RunE:  runCommit,
}

var logCmd = &cobra.Command{
	Use:   "log [commit]",
	Short: "Show commit history",
	Long: `Display the history of the current branch, or of a commit.

Examples:
  ivaldi-objects log                  # Show all commits
  ivaldi-objects log --oneline        # Show concise one-line format
  ivaldi-objects log --limit 10       # Show only last 10 commits
  ivaldi-objects log --tree           # Show the ancestry as a tree`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLog,
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout [branch]",
	Short: "Load a branch head or an earlier commit",
	Long: `Replace the workspace with a commit of a branch (the current one by default).

Without --commit or --older-than the branch head is loaded and new commits
extend the branch. Any other commit is a detached, read-only head.

Examples:
  ivaldi-objects checkout main
  ivaldi-objects checkout --commit swift-anvil-glows-bright-447abe9b
  ivaldi-objects checkout --older-than 2024-05-01`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheckout,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard uncommitted changes",
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

var (
	commitMessage string
	logOneline    bool
	logLimit      int
	logTree       bool
	checkoutID    string
	checkoutOlder string
)

func init() {
	commitCmd.Flags().StringVarP(&commitMessage, "message", "m", "", "commit message")
	_ = commitCmd.MarkFlagRequired("message")

	logCmd.Flags().BoolVar(&logOneline, "oneline", false, "Show one line per commit")
	logCmd.Flags().IntVar(&logLimit, "limit", 0, "Limit number of commits to show")
	logCmd.Flags().BoolVar(&logTree, "tree", false, "Show the ancestry as a tree")

	checkoutCmd.Flags().StringVar(&checkoutID, "commit", "", "commit id, CID or seal name")
	checkoutCmd.Flags().StringVar(&checkoutOlder, "older-than", "", "latest commit at or before this date (RFC 3339 or YYYY-MM-DD)")
}

// sealOf returns the seal name of a commit id, or the id itself if it
// does not parse.
func sealOf(id string) string {
	h, err := cas.ParseHash(id)
	if err != nil {
		return id
	}
	return seals.Name(h)
}

func runCommit(cmd *cobra.Command, args []string) error {
	return withSession(cmd, true, func(ctx context.Context, s *session) error {
		if s.repo.Status() != repository.Modified {
			return fmt.Errorf("nothing to commit, workspace is %s", s.repo.Status())
		}
		id, err := s.repo.Commit(commitComment(commitMessage, s.cfg))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", colors.Commit(sealOf(id)), commitMessage)
		return nil
	})
}

// commitComment appends a sign-off line when user.name is configured.
func commitComment(message string, cfg *config.Config) string {
	if cfg.User.Name == "" {
		return message
	}
	signer := cfg.User.Name
	if cfg.User.Email != "" {
		signer += " <" + cfg.User.Email + ">"
	}
	return message + "\n\nSigned-off-by: " + signer
}

func runLog(cmd *cobra.Command, args []string) error {
	return withSession(cmd, false, func(ctx context.Context, s *session) error {
		from := ""
		if len(args) == 1 {
			id, err := resolveCommit(ctx, s.repo, args[0])
			if err != nil {
				return err
			}
			from = id
		}
		out := cmd.OutOrStdout()
		if logTree {
			tree, err := s.repo.AncestryTree(ctx, from)
			if err != nil {
				return err
			}
			fmt.Fprint(out, tree)
			return nil
		}
		commits, err := s.repo.Log(ctx, from, logLimit)
		if err != nil {
			return err
		}
		for _, c := range commits {
			writeCommit(out, c, logOneline)
		}
		return nil
	})
}

func writeCommit(out io.Writer, c *repository.CommitRef, oneline bool) {
	name := seals.Name(c.Key())
	if oneline {
		summary, _, _ := strings.Cut(c.Comment(), "\n")
		fmt.Fprintf(out, "%s %s\n", colors.Commit(name), summary)
		return
	}
	fmt.Fprintf(out, "%s %s\n", colors.Bold("seal"), colors.Commit(name))
	fmt.Fprintf(out, "id:   %s\n", c.ID())
	if cid, err := c.Key().CID(); err == nil {
		fmt.Fprintf(out, "cid:  %s\n", colors.Dim(cid))
	}
	for _, p := range c.Parents() {
		rel := "parent"
		if p.Relationship == repository.MergedFrom {
			rel = "merged"
		}
		fmt.Fprintf(out, "%-6s%s\n", rel+":", colors.Commit(seals.Name(p.Commit)))
	}
	fmt.Fprintf(out, "date: %s\n", c.Date().Format(time.RFC1123))
	fmt.Fprintln(out)
	for _, line := range strings.Split(c.Comment(), "\n") {
		fmt.Fprintf(out, "    %s\n", line)
	}
	fmt.Fprintln(out)
}

// resolveCommit turns a commit id, CID or seal name into a commit id. Seal
// names are looked up in the history of every branch.
func resolveCommit(ctx context.Context, r *repository.Repository, ref string) (string, error) {
	if _, err := cas.ParseHash(ref); err == nil {
		return ref, nil
	}
	if _, ok := seals.ShortHash(ref); !ok {
		return "", fmt.Errorf("%q is not a commit id, CID or seal name", ref)
	}
	for _, b := range r.Branches() {
		for _, h := range b.Heads() {
			commits, err := r.Log(ctx, h.String(), 0)
			if err != nil {
				return "", err
			}
			for _, c := range commits {
				if seals.Matches(ref, c.Key()) {
					return c.ID(), nil
				}
			}
		}
	}
	return "", fmt.Errorf("no commit named %s", ref)
}

// parseDate accepts RFC 3339 timestamps and plain dates. A plain date
// means the end of that day in UTC.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q: use RFC 3339 or YYYY-MM-DD", s)
	}
	return d.Add(24*time.Hour - time.Nanosecond), nil
}

func runCheckout(cmd *cobra.Command, args []string) error {
	return withSession(cmd, true, func(ctx context.Context, s *session) error {
		opts := repository.CheckoutOptions{}
		if len(args) == 1 {
			opts.Branch = args[0]
		}
		if checkoutID != "" {
			id, err := resolveCommit(ctx, s.repo, checkoutID)
			if err != nil {
				return err
			}
			opts.CommitID = id
		}
		if checkoutOlder != "" {
			t, err := parseDate(checkoutOlder)
			if err != nil {
				return err
			}
			opts.OlderThan = t
		}
		if _, err := s.repo.Checkout(ctx, opts); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		name := colors.Commit(seals.Name(s.repo.CheckedOut()))
		if s.repo.IsDetached() {
			fmt.Fprintf(out, "Detached head at %s (read only)\n", name)
			return nil
		}
		fmt.Fprintf(out, "Switched to branch %s at %s\n", colors.Branch(branchLabel(s.repo, s.repo.CurrentBranch().Key())), name)
		return nil
	})
}

func runReset(cmd *cobra.Command, args []string) error {
	return withSession(cmd, true, func(ctx context.Context, s *session) error {
		if s.repo.Status() != repository.Modified {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to reset")
			return nil
		}
		if _, err := s.repo.Reset(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Reset to %s\n", colors.Commit(seals.Name(s.repo.CheckedOut())))
		return nil
	})
}

// branchLabel prefers a branch's nickname over its key.
func branchLabel(r *repository.Repository, key string) string {
	var names []string
	for nick, k := range r.Nicknames() {
		if k == key {
			names = append(names, nick)
		}
	}
	if len(names) == 0 {
		return key
	}
	slices.Sort(names)
	return strings.Join(names, ", ")
}
