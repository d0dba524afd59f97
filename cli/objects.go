package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"

	"github.com/javanhut/Ivaldi-objects/internal/colors"
	"github.com/javanhut/Ivaldi-objects/internal/repository"
	"github.com/javanhut/Ivaldi-objects/internal/schema"
)

var setCmd = &cobra.Command{
	Use:   "set <field> <value>",
	Short: "Set a field of a note",
	Long: `Set a scalar field of the note at --path (the root by default).

Paths walk link fields from the root; repeated fields take an index:
  ivaldi-objects set title "Groceries"
  ivaldi-objects set --path children/0 done true
  ivaldi-objects set --append tags urgent`,
	Args: cobra.ExactArgs(2),
	RunE: runSet,
}

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a child note",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdd,
}

var attachCmd = &cobra.Command{
	Use:   "attach <file>",
	Short: "Attach a file to a note",
	Args:  cobra.ExactArgs(1),
	RunE:  runAttach,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a note and what it links to",
	Args:  cobra.NoArgs,
	RunE:  runShow,
}

var (
	objectPath string
	setAppend  bool
	showDepth  int
)

func init() {
	for _, c := range []*cobra.Command{setCmd, addCmd, attachCmd, showCmd} {
		c.Flags().StringVar(&objectPath, "path", "", "path of the note, e.g. children/0")
	}
	setCmd.Flags().BoolVar(&setAppend, "append", false, "append to a repeated field")
	showCmd.Flags().IntVar(&showDepth, "depth", 2, "levels of links to expand")
}

// resolvePath walks a slash-separated path of link fields from root. A
// repeated link field must be followed by an index.
func resolvePath(root *repository.Object, path string) (*repository.Object, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return root, nil
	}
	parts := strings.Split(path, "/")
	o := root
	for i := 0; i < len(parts); i++ {
		name := parts[i]
		_, f, ok := o.Schema().Field(name)
		if !ok {
			return nil, fmt.Errorf("%s has no field %q", o.Type().Class, name)
		}
		if f.Kind != schema.Link {
			return nil, fmt.Errorf("field %q is not a link", name)
		}
		var next *repository.Object
		var err error
		if f.Repeated {
			if i+1 == len(parts) {
				return nil, fmt.Errorf("repeated field %q needs an index", name)
			}
			i++
			idx, perr := strconv.Atoi(parts[i])
			if perr != nil {
				return nil, fmt.Errorf("bad index %q for %q", parts[i], name)
			}
			next, err = o.LinkedAt(name, idx)
		} else {
			next, err = o.Linked(name)
		}
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, fmt.Errorf("%s is not set", strings.Join(parts[:i+1], "/"))
		}
		o = next
	}
	return o, nil
}

// parseValue converts a command-line argument to the Go type of kind.
func parseValue(k schema.Kind, s string) (any, error) {
	switch k {
	case schema.String:
		return s, nil
	case schema.Bytes:
		return []byte(s), nil
	case schema.Int:
		return strconv.ParseInt(s, 10, 64)
	case schema.Float:
		return strconv.ParseFloat(s, 64)
	case schema.Bool:
		return strconv.ParseBool(s)
	}
	return nil, fmt.Errorf("cannot set a %s field from the command line", k)
}

// setField assigns or appends a value given as text.
func setField(o *repository.Object, name, value string, appendValue bool) error {
	_, f, ok := o.Schema().Field(name)
	if !ok {
		return fmt.Errorf("%s has no field %q", o.Type().Class, name)
	}
	v, err := parseValue(f.Kind, value)
	if err != nil {
		return fmt.Errorf("field %q: %w", name, err)
	}
	if f.Repeated || appendValue {
		return o.Append(name, v)
	}
	return o.Set(name, v)
}

func workspaceRoot(s *session) (*repository.Object, error) {
	root := s.repo.Root()
	if root == nil {
		return nil, fmt.Errorf("no workspace; check out a branch first")
	}
	return root, nil
}

func runSet(cmd *cobra.Command, args []string) error {
	return withSession(cmd, true, func(ctx context.Context, s *session) error {
		root, err := workspaceRoot(s)
		if err != nil {
			return err
		}
		o, err := resolvePath(root, objectPath)
		if err != nil {
			return err
		}
		return setField(o, args[0], args[1], setAppend)
	})
}

func runAdd(cmd *cobra.Command, args []string) error {
	return withSession(cmd, true, func(ctx context.Context, s *session) error {
		n, err := addNote(s.repo, objectPath, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", colors.Field(joinPath(objectPath, "children", n)))
		return nil
	})
}

// addNote appends a new note titled title to the children of the note at
// path and returns its index.
func addNote(r *repository.Repository, path, title string) (int, error) {
	if r.Root() == nil {
		return 0, fmt.Errorf("no workspace; check out a branch first")
	}
	parent, err := resolvePath(r.Root(), path)
	if err != nil {
		return 0, err
	}
	child, err := r.CreateObject(noteType)
	if err != nil {
		return 0, err
	}
	if err := child.Set("title", title); err != nil {
		return 0, err
	}
	if err := parent.AppendLink("children", child); err != nil {
		return 0, err
	}
	return parent.Len("children") - 1, nil
}

func runAttach(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	return withSession(cmd, true, func(ctx context.Context, s *session) error {
		root, err := workspaceRoot(s)
		if err != nil {
			return err
		}
		parent, err := resolvePath(root, objectPath)
		if err != nil {
			return err
		}
		blob, err := s.repo.CreateObject(blobType)
		if err != nil {
			return err
		}
		if err := blob.Set("name", filepath.Base(args[0])); err != nil {
			return err
		}
		if err := blob.Set("data", data); err != nil {
			return err
		}
		if err := parent.AppendLink("attachments", blob); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Attached %s (%d bytes)\n", filepath.Base(args[0]), len(data))
		return nil
	})
}

func runShow(cmd *cobra.Command, args []string) error {
	return withSession(cmd, false, func(ctx context.Context, s *session) error {
		root, err := workspaceRoot(s)
		if err != nil {
			return err
		}
		o, err := resolvePath(root, objectPath)
		if err != nil {
			return err
		}
		out, err := renderObject(o, showDepth)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	})
}

// renderObject prints o's set fields as a tree, expanding links depth
// levels deep.
func renderObject(o *repository.Object, depth int) (string, error) {
	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("%s %s", colors.Type(o.Type().String()), o.ID()))
	if err := renderFields(tree, o, depth); err != nil {
		return "", err
	}
	return tree.String(), nil
}

func renderFields(t treeprint.Tree, o *repository.Object, depth int) error {
	for _, f := range o.Schema().Fields {
		if f.Kind == schema.Link {
			if err := renderLinks(t, o, f, depth); err != nil {
				return err
			}
			continue
		}
		if !o.Has(f.Name) {
			continue
		}
		v, err := o.Get(f.Name)
		if err != nil {
			return err
		}
		if b, ok := v.([]byte); ok {
			v = fmt.Sprintf("<%d bytes>", len(b))
		}
		t.AddNode(fmt.Sprintf("%s: %v", colors.Field(f.Name), v))
	}
	return nil
}

func renderLinks(t treeprint.Tree, o *repository.Object, f schema.FieldSpec, depth int) error {
	n := o.Len(f.Name)
	for i := 0; i < n; i++ {
		var target *repository.Object
		var err error
		label := f.Name
		if f.Repeated {
			target, err = o.LinkedAt(f.Name, i)
			label = fmt.Sprintf("%s/%d", f.Name, i)
		} else {
			target, err = o.Linked(f.Name)
		}
		if err != nil {
			return err
		}
		if target == nil {
			continue
		}
		label = fmt.Sprintf("%s %s", colors.Field(label), colors.Type(target.Type().Class))
		if depth <= 0 {
			t.AddNode(label + " ...")
			continue
		}
		if err := renderFields(t.AddBranch(label), target, depth-1); err != nil {
			return err
		}
	}
	return nil
}

func joinPath(base, field string, i int) string {
	p := fmt.Sprintf("%s/%d", field, i)
	if base = strings.Trim(base, "/"); base != "" {
		p = base + "/" + p
	}
	return p
}
