package cli

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/kilupskalvis/depot/internal/models"
	"github.com/kilupskalvis/depot/internal/remote"
	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit [paths...]",
	Short: "Submit a changelist to the current branch",
	Long: `Record a new changelist on the workspace branch.

Each path argument is added or modified. Deletions and renames are given
with --delete and --move. Files are checked in (released) unless --keep
is set.

Examples:
  depot submit -m "Tweak lighting" maps/level1.umap
  depot submit -m "Remove old props" --delete props/crate_old.fbx
  depot submit -m "Rename" --move props/crate.fbx=props/box.fbx`,
	Run: runSubmit,
}

var (
	submitMessage string
	submitKeep    bool
	submitDeletes []string
	submitMoves   []string
	submitIndex   string
	submitBranch  string
)

func init() {
	f := submitCmd.Flags()
	f.StringVarP(&submitMessage, "message", "m", "", "Changelist description (required)")
	f.BoolVar(&submitKeep, "keep", false, "Keep submitted files checked out")
	f.StringArrayVar(&submitDeletes, "delete", nil, "Path to delete (repeatable)")
	f.StringArrayVar(&submitMoves, "move", nil, "Rename as old=new (repeatable)")
	f.StringVar(&submitIndex, "index", "", "Opaque content index recorded with the changelist")
	f.StringVarP(&submitBranch, "branch", "b", "", "Target branch (default: the workspace branch)")
	_ = submitCmd.MarkFlagRequired("message")
}

func runSubmit(_ *cobra.Command, args []string) {
	mods, err := buildModifications(args, submitDeletes, submitMoves)
	if err != nil {
		exitError("%v", err)
	}
	if len(mods) == 0 {
		exitError("nothing to submit")
	}

	c := initContext()
	defer c.Close()
	wsID := c.requireWorkspace()

	branch := submitBranch
	if branch == "" {
		branch = c.Config.Branch
	}

	resp, err := c.Client.Submit(c.Ctx(), &remote.SubmitRequest{
		WorkspaceID:    wsID,
		Branch:         branch,
		Message:        submitMessage,
		VersionIndex:   submitIndex,
		Modifications:  mods,
		KeepCheckedOut: submitKeep,
	})
	if err != nil {
		printLockDetails(err)
		exitError("submit failed: %v", err)
	}

	color.New(color.FgGreen).Printf("Submitted changelist #%d\n", resp.Number)
	fmt.Printf("  %d file(s), branch %s\n", len(mods), currentBranch(c, "(default)"))
}

// buildModifications turns CLI arguments into submit modifications.
// A path may appear only once across all three forms. A move is sent as the
// new path carrying OldPath plus a delete of the old path.
func buildModifications(edits, deletes, moves []string) ([]models.Modification, error) {
	seen := make(map[string]bool)
	var mods []models.Modification
	add := func(m models.Modification) error {
		if seen[m.Path] {
			return fmt.Errorf("path %q given more than once", m.Path)
		}
		seen[m.Path] = true
		mods = append(mods, m)
		return nil
	}

	for _, p := range edits {
		if err := add(models.Modification{Path: p}); err != nil {
			return nil, err
		}
	}
	for _, p := range deletes {
		if err := add(models.Modification{Path: p, Delete: true}); err != nil {
			return nil, err
		}
	}
	for _, mv := range moves {
		oldPath, newPath, ok := strings.Cut(mv, "=")
		if !ok || oldPath == "" || newPath == "" {
			return nil, fmt.Errorf("invalid --move %q, want old=new", mv)
		}
		if err := add(models.Modification{Path: newPath, OldPath: oldPath}); err != nil {
			return nil, err
		}
		if err := add(models.Modification{Path: oldPath, Delete: true}); err != nil {
			return nil, err
		}
	}
	return mods, nil
}

// printLockDetails lists the paths held by other users when the server
// rejected a request because of exclusive locks.
func printLockDetails(err error) {
	var re *remote.RemoteError
	if !errors.As(err, &re) || len(re.Details) == 0 {
		return
	}
	red := color.New(color.FgRed)
	for _, path := range slices.Sorted(maps.Keys(re.Details)) {
		red.Printf("  locked: %s (by %s)\n", path, re.Details[path])
	}
}
