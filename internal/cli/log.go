package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/kilupskalvis/depot/internal/models"
	"github.com/kilupskalvis/depot/internal/remote"
	"github.com/spf13/cobra"
)

var changesCmd = &cobra.Command{
	Use:     "changes",
	Aliases: []string{"log"},
	Short:   "Show changelist history of a branch",
	Long: `Display changelists along a branch, newest first.

Examples:
  depot changes
  depot changes -b release/1.0 -m 50
  depot changes --start 120
  depot changes --since 2024-05-01T00:00:00Z`,
	Run: runChanges,
}

var describeCmd = &cobra.Command{
	Use:   "describe <number>",
	Short: "Show a changelist and the files it changed",
	Args:  cobra.ExactArgs(1),
	Run:   runDescribe,
}

var changedCmd = &cobra.Command{
	Use:   "changed <from> <to>",
	Short: "List paths changed after changelist <from> up to <to>",
	Args:  cobra.ExactArgs(2),
	Run:   runChanged,
}

var (
	changesBranch  string
	changesMax     int
	changesStart   int64
	changesSince   string
	changesOneline bool
)

func init() {
	f := changesCmd.Flags()
	f.StringVarP(&changesBranch, "branch", "b", "", "Branch to walk (default: the workspace branch)")
	f.IntVarP(&changesMax, "max", "m", 0, "Maximum number of changelists (server default 20, limit 100)")
	f.Int64Var(&changesStart, "start", -1, "Start from this changelist instead of the branch head")
	f.StringVar(&changesSince, "since", "", "Start from the newest changelist at or before this RFC 3339 time")
	f.BoolVar(&changesOneline, "oneline", false, "Show each changelist on a single line")
}

func runChanges(_ *cobra.Command, _ []string) {
	c := initContext()
	defer c.Close()

	opts := remote.HistoryOptions{Branch: changesBranch, Count: changesMax}
	if opts.Branch == "" {
		opts.Branch = c.Config.Branch
	}
	if changesStart >= 0 {
		opts.Start = &changesStart
	}
	if changesSince != "" {
		t, err := time.Parse(time.RFC3339, changesSince)
		if err != nil {
			exitError("invalid --since: %v", err)
		}
		opts.Since = &t
	}

	cls, err := c.Client.History(c.Ctx(), opts)
	if err != nil {
		exitError("failed to get history: %v", err)
	}

	yellow := color.New(color.FgYellow)
	for _, cl := range cls {
		if changesOneline {
			yellow.Printf("#%-6d ", cl.Number)
			fmt.Printf("%-12s %s\n", cl.UserID, firstLine(cl.Message))
			continue
		}
		printChangelistHeader(cl)
		fmt.Println()
	}
}

func runDescribe(_ *cobra.Command, args []string) {
	n, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		exitError("invalid changelist number %q", args[0])
	}

	c := initContext()
	defer c.Close()

	cl, err := c.Client.GetChangelist(c.Ctx(), n)
	if err != nil {
		exitError("%v", err)
	}
	files, err := c.Client.ChangelistFiles(c.Ctx(), n)
	if err != nil {
		exitError("%v", err)
	}

	printChangelistHeader(cl)
	if cl.VersionIndex != "" {
		fmt.Printf("Index:  %s\n", cl.VersionIndex)
	}
	fmt.Println()
	for _, fc := range files {
		printFileChange(fc)
	}
}

func runChanged(_ *cobra.Command, args []string) {
	from, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		exitError("invalid changelist number %q", args[0])
	}
	to, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		exitError("invalid changelist number %q", args[1])
	}

	c := initContext()
	defer c.Close()

	paths, err := c.Client.ChangedPaths(c.Ctx(), from, to)
	if err != nil {
		exitError("%v", err)
	}
	for _, p := range paths {
		fmt.Println(p)
	}
}

func printChangelistHeader(cl *models.Changelist) {
	color.New(color.FgYellow).Printf("changelist #%d\n", cl.Number)
	fmt.Printf("Author: %s\n", cl.UserID)
	fmt.Printf("Date:   %s\n", cl.CreatedAt.Local().Format("Mon Jan 2 15:04:05 2006"))
	fmt.Printf("\n%s\n", indent(cl.Message))
}

func printFileChange(fc *models.FileChange) {
	var c *color.Color
	switch fc.Type {
	case models.ChangeAdd:
		c = color.New(color.FgGreen)
	case models.ChangeDelete:
		c = color.New(color.FgRed)
	default:
		c = color.New(color.FgCyan)
	}
	if fc.OldPath != "" && fc.OldPath != fc.Path {
		c.Printf("  %-7s %s -> %s\n", strings.ToLower(string(fc.Type)), fc.OldPath, fc.Path)
		return
	}
	c.Printf("  %-7s %s\n", strings.ToLower(string(fc.Type)), fc.Path)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func indent(s string) string {
	return "    " + strings.ReplaceAll(s, "\n", "\n    ")
}
