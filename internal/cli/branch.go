package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/depot/internal/remote"
	"github.com/spf13/cobra"
)

var branchCmd = &cobra.Command{
	Use:   "branch",
	Short: "List and manage branches",
	Long: `Manage branches in the repository.

Without a subcommand, lists the live branches.

Examples:
  depot branch                               # List branches
  depot branch --pattern 'release/*' --all   # Include archived branches
  depot branch create feature/ui --parent main
  depot branch create release/1.0 --type release --parent main --at 42
  depot branch archive feature/ui
  depot branch delete feature/ui`,
	Run: runBranchList,
}

var branchCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a branch",
	Args:  cobra.ExactArgs(1),
	Run:   runBranchCreate,
}

var branchArchiveCmd = &cobra.Command{
	Use:   "archive <name>",
	Short: "Make a branch read-only",
	Args:  cobra.ExactArgs(1),
	Run:   runBranchArchive,
}

var branchUnarchiveCmd = &cobra.Command{
	Use:   "unarchive <name>",
	Short: "Make an archived branch writable again",
	Args:  cobra.ExactArgs(1),
	Run:   runBranchUnarchive,
}

var branchDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a feature branch",
	Args:  cobra.ExactArgs(1),
	Run:   runBranchDelete,
}

var switchCmd = &cobra.Command{
	Use:   "switch <branch>",
	Short: "Submit to a different branch from this workspace",
	Args:  cobra.ExactArgs(1),
	Run:   runSwitch,
}

var (
	branchPattern string
	branchType    string
	branchAll     bool

	branchCreateType   string
	branchCreateParent string
	branchCreateAt     int64
)

func init() {
	branchCmd.AddCommand(branchCreateCmd, branchArchiveCmd, branchUnarchiveCmd, branchDeleteCmd)

	branchCmd.Flags().StringVar(&branchPattern, "pattern", "", "Glob filter on branch names ('/' separated)")
	branchCmd.Flags().StringVar(&branchType, "type", "", "Only branches of this type (mainline|release|feature)")
	branchCmd.Flags().BoolVarP(&branchAll, "all", "a", false, "Include archived branches")

	f := branchCreateCmd.Flags()
	f.StringVar(&branchCreateType, "type", "feature", "Branch type (mainline|release|feature)")
	f.StringVar(&branchCreateParent, "parent", "", "Parent branch (required for release and feature)")
	f.Int64Var(&branchCreateAt, "at", -1, "Changelist to start from (default: the parent's head)")
}

func runBranchList(_ *cobra.Command, _ []string) {
	c := initContext()
	defer c.Close()

	branches, err := c.Client.ListBranches(c.Ctx(), branchPattern, branchType, branchAll)
	if err != nil {
		exitError("failed to list branches: %v", err)
	}

	current := c.Config.Branch
	green := color.New(color.FgGreen)
	faint := color.New(color.Faint)
	for _, b := range branches {
		marker := "  "
		if b.Name == current || (current == "" && b.IsDefault) {
			marker = "* "
		}
		line := fmt.Sprintf("%s%-32s %-9s #%d", marker, b.Name, b.Type, b.HeadNumber)
		if b.ParentBranchName != "" {
			line += "  (from " + b.ParentBranchName + ")"
		}
		switch {
		case b.IsArchived():
			faint.Println(line + "  [archived]")
		case marker == "* ":
			green.Println(line)
		default:
			fmt.Println(line)
		}
	}
}

func runBranchCreate(_ *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	req := &remote.CreateBranchRequest{
		Name:   args[0],
		Type:   branchCreateType,
		Parent: branchCreateParent,
	}
	if branchCreateAt >= 0 {
		req.HeadNumber = &branchCreateAt
	}

	b, err := c.Client.CreateBranch(c.Ctx(), req)
	if err != nil {
		exitError("%v", err)
	}
	color.New(color.FgGreen).Printf("Created %s branch '%s' at #%d\n", b.Type, b.Name, b.HeadNumber)
}

func runBranchArchive(_ *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	if _, err := c.Client.ArchiveBranch(c.Ctx(), args[0]); err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Archived branch '%s'\n", args[0])
}

func runBranchUnarchive(_ *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	if _, err := c.Client.UnarchiveBranch(c.Ctx(), args[0]); err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Unarchived branch '%s'\n", args[0])
}

func runBranchDelete(_ *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	b, err := c.Client.DeleteBranch(c.Ctx(), args[0])
	if err != nil {
		exitError("%v", err)
	}
	if c.Config.Branch == args[0] {
		c.Config.Branch = ""
		if err := c.Config.Save(); err != nil {
			exitError("%v", err)
		}
	}
	fmt.Printf("Deleted %s branch '%s' (was #%d)\n", b.Type, b.Name, b.HeadNumber)
}

func runSwitch(_ *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	b, err := c.Client.GetBranch(c.Ctx(), args[0])
	if err != nil {
		exitError("%v", err)
	}
	if b.IsArchived() {
		color.New(color.FgYellow).Printf("warning: branch '%s' is archived and cannot be submitted to\n", b.Name)
	}

	c.Config.Branch = b.Name
	if err := c.Config.Save(); err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Switched to branch '%s' (#%d)\n", b.Name, b.HeadNumber)
}
