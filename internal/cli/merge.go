package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <branch>",
	Short: "Squash a feature branch into its parent",
	Long: `Squash every changelist of a feature branch into one changelist on the
target branch, then delete the feature branch. The target defaults to the
branch's parent.

Examples:
  depot merge feature/ui
  depot merge feature/ui --into main`,
	Args: cobra.ExactArgs(1),
	Run:  runMerge,
}

var mergeInto string

func init() {
	mergeCmd.Flags().StringVar(&mergeInto, "into", "", "Target branch (default: the branch's parent)")
}

func runMerge(_ *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	res, err := c.Client.MergeBranch(c.Ctx(), args[0], mergeInto)
	if err != nil {
		exitError("%v", err)
	}

	color.New(color.FgGreen).Printf("Merged into changelist #%d\n", res.Changelist.Number)
	fmt.Println(indent(res.Changelist.Message))
	fmt.Printf("Deleted branch '%s'\n", res.DeletedBranch)

	if c.Config.Branch == res.DeletedBranch {
		c.Config.Branch = ""
		if err := c.Config.Save(); err != nil {
			exitError("%v", err)
		}
	}
}
