package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/depot/internal/remote"
)

var editCmd = &cobra.Command{
	Use:     "edit <path>...",
	Aliases: []string{"checkout"},
	Short:   "Open files for edit in the workspace",
	Long: `Check out files in the current workspace so others can see who is
working on them. With --lock the checkout is exclusive: nobody else can
lock or submit the file until it is released.

Examples:
  depot edit maps/level1.umap
  depot edit --lock textures/hero.psd`,
	Args: cobra.MinimumNArgs(1),
	Run:  runEdit,
}

var openedCmd = &cobra.Command{
	Use:   "opened <path>...",
	Short: "Show who has files checked out",
	Args:  cobra.MinimumNArgs(1),
	Run:   runOpened,
}

var locksCmd = &cobra.Command{
	Use:   "locks <path>...",
	Short: "Show exclusive locks held by others",
	Args:  cobra.MinimumNArgs(1),
	Run:   runLocks,
}

var editLock bool

func init() {
	editCmd.Flags().BoolVarP(&editLock, "lock", "l", false, "Take an exclusive lock")
}

func runEdit(_ *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()
	wsID := c.requireWorkspace()

	failed := false
	for _, path := range args {
		co, err := c.Client.Checkout(c.Ctx(), &remote.CheckoutRequest{
			WorkspaceID: wsID,
			Path:        path,
			Locked:      editLock,
		})
		if err != nil {
			printLockDetails(err)
			color.New(color.FgRed).Printf("%s: %v\n", path, err)
			failed = true
			continue
		}
		if co.Locked {
			fmt.Printf("%s - opened for edit, locked\n", co.Path)
		} else {
			fmt.Printf("%s - opened for edit\n", co.Path)
		}
	}
	if failed {
		c.Close()
		exitError("some files could not be opened")
	}
}

func runOpened(_ *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	cos, err := c.Client.ActiveCheckouts(c.Ctx(), args)
	if err != nil {
		exitError("%v", err)
	}

	mine := c.Config.WorkspaceID
	for _, co := range cos {
		line := fmt.Sprintf("%s - %s@%s", co.Path, co.UserID, shortID(co.WorkspaceID))
		if co.Locked {
			line += " *locked*"
		}
		if co.WorkspaceID == mine {
			color.New(color.FgGreen).Println(line)
		} else {
			fmt.Println(line)
		}
	}
}

func runLocks(_ *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	conflicts, err := c.Client.LockConflicts(c.Ctx(), args)
	if err != nil {
		exitError("%v", err)
	}
	if len(conflicts) == 0 {
		fmt.Println("No conflicting locks")
		return
	}
	red := color.New(color.FgRed)
	for _, lc := range conflicts {
		red.Printf("%s - locked by %s@%s\n", lc.Path, lc.UserID, shortID(lc.WorkspaceID))
	}
}
