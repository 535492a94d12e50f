package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var revertCmd = &cobra.Command{
	Use:   "revert <path>...",
	Short: "Release checkouts without submitting",
	Args:  cobra.MinimumNArgs(1),
	Run:   runRevert,
}

func runRevert(_ *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()
	wsID := c.requireWorkspace()

	for _, path := range args {
		if _, err := c.Client.UndoCheckout(c.Ctx(), wsID, path); err != nil {
			c.Close()
			exitError("%s: %v", path, err)
		}
		fmt.Printf("%s - reverted\n", path)
	}
}
