package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Manage this directory's server-side workspace",
}

var workspaceCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Register a workspace with the server and use it here",
	Args:  cobra.ExactArgs(1),
	Run:   runWorkspaceCreate,
}

var workspaceShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the workspace used by this directory",
	Run:   runWorkspaceShow,
}

func init() {
	workspaceCmd.AddCommand(workspaceCreateCmd, workspaceShowCmd)
}

func runWorkspaceCreate(_ *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	ws, err := c.Client.CreateWorkspace(c.Ctx(), args[0])
	if err != nil {
		exitError("%v", err)
	}

	c.Config.WorkspaceID = ws.ID
	c.Config.WorkspaceName = ws.Name
	if err := c.Config.Save(); err != nil {
		exitError("%v", err)
	}
	color.New(color.FgGreen).Printf("Created workspace '%s' (%s)\n", ws.Name, shortID(ws.ID))
}

func runWorkspaceShow(_ *cobra.Command, _ []string) {
	c := initContext()
	defer c.Close()

	ws, err := c.Client.GetWorkspace(c.Ctx(), c.requireWorkspace())
	if err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Workspace %s\n", ws.Name)
	fmt.Printf("  ID:      %s\n", ws.ID)
	fmt.Printf("  Owner:   %s\n", ws.UserID)
	fmt.Printf("  Created: %s\n", ws.CreatedAt.Local().Format("2006-01-02 15:04"))
}
