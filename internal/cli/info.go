package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show repository and workspace information",
	Run:   runInfo,
}

func runInfo(_ *cobra.Command, _ []string) {
	c := initContext()
	defer c.Close()

	info, err := c.Client.GetRepoInfo(c.Ctx())
	if err != nil {
		exitError("%v", err)
	}

	bold := color.New(color.Bold)
	bold.Printf("Repository %s\n", info.Name)
	fmt.Printf("  Server:         %s\n", c.Config.ServerURL)
	fmt.Printf("  Default branch: %s\n", info.DefaultBranch)
	fmt.Printf("  Branches:       %d\n", info.BranchCount)
	fmt.Printf("  Changelists:    %d (latest #%d)\n", info.ChangelistCount, info.LatestNumber)
	fmt.Printf("  Created:        %s\n", info.CreatedAt.Local().Format("2006-01-02 15:04"))
	fmt.Println()
	fmt.Printf("  Branch:         %s\n", currentBranch(c, info.DefaultBranch))
	if c.Config.WorkspaceID != "" {
		fmt.Printf("  Workspace:      %s (%s)\n", c.Config.WorkspaceName, shortID(c.Config.WorkspaceID))
	} else {
		color.New(color.FgYellow).Println("  Workspace:      none")
	}
}

// currentBranch is the configured branch or the repository default.
func currentBranch(c *cmdContext, fallback string) string {
	if c.Config.Branch != "" {
		return c.Config.Branch
	}
	return fallback
}
