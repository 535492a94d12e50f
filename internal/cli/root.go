// Package cli implements the depot command-line interface.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/kilupskalvis/depot/internal/config"
	"github.com/kilupskalvis/depot/internal/remote"
	"github.com/spf13/cobra"
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config *config.Config
	Client remote.RemoteClient
	ctx    context.Context
	stop   context.CancelFunc
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.stop != nil {
		c.stop()
	}
}

// Ctx is cancelled on interrupt.
func (c *cmdContext) Ctx() context.Context {
	return c.ctx
}

// initContext loads .depot/config and builds a retrying client for its repo.
func initContext() *cmdContext {
	cfg, err := config.Load()
	if err != nil {
		exitError("%v", err)
	}

	token := cfg.TokenOrEnv()
	if token == "" {
		exitError("no token configured; run 'depot login <token>' or set DEPOT_TOKEN")
	}

	client := remote.NewRetryClient(remote.NewHTTPClient(cfg.ServerURL, cfg.Repo, token), nil)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	return &cmdContext{Config: cfg, Client: client, ctx: ctx, stop: stop}
}

// requireWorkspace exits unless the workspace has been registered with the server.
func (c *cmdContext) requireWorkspace() string {
	if c.Config.WorkspaceID == "" {
		c.Close()
		exitError("no workspace; run 'depot workspace create <name>' first")
	}
	return c.Config.WorkspaceID
}

var rootCmd = &cobra.Command{
	Use:   "depot",
	Short: "Centralized version control for large binary projects",
	Long: `depot is a centralized version control system. A server keeps a numbered
changelist history per repository, branches with a fixed hierarchy, and exclusive
file locks; this CLI talks to it over HTTP.`,
}

// Execute runs the root command
func Execute() error {
	registerCompletions()
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(branchCmd)
	rootCmd.AddCommand(switchCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(changesCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(changedCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(revertCmd)
	rootCmd.AddCommand(openedCmd)
	rootCmd.AddCommand(locksCmd)
	rootCmd.AddCommand(serverCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// shortID returns first 8 characters of an ID
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
