package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/kilupskalvis/depot/internal/config"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init <server-url> <repo>",
	Short: "Set up a depot workspace in the current directory",
	Long: `Create a .depot directory that points this directory at a repository on a
depot server.

Examples:
  depot init https://depot.example.com game
  depot init http://localhost:8730 game --token depot_...`,
	Args: cobra.ExactArgs(2),
	Run:  runInit,
}

var loginCmd = &cobra.Command{
	Use:   "login <token>",
	Short: "Store an access token for this workspace",
	Args:  cobra.ExactArgs(1),
	Run:   runLogin,
}

var (
	initToken string
	initUser  string
)

func init() {
	initCmd.Flags().StringVar(&initToken, "token", "", "Access token (default: $DEPOT_TOKEN at run time)")
	initCmd.Flags().StringVar(&initUser, "user", os.Getenv("USER"), "User name shown in output")
}

func runInit(_ *cobra.Command, args []string) {
	cwd, err := os.Getwd()
	if err != nil {
		exitError("%v", err)
	}

	cfg, err := config.Initialize(cwd, args[0], args[1])
	if err != nil {
		exitError("%v", err)
	}
	cfg.Token = initToken
	cfg.User = initUser
	if err := cfg.Save(); err != nil {
		exitError("%v", err)
	}

	color.New(color.FgGreen).Printf("Initialized depot workspace for '%s' in %s\n", cfg.Repo, cfg.Path())
	fmt.Println("Next: depot workspace create <name>")
}

func runLogin(_ *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		exitError("%v", err)
	}
	cfg.Token = args[0]
	if err := cfg.Save(); err != nil {
		exitError("%v", err)
	}
	fmt.Println("Token saved.")
}
