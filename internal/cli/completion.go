package cli

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilupskalvis/depot/internal/config"
	"github.com/kilupskalvis/depot/internal/remote"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion script",
		Long: `Generate shell completion script for depot.

Branch names are completed by asking the server, so completion works
inside an initialized workspace with a token configured.

Bash:
  $ source <(depot completion bash)

Zsh:
  $ source <(depot completion zsh)

Fish:
  $ depot completion fish > ~/.config/fish/completions/depot.fish
`,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		DisableFlagsInUseLine: true,
		Run: func(cmd *cobra.Command, args []string) {
			switch args[0] {
			case "bash":
				rootCmd.GenBashCompletionV2(os.Stdout, true)
			case "zsh":
				rootCmd.GenZshCompletion(os.Stdout)
			case "fish":
				rootCmd.GenFishCompletion(os.Stdout, true)
			case "powershell":
				rootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
			}
		},
	})
}

// registerCompletions attaches dynamic completions once every command has
// registered its flags.
func registerCompletions() {
	for _, cmd := range []*cobra.Command{
		switchCmd, mergeCmd,
		branchArchiveCmd, branchUnarchiveCmd, branchDeleteCmd,
	} {
		cmd.ValidArgsFunction = completeBranches
	}
	_ = branchCreateCmd.RegisterFlagCompletionFunc("parent", completeBranches)
	_ = mergeCmd.RegisterFlagCompletionFunc("into", completeBranches)
	_ = changesCmd.RegisterFlagCompletionFunc("branch", completeBranches)
	_ = submitCmd.RegisterFlagCompletionFunc("branch", completeBranches)
	_ = branchCreateCmd.RegisterFlagCompletionFunc("type", cobra.FixedCompletions(
		[]string{"mainline", "release", "feature"}, cobra.ShellCompDirectiveNoFileComp))
}

// completeBranches offers live branch names. Errors yield no suggestions rather than exiting.
func completeBranches(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	cfg, err := config.Load()
	if err != nil || cfg.TokenOrEnv() == "" {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client := remote.NewHTTPClient(cfg.ServerURL, cfg.Repo, cfg.TokenOrEnv())
	branches, err := client.ListBranches(ctx, "", "", false)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	var names []string
	for _, b := range branches {
		if strings.HasPrefix(b.Name, toComplete) {
			names = append(names, b.Name)
		}
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}
