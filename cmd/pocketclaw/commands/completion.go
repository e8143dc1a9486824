package commands

import (
	"os"

	"github.com/spf13/cobra"
)

// newCompletionCmd creates the `pocketclaw completion` command that generates
// shell completion scripts for bash, zsh, fish, and powershell.
func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell auto-completion scripts for pocketclaw.

Bash:
  $ source <(pocketclaw completion bash)

Zsh:
  $ source <(pocketclaw completion zsh)

Fish:
  $ pocketclaw completion fish > ~/.config/fish/completions/pocketclaw.fish

PowerShell:
  PS> pocketclaw completion powershell | Out-String | Invoke-Expression`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cmd.Root()
			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(os.Stdout, true)
			case "zsh":
				return root.GenZshCompletion(os.Stdout)
			case "fish":
				return root.GenFishCompletion(os.Stdout, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(os.Stdout)
			}
			return nil
		},
	}
}
