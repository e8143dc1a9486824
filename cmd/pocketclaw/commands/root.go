// Package commands implements the pocketclaw CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pocketclaw",
		Short: "PocketClaw - a single-user chat assistant",
		Long: `PocketClaw is a personal chat assistant. It answers in the browser,
the terminal, Telegram, Discord, WhatsApp and Slack, runs recurring tasks,
and remembers what you tell it.

Examples:
  pocketclaw setup
  pocketclaw serve
  pocketclaw chat
  pocketclaw schedule add "0 9 * * 1-5" "Give me a short daily briefing"
  pocketclaw remember "I prefer metric units"`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newSetupCmd(),
		newConfigCmd(),
		newScheduleCmd(),
		newSkillCmd(),
		newRememberCmd(),
		newSessionCmd(),
		newHealthCmd(),
		newCompletionCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
