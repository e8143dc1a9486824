package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newSessionCmd creates the `pocketclaw session` command group.
func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage conversation history",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reset [group]",
		Short: "Delete a group's message history",
		Long: `Deletes the stored history of one conversation. Without an argument the
default group is reset. Memory and scheduled tasks are kept.

When a server is running, prefer the web UI or /reset in chat so connected
clients are notified.

Examples:
  pocketclaw session reset
  pocketclaw session reset tg:123456789`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			group := a.defaultGroup()
			if len(args) == 1 {
				group = args[0]
			}
			if err := a.store.ClearGroupMessages(cmd.Context(), group); err != nil {
				return fmt.Errorf("resetting %s: %w", group, err)
			}
			fmt.Printf("History of %s cleared.\n", group)
			return nil
		},
	})
	return cmd
}
