package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newRememberCmd creates the `pocketclaw remember` command that appends a
// fact to the assistant's persistent memory.
func newRememberCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remember <fact>",
		Short: "Add a fact to long-term memory",
		Long: `Adds a fact the assistant should keep in mind in every conversation.
Memory is part of the system prompt, so keep entries short.

Examples:
  pocketclaw remember "I prefer metric units"
  pocketclaw remember "My daily standup is at 9am"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fact := strings.TrimSpace(strings.Join(args, " "))
			if fact == "" {
				return errors.New("nothing to remember")
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.AppendMemory(cmd.Context(), fact); err != nil {
				return fmt.Errorf("saving memory: %w", err)
			}
			fmt.Printf("Remembered: %q\n", fact)
			return nil
		},
	}
}
