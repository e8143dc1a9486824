package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/scheduler"
)

// newScheduleCmd creates the `pocketclaw schedule` command group.
func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled tasks",
		Long: `Manages recurring prompts. Schedules are 5-field cron expressions
(minute hour day month weekday) or descriptors such as @daily or @every 2h.
A running server picks up changes on its next tick.

Examples:
  pocketclaw schedule list
  pocketclaw schedule add "0 9 * * 1-5" "Send me a daily briefing"
  pocketclaw schedule add @hourly "Check the build" --group tg:123456789
  pocketclaw schedule disable <id>
  pocketclaw schedule remove <id>`,
	}

	cmd.AddCommand(
		newScheduleListCmd(),
		newScheduleAddCmd(),
		newScheduleRemoveCmd(),
		newScheduleToggleCmd("enable", true),
		newScheduleToggleCmd("disable", false),
	)
	return cmd
}

func newScheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled tasks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			tasks, err := a.tasks.LoadTasks(cmd.Context())
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Println("No scheduled tasks.")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tGROUP\tSCHEDULE\tENABLED\tRUNS\tLAST RUN\tPROMPT")
			for _, t := range tasks {
				last := "-"
				if t.LastRunAt != nil {
					last = t.LastRunAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%s\t%s\n",
					t.ID, t.GroupID, t.Schedule, t.Enabled, t.RunCount, last, truncate(t.Prompt, 50))
				if t.LastError != "" {
					fmt.Fprintf(tw, "\t\t\t\t\terror:\t%s\n", t.LastError)
				}
			}
			return tw.Flush()
		},
	}
}

func newScheduleAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <schedule> <prompt>",
		Short: "Add a scheduled task",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			group, _ := cmd.Flags().GetString("group")
			if group == "" {
				group = a.defaultGroup()
			}
			task, err := scheduler.NewTask(group, args[0], strings.Join(args[1:], " "), "cli")
			if err != nil {
				return err
			}
			if err := a.tasks.SaveTask(cmd.Context(), task); err != nil {
				return err
			}
			fmt.Printf("Task %s scheduled (%s) for %s.\n", task.ID, task.Schedule, task.GroupID)
			return nil
		},
	}
	cmd.Flags().StringP("group", "g", "", "conversation to post into (default: the default group)")
	return cmd
}

func newScheduleRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a scheduled task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.tasks.DeleteTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Task %s removed.\n", args[0])
			return nil
		},
	}
}

func newScheduleToggleCmd(verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			task, err := a.tasks.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			task.Enabled = enabled
			if err := a.tasks.SaveTask(cmd.Context(), task); err != nil {
				return err
			}
			fmt.Printf("Task %s %sd.\n", task.ID, verb)
			return nil
		},
	}
}

// truncate shortens s to n runes, marking the cut.
func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
