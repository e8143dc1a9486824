package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/skills"
)

// newSkillCmd creates the `pocketclaw skill` command group.
func newSkillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skill",
		Short: "Manage skills",
		Long: `Skills are markdown files in the skills directory. Each one is added to
the system prompt while enabled. The server syncs the directory on start
(and on change, when watching is on); sync does it by hand.

Examples:
  pocketclaw skill list
  pocketclaw skill sync
  pocketclaw skill disable weather`,
	}

	cmd.AddCommand(
		newSkillListCmd(),
		newSkillSyncCmd(),
		newSkillToggleCmd("enable", true),
		newSkillToggleCmd("disable", false),
	)
	return cmd
}

func newSkillListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed skills",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.store.Skills(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Printf("No skills installed. Add markdown files to %s and run `pocketclaw skill sync`.\n", a.skillsDir())
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tENABLED\tSIZE\tUPDATED")
			for _, s := range list {
				fmt.Fprintf(tw, "%s\t%t\t%d\t%s\n", s.Name, s.Enabled, len(s.Content), s.UpdatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

func newSkillSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Load the skills directory into the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := skills.NewSyncer(a.skillsDir(), a.store, a.logger).Sync(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%d skill(s) synced from %s.\n", n, a.skillsDir())
			return nil
		},
	}
}

func newSkillToggleCmd(verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <name>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a skill",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.SetSkillEnabled(cmd.Context(), args[0], enabled); err != nil {
				return err
			}
			fmt.Printf("Skill %s %sd.\n", args[0], verb)
			return nil
		},
	}
}

// skillsDir is the configured skills directory, or ./skills when the config
// leaves it empty.
func (a *app) skillsDir() string {
	if a.cfg.Skills.Dir != "" {
		return a.cfg.Skills.Dir
	}
	return "skills"
}
