package commands

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/config"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/settings"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/worker/llm"
)

// newConfigCmd creates the `pocketclaw config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manages the two layers of configuration: the YAML file (data dir,
channels, web UI) and the runtime settings stored in the database
(assistant name, provider, model, credential).

Examples:
  pocketclaw config init
  pocketclaw config show
  pocketclaw config set model claude-sonnet-4-5
  pocketclaw config set-key`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigSetCmd(),
		newConfigSetKeyCmd(),
	)
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config.yaml",
		RunE: func(_ *cobra.Command, _ []string) error {
			return writeDefaultConfig("config.yaml")
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cfgPath != "" {
				fmt.Printf("# file: %s\n", a.cfgPath)
			} else {
				fmt.Println("# file: (none, using defaults)")
			}
			data, err := yaml.Marshal(redactConfig(a.cfg))
			if err != nil {
				return err
			}
			os.Stdout.Write(data)

			s := a.settings.Current()
			fmt.Println()
			fmt.Println("# runtime settings")
			fmt.Printf("assistant_name: %s\n", s.AssistantName)
			fmt.Printf("provider: %s\n", s.Provider)
			fmt.Printf("model: %s\n", orDefault(s.Model, llm.DefaultModel(s.Provider)))
			fmt.Printf("max_tokens: %d\n", s.MaxTokens)
			fmt.Printf("ollama_url: %s\n", s.OllamaURL)
			fmt.Printf("api_key: %s\n", maskSet(s.APIKey))
			fmt.Printf("configured: %t\n", s.Configured())
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a runtime setting",
		Long: `Changes one runtime setting. Keys: assistant_name, provider, model,
max_tokens, ollama_url. Use set-key for the API key.`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{settings.KeyAssistantName, settings.KeyProvider, settings.KeyModel, settings.KeyMaxTokens, settings.KeyOllamaURL},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			_, err = a.settings.Update(cmd.Context(), func(s *settings.Settings) error {
				return applySetting(s, args[0], args[1])
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s updated.\n", args[0])
			return nil
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the provider API key (encrypted)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			key, err := settings.ReadSecret("API key: ")
			if err != nil {
				return err
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return errors.New("empty key, nothing stored")
			}
			if _, err := a.settings.Update(cmd.Context(), func(s *settings.Settings) error {
				s.APIKey = key
				return nil
			}); err != nil {
				return err
			}
			fmt.Println("API key stored.")
			return nil
		},
	}
}

// applySetting sets one named runtime setting from its string form.
func applySetting(s *settings.Settings, key, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case settings.KeyAssistantName:
		s.AssistantName = value
	case settings.KeyProvider:
		s.Provider = value
	case settings.KeyModel:
		s.Model = value
	case settings.KeyMaxTokens:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("max_tokens: %w", err)
		}
		s.MaxTokens = n
	case settings.KeyOllamaURL:
		s.OllamaURL = value
	case settings.KeyAPIKey:
		return errors.New("use `pocketclaw config set-key` so the key is not left in shell history")
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

// redactConfig returns a copy of cfg with credentials masked.
func redactConfig(cfg *config.Config) *config.Config {
	c := *cfg
	c.Database.DSN = maskSet(c.Database.DSN)
	c.WebUI.AuthToken = maskSet(c.WebUI.AuthToken)
	c.Channels.Telegram.Token = maskSet(c.Channels.Telegram.Token)
	c.Channels.Discord.Token = maskSet(c.Channels.Discord.Token)
	c.Channels.Slack.BotToken = maskSet(c.Channels.Slack.BotToken)
	c.Channels.Slack.AppToken = maskSet(c.Channels.Slack.AppToken)
	return &c
}

func maskSet(v string) string {
	if v == "" {
		return ""
	}
	return "****"
}
