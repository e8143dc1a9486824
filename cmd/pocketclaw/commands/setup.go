package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/config"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/settings"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/worker/llm"
)

// newSetupCmd creates the `pocketclaw setup` command for interactive configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Walks through the essentials: the assistant's name, the model provider,
its credential and model. The credential is encrypted (AES-256-GCM) before it
is stored; the key protecting it lives in the OS keyring.

Examples:
  pocketclaw setup`,
		RunE: runSetup,
	}
}

func runSetup(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	cur := a.settings.Current()
	var (
		name      = cur.AssistantName
		provider  = cur.Provider
		model     = cur.Model
		ollamaURL = cur.OllamaURL
		apiKey    string
		writeCfg  = a.cfgPath == ""
	)
	if provider == "" {
		provider = settings.ProviderAnthropic
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("PocketClaw setup").
				Description("Answers are saved to the local database.\nRun this again any time to change them."),
			huh.NewInput().
				Title("Assistant name").
				Description("Mention it with @name in group chats.").
				Value(&name).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("a name is required")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Model provider").
				Options(
					huh.NewOption("Anthropic (Claude)", settings.ProviderAnthropic),
					huh.NewOption("OpenAI", settings.ProviderOpenAI),
					huh.NewOption("Google Gemini", settings.ProviderGemini),
					huh.NewOption("Ollama (local)", settings.ProviderOllama),
				).
				Value(&provider),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("API key").
				Description("Leave empty to keep the stored key.").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
		).WithHideFunc(func() bool { return provider == settings.ProviderOllama }),
		huh.NewGroup(
			huh.NewInput().
				Title("Ollama server URL").
				Value(&ollamaURL),
		).WithHideFunc(func() bool { return provider != settings.ProviderOllama }),
		huh.NewGroup(
			huh.NewInput().
				Title("Model").
				DescriptionFunc(func() string {
					if d := llm.DefaultModel(provider); d != "" {
						return "Empty uses " + d + "."
					}
					return "Required for Ollama, e.g. llama3.1."
				}, &provider).
				Value(&model),
			huh.NewConfirm().
				Title("Write a config.yaml in this directory?").
				Value(&writeCfg),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled.")
			return nil
		}
		return err
	}

	next, err := a.settings.Update(cmd.Context(), func(s *settings.Settings) error {
		s.AssistantName = strings.TrimSpace(name)
		s.Provider = provider
		s.Model = strings.TrimSpace(model)
		s.OllamaURL = strings.TrimSpace(ollamaURL)
		if k := strings.TrimSpace(apiKey); k != "" {
			s.APIKey = k
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}

	if writeCfg {
		if err := writeDefaultConfig("config.yaml"); err != nil {
			return err
		}
	}

	fmt.Println()
	fmt.Printf("  Assistant:  %s\n", next.AssistantName)
	fmt.Printf("  Provider:   %s\n", next.Provider)
	fmt.Printf("  Model:      %s\n", orDefault(next.Model, llm.DefaultModel(next.Provider)))
	if next.Provider == settings.ProviderOllama {
		fmt.Printf("  Ollama URL: %s\n", next.OllamaURL)
	} else if next.APIKey != "" {
		fmt.Println("  API key:    **** (encrypted)")
	} else {
		fmt.Println("  API key:    (not set, run `pocketclaw config set-key`)")
	}
	fmt.Println()
	if next.Configured() {
		fmt.Println("Ready. Start with `pocketclaw serve` or `pocketclaw chat`.")
	} else {
		fmt.Println("Not configured yet: the provider is missing a credential or model.")
	}
	return nil
}

// writeDefaultConfig writes the default config unless the file exists.
func writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("%s already exists, leaving it unchanged.\n", path)
		return nil
	}
	if err := config.Save(config.DefaultConfig(), path); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	fmt.Printf("Wrote %s.\n", path)
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def + " (default)"
	}
	return v
}
