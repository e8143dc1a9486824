package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels/browser"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels/discord"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels/slack"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels/telegram"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels/whatsapp"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/config"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/coordinator"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/events"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/router"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/skills"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/webui"
)

// newServeCmd creates the `pocketclaw serve` command that runs the daemon.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant with the web UI and messaging channels",
		Long: `Start PocketClaw as a long-running service: the browser chat and API
on the web UI address, plus every configured messaging channel
(Telegram, Discord, WhatsApp, Slack).

Examples:
  pocketclaw serve
  pocketclaw serve --channel telegram --channel slack
  pocketclaw serve --config ./config.yaml`,
		RunE: runServe,
	}

	cmd.Flags().StringSlice("channel", nil, "optional channels to enable (telegram, discord, whatsapp, slack); default all configured")
	cmd.Flags().Bool("chime", false, "ring the terminal bell when a scheduled task answers")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Channels ──
	mgr := channels.NewManager(logger)
	chat := browser.New(cfg.WebUI.AllowedOrigins, logger)
	if err := mgr.Register(chat); err != nil {
		return err
	}
	filter, _ := cmd.Flags().GetStringSlice("channel")
	wa := registerAdapters(mgr, cfg.Channels, a.settings.Current().AssistantName, filter, logger)

	// ── Coordinator ──
	var notifier coordinator.Notifier = coordinator.NopNotifier{}
	if chime, _ := cmd.Flags().GetBool("chime"); chime {
		notifier = &coordinator.BellNotifier{W: os.Stdout}
	}
	coord := coordinator.New(coordinator.Options{
		DefaultGroup:      cfg.Coordinator.DefaultGroup,
		HistoryWindow:     cfg.Coordinator.HistoryWindow,
		InvocationTimeout: cfg.Coordinator.InvocationTimeout,
		TickInterval:      cfg.Scheduler.TickInterval,
	}, coordinator.Deps{
		Store:    a.store,
		Tasks:    a.tasks,
		Settings: a.settings,
		Router:   router.New(mgr, chat.Name(), logger),
		Channels: mgr,
		Worker:   a.newWorker(),
		Notifier: notifier,
		Logger:   logger,
	})
	logErrors(coord.Bus(), logger)

	// ── Skills ──
	if cfg.Skills.Dir != "" {
		syncer := skills.NewSyncer(cfg.Skills.Dir, a.store, logger)
		if cfg.Skills.Watch {
			if err := syncer.Watch(ctx, 0); err != nil {
				logger.Warn("skills watcher not started", "error", err)
			}
		} else if _, err := syncer.Sync(ctx); err != nil {
			logger.Warn("skills sync failed", "error", err)
		}
	}

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	// ── Web UI ──
	var web *webui.Server
	if cfg.WebUI.Enabled {
		deps := webui.Deps{
			Coordinator: coord,
			History:     a.store,
			Tasks:       a.tasks,
			Settings:    a.settings,
			Channels:    mgr,
			Chat:        chat,
		}
		if wa != nil {
			deps.WhatsApp = wa
		}
		web = webui.New(webui.Config{Address: cfg.WebUI.Address, AuthToken: cfg.WebUI.AuthToken}, deps, logger)
		if err := web.Start(ctx); err != nil {
			coord.Shutdown()
			return err
		}
	}

	cur := a.settings.Current()
	logger.Info("PocketClaw running. Press Ctrl+C to stop.",
		"assistant", cur.AssistantName,
		"provider", cur.Provider,
		"configured", cur.Configured(),
		"channels", mgr.Names(),
	)
	if !cur.Configured() {
		logger.Warn("no model provider configured; run `pocketclaw setup` or `pocketclaw config set-key`")
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping...")

	done := make(chan struct{})
	go func() {
		if web != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := web.Stop(sctx); err != nil {
				logger.Warn("web UI shutdown", "error", err)
			}
			cancel()
		}
		coord.Shutdown()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}
	return nil
}

// registerAdapters registers every optional adapter that has credentials
// and passes the filter. It returns the WhatsApp adapter when registered,
// for the pairing endpoint.
func registerAdapters(mgr *channels.Manager, cfg config.ChannelsConfig, assistant string, filter []string, logger *slog.Logger) *whatsapp.WhatsApp {
	cfg.Discord.MentionName = assistant
	cfg.Slack.MentionName = assistant

	var wa *whatsapp.WhatsApp
	candidates := []channels.Channel{
		telegram.New(cfg.Telegram, logger),
		discord.New(cfg.Discord, logger),
		slack.New(cfg.Slack, logger),
	}
	if cfg.WhatsApp.Enabled {
		wa = whatsapp.New(cfg.WhatsApp, logger)
		candidates = append(candidates, wa)
	}

	for _, ch := range candidates {
		if !ch.IsConfigured() || !shouldEnable(ch.Name(), filter) {
			continue
		}
		if err := mgr.Register(ch); err != nil {
			logger.Error("failed to register channel", "channel", ch.Name(), "error", err)
			continue
		}
		logger.Info("channel registered", "channel", ch.Name())
	}
	if wa != nil && !slices.Contains(mgr.Names(), wa.Name()) {
		return nil
	}
	return wa
}

// shouldEnable checks a channel against the --channel filter.
func shouldEnable(name string, filter []string) bool {
	return len(filter) == 0 || slices.Contains(filter, name)
}

// logErrors mirrors user-visible errors into the log.
func logErrors(bus *events.Bus, logger *slog.Logger) {
	events.On(bus, func(e events.Error) {
		logger.Warn("assistant error", "group", e.GroupID, "message", e.Message)
	})
}
