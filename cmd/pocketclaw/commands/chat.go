package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels/console"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/coordinator"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/events"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/router"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/store"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/worker"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/worker/llm"
)

// newChatCmd creates the `pocketclaw chat` command for terminal conversations.
func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the assistant from the terminal",
		Long: `Start a conversation in the terminal. The terminal shares the main
chat with the browser, so history carries over. Pass a message to get a
single answer and exit.

Inside the chat:
  /reset     clear the conversation
  /compact   summarize the conversation so far
  /remember  add a fact to the assistant's memory
  /quit      leave

Examples:
  pocketclaw chat
  pocketclaw chat "What's on my plate today?"`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(args) > 0 {
		return chatOnce(ctx, a, args[0])
	}
	return chatInteractive(ctx, a)
}

func (a *app) coordinatorOptions() coordinator.Options {
	return coordinator.Options{
		DefaultGroup:      a.cfg.Coordinator.DefaultGroup,
		HistoryWindow:     a.cfg.Coordinator.HistoryWindow,
		InvocationTimeout: a.cfg.Coordinator.InvocationTimeout,
		TickInterval:      a.cfg.Scheduler.TickInterval,
	}
}

// newWorker builds the model worker boundary with the configured queue.
func (a *app) newWorker() *worker.Boundary {
	return worker.NewBoundary(llm.New(a.logger), a.logger, worker.WithQueueSize(a.cfg.Worker.QueueSize))
}

func (a *app) defaultGroup() string {
	if g := a.cfg.Coordinator.DefaultGroup; g != "" {
		return g
	}
	return router.BuiltinPrefix + console.ChatID
}

func chatInteractive(ctx context.Context, a *app) error {
	cur := a.settings.Current()
	con := console.New(console.Config{
		AssistantName: cur.AssistantName,
		HistoryFile:   filepath.Join(a.cfg.DataDir, "chat_history"),
	}, a.logger)

	mgr := channels.NewManager(a.logger)
	if err := mgr.Register(con); err != nil {
		return err
	}

	coord := coordinator.New(a.coordinatorOptions(), coordinator.Deps{
		Store:    a.store,
		Tasks:    a.tasks,
		Settings: a.settings,
		Router:   router.New(mgr, con.Name(), a.logger),
		Channels: mgr,
		Worker:   a.newWorker(),
		Notifier: &coordinator.BellNotifier{W: os.Stdout},
		Logger:   a.logger,
	})
	bus := coord.Bus()
	events.On(bus, func(e events.Error) { con.Notice(e.Message) })
	events.On(bus, func(events.SessionReset) { con.Notice("conversation cleared") })
	events.On(bus, func(events.ContextCompacted) { con.Notice("conversation compacted") })

	group := a.defaultGroup()
	con.Handle("reset", func(ctx context.Context, _ string) bool {
		if err := coord.NewSession(ctx, group); err != nil {
			con.Notice(err.Error())
		}
		return true
	})
	con.Handle("compact", func(ctx context.Context, _ string) bool {
		if err := coord.Compact(ctx, group); err != nil && !errors.Is(err, coordinator.ErrBusy) && !errors.Is(err, coordinator.ErrNotConfigured) {
			con.Notice(err.Error())
		}
		return true
	})
	con.Handle("remember", func(ctx context.Context, fact string) bool {
		if fact == "" {
			con.Notice("usage: /remember <fact>")
			return true
		}
		if err := a.store.AppendMemory(ctx, fact); err != nil {
			con.Notice(err.Error())
		} else {
			con.Notice("remembered")
		}
		return true
	})

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer coord.Shutdown()

	if !cur.Configured() {
		con.Notice("no model provider configured; run `pocketclaw setup` first")
	}
	fmt.Printf("Chatting with %s. /help for commands, /quit to leave.\n\n", cur.AssistantName)

	select {
	case <-con.Done():
	case <-ctx.Done():
	}
	return nil
}

// chatOnce sends one message to the main chat and prints the answer.
func chatOnce(ctx context.Context, a *app, text string) error {
	coord := coordinator.New(a.coordinatorOptions(), coordinator.Deps{
		Store:    a.store,
		Settings: a.settings,
		Router:   printRouter{},
		Channels: channels.NewManager(a.logger),
		Worker:   a.newWorker(),
		Logger:   a.logger,
	})
	group := a.defaultGroup()

	type outcome struct {
		reply string
		err   error
	}
	done := make(chan outcome, 1)
	finish := func(o outcome) {
		select {
		case done <- o:
		default:
		}
	}

	var reply string
	bus := coord.Bus()
	events.On(bus, func(m events.Message) {
		if m.GroupID == group && m.IsFromMe {
			reply = m.Content
		}
	})
	events.On(bus, func(e events.Error) {
		finish(outcome{err: errors.New(e.Message)})
	})
	events.On(bus, func(s events.StateChanged) {
		if s.State == string(coordinator.StateIdle) {
			finish(outcome{reply: reply})
		}
	})

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer coord.Shutdown()

	if err := coord.Ingest(ctx, store.Message{GroupID: group, Sender: "You", Content: text}); err != nil {
		return err
	}

	wait := a.cfg.Coordinator.InvocationTimeout
	if wait <= 0 {
		wait = 5 * time.Minute
	}
	select {
	case o := <-done:
		if o.err != nil {
			return o.err
		}
		fmt.Println(strings.TrimSpace(o.reply))
		return nil
	case <-time.After(wait + 5*time.Second):
		return fmt.Errorf("no answer within %s", wait)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// printRouter satisfies the coordinator for one-shot chats, where the reply
// is read from the event bus instead of a channel.
type printRouter struct{}

func (printRouter) Send(context.Context, string, string) error { return nil }
func (printRouter) SetTyping(context.Context, string, bool)     {}
func (printRouter) GroupID(_, chatID string) string            { return router.BuiltinPrefix + chatID }
