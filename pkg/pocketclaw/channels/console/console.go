// Package console implements the terminal chat channel used by the `chat`
// command. Every line typed is a message in the built-in "main" chat; lines
// starting with "/" are local commands.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels"
)

// ChatID is the only chat the console carries.
const ChatID = "main"

// CommandFunc handles a "/name args" line. Returning false stops the REPL.
type CommandFunc func(ctx context.Context, args string) bool

// Config configures the console.
type Config struct {
	// AssistantName prefixes replies.
	AssistantName string

	// HistoryFile persists line history between sessions. Empty disables it.
	HistoryFile string

	// Stdin and Stdout default to the process terminal.
	Stdin  io.ReadCloser
	Stdout io.Writer
}

// Console implements channels.PresenceChannel on top of a readline REPL.
type Console struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	rl       *readline.Instance
	out      io.Writer
	commands map[string]CommandFunc
	done     chan struct{}

	messages  chan *channels.IncomingMessage
	connected atomic.Bool
	lastMsg   atomic.Value // time.Time
}

// New creates the console channel.
func New(cfg Config, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AssistantName == "" {
		cfg.AssistantName = "Assistant"
	}
	return &Console{
		cfg:      cfg,
		logger:   logger.With("component", "console"),
		out:      cfg.Stdout,
		commands: make(map[string]CommandFunc),
		done:     make(chan struct{}),
		messages: make(chan *channels.IncomingMessage, 16),
	}
}

// Handle registers a slash command. "/quit" and "/exit" are built in.
func (c *Console) Handle(name string, fn CommandFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands[strings.TrimPrefix(name, "/")] = fn
}

// Done is closed when the user leaves the REPL (EOF, ^C, /quit).
func (c *Console) Done() <-chan struct{} { return c.done }

func (c *Console) Name() string       { return "console" }
func (c *Console) IsConfigured() bool { return true }

// Connect opens the terminal and starts reading lines.
func (c *Console) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     c.cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "bye",
		Stdin:           c.cfg.Stdin,
		Stdout:          c.cfg.Stdout,
	})
	if err != nil {
		return fmt.Errorf("console: opening terminal: %w", err)
	}

	c.mu.Lock()
	c.rl = rl
	c.out = rl.Stdout()
	c.mu.Unlock()
	c.connected.Store(true)

	go c.readLoop(ctx, rl)
	return nil
}

// Disconnect closes the terminal.
func (c *Console) Disconnect() error {
	if !c.connected.Swap(false) {
		return nil
	}
	c.mu.Lock()
	rl := c.rl
	c.rl = nil
	c.mu.Unlock()
	if rl != nil {
		return rl.Close()
	}
	return nil
}

// Send prints a reply.
func (c *Console) Send(_ context.Context, _ string, message *channels.OutgoingMessage) error {
	if !c.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	c.printf("\n%s: %s\n\n", c.cfg.AssistantName, message.Content)
	return nil
}

// SetTyping prints a one-line thinking marker when typing starts.
func (c *Console) SetTyping(_ context.Context, _ string, typing bool) error {
	if typing && c.connected.Load() {
		c.printf("%s is thinking...\n", c.cfg.AssistantName)
	}
	return nil
}

// Notice prints a status line that is not a chat reply.
func (c *Console) Notice(text string) {
	c.printf("[%s]\n", text)
}

func (c *Console) Receive() <-chan *channels.IncomingMessage { return c.messages }

func (c *Console) IsConnected() bool { return c.connected.Load() }

func (c *Console) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := c.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     c.connected.Load(),
		Configured:    true,
		LastMessageAt: lastAt,
	}
}

func (c *Console) readLoop(ctx context.Context, rl *readline.Instance) {
	defer close(c.done)
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return
			}
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Debug("console read failed", "error", err)
			}
			return
		}
		if !c.handleLine(ctx, line) {
			return
		}
	}
}

// handleLine dispatches one input line and reports whether to keep reading.
func (c *Console) handleLine(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}

	if name, args, ok := parseCommand(line); ok {
		switch name {
		case "quit", "exit":
			return false
		case "help":
			c.printf("%s\n", c.helpText())
			return true
		}
		c.mu.Lock()
		fn, found := c.commands[name]
		c.mu.Unlock()
		if !found {
			c.printf("unknown command /%s (try /help)\n", name)
			return true
		}
		return fn(ctx, args)
	}

	c.lastMsg.Store(time.Now())
	msg := &channels.IncomingMessage{
		ID:        uuid.NewString(),
		Channel:   "console",
		From:      "user",
		FromName:  "You",
		ChatID:    ChatID,
		Content:   line,
		Timestamp: time.Now(),
	}
	select {
	case c.messages <- msg:
	case <-ctx.Done():
		return false
	}
	return true
}

func (c *Console) helpText() string {
	c.mu.Lock()
	names := make([]string, 0, len(c.commands)+2)
	for name := range c.commands {
		names = append(names, "/"+name)
	}
	c.mu.Unlock()
	names = append(names, "/help", "/quit")
	return "commands: " + strings.Join(names, " ")
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	out := c.out
	c.mu.Unlock()
	if out != nil {
		fmt.Fprintf(out, format, args...)
	}
}

// parseCommand splits "/name rest" into its parts.
func parseCommand(line string) (name, args string, ok bool) {
	if !strings.HasPrefix(line, "/") || len(line) == 1 {
		return "", "", false
	}
	name, args, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(name), strings.TrimSpace(args), true
}

var (
	_ channels.Channel         = (*Console)(nil)
	_ channels.PresenceChannel = (*Console)(nil)
)
