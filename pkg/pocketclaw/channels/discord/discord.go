// Package discord implements the Discord channel using discordgo. Group IDs
// for Discord are "dc:<channel id>".
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels"
)

// maxMessageLen is Discord's per-message character limit.
const maxMessageLen = 2000

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// MentionName replaces mentions of the bot ("<@id>") with
	// "@MentionName" so the assistant's trigger pattern sees them.
	MentionName string `yaml:"-"`
}

// Discord implements channels.Channel and channels.PresenceChannel.
type Discord struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	session *discordgo.Session

	messages   chan *channels.IncomingMessage
	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64
}

// New creates a Discord channel.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		cfg:      cfg,
		logger:   logger.With("component", "discord"),
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

func (d *Discord) Name() string { return "discord" }

// IsConfigured reports whether a bot token is set.
func (d *Discord) IsConfigured() bool { return d.cfg.Token != "" }

// Connect opens the gateway connection.
func (d *Discord) Connect(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session != nil {
		return nil
	}
	if d.cfg.Token == "" {
		return channels.ErrNotConfigured
	}

	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}
	d.session = session
	d.connected.Store(true)

	if user := session.State.User; user != nil {
		d.logger.Info("discord: connected", "bot", user.Username, "id", user.ID)
	}
	return nil
}

// Disconnect closes the gateway connection.
func (d *Discord) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return nil
	}
	err := d.session.Close()
	d.session = nil
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return err
}

// Send posts message to a Discord channel, split at the size limit.
func (d *Discord) Send(_ context.Context, chatID string, message *channels.OutgoingMessage) error {
	s := d.current()
	if s == nil {
		return channels.ErrChannelDisconnected
	}
	for _, chunk := range channels.SplitMessage(message.Content, maxMessageLen) {
		if _, err := s.ChannelMessageSend(chatID, chunk); err != nil {
			d.errorCount.Add(1)
			return fmt.Errorf("%w: %v", channels.ErrSendFailed, err)
		}
	}
	return nil
}

// SetTyping triggers Discord's typing indicator. Discord clears it by
// itself, so typing=false is a no-op.
func (d *Discord) SetTyping(_ context.Context, chatID string, typing bool) error {
	s := d.current()
	if s == nil || !typing {
		return nil
	}
	return s.ChannelTyping(chatID)
}

func (d *Discord) Receive() <-chan *channels.IncomingMessage { return d.messages }

func (d *Discord) IsConnected() bool { return d.connected.Load() }

func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     d.connected.Load(),
		Configured:    d.IsConfigured(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
	}
}

func (d *Discord) current() *discordgo.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	botID := ""
	if s.State != nil && s.State.User != nil {
		botID = s.State.User.ID
	}
	if m.Author.ID == botID || m.Content == "" {
		return
	}

	d.lastMsg.Store(time.Now())
	incoming := &channels.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		From:      m.Author.ID,
		FromName:  m.Author.Username,
		ChatID:    m.ChannelID,
		Content:   rewriteMention(m.Content, botID, d.cfg.MentionName),
		Timestamp: m.Timestamp,
	}
	select {
	case d.messages <- incoming:
	default:
		d.logger.Warn("discord: message buffer full, dropping message", "msg_id", m.ID)
	}
}

// rewriteMention turns "<@id>" and "<@!id>" mentions of the bot into
// "@name".
func rewriteMention(content, botID, name string) string {
	if botID == "" || name == "" {
		return content
	}
	content = strings.ReplaceAll(content, "<@!"+botID+">", "@"+name)
	return strings.ReplaceAll(content, "<@"+botID+">", "@"+name)
}

var (
	_ channels.Channel         = (*Discord)(nil)
	_ channels.PresenceChannel = (*Discord)(nil)
)
