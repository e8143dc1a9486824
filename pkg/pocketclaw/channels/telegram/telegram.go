// Package telegram implements the Telegram channel on the Bot API using
// long polling. Group IDs for Telegram are "tg:<chat id>".
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels"
)

// maxMessageLen is the Bot API limit for one text message.
const maxMessageLen = 4096

// Config holds Telegram channel configuration.
type Config struct {
	// Token is the Bot API token from @BotFather.
	Token string `yaml:"token"`
}

// Telegram implements channels.Channel and channels.PresenceChannel.
type Telegram struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	bot    *tgbotapi.BotAPI
	cancel context.CancelFunc
	done   chan struct{}

	messages   chan *channels.IncomingMessage
	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64
}

// New creates a Telegram channel.
func New(cfg Config, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{
		cfg:      cfg,
		logger:   logger.With("component", "telegram"),
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

func (t *Telegram) Name() string { return "telegram" }

// IsConfigured reports whether a bot token is set.
func (t *Telegram) IsConfigured() bool { return t.cfg.Token != "" }

// Connect authenticates the bot and starts polling for updates.
func (t *Telegram) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bot != nil {
		return nil
	}
	if t.cfg.Token == "" {
		return channels.ErrNotConfigured
	}

	bot, err := tgbotapi.NewBotAPI(t.cfg.Token)
	if err != nil {
		return fmt.Errorf("telegram: authenticating bot: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := bot.GetUpdatesChan(u)

	pollCtx, cancel := context.WithCancel(ctx)
	t.bot, t.cancel, t.done = bot, cancel, make(chan struct{})
	t.connected.Store(true)
	go t.poll(pollCtx, updates, t.done)

	t.logger.Info("telegram: connected", "bot", bot.Self.UserName)
	return nil
}

// Disconnect stops polling.
func (t *Telegram) Disconnect() error {
	t.mu.Lock()
	bot, cancel, done := t.bot, t.cancel, t.done
	t.bot, t.cancel, t.done = nil, nil, nil
	t.mu.Unlock()

	if bot == nil {
		return nil
	}
	cancel()
	bot.StopReceivingUpdates()
	<-done
	t.connected.Store(false)
	t.logger.Info("telegram: disconnected")
	return nil
}

// Send posts message to a chat, split at the size limit.
func (t *Telegram) Send(_ context.Context, chatID string, message *channels.OutgoingMessage) error {
	bot := t.current()
	if bot == nil {
		return channels.ErrChannelDisconnected
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q", chatID)
	}
	for _, chunk := range channels.SplitMessage(message.Content, maxMessageLen) {
		if _, err := bot.Send(tgbotapi.NewMessage(id, chunk)); err != nil {
			t.errorCount.Add(1)
			return fmt.Errorf("%w: %v", channels.ErrSendFailed, err)
		}
	}
	return nil
}

// SetTyping sends the "typing" chat action. Telegram expires it on its own,
// so typing=false is a no-op.
func (t *Telegram) SetTyping(_ context.Context, chatID string, typing bool) error {
	bot := t.current()
	if bot == nil || !typing {
		return nil
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q", chatID)
	}
	_, err = bot.Request(tgbotapi.NewChatAction(id, tgbotapi.ChatTyping))
	return err
}

func (t *Telegram) Receive() <-chan *channels.IncomingMessage { return t.messages }

func (t *Telegram) IsConnected() bool { return t.connected.Load() }

func (t *Telegram) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := t.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     t.connected.Load(),
		Configured:    t.IsConfigured(),
		LastMessageAt: lastAt,
		ErrorCount:    int(t.errorCount.Load()),
	}
}

func (t *Telegram) current() *tgbotapi.BotAPI {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bot
}

func (t *Telegram) poll(ctx context.Context, updates tgbotapi.UpdatesChannel, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if msg := toIncoming(update); msg != nil {
				t.lastMsg.Store(time.Now())
				select {
				case t.messages <- msg:
				default:
					t.logger.Warn("telegram: message buffer full, dropping message", "msg_id", msg.ID)
				}
			}
		}
	}
}

// toIncoming converts a text update. Anything else returns nil.
func toIncoming(update tgbotapi.Update) *channels.IncomingMessage {
	m := update.Message
	if m == nil || m.Text == "" || m.Chat == nil {
		return nil
	}
	from, name := "", ""
	if m.From != nil {
		if m.From.IsBot {
			return nil
		}
		from = strconv.FormatInt(m.From.ID, 10)
		name = m.From.FirstName
		if name == "" {
			name = m.From.UserName
		}
	}
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	return &channels.IncomingMessage{
		ID:        chatID + ":" + strconv.Itoa(m.MessageID),
		Channel:   "telegram",
		From:      from,
		FromName:  name,
		ChatID:    chatID,
		Content:   m.Text,
		Timestamp: m.Time(),
	}
}

var (
	_ channels.Channel         = (*Telegram)(nil)
	_ channels.PresenceChannel = (*Telegram)(nil)
)
