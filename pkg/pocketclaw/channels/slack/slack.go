// Package slack implements the Slack channel over Socket Mode, so no public
// HTTP endpoint is needed. Group IDs for Slack are "sl:<channel id>".
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels"
)

// maxMessageLen keeps messages well under Slack's text limit.
const maxMessageLen = 3900

// Config holds Slack channel configuration.
type Config struct {
	// BotToken is the xoxb- bot token.
	BotToken string `yaml:"bot_token"`

	// AppToken is the xapp- app-level token required by Socket Mode.
	AppToken string `yaml:"app_token"`

	// MentionName replaces mentions of the bot user ("<@U123>") with
	// "@MentionName" so the assistant's trigger pattern sees them.
	MentionName string `yaml:"-"`
}

// Slack implements channels.Channel.
type Slack struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	client    *slack.Client
	botUserID string
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	messages   chan *channels.IncomingMessage
	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64
}

// New creates a Slack channel.
func New(cfg Config, logger *slog.Logger) *Slack {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slack{
		cfg:      cfg,
		logger:   logger.With("component", "slack"),
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

func (s *Slack) Name() string { return "slack" }

// IsConfigured reports whether both tokens are set.
func (s *Slack) IsConfigured() bool {
	return s.cfg.BotToken != "" && s.cfg.AppToken != ""
}

// Connect authenticates and opens the Socket Mode connection.
func (s *Slack) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return nil
	}
	if !s.IsConfigured() {
		return channels.ErrNotConfigured
	}

	client := slack.New(s.cfg.BotToken, slack.OptionAppLevelToken(s.cfg.AppToken))
	auth, err := client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	socket := socketmode.New(client)

	runCtx, cancel := context.WithCancel(ctx)
	s.client, s.botUserID, s.cancel = client, auth.UserID, cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.handleEvents(runCtx, socket)
	}()
	go func() {
		defer s.wg.Done()
		if err := socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			s.errorCount.Add(1)
			s.connected.Store(false)
			s.logger.Error("slack: socket mode stopped", "error", err)
		}
	}()

	s.connected.Store(true)
	s.logger.Info("slack: connected", "team", auth.Team, "bot_user", auth.UserID)
	return nil
}

// Disconnect closes the Socket Mode connection.
func (s *Slack) Disconnect() error {
	s.mu.Lock()
	cancel := s.cancel
	s.client, s.cancel = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	s.wg.Wait()
	s.connected.Store(false)
	s.logger.Info("slack: disconnected")
	return nil
}

// Send posts message to a channel.
func (s *Slack) Send(ctx context.Context, chatID string, message *channels.OutgoingMessage) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return channels.ErrChannelDisconnected
	}
	for _, chunk := range channels.SplitMessage(message.Content, maxMessageLen) {
		if _, _, err := client.PostMessageContext(ctx, chatID, slack.MsgOptionText(chunk, false)); err != nil {
			s.errorCount.Add(1)
			return fmt.Errorf("%w: %v", channels.ErrSendFailed, err)
		}
	}
	return nil
}

func (s *Slack) Receive() <-chan *channels.IncomingMessage { return s.messages }

func (s *Slack) IsConnected() bool { return s.connected.Load() }

func (s *Slack) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := s.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     s.connected.Load(),
		Configured:    s.IsConfigured(),
		LastMessageAt: lastAt,
		ErrorCount:    int(s.errorCount.Load()),
	}
}

func (s *Slack) handleEvents(ctx context.Context, socket *socketmode.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-socket.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				api, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				if evt.Request != nil {
					socket.Ack(*evt.Request)
				}
				if api.Type != slackevents.CallbackEvent {
					continue
				}
				if ev, ok := api.InnerEvent.Data.(*slackevents.MessageEvent); ok {
					s.dispatch(s.toIncoming(ev))
				}
			case socketmode.EventTypeConnected:
				s.connected.Store(true)
			case socketmode.EventTypeConnectionError:
				s.errorCount.Add(1)
				s.logger.Warn("slack: connection error")
			}
		}
	}
}

func (s *Slack) dispatch(msg *channels.IncomingMessage) {
	if msg == nil {
		return
	}
	s.lastMsg.Store(time.Now())
	select {
	case s.messages <- msg:
	default:
		s.logger.Warn("slack: message buffer full, dropping message", "msg_id", msg.ID)
	}
}

// toIncoming converts a user message event. Bot messages and edits
// (any subtype) are ignored.
func (s *Slack) toIncoming(ev *slackevents.MessageEvent) *channels.IncomingMessage {
	if ev.BotID != "" || ev.SubType != "" || ev.Text == "" || ev.User == s.botUserID {
		return nil
	}
	content := ev.Text
	if s.botUserID != "" && s.cfg.MentionName != "" {
		content = strings.ReplaceAll(content, "<@"+s.botUserID+">", "@"+s.cfg.MentionName)
	}
	return &channels.IncomingMessage{
		ID:        ev.Channel + ":" + ev.TimeStamp,
		Channel:   "slack",
		From:      ev.User,
		FromName:  ev.User,
		ChatID:    ev.Channel,
		Content:   content,
		Timestamp: parseTS(ev.TimeStamp),
	}
}

// parseTS converts a Slack "seconds.micros" timestamp.
func parseTS(ts string) time.Time {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Now()
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9)).Truncate(time.Microsecond)
}

var _ channels.Channel = (*Slack)(nil)
