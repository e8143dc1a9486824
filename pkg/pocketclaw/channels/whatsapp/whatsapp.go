// Package whatsapp implements the WhatsApp channel with whatsmeow, linked as
// a companion device. The session lives in its own SQLite file; the first
// connection needs a QR scan, exposed through QRCode for the web UI.
// Group IDs for WhatsApp are "wa:<jid>".
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3" // session store driver
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels"
)

// Config holds WhatsApp channel configuration.
type Config struct {
	// Enabled turns the channel on. WhatsApp needs no token, so an explicit
	// switch decides whether it is configured.
	Enabled bool `yaml:"enabled"`

	// SessionDB is the SQLite file holding the linked-device session.
	SessionDB string `yaml:"session_db"`
}

// State is the connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateWaitingQR    State = "waiting_qr"
	StateConnected    State = "connected"
)

// WhatsApp implements channels.Channel and channels.PresenceChannel.
type WhatsApp struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	client *whatsmeow.Client
	cancel context.CancelFunc
	state  State
	qrCode string

	messages   chan *channels.IncomingMessage
	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64
}

// New creates a WhatsApp channel.
func New(cfg Config, logger *slog.Logger) *WhatsApp {
	if logger == nil {
		logger = slog.Default()
	}
	return &WhatsApp{
		cfg:      cfg,
		logger:   logger.With("component", "whatsapp"),
		state:    StateDisconnected,
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

func (w *WhatsApp) Name() string { return "whatsapp" }

// IsConfigured reports whether the channel is enabled with a session path.
func (w *WhatsApp) IsConfigured() bool { return w.cfg.Enabled && w.cfg.SessionDB != "" }

// Connect opens the session store and connects. Without a stored session
// it starts the QR login in the background and returns.
func (w *WhatsApp) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.client != nil {
		return nil
	}
	if !w.IsConfigured() {
		return channels.ErrNotConfigured
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.setStateLocked(StateConnecting)

	container, err := sqlstore.New(runCtx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", w.cfg.SessionDB),
		waLog.Noop)
	if err != nil {
		cancel()
		w.setStateLocked(StateDisconnected)
		return fmt.Errorf("whatsapp: opening session store: %w", err)
	}
	device, err := container.GetFirstDevice(runCtx)
	if err != nil {
		cancel()
		w.setStateLocked(StateDisconnected)
		return fmt.Errorf("whatsapp: loading device: %w", err)
	}

	wastore.SetOSInfo("PocketClaw", [3]uint32{1, 0, 0})
	client := whatsmeow.NewClient(device, waLog.Noop)
	client.AddEventHandler(w.handleEvent)
	client.EnableAutoReconnect = true

	w.client, w.cancel = client, cancel

	if client.Store.ID == nil {
		w.setStateLocked(StateWaitingQR)
		w.logger.Info("whatsapp: no session yet, waiting for QR scan")
		go func() {
			if err := w.loginWithQR(runCtx, client); err != nil {
				w.logger.Warn("whatsapp: QR login did not complete", "error", err)
			}
		}()
		return nil
	}

	if err := client.Connect(); err != nil {
		cancel()
		w.client, w.cancel = nil, nil
		w.setStateLocked(StateDisconnected)
		return fmt.Errorf("whatsapp: connecting: %w", err)
	}
	w.logger.Info("whatsapp: connected", "jid", client.Store.ID.String())
	return nil
}

// Disconnect closes the connection. The session is kept.
func (w *WhatsApp) Disconnect() error {
	w.mu.Lock()
	client, cancel := w.client, w.cancel
	w.client, w.cancel = nil, nil
	w.setStateLocked(StateDisconnected)
	w.mu.Unlock()

	if client == nil {
		return nil
	}
	cancel()
	client.Disconnect()
	w.connected.Store(false)
	w.logger.Info("whatsapp: disconnected")
	return nil
}

// Send delivers a text message to a chat JID.
func (w *WhatsApp) Send(ctx context.Context, chatID string, message *channels.OutgoingMessage) error {
	client := w.current()
	if client == nil || !w.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	jid, err := parseJID(chatID)
	if err != nil {
		return fmt.Errorf("whatsapp: invalid JID %q: %w", chatID, err)
	}
	msg := &waE2E.Message{Conversation: proto.String(message.Content)}
	if _, err := client.SendMessage(ctx, jid, msg); err != nil {
		w.errorCount.Add(1)
		return fmt.Errorf("%w: %v", channels.ErrSendFailed, err)
	}
	return nil
}

// SetTyping sends the composing or paused chat presence.
func (w *WhatsApp) SetTyping(ctx context.Context, chatID string, typing bool) error {
	client := w.current()
	if client == nil || !w.connected.Load() {
		return nil
	}
	jid, err := parseJID(chatID)
	if err != nil {
		return err
	}
	presence := types.ChatPresencePaused
	if typing {
		presence = types.ChatPresenceComposing
	}
	return client.SendChatPresence(ctx, jid, presence, types.ChatPresenceMediaText)
}

func (w *WhatsApp) Receive() <-chan *channels.IncomingMessage { return w.messages }

func (w *WhatsApp) IsConnected() bool { return w.connected.Load() }

// State returns the connection state.
func (w *WhatsApp) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// QRCode returns the pending QR code, or "" when none is waiting to be
// scanned.
func (w *WhatsApp) QRCode() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.qrCode
}

func (w *WhatsApp) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := w.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     w.connected.Load(),
		Configured:    w.IsConfigured(),
		LastMessageAt: lastAt,
		ErrorCount:    int(w.errorCount.Load()),
		Details:       map[string]any{"state": string(w.State())},
	}
}

func (w *WhatsApp) current() *whatsmeow.Client {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.client
}

func (w *WhatsApp) setState(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.setStateLocked(s)
}

func (w *WhatsApp) setStateLocked(s State) {
	w.state = s
	if s != StateWaitingQR {
		w.qrCode = ""
	}
}

func (w *WhatsApp) loginWithQR(ctx context.Context, client *whatsmeow.Client) error {
	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("getting QR channel: %w", err)
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connecting for QR: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return nil
			}
			switch evt.Event {
			case "code":
				w.mu.Lock()
				w.state, w.qrCode = StateWaitingQR, evt.Code
				w.mu.Unlock()
				w.logger.Info("whatsapp: QR code ready, scan it from the web UI")
			case "success":
				w.setState(StateConnected)
				w.logger.Info("whatsapp: device linked")
				return nil
			case "timeout":
				w.setState(StateDisconnected)
				return fmt.Errorf("QR code expired")
			default:
				if evt.Error != nil {
					w.setState(StateDisconnected)
					return fmt.Errorf("QR login: %w", evt.Error)
				}
			}
		}
	}
}

func (w *WhatsApp) handleEvent(raw any) {
	switch evt := raw.(type) {
	case *events.Connected:
		w.connected.Store(true)
		w.setState(StateConnected)
	case *events.Disconnected:
		w.connected.Store(false)
		w.setState(StateConnecting)
	case *events.LoggedOut:
		w.connected.Store(false)
		w.setState(StateDisconnected)
		w.logger.Warn("whatsapp: logged out from the phone, a new QR scan is needed")
	case *events.Message:
		if msg := toIncoming(evt); msg != nil {
			w.lastMsg.Store(time.Now())
			select {
			case w.messages <- msg:
			default:
				w.logger.Warn("whatsapp: message buffer full, dropping message", "msg_id", msg.ID)
			}
		}
	}
}

// toIncoming converts a text message event. Own messages, status
// broadcasts and non-text messages return nil.
func toIncoming(evt *events.Message) *channels.IncomingMessage {
	if evt.Info.IsFromMe || evt.Info.Chat.Server == types.BroadcastServer {
		return nil
	}
	text := messageText(evt.Message)
	if text == "" {
		return nil
	}
	return &channels.IncomingMessage{
		ID:        string(evt.Info.ID),
		Channel:   "whatsapp",
		From:      evt.Info.Sender.String(),
		FromName:  evt.Info.PushName,
		ChatID:    evt.Info.Chat.String(),
		Content:   text,
		Timestamp: evt.Info.Timestamp,
	}
}

func messageText(m *waE2E.Message) string {
	if m == nil {
		return ""
	}
	if t := m.GetConversation(); t != "" {
		return t
	}
	return m.GetExtendedTextMessage().GetText()
}

// parseJID accepts a full JID ("123@s.whatsapp.net", "123-456@g.us") or a
// bare phone number.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 8 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

var (
	_ channels.Channel         = (*WhatsApp)(nil)
	_ channels.PresenceChannel = (*WhatsApp)(nil)
)
