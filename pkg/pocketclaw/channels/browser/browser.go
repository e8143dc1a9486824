// Package browser implements the built-in channel behind the web UI: chat
// clients connect over a WebSocket and exchange JSON frames. Group IDs for
// this channel are "br:<chat>", "br:main" by default.
package browser

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels"
)

// DefaultChat is the chat a client joins when it names none.
const DefaultChat = "main"

// Frame types.
const (
	FrameMessage = "message"
	FrameTyping  = "typing"
)

// Frame is the JSON shape exchanged with chat clients.
type Frame struct {
	Type    string `json:"type"`
	Chat    string `json:"chat,omitempty"`
	Sender  string `json:"sender,omitempty"`
	Content string `json:"content,omitempty"`
	Typing  bool   `json:"typing,omitempty"`
}

const writeTimeout = 10 * time.Second

type conn struct {
	ws   *websocket.Conn
	chat string
	mu   sync.Mutex
}

func (c *conn) write(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(f)
}

// Browser implements channels.Channel, channels.PresenceChannel and
// http.Handler.
type Browser struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*conn]struct{}

	messages   chan *channels.IncomingMessage
	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64
}

// New creates the browser channel. allowedOrigins restricts WebSocket
// origins; empty allows same-host requests only.
func New(allowedOrigins []string, logger *slog.Logger) *Browser {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Browser{
		logger:   logger.With("component", "browser"),
		conns:    make(map[*conn]struct{}),
		messages: make(chan *channels.IncomingMessage, 256),
	}
	b.upgrader = websocket.Upgrader{CheckOrigin: checkOrigin(allowedOrigins)}
	return b
}

func (b *Browser) Name() string { return "browser" }

// IsConfigured is always true: the built-in channel needs no credentials.
func (b *Browser) IsConfigured() bool { return true }

// Connect starts accepting clients.
func (b *Browser) Connect(context.Context) error {
	b.connected.Store(true)
	return nil
}

// Disconnect closes every client connection and rejects new ones.
func (b *Browser) Disconnect() error {
	if !b.connected.Swap(false) {
		return nil
	}
	b.mu.Lock()
	conns := b.conns
	b.conns = make(map[*conn]struct{})
	b.mu.Unlock()
	for c := range conns {
		_ = c.ws.Close()
	}
	return nil
}

// Send writes message to every client on the chat. A chat with no client
// is not an error: the reply is already in history.
func (b *Browser) Send(_ context.Context, chatID string, message *channels.OutgoingMessage) error {
	if !b.connected.Load() {
		return channels.ErrChannelDisconnected
	}
	b.broadcast(chatID, Frame{Type: FrameMessage, Chat: chatID, Content: message.Content})
	return nil
}

// SetTyping broadcasts a typing frame to the chat.
func (b *Browser) SetTyping(_ context.Context, chatID string, typing bool) error {
	if b.connected.Load() {
		b.broadcast(chatID, Frame{Type: FrameTyping, Chat: chatID, Typing: typing})
	}
	return nil
}

func (b *Browser) Receive() <-chan *channels.IncomingMessage { return b.messages }

func (b *Browser) IsConnected() bool { return b.connected.Load() }

func (b *Browser) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := b.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	b.mu.Lock()
	clients := len(b.conns)
	b.mu.Unlock()
	return channels.HealthStatus{
		Connected:     b.connected.Load(),
		Configured:    true,
		LastMessageAt: lastAt,
		ErrorCount:    int(b.errorCount.Load()),
		Details:       map[string]any{"clients": clients},
	}
}

// ServeHTTP upgrades a chat client. The chat is taken from the "chat" query
// parameter.
func (b *Browser) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !b.connected.Load() {
		http.Error(w, "chat is not available", http.StatusServiceUnavailable)
		return
	}
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	chat := r.URL.Query().Get("chat")
	if chat == "" {
		chat = DefaultChat
	}
	c := &conn{ws: ws, chat: chat}

	b.mu.Lock()
	b.conns[c] = struct{}{}
	b.mu.Unlock()
	b.logger.Debug("chat client connected", "chat", chat, "remote", r.RemoteAddr)

	defer func() {
		b.mu.Lock()
		delete(b.conns, c)
		b.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Debug("chat client read failed", "error", err)
			}
			return
		}
		if f.Type != FrameMessage || strings.TrimSpace(f.Content) == "" {
			continue
		}
		b.emit(c, f)
	}
}

func (b *Browser) emit(c *conn, f Frame) {
	chat := f.Chat
	if chat == "" {
		chat = c.chat
	}
	sender := f.Sender
	if sender == "" {
		sender = "user"
	}
	b.lastMsg.Store(time.Now())
	msg := &channels.IncomingMessage{
		ID:        uuid.NewString(),
		Channel:   "browser",
		From:      sender,
		FromName:  sender,
		ChatID:    chat,
		Content:   f.Content,
		Timestamp: time.Now(),
	}
	select {
	case b.messages <- msg:
	default:
		b.logger.Warn("message buffer full, dropping message")
	}
}

func (b *Browser) broadcast(chat string, f Frame) {
	b.mu.Lock()
	var targets []*conn
	for c := range b.conns {
		if c.chat == chat {
			targets = append(targets, c)
		}
	}
	b.mu.Unlock()

	for _, c := range targets {
		if err := c.write(f); err != nil {
			b.errorCount.Add(1)
			b.logger.Debug("chat client write failed", "error", err)
		}
	}
}

// checkOrigin allows listed origins, or same-host requests when the list is
// empty. Requests without an Origin header (non-browser clients) pass.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		if len(allowed) == 0 {
			host := strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
			return strings.EqualFold(host, r.Host)
		}
		return false
	}
}

var (
	_ channels.Channel         = (*Browser)(nil)
	_ channels.PresenceChannel = (*Browser)(nil)
	_ http.Handler             = (*Browser)(nil)
)
