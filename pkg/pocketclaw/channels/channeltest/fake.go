// Package channeltest provides an in-memory channel adapter for tests.
package channeltest

import (
	"context"
	"sync"
	"time"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels"
)

// Sent records one outbound message.
type Sent struct {
	ChatID  string
	Content string
}

// TypingCall records one typing indicator update.
type TypingCall struct {
	ChatID string
	Typing bool
}

// Channel is a fake adapter that records what it is asked to do.
type Channel struct {
	name       string
	configured bool

	mu        sync.Mutex
	connected bool
	sent      []Sent
	typing    []TypingCall
	sendErr   error
	incoming  chan *channels.IncomingMessage
}

// New creates a configured fake channel.
func New(name string) *Channel {
	return &Channel{
		name:       name,
		configured: true,
		incoming:   make(chan *channels.IncomingMessage, 16),
	}
}

// Unconfigured creates a fake channel that reports it has no credentials.
func Unconfigured(name string) *Channel {
	c := New(name)
	c.configured = false
	return c
}

func (c *Channel) Name() string       { return c.name }
func (c *Channel) IsConfigured() bool { return c.configured }

func (c *Channel) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return nil
}

func (c *Channel) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Channel) Send(_ context.Context, chatID string, msg *channels.OutgoingMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, Sent{ChatID: chatID, Content: msg.Content})
	return nil
}

func (c *Channel) SetTyping(_ context.Context, chatID string, typing bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.typing = append(c.typing, TypingCall{ChatID: chatID, Typing: typing})
	return nil
}

func (c *Channel) Receive() <-chan *channels.IncomingMessage { return c.incoming }

func (c *Channel) Health() channels.HealthStatus {
	return channels.HealthStatus{Connected: c.IsConnected(), Configured: c.configured}
}

// FailSends makes every following Send return err.
func (c *Channel) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// Inject delivers an inbound message as if the platform sent it.
func (c *Channel) Inject(chatID, from, content string) {
	c.incoming <- &channels.IncomingMessage{
		ID:        from + "-" + time.Now().Format(time.RFC3339Nano),
		Channel:   c.name,
		From:      from,
		FromName:  from,
		ChatID:    chatID,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Sent returns a copy of the recorded outbound messages.
func (c *Channel) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// Typing returns a copy of the recorded typing updates.
func (c *Channel) Typing() []TypingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TypingCall(nil), c.typing...)
}
