// Package channels defines the adapter contract every chat platform
// implements (built-in browser/console, Telegram, Discord, WhatsApp, Slack)
// and the Manager that starts them and funnels their inbound traffic.
package channels

import (
	"context"
	"errors"
	"time"
)

// Channel defines the interface that every communication channel must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "telegram", "browser").
	Name() string

	// Connect starts the adapter. Calling it on a connected adapter is a no-op.
	Connect(ctx context.Context) error

	// Disconnect stops the adapter. Calling it twice is a no-op.
	Disconnect() error

	// Send delivers a message to a chat on this platform.
	Send(ctx context.Context, chatID string, message *OutgoingMessage) error

	// Receive returns a Go channel that emits incoming messages.
	Receive() <-chan *IncomingMessage

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// IsConfigured reports whether the adapter has what it needs to connect
	// (tokens, session files). Unconfigured adapters are never started.
	IsConfigured() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// PresenceChannel extends Channel with typing indicators.
type PresenceChannel interface {
	Channel

	// SetTyping shows or clears the "typing..." indicator in a chat.
	SetTyping(ctx context.Context, chatID string, typing bool) error
}

// IncomingMessage represents a message received from any channel.
type IncomingMessage struct {
	// ID is the unique message identifier in the source channel.
	ID string

	// Channel identifies the source channel (e.g. "telegram").
	Channel string

	// From is the sender identifier on the platform.
	From string

	// FromName is the sender display name (if available).
	FromName string

	// ChatID is the group or DM identifier on the platform.
	ChatID string

	// Content is the text content of the message.
	Content string

	// Timestamp is when the message was sent.
	Timestamp time.Time
}

// OutgoingMessage represents a message to be sent through a channel.
type OutgoingMessage struct {
	Content string
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool           `json:"connected"`
	Configured    bool           `json:"configured"`
	LastMessageAt time.Time      `json:"last_message_at,omitzero"`
	ErrorCount    int            `json:"error_count"`
	Details       map[string]any `json:"details,omitempty"`
}

// Errors.
var (
	ErrChannelDisconnected = errors.New("channel is not connected")
	ErrNotConfigured       = errors.New("channel is not configured")
	ErrSendFailed          = errors.New("failed to send message")
)
