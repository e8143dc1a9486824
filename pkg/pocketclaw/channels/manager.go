// Package channels – manager.go owns the set of adapters resolved at
// startup. It connects the configured ones and pumps their inbound
// messages into a single hook.
package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// MessageHandler receives every inbound message from every adapter.
type MessageHandler func(msg *IncomingMessage)

// Manager orchestrates the registered channels.
type Manager struct {
	channels map[string]Channel
	handler  MessageHandler
	logger   *slog.Logger

	// listenWg tracks the pump goroutines so Stop can wait for them.
	listenWg sync.WaitGroup

	mu      sync.RWMutex
	cancel  context.CancelFunc
	started bool
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		channels: make(map[string]Channel),
		logger:   logger.With("component", "channels"),
	}
}

// Register adds a channel. Must be called before Start.
func (m *Manager) Register(ch Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := ch.Name()
	if _, exists := m.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}
	m.channels[name] = ch
	m.logger.Debug("channel registered", "channel", name)
	return nil
}

// OnMessage sets the inbound hook. Messages received before a hook is set
// are dropped.
func (m *Manager) OnMessage(fn MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
}

// Start connects every configured channel and begins pumping messages.
// A channel that fails to connect is logged and left out; it does not
// prevent the others from starting.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	snapshot := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		snapshot = append(snapshot, ch)
	}
	m.mu.Unlock()

	var connected int
	for _, ch := range snapshot {
		if !ch.IsConfigured() {
			m.logger.Info("channel not configured, skipping", "channel", ch.Name())
			continue
		}
		if err := ch.Connect(ctx); err != nil {
			m.logger.Error("failed to connect channel", "channel", ch.Name(), "error", err)
			continue
		}
		connected++
		m.logger.Info("channel connected", "channel", ch.Name())

		m.listenWg.Add(1)
		go func(c Channel) {
			defer m.listenWg.Done()
			m.listen(ctx, c)
		}(ch)
	}

	m.logger.Info("channel manager started", "connected", connected, "registered", len(snapshot))
	return nil
}

// Stop disconnects every channel and waits for the pumps to exit.
// Safe to call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	m.mu.RLock()
	for name, ch := range m.channels {
		if err := ch.Disconnect(); err != nil {
			m.logger.Error("failed to disconnect channel", "channel", name, "error", err)
		}
	}
	m.mu.RUnlock()

	m.listenWg.Wait()
	m.logger.Info("channel manager stopped")
}

// Channel returns a registered channel by name.
func (m *Manager) Channel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Names returns the registered channel names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthAll returns the health of every registered channel.
func (m *Manager) HealthAll() map[string]HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]HealthStatus, len(m.channels))
	for name, ch := range m.channels {
		statuses[name] = ch.Health()
	}
	return statuses
}

// listen forwards one channel's inbound messages to the hook until the
// channel closes its receive stream or the manager stops.
func (m *Manager) listen(ctx context.Context, ch Channel) {
	in := ch.Receive()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			if msg.Channel == "" {
				msg.Channel = ch.Name()
			}
			m.mu.RLock()
			handler := m.handler
			m.mu.RUnlock()
			if handler == nil {
				m.logger.Warn("no message handler, dropping message", "channel", ch.Name())
				continue
			}
			handler(msg)
		}
	}
}
