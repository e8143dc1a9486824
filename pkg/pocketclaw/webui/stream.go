package webui

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/events"
)

const (
	streamBuffer = 64
	pingInterval = 30 * time.Second
)

// eventFrame is one event on the /api/events stream.
type eventFrame struct {
	Kind events.Kind  `json:"kind"`
	Time time.Time    `json:"time"`
	Data events.Event `json:"data"`
}

// handleEvents implements GET /api/events: every bus event, optionally
// filtered with ?kinds=message,typing, as JSON frames over a WebSocket. A
// client too slow to keep up loses events rather than stalling the bus.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Coordinator == nil {
		writeError(w, "event stream not available", http.StatusNotFound)
		return
	}
	bus := s.deps.Coordinator.Bus()
	filter := parseKinds(r.URL.Query().Get("kinds"))

	ch := make(chan eventFrame, streamBuffer)
	// Subscribe before the handshake completes so nothing published after
	// the client sees the 101 is missed.
	sub := bus.SubscribeAll(func(ev events.Event) {
		if filter != nil && !filter[ev.Kind()] {
			return
		}
		select {
		case ch <- eventFrame{Kind: ev.Kind(), Time: time.Now(), Data: ev}:
		default:
		}
	})
	defer bus.Unsubscribe(sub)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("event stream upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	// The reader only notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case f := <-ch:
			_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteJSON(f); err != nil {
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-closed:
			return
		case <-s.done:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"),
				time.Now().Add(time.Second))
			return
		}
	}
}

func parseKinds(raw string) map[events.Kind]bool {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	out := make(map[events.Kind]bool)
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out[events.Kind(k)] = true
		}
	}
	return out
}
