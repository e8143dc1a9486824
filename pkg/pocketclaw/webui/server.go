// Package webui serves the HTTP surface of a running assistant: the browser
// chat WebSocket, a live event stream, and a small JSON API for status,
// history, sessions, scheduled tasks and settings.
package webui

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/coordinator"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/events"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/scheduler"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/settings"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/store"
)

// Coordinator is the part of *coordinator.Coordinator the API drives.
type Coordinator interface {
	State() coordinator.State
	QueueLen() int
	Compact(ctx context.Context, groupID string) error
	NewSession(ctx context.Context, groupID string) error
	Bus() *events.Bus
}

// History reads persisted chat messages.
type History interface {
	RecentMessages(ctx context.Context, groupID string, limit int) ([]store.Message, error)
}

// Settings reads and updates the runtime settings. *settings.Manager
// implements it.
type Settings interface {
	Current() *settings.Settings
	Update(ctx context.Context, fn func(*settings.Settings) error) (*settings.Settings, error)
}

// ChannelHealth reports adapter health. *channels.Manager implements it.
type ChannelHealth interface {
	HealthAll() map[string]channels.HealthStatus
}

// QRSource exposes a pending WhatsApp pairing code.
type QRSource interface {
	QRCode() string
}

// Config holds web UI configuration.
type Config struct {
	// Address is the listen address (default "127.0.0.1:8085").
	Address string

	// AuthToken is the bearer token for /api and /ws (empty = no auth).
	AuthToken string
}

// Deps are the collaborators behind the endpoints. Tasks and WhatsApp may
// be nil; their endpoints then answer 404.
type Deps struct {
	Coordinator Coordinator
	History     History
	Tasks       scheduler.Storage
	Settings    Settings
	Channels    ChannelHealth
	Chat        http.Handler
	WhatsApp    QRSource
}

// Server is the web UI HTTP server.
type Server struct {
	cfg       Config
	deps      Deps
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	startedAt time.Time

	mu       sync.Mutex
	server   *http.Server
	done     chan struct{}
	stopOnce sync.Once
}

// New creates the server. Nothing listens until Start.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8085"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		deps:      deps,
		logger:    logger.With("component", "webui"),
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Handler builds the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	if s.deps.Chat != nil {
		mux.Handle("GET /ws", s.deps.Chat)
	}
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/status", s.handleStatus)

	mux.HandleFunc("GET /api/groups/{id}/messages", s.handleMessages)
	mux.HandleFunc("POST /api/groups/{id}/compact", s.handleCompact)
	mux.HandleFunc("POST /api/groups/{id}/reset", s.handleReset)

	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("PATCH /api/tasks/{id}", s.handlePatchTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)

	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handleUpdateSettings)

	mux.HandleFunc("GET /api/channels/whatsapp/qr", s.handleWhatsAppQR)

	return securityHeaders(s.authMiddleware(mux))
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("webui: listen on %s: %w", s.cfg.Address, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	if s.cfg.AuthToken == "" && !isLoopback(s.cfg.Address) {
		s.logger.Warn("web UI has no auth token and is bound to a non-loopback address",
			"address", s.cfg.Address)
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("web UI server error", "error", err)
		}
	}()
	s.logger.Info("web UI started", "address", ln.Addr().String())
	return nil
}

// Stop closes event streams and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("webui: shutdown: %w", err)
	}
	s.logger.Info("web UI stopped")
	return nil
}

// authMiddleware requires the token when one is configured. WebSocket
// clients cannot set headers, so the token is also accepted as ?token=.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" || !compareTokens(token, s.cfg.AuthToken) {
			writeError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// compareTokens hashes both sides so the comparison does not leak length.
func compareTokens(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
