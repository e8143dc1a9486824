// Package settings holds the runtime configuration the coordinator reads on
// every decision: assistant name, model provider, credentials and budget.
//
// Settings are persisted in the store's config table and exposed as an
// immutable, versioned snapshot. Updates are written to storage first and
// then published with a single atomic swap, so readers see either the old
// snapshot or the new one, never a mix.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
)

// Supported providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderGemini    = "gemini"
)

// Providers lists the accepted provider names.
var Providers = []string{ProviderAnthropic, ProviderOpenAI, ProviderOllama, ProviderGemini}

// Config table keys.
const (
	KeyAssistantName = "assistant_name"
	KeyProvider      = "provider"
	KeyModel         = "model"
	KeyMaxTokens     = "max_tokens"
	KeyOllamaURL     = "ollama_url"
	KeyAPIKey        = "api_key"
)

// Settings is one immutable configuration snapshot.
type Settings struct {
	// Version increases with every successful load or update.
	Version int `json:"version"`

	AssistantName string `json:"assistant_name"`
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	MaxTokens     int    `json:"max_tokens"`
	OllamaURL     string `json:"ollama_url"`

	// APIKey is the decrypted provider credential.
	APIKey string `json:"-"`

	trigger *regexp.Regexp
}

// Configured reports whether a model call can be attempted: a provider is
// chosen and it has what it needs to authenticate.
func (s *Settings) Configured() bool {
	switch s.Provider {
	case ProviderOllama:
		return s.OllamaURL != "" && s.Model != ""
	case ProviderAnthropic, ProviderOpenAI, ProviderGemini:
		return s.APIKey != ""
	default:
		return false
	}
}

// Trigger returns the mention pattern for the assistant name.
func (s *Settings) Trigger() *regexp.Regexp {
	if s.trigger != nil {
		return s.trigger
	}
	return TriggerPattern(s.AssistantName)
}

// TriggerPattern compiles the case-insensitive "@name" mention pattern: the
// mention must start the text or follow whitespace and end on a word
// boundary.
func TriggerPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(^|\s)@` + regexp.QuoteMeta(name) + `\b`)
}

// Defaults returns the built-in settings used before anything is stored.
func Defaults() Settings {
	return Settings{
		AssistantName: "Andy",
		MaxTokens:     4096,
		OllamaURL:     "http://localhost:11434",
	}
}

// Validate checks a snapshot before it is stored.
func (s *Settings) Validate() error {
	if s.AssistantName == "" {
		return errors.New("assistant name is required")
	}
	if s.MaxTokens < 0 {
		return fmt.Errorf("max tokens must be positive, got %d", s.MaxTokens)
	}
	if s.Provider == "" {
		return nil
	}
	for _, p := range Providers {
		if s.Provider == p {
			return nil
		}
	}
	return fmt.Errorf("unknown provider %q (want one of %v)", s.Provider, Providers)
}

// KV is the config table. *store.Store implements it.
type KV interface {
	GetConfig(ctx context.Context, key string) (string, bool, error)
	SetConfigs(ctx context.Context, values map[string]string) error
	DeleteConfig(ctx context.Context, key string) error
}

// Manager owns the current snapshot.
type Manager struct {
	kv       KV
	sealer   *Sealer
	defaults Settings
	logger   *slog.Logger

	// mu serializes writers; readers go through cur only.
	mu  sync.Mutex
	cur atomic.Pointer[Settings]
}

// NewManager creates a manager whose current snapshot is defaults until
// Load is called.
func NewManager(kv KV, sealer *Sealer, defaults Settings, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		kv:       kv,
		sealer:   sealer,
		defaults: defaults,
		logger:   logger.With("component", "settings"),
	}
	initial := defaults
	initial.trigger = TriggerPattern(initial.AssistantName)
	m.cur.Store(&initial)
	return m
}

// Current returns the active snapshot. Callers must not modify it.
func (m *Manager) Current() *Settings {
	return m.cur.Load()
}

// Load reads the persisted settings over the defaults. A stored credential
// that cannot be decrypted is deleted and the provider is left
// unconfigured.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.defaults
	str := func(key string, dst *string) error {
		v, ok, err := m.kv.GetConfig(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			*dst = v
		}
		return nil
	}
	for key, dst := range map[string]*string{
		KeyAssistantName: &next.AssistantName,
		KeyProvider:      &next.Provider,
		KeyModel:         &next.Model,
		KeyOllamaURL:     &next.OllamaURL,
	} {
		if err := str(key, dst); err != nil {
			return fmt.Errorf("load %s: %w", key, err)
		}
	}
	if next.AssistantName == "" {
		next.AssistantName = m.defaults.AssistantName
	}

	var maxTokens string
	if err := str(KeyMaxTokens, &maxTokens); err != nil {
		return fmt.Errorf("load %s: %w", KeyMaxTokens, err)
	}
	if maxTokens != "" {
		n, err := strconv.Atoi(maxTokens)
		if err != nil || n < 0 {
			m.logger.Warn("ignoring invalid stored max_tokens", "value", maxTokens)
		} else {
			next.MaxTokens = n
		}
	}

	var sealed string
	if err := str(KeyAPIKey, &sealed); err != nil {
		return fmt.Errorf("load %s: %w", KeyAPIKey, err)
	}
	if sealed != "" {
		plain, err := m.sealer.Open(sealed)
		if err != nil {
			m.logger.Warn("stored credential unreadable, clearing it", "error", err)
			if derr := m.kv.DeleteConfig(ctx, KeyAPIKey); derr != nil {
				m.logger.Error("failed to clear unreadable credential", "error", derr)
			}
		} else {
			next.APIKey = plain
		}
	}

	m.publish(next)
	return nil
}

// Update applies fn to a copy of the current snapshot, persists every
// changed field in one write and then makes the copy current. If fn,
// validation or the write fails, the current snapshot stays in force.
func (m *Manager) Update(ctx context.Context, fn func(*Settings) error) (*Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.cur.Load()
	next := *cur
	if err := fn(&next); err != nil {
		return cur, err
	}
	if err := next.Validate(); err != nil {
		return cur, err
	}

	changed := make(map[string]string)
	if next.AssistantName != cur.AssistantName {
		changed[KeyAssistantName] = next.AssistantName
	}
	if next.Provider != cur.Provider {
		changed[KeyProvider] = next.Provider
	}
	if next.Model != cur.Model {
		changed[KeyModel] = next.Model
	}
	if next.MaxTokens != cur.MaxTokens {
		changed[KeyMaxTokens] = strconv.Itoa(next.MaxTokens)
	}
	if next.OllamaURL != cur.OllamaURL {
		changed[KeyOllamaURL] = next.OllamaURL
	}
	if next.APIKey != cur.APIKey {
		sealed := ""
		if next.APIKey != "" {
			var err error
			if sealed, err = m.sealer.Seal(next.APIKey); err != nil {
				return cur, fmt.Errorf("seal credential: %w", err)
			}
		}
		changed[KeyAPIKey] = sealed
	}
	if len(changed) == 0 {
		return cur, nil
	}

	if err := m.kv.SetConfigs(ctx, changed); err != nil {
		return cur, fmt.Errorf("persist settings: %w", err)
	}
	return m.publish(next), nil
}

// publish stores next as the current snapshot. Caller holds mu.
func (m *Manager) publish(next Settings) *Settings {
	next.Version = m.cur.Load().Version + 1
	next.trigger = TriggerPattern(next.AssistantName)
	m.cur.Store(&next)
	m.logger.Debug("settings updated", "version", next.Version, "provider", next.Provider, "configured", next.Configured())
	return &next
}
