// Package config defines the static configuration read from config.yaml at
// startup: storage, channel credentials, web UI, scheduler and coordinator
// tuning, logging, and the seed values for runtime settings.
package config

import (
	"time"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels/discord"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels/slack"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels/telegram"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels/whatsapp"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/database"
)

// Config is the top-level config.yaml document.
type Config struct {
	// DataDir holds the database, WhatsApp session and master key file.
	DataDir string `yaml:"data_dir"`

	Database    database.Config   `yaml:"database"`
	Defaults    DefaultsConfig    `yaml:"defaults"`
	Channels    ChannelsConfig    `yaml:"channels"`
	WebUI       WebUIConfig       `yaml:"webui"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Worker      WorkerConfig      `yaml:"worker"`
	Skills      SkillsConfig      `yaml:"skills"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// DefaultsConfig seeds the runtime settings before anything is stored.
type DefaultsConfig struct {
	AssistantName string `yaml:"assistant_name"`
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	MaxTokens     int    `yaml:"max_tokens"`
	OllamaURL     string `yaml:"ollama_url"`
}

// ChannelsConfig holds credentials for the optional adapters. An adapter
// with empty credentials is not started.
type ChannelsConfig struct {
	Telegram telegram.Config `yaml:"telegram"`
	Discord  discord.Config  `yaml:"discord"`
	WhatsApp whatsapp.Config `yaml:"whatsapp"`
	Slack    slack.Config    `yaml:"slack"`
}

// WebUIConfig configures the HTTP surface hosting the browser channel.
type WebUIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	AuthToken string `yaml:"auth_token"`

	// AllowedOrigins lists extra origins allowed to open the chat socket.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// SchedulerConfig tunes the recurring task scheduler.
type SchedulerConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

// CoordinatorConfig tunes the coordinator.
type CoordinatorConfig struct {
	// DefaultGroup always triggers the assistant without a mention.
	DefaultGroup string `yaml:"default_group"`

	// HistoryWindow is how many recent messages form the model context.
	HistoryWindow int `yaml:"history_window"`

	// InvocationTimeout bounds a single worker invocation.
	InvocationTimeout time.Duration `yaml:"invocation_timeout"`
}

// WorkerConfig tunes the worker boundary.
type WorkerConfig struct {
	// QueueSize is the capacity of the worker's inbound queue.
	QueueSize int `yaml:"queue_size"`
}

// SkillsConfig points at the directory of skill files.
type SkillsConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Database: database.Config{
			Backend: database.BackendSQLite,
		},
		Defaults: DefaultsConfig{
			AssistantName: "Andy",
			MaxTokens:     4096,
			OllamaURL:     "http://localhost:11434",
		},
		WebUI: WebUIConfig{
			Enabled: true,
			Address: "127.0.0.1:8085",
		},
		Scheduler: SchedulerConfig{
			TickInterval: 30 * time.Second,
		},
		Coordinator: CoordinatorConfig{
			DefaultGroup:      "br:main",
			HistoryWindow:     50,
			InvocationTimeout: 5 * time.Minute,
		},
		Worker: WorkerConfig{
			QueueSize: 8,
		},
		Skills: SkillsConfig{
			Dir:   "./skills",
			Watch: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
