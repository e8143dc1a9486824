package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/config"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/database"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/scheduler"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/settings"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/store"
)

// app is the persistent state every command works on.
type app struct {
	cfg      *config.Config
	cfgPath  string
	logger   *slog.Logger
	db       *database.DB
	store    *store.Store
	tasks    *scheduler.SQLStorage
	settings *settings.Manager
}

// loadConfig reads the file named by --config, a discovered config file, or
// the defaults when there is none. The returned path is "" for defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, path, nil
}

// newLogger builds the slog handler selected by the logging config. Logs go
// to stderr so command output stays clean.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	switch {
	case verbose || cfg.Logging.Level == "debug":
		level = slog.LevelDebug
	case cfg.Logging.Level == "warn":
		level = slog.LevelWarn
	case cfg.Logging.Level == "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// openApp loads config, opens the database and loads the runtime settings.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd, cfg)
	slog.SetDefault(logger)
	if path != "" {
		logger.Debug("config loaded", "path", path)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	master, err := settings.ResolveMasterKey(cfg.DataDir, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	sealer, err := settings.NewSealer(master)
	if err != nil {
		db.Close()
		return nil, err
	}

	st := store.New(db)
	mgr := settings.NewManager(st, sealer, defaultsFrom(cfg), logger)
	if err := mgr.Load(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	return &app{
		cfg:      cfg,
		cfgPath:  path,
		logger:   logger,
		db:       db,
		store:    st,
		tasks:    scheduler.NewSQLStorage(db),
		settings: mgr,
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("closing database", "error", err)
	}
}

// defaultsFrom seeds the runtime settings from the file config.
func defaultsFrom(cfg *config.Config) settings.Settings {
	d := settings.Defaults()
	if v := cfg.Defaults.AssistantName; v != "" {
		d.AssistantName = v
	}
	if v := cfg.Defaults.Provider; v != "" {
		d.Provider = v
	}
	if v := cfg.Defaults.Model; v != "" {
		d.Model = v
	}
	if v := cfg.Defaults.MaxTokens; v > 0 {
		d.MaxTokens = v
	}
	if v := cfg.Defaults.OllamaURL; v != "" {
		d.OllamaURL = v
	}
	return d
}
