// Package database opens the persistence backend shared by the store and
// the scheduler. SQLite is the default and needs no configuration;
// PostgreSQL is available for deployments that already run one.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"     // SQLite driver
)

// BackendType identifies the type of database backend.
type BackendType string

const (
	BackendSQLite     BackendType = "sqlite"
	BackendPostgreSQL BackendType = "postgresql"
)

// Config selects and configures the backend.
type Config struct {
	// Backend is "sqlite" (default) or "postgresql".
	Backend BackendType `yaml:"backend"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// DSN is the PostgreSQL connection string (supports ${ENV_VAR} expansion).
	DSN string `yaml:"dsn"`

	// BusyTimeout is the SQLite busy timeout in milliseconds.
	BusyTimeout int `yaml:"busy_timeout"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DB is an open database plus the dialect its queries must be written in.
type DB struct {
	*sql.DB
	Backend BackendType
}

// Open connects to the configured backend and applies the schema.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendSQLite
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	switch cfg.Backend {
	case BackendSQLite:
		sqlDB, err = openSQLite(cfg)
	case BackendPostgreSQL:
		sqlDB, err = openPostgreSQL(cfg)
	default:
		return nil, fmt.Errorf("unsupported database backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping %s database: %w", cfg.Backend, err)
	}

	db := &DB{DB: sqlDB, Backend: cfg.Backend}
	if err := db.migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.Info("database opened", "backend", cfg.Backend)
	return db, nil
}

func openSQLite(cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		cfg.Path = "./data/pocketclaw.db"
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5000
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=ON", cfg.Path, cfg.BusyTimeout)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", cfg.Path, err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)
	return db, nil
}

func openPostgreSQL(cfg Config) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgresql backend requires database.dsn")
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgresql: %w", err)
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 30 * time.Minute
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// Rebind rewrites "?" placeholders into the backend's bind syntax.
// Queries in this module are written with "?" and never contain a literal
// question mark.
func (db *DB) Rebind(query string) string {
	return Rebind(db.Backend, query)
}

// Rebind rewrites "?" placeholders for the given backend.
func Rebind(backend BackendType, query string) string {
	if backend != BackendPostgreSQL {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Exec, Query and QueryRow helpers that rebind before running.

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.DB.ExecContext(ctx, db.Rebind(query), args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.DB.QueryContext(ctx, db.Rebind(query), args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.DB.QueryRowContext(ctx, db.Rebind(query), args...)
}

// Tx wraps sql.Tx with the same rebinding.
type Tx struct {
	*sql.Tx
	backend BackendType
}

// BeginTx starts a transaction.
func (db *DB) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx, backend: db.Backend}, nil
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.Tx.ExecContext(ctx, Rebind(tx.backend, query), args...)
}
