package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/database"
)

// ErrTaskNotFound is returned when a task ID is unknown.
var ErrTaskNotFound = errors.New("task not found")

// SQLStorage keeps tasks in the scheduled_tasks table of the shared database.
type SQLStorage struct {
	db *database.DB
}

// NewSQLStorage creates storage on an open database.
func NewSQLStorage(db *database.DB) *SQLStorage {
	return &SQLStorage{db: db}
}

const taskColumns = `id, group_id, schedule, prompt, enabled, created_by, created_at, last_run_at, last_error, run_count`

// SaveTask inserts or replaces a task.
func (s *SQLStorage) SaveTask(ctx context.Context, t *Task) error {
	var lastRun any
	if t.LastRunAt != nil {
		lastRun = t.LastRunAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_tasks (`+taskColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			group_id = excluded.group_id,
			schedule = excluded.schedule,
			prompt = excluded.prompt,
			enabled = excluded.enabled,
			created_by = excluded.created_by,
			last_run_at = excluded.last_run_at,
			last_error = excluded.last_error,
			run_count = excluded.run_count`,
		t.ID, t.GroupID, t.Schedule, t.Prompt, boolToInt(t.Enabled), t.CreatedBy,
		t.CreatedAt.UTC().Format(time.RFC3339Nano), lastRun, t.LastError, t.RunCount,
	)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask loads one task.
func (s *SQLStorage) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t, err
}

// DeleteTask removes a task.
func (s *SQLStorage) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return nil
}

// LoadTasks returns every task, oldest first.
func (s *SQLStorage) LoadTasks(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkFired records a run and clears the last error.
func (s *SQLStorage) MarkFired(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_tasks SET last_run_at = ?, run_count = run_count + 1, last_error = '' WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("mark task %s fired: %w", id, err)
	}
	return nil
}

// SetLastError records why a task could not be evaluated.
func (s *SQLStorage) SetLastError(ctx context.Context, id, msg string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE scheduled_tasks SET last_error = ? WHERE id = ?`, msg, id); err != nil {
		return fmt.Errorf("set task %s error: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		t         Task
		enabled   int
		createdAt string
		lastRun   sql.NullString
	)
	err := row.Scan(&t.ID, &t.GroupID, &t.Schedule, &t.Prompt, &enabled, &t.CreatedBy,
		&createdAt, &lastRun, &t.LastError, &t.RunCount)
	if err != nil {
		return nil, err
	}
	t.Enabled = enabled != 0
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		t.CreatedAt = ts.Local()
	}
	if lastRun.Valid && lastRun.String != "" {
		if ts, err := time.Parse(time.RFC3339Nano, lastRun.String); err == nil {
			ts = ts.Local()
			t.LastRunAt = &ts
		}
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
