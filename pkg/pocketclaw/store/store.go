// Package store persists chat history, runtime configuration, memory and
// skills on top of the shared database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/database"
)

// Message is one persisted chat message.
type Message struct {
	ID        string
	GroupID   string
	Sender    string
	Content   string
	Timestamp time.Time
	IsFromMe  bool
	IsTrigger bool
}

// Skill is a named block of extension content injected into the system prompt.
type Skill struct {
	Name      string
	Content   string
	Enabled   bool
	UpdatedAt time.Time
}

// MemoryKey is the config key holding the persisted memory text.
const MemoryKey = "memory"

// Store is the SQL implementation of the persistence collaborator.
type Store struct {
	db *database.DB
}

// New wraps an open database.
func New(db *database.DB) *Store {
	return &Store{db: db}
}

// SaveMessage inserts msg and reports whether it was new. A message whose
// ID is already stored is left untouched, so replays from a channel never
// duplicate history.
func (s *Store) SaveMessage(ctx context.Context, msg Message) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, group_id, sender, content, timestamp, is_from_me, is_trigger)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		msg.ID, msg.GroupID, msg.Sender, msg.Content, formatTime(msg.Timestamp),
		boolToInt(msg.IsFromMe), boolToInt(msg.IsTrigger),
	)
	if err != nil {
		return false, fmt.Errorf("save message %s: %w", msg.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save message %s: %w", msg.ID, err)
	}
	return n > 0, nil
}

// RecentMessages returns up to limit of the newest messages of a group,
// oldest first.
func (s *Store) RecentMessages(ctx context.Context, groupID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, group_id, sender, content, timestamp, is_from_me, is_trigger
		 FROM messages WHERE group_id = ? ORDER BY seq DESC LIMIT ?`,
		groupID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m          Message
			ts         string
			fromMe, tr int
		)
		if err := rows.Scan(&m.ID, &m.GroupID, &m.Sender, &m.Content, &ts, &fromMe, &tr); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = parseTime(ts)
		m.IsFromMe = fromMe != 0
		m.IsTrigger = tr != 0
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ClearGroupMessages deletes a group's whole history.
func (s *Store) ClearGroupMessages(ctx context.Context, groupID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE group_id = ?`, groupID); err != nil {
		return fmt.Errorf("clear messages of %s: %w", groupID, err)
	}
	return nil
}

// ReplaceGroupMessages swaps a group's history for the given messages in a
// single transaction. Readers see either the old or the new history.
func (s *Store) ReplaceGroupMessages(ctx context.Context, groupID string, msgs []Message) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE group_id = ?`, groupID); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	for _, m := range msgs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, group_id, sender, content, timestamp, is_from_me, is_trigger)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID, groupID, m.Sender, m.Content, formatTime(m.Timestamp),
			boolToInt(m.IsFromMe), boolToInt(m.IsTrigger),
		)
		if err != nil {
			return fmt.Errorf("insert %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// GetConfig reads one config value.
func (s *Store) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get config %s: %w", key, err)
	}
	return v, true, nil
}

// SetConfigs upserts several keys atomically.
func (s *Store) SetConfigs(ctx context.Context, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	for k, v := range values {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO config (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			k, v, now,
		)
		if err != nil {
			return fmt.Errorf("set config %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// SetConfig upserts one key.
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	return s.SetConfigs(ctx, map[string]string{key: value})
}

// DeleteConfig removes a key. Missing keys are not an error.
func (s *Store) DeleteConfig(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM config WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete config %s: %w", key, err)
	}
	return nil
}

// Memory returns the persisted memory text ("" when none).
func (s *Store) Memory(ctx context.Context) (string, error) {
	v, _, err := s.GetConfig(ctx, MemoryKey)
	return v, err
}

// AppendMemory adds a line to the memory text.
func (s *Store) AppendMemory(ctx context.Context, line string) error {
	cur, err := s.Memory(ctx)
	if err != nil {
		return err
	}
	if cur != "" {
		cur += "\n"
	}
	return s.SetConfig(ctx, MemoryKey, cur+line)
}

// UpsertSkill stores or replaces a skill, keeping its enabled flag when it
// already exists.
func (s *Store) UpsertSkill(ctx context.Context, name, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO skills (name, content, enabled, updated_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT (name) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		name, content, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upsert skill %s: %w", name, err)
	}
	return nil
}

// DeleteSkill removes a skill.
func (s *Store) DeleteSkill(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM skills WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete skill %s: %w", name, err)
	}
	return nil
}

// SetSkillEnabled toggles a skill. Returns an error when it does not exist.
func (s *Store) SetSkillEnabled(ctx context.Context, name string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE skills SET enabled = ? WHERE name = ?`, boolToInt(enabled), name)
	if err != nil {
		return fmt.Errorf("update skill %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("skill %q not found", name)
	}
	return nil
}

// Skills lists every skill ordered by name.
func (s *Store) Skills(ctx context.Context) ([]Skill, error) {
	return s.querySkills(ctx, `SELECT name, content, enabled, updated_at FROM skills ORDER BY name`)
}

// EnabledSkills lists the enabled skills ordered by name.
func (s *Store) EnabledSkills(ctx context.Context) ([]Skill, error) {
	return s.querySkills(ctx, `SELECT name, content, enabled, updated_at FROM skills WHERE enabled = 1 ORDER BY name`)
}

func (s *Store) querySkills(ctx context.Context, query string) ([]Skill, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query skills: %w", err)
	}
	defer rows.Close()

	var out []Skill
	for rows.Next() {
		var (
			sk      Skill
			enabled int
			updated string
		)
		if err := rows.Scan(&sk.Name, &sk.Content, &enabled, &updated); err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		sk.Enabled = enabled != 0
		sk.UpdatedAt = parseTime(updated)
		out = append(out, sk)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
