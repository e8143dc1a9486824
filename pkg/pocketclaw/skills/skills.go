// Package skills keeps the store's skill table in sync with a directory of
// markdown files. A skill is either "<dir>/<name>.md" or
// "<dir>/<name>/SKILL.md", optionally starting with YAML frontmatter:
//
//	---
//	name: weather
//	description: How to answer weather questions
//	---
//	Instructions for the assistant...
//
// The body (after the frontmatter) is what the system prompt receives.
package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/store"
)

// SkillFile is the per-directory skill file name.
const SkillFile = "SKILL.md"

// Store is the persistence the syncer writes to. *store.Store implements it.
type Store interface {
	Skills(ctx context.Context) ([]store.Skill, error)
	UpsertSkill(ctx context.Context, name, content string) error
	DeleteSkill(ctx context.Context, name string) error
}

// Def is one parsed skill file.
type Def struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Body        string `yaml:"-"`
	Path        string `yaml:"-"`
}

// Syncer mirrors a skills directory into the store.
type Syncer struct {
	dir    string
	store  Store
	logger *slog.Logger
}

// NewSyncer creates a syncer for dir.
func NewSyncer(dir string, st Store, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		dir:    dir,
		store:  st,
		logger: logger.With("component", "skills"),
	}
}

// Dir returns the watched directory.
func (s *Syncer) Dir() string { return s.dir }

// Sync upserts every skill found on disk and deletes stored skills whose
// file is gone. Enabled flags of existing skills are preserved. A missing
// directory means no skills.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	defs, err := LoadDir(s.dir)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if err := s.store.UpsertSkill(ctx, d.Name, d.Body); err != nil {
			return 0, err
		}
		seen[d.Name] = true
	}

	stored, err := s.store.Skills(ctx)
	if err != nil {
		return 0, err
	}
	for _, sk := range stored {
		if seen[sk.Name] {
			continue
		}
		if err := s.store.DeleteSkill(ctx, sk.Name); err != nil {
			return 0, err
		}
		s.logger.Info("skill removed", "name", sk.Name)
	}

	s.logger.Debug("skills synced", "count", len(defs), "dir", s.dir)
	return len(defs), nil
}

// LoadDir reads every skill in dir, sorted by file name. Unreadable or
// empty skills are skipped.
func LoadDir(dir string) ([]Def, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading skills directory %s: %w", dir, err)
	}

	var defs []Def
	for _, e := range entries {
		var path, fallback string
		switch {
		case e.IsDir():
			path = filepath.Join(dir, e.Name(), SkillFile)
			fallback = e.Name()
		case strings.EqualFold(filepath.Ext(e.Name()), ".md"):
			path = filepath.Join(dir, e.Name())
			fallback = strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		default:
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		d, err := Parse(string(data))
		if err != nil || d.Body == "" {
			continue
		}
		if d.Name == "" {
			d.Name = fallback
		}
		d.Path = path
		defs = append(defs, *d)
	}
	return defs, nil
}

// Parse splits optional YAML frontmatter from the body.
func Parse(text string) (*Def, error) {
	text = strings.TrimSpace(text)
	d := &Def{}

	if !strings.HasPrefix(text, "---") {
		d.Body = text
		return d, nil
	}

	rest := text[3:]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return nil, fmt.Errorf("unclosed YAML frontmatter")
	}
	if err := yaml.Unmarshal([]byte(rest[:idx]), d); err != nil {
		return nil, fmt.Errorf("parsing frontmatter: %w", err)
	}
	d.Name = strings.TrimSpace(d.Name)
	d.Body = strings.TrimSpace(rest[idx+4:])
	return d, nil
}
