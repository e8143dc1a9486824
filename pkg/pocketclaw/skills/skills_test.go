package skills

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/store"
)

type memStore struct {
	mu     sync.Mutex
	skills map[string]store.Skill
}

func newMemStore() *memStore { return &memStore{skills: make(map[string]store.Skill)} }

func (m *memStore) Skills(context.Context) ([]store.Skill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Skill, 0, len(m.skills))
	for _, sk := range m.skills {
		out = append(out, sk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) UpsertSkill(_ context.Context, name, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sk, ok := m.skills[name]
	if !ok {
		sk = store.Skill{Name: name, Enabled: true}
	}
	sk.Content = content
	m.skills[name] = sk
	return nil
}

func (m *memStore) DeleteSkill(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.skills, name)
	return nil
}

func (m *memStore) get(name string) (store.Skill, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sk, ok := m.skills[name]
	return sk, ok
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		wantName string
		wantBody string
		wantErr  bool
	}{
		{"plain body", "  Be brief.\n", "", "Be brief.", false},
		{"frontmatter", "---\nname: weather\ndescription: forecasts\n---\nUse metric units.", "weather", "Use metric units.", false},
		{"frontmatter without name", "---\ndescription: x\n---\nbody", "", "body", false},
		{"unclosed", "---\nname: x\nbody", "", "", true},
		{"bad yaml", "---\nname: [\n---\nbody", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Parse(tt.text)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if d.Name != tt.wantName || d.Body != tt.wantBody {
				t.Errorf("got name=%q body=%q", d.Name, d.Body)
			}
		})
	}
}

func TestLoadDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tone.md"), "Be friendly.")
	writeFile(t, filepath.Join(dir, "cooking", SkillFile), "---\nname: chef\n---\nSuggest recipes.")
	writeFile(t, filepath.Join(dir, "empty.md"), "   ")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	writeFile(t, filepath.Join(dir, "nodef", "README.md"), "ignored")

	defs, err := LoadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]string{}
	for _, d := range defs {
		got[d.Name] = d.Body
	}
	want := map[string]string{"chef": "Suggest recipes.", "tone": "Be friendly."}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("skill %s = %q, want %q", k, got[k], v)
		}
	}

	if defs, err := LoadDir(filepath.Join(dir, "missing")); err != nil || defs != nil {
		t.Errorf("missing dir = %v, %v", defs, err)
	}
}

func TestSync(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tone.md"), "Be friendly.")

	st := newMemStore()
	st.skills["stale"] = store.Skill{Name: "stale", Content: "old", Enabled: true}
	st.skills["tone"] = store.Skill{Name: "tone", Content: "old", Enabled: false}

	s := NewSyncer(dir, st, nil)
	n, err := s.Sync(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Sync = %d, %v", n, err)
	}

	if _, ok := st.get("stale"); ok {
		t.Error("skill without a file should be deleted")
	}
	tone, _ := st.get("tone")
	if tone.Content != "Be friendly." || tone.Enabled {
		t.Errorf("tone = %+v, want updated content and preserved enabled flag", tone)
	}
}

func TestWatch(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "skills")
	st := newMemStore()
	s := NewSyncer(dir, st, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Watch(ctx, 20*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(dir, "late.md"), "Arrived later.")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if sk, ok := st.get("late"); ok && sk.Content == "Arrived later." {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("watcher did not pick up the new skill")
}
