package webui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/coordinator"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/events"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/scheduler"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/settings"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/store"
)

type fakeCoordinator struct {
	bus *events.Bus

	mu         sync.Mutex
	compactErr error
	resets     []string
}

func (f *fakeCoordinator) State() coordinator.State { return coordinator.StateIdle }
func (f *fakeCoordinator) QueueLen() int            { return 2 }
func (f *fakeCoordinator) Bus() *events.Bus         { return f.bus }

func (f *fakeCoordinator) Compact(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.compactErr
}

func (f *fakeCoordinator) setCompactErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compactErr = err
}

func (f *fakeCoordinator) resetGroups() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.resets...)
}

func (f *fakeCoordinator) NewSession(_ context.Context, groupID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, groupID)
	return nil
}

type memHistory map[string][]store.Message

func (h memHistory) RecentMessages(_ context.Context, groupID string, limit int) ([]store.Message, error) {
	msgs := h[groupID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

type memTasks struct {
	mu    sync.Mutex
	tasks map[string]*scheduler.Task
}

func newMemTasks() *memTasks { return &memTasks{tasks: make(map[string]*scheduler.Task)} }

func (m *memTasks) SaveTask(_ context.Context, t *scheduler.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *memTasks) GetTask(_ context.Context, id string) (*scheduler.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", scheduler.ErrTaskNotFound, id)
	}
	cp := *t
	return &cp, nil
}

func (m *memTasks) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return fmt.Errorf("%w: %s", scheduler.ErrTaskNotFound, id)
	}
	delete(m.tasks, id)
	return nil
}

func (m *memTasks) LoadTasks(context.Context) ([]*scheduler.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*scheduler.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memTasks) MarkFired(context.Context, string, time.Time) error { return nil }
func (m *memTasks) SetLastError(context.Context, string, string) error { return nil }

type memKV struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memKV) GetConfig(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memKV) SetConfigs(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

func (m *memKV) DeleteConfig(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

type fakeHealth map[string]channels.HealthStatus

func (f fakeHealth) HealthAll() map[string]channels.HealthStatus { return f }

type fakeQR string

func (f fakeQR) QRCode() string { return string(f) }

type harness struct {
	srv   *httptest.Server
	coord *fakeCoordinator
	tasks *memTasks
	sets  *settings.Manager
}

func newHarness(t *testing.T, token string) *harness {
	t.Helper()

	sealer, err := settings.NewSealer("test-master")
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		coord: &fakeCoordinator{bus: events.NewBus(nil)},
		tasks: newMemTasks(),
		sets:  settings.NewManager(&memKV{values: map[string]string{}}, sealer, settings.Defaults(), nil),
	}
	s := New(Config{AuthToken: token}, Deps{
		Coordinator: h.coord,
		History: memHistory{"br:main": {
			{ID: "1", GroupID: "br:main", Sender: "user", Content: "hi"},
			{ID: "2", GroupID: "br:main", Sender: "Andy", Content: "hello", IsFromMe: true},
		}},
		Tasks:    h.tasks,
		Settings: h.sets,
		Channels: fakeHealth{"browser": {Connected: true, Configured: true}},
		WhatsApp: fakeQR("2@abc"),
	}, nil)
	h.srv = httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = s.Stop(context.Background())
		h.srv.Close()
	})
	return h
}

func (h *harness) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decoding response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestAuth(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "secret")

	get := func(path, auth string) int {
		req, _ := http.NewRequest(http.MethodGet, h.srv.URL+path, nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	tests := []struct {
		name string
		path string
		auth string
		want int
	}{
		{"health is public", "/health", "", http.StatusOK},
		{"api without token", "/api/status", "", http.StatusUnauthorized},
		{"api wrong token", "/api/status", "Bearer nope", http.StatusUnauthorized},
		{"api bearer token", "/api/status", "Bearer secret", http.StatusOK},
		{"api query token", "/api/status?token=secret", "", http.StatusOK},
	}
	for _, tt := range tests {
		if got := get(tt.path, tt.auth); got != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestStatusAndMessages(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")

	var status map[string]any
	if code := h.do(t, http.MethodGet, "/api/status", "", &status); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if status["state"] != "idle" || status["queue_len"] != float64(2) || status["configured"] != false {
		t.Errorf("status = %v", status)
	}

	var msgs struct {
		Messages []messageView `json:"messages"`
	}
	if code := h.do(t, http.MethodGet, "/api/groups/br:main/messages?limit=1", "", &msgs); code != http.StatusOK {
		t.Fatalf("messages code = %d", code)
	}
	if len(msgs.Messages) != 1 || msgs.Messages[0].Content != "hello" || !msgs.Messages[0].IsFromMe {
		t.Errorf("messages = %+v", msgs.Messages)
	}

	if code := h.do(t, http.MethodGet, "/api/groups/br:main/messages?limit=x", "", nil); code != http.StatusBadRequest {
		t.Errorf("bad limit code = %d", code)
	}
}

func TestSessionEndpoints(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")

	if code := h.do(t, http.MethodPost, "/api/groups/br:main/compact", "", nil); code != http.StatusAccepted {
		t.Errorf("compact code = %d", code)
	}

	h.coord.setCompactErr(coordinator.ErrBusy)
	var errResp errorResponse
	if code := h.do(t, http.MethodPost, "/api/groups/br:main/compact", "", &errResp); code != http.StatusConflict {
		t.Errorf("busy compact code = %d", code)
	}
	if errResp.Error.Code != http.StatusConflict {
		t.Errorf("error body = %+v", errResp)
	}

	h.coord.setCompactErr(coordinator.ErrNotConfigured)
	if code := h.do(t, http.MethodPost, "/api/groups/br:main/compact", "", nil); code != http.StatusServiceUnavailable {
		t.Errorf("unconfigured compact code = %d", code)
	}

	if code := h.do(t, http.MethodPost, "/api/groups/tg:42/reset", "", nil); code != http.StatusOK {
		t.Errorf("reset code = %d", code)
	}
	if resets := h.coord.resetGroups(); len(resets) != 1 || resets[0] != "tg:42" {
		t.Errorf("resets = %v", resets)
	}
}

func TestTaskCRUD(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")

	var created scheduler.Task
	code := h.do(t, http.MethodPost, "/api/tasks", `{"group_id":"br:main","schedule":"0 9 * * *","prompt":"daily briefing"}`, &created)
	if code != http.StatusCreated || created.ID == "" || !created.Enabled || created.CreatedBy != "api" {
		t.Fatalf("create = %d %+v", code, created)
	}

	if code := h.do(t, http.MethodPost, "/api/tasks", `{"group_id":"br:main","schedule":"whenever","prompt":"x"}`, nil); code != http.StatusBadRequest {
		t.Errorf("invalid schedule code = %d", code)
	}
	if code := h.do(t, http.MethodPost, "/api/tasks", `{"bogus":1}`, nil); code != http.StatusBadRequest {
		t.Errorf("unknown field code = %d", code)
	}

	var list struct {
		Tasks []scheduler.Task `json:"tasks"`
	}
	if h.do(t, http.MethodGet, "/api/tasks", "", &list); len(list.Tasks) != 1 {
		t.Fatalf("tasks = %+v", list.Tasks)
	}

	var patched scheduler.Task
	if code := h.do(t, http.MethodPatch, "/api/tasks/"+created.ID, `{"enabled":false}`, &patched); code != http.StatusOK || patched.Enabled {
		t.Errorf("patch = %d %+v", code, patched)
	}
	stored, _ := h.tasks.GetTask(context.Background(), created.ID)
	if stored.Enabled {
		t.Error("patch not persisted")
	}
	if code := h.do(t, http.MethodPatch, "/api/tasks/"+created.ID, `{"schedule":"nope"}`, nil); code != http.StatusBadRequest {
		t.Errorf("patch bad schedule code = %d", code)
	}

	if code := h.do(t, http.MethodDelete, "/api/tasks/"+created.ID, "", nil); code != http.StatusOK {
		t.Errorf("delete code = %d", code)
	}
	if code := h.do(t, http.MethodDelete, "/api/tasks/"+created.ID, "", nil); code != http.StatusNotFound {
		t.Errorf("second delete code = %d", code)
	}
	if code := h.do(t, http.MethodGet, "/api/tasks/missing", "", nil); code != http.StatusNotFound {
		t.Errorf("get missing code = %d", code)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")

	var got map[string]any
	code := h.do(t, http.MethodPut, "/api/settings", `{"provider":"anthropic","api_key":"sk-live","max_tokens":512}`, &got)
	if code != http.StatusOK {
		t.Fatalf("update code = %d", code)
	}
	if got["configured"] != true || got["has_api_key"] != true || got["max_tokens"] != float64(512) {
		t.Errorf("update response = %v", got)
	}
	if _, leaked := got["api_key"]; leaked {
		t.Error("credential must not be returned")
	}
	if cur := h.sets.Current(); cur.APIKey != "sk-live" || cur.Provider != "anthropic" {
		t.Errorf("current = %+v", cur)
	}

	before := h.sets.Current().Version
	if code := h.do(t, http.MethodPut, "/api/settings", `{"provider":"mystery"}`, nil); code != http.StatusBadRequest {
		t.Errorf("invalid provider code = %d", code)
	}
	if h.sets.Current().Version != before || h.sets.Current().Provider != "anthropic" {
		t.Error("rejected update must leave settings unchanged")
	}

	got = nil
	if h.do(t, http.MethodGet, "/api/settings", "", &got); got["assistant_name"] != "Andy" {
		t.Errorf("get settings = %v", got)
	}
}

func TestWhatsAppQR(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")

	var got map[string]any
	if code := h.do(t, http.MethodGet, "/api/channels/whatsapp/qr", "", &got); code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if got["pending"] != true || got["code"] != "2@abc" {
		t.Errorf("qr = %v", got)
	}
}

func TestEventStream(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "")

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/api/events?kinds=message"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	h.coord.bus.Publish(events.Typing{GroupID: "br:main", Typing: true})
	h.coord.bus.Publish(events.Message{ID: "m1", GroupID: "br:main", Content: "hi"})

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Kind string         `json:"kind"`
		Data map[string]any `json:"data"`
	}
	if err := ws.ReadJSON(&frame); err != nil {
		t.Fatal(err)
	}
	if frame.Kind != string(events.KindMessage) || frame.Data["id"] != "m1" {
		t.Errorf("frame = %+v", frame)
	}
}

func TestParseKinds(t *testing.T) {
	t.Parallel()

	if parseKinds("  ") != nil {
		t.Error("empty filter should be nil")
	}
	got := parseKinds("message, typing,,")
	if len(got) != 2 || !got[events.KindMessage] || !got[events.KindTyping] {
		t.Errorf("parseKinds = %v", got)
	}
}
