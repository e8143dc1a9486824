package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/channels/channeltest"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/events"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/router"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/scheduler"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/settings"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/store"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/worker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory Store.
type memStore struct {
	mu       sync.Mutex
	messages map[string][]store.Message
	saves    int
	memory   string
	skills   []store.Skill
	failSave bool
}

func newMemStore() *memStore {
	return &memStore{messages: make(map[string][]store.Message)}
}

func (s *memStore) SaveMessage(_ context.Context, msg store.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return false, errors.New("disk full")
	}
	if msg.ID != "" {
		for _, m := range s.messages[msg.GroupID] {
			if m.ID == msg.ID {
				return false, nil
			}
		}
	}
	s.saves++
	s.messages[msg.GroupID] = append(s.messages[msg.GroupID], msg)
	return true, nil
}

func (s *memStore) RecentMessages(_ context.Context, groupID string, limit int) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[groupID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]store.Message(nil), msgs...), nil
}

func (s *memStore) ClearGroupMessages(_ context.Context, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, groupID)
	return nil
}

func (s *memStore) ReplaceGroupMessages(_ context.Context, groupID string, msgs []store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[groupID] = append([]store.Message(nil), msgs...)
	return nil
}

func (s *memStore) Memory(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memory, nil
}

func (s *memStore) EnabledSkills(context.Context) ([]store.Skill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Skill(nil), s.skills...), nil
}

func (s *memStore) group(id string) []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Message(nil), s.messages[id]...)
}

// memTasks is an in-memory scheduler.Storage.
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
		return nil, scheduler.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTasks) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

func (m *memTasks) LoadTasks(context.Context) ([]*scheduler.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*scheduler.Task
	for _, t := range m.tasks {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memTasks) MarkFired(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		t.LastRunAt = &at
		t.RunCount++
	}
	return nil
}

func (m *memTasks) SetLastError(_ context.Context, id, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[id]; ok {
		t.LastError = msg
	}
	return nil
}

func (m *memTasks) all() []*scheduler.Task {
	ts, _ := m.LoadTasks(context.Background())
	return ts
}

// fakeWorker hands dispatched envelopes to the test, which answers by
// writing to out.
type fakeWorker struct {
	inbound chan worker.Inbound
	out     chan worker.Outbound

	mu      sync.Mutex
	cancels []string
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{
		inbound: make(chan worker.Inbound, 16),
		out:     make(chan worker.Outbound, 16),
	}
}

func (w *fakeWorker) Start()       {}
func (w *fakeWorker) Close() error { return nil }

func (w *fakeWorker) Dispatch(_ context.Context, in worker.Inbound) error {
	if in.Kind == worker.KindCancel {
		w.mu.Lock()
		w.cancels = append(w.cancels, in.ID)
		w.mu.Unlock()
		return nil
	}
	w.inbound <- in
	return nil
}

func (w *fakeWorker) cancelled() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.cancels...)
}

func (w *fakeWorker) Outbound() <-chan worker.Outbound { return w.out }

func (w *fakeWorker) next(t *testing.T) worker.Inbound {
	t.Helper()
	select {
	case in := <-w.inbound:
		return in
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope dispatched")
		return worker.Inbound{}
	}
}

func (w *fakeWorker) expectNone(t *testing.T) {
	t.Helper()
	select {
	case in := <-w.inbound:
		t.Fatalf("unexpected dispatch: %+v", in)
	default:
	}
}

func (w *fakeWorker) reply(in worker.Inbound, text string) {
	w.out <- worker.Response{Header: worker.Header{ID: in.ID, GroupID: in.Request.GroupID}, Text: text}
}

type staticSettings struct{ s *settings.Settings }

func (s staticSettings) Current() *settings.Settings { return s.s }

func configured() *settings.Settings {
	return &settings.Settings{
		AssistantName: "Andy",
		Provider:      settings.ProviderAnthropic,
		APIKey:        "sk-test",
		MaxTokens:     256,
	}
}

type countingNotifier struct{ n atomic.Int32 }

func (c *countingNotifier) Chime() { c.n.Add(1) }

// recorder captures every bus event.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) record(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(kind events.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind() == kind {
			n++
		}
	}
	return n
}

// typing returns the Typing values published so far, in order.
func (r *recorder) typing() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bool
	for _, ev := range r.events {
		if e, ok := ev.(events.Typing); ok {
			out = append(out, e.Typing)
		}
	}
	return out
}

func (r *recorder) errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if e, ok := ev.(events.Error); ok {
			out = append(out, e.Message)
		}
	}
	return out
}

type harness struct {
	c        *Coordinator
	store    *memStore
	tasks    *memTasks
	worker   *fakeWorker
	browser  *channeltest.Channel
	telegram *channeltest.Channel
	bell     *countingNotifier
	rec      *recorder
}

func newHarness(t *testing.T, s *settings.Settings, opts Options) *harness {
	t.Helper()
	fw := newFakeWorker()
	h := newHarnessWithWorker(t, s, opts, fw)
	h.worker = fw
	return h
}

// newHarnessWithWorker wires a coordinator over w. h.worker stays nil
// unless w is a fakeWorker installed by newHarness.
func newHarnessWithWorker(t *testing.T, s *settings.Settings, opts Options, w Worker) *harness {
	t.Helper()

	logger := discardLogger()
	mgr := channels.NewManager(logger)
	h := &harness{
		store:    newMemStore(),
		tasks:    newMemTasks(),
		browser:  channeltest.New("browser"),
		telegram: channeltest.New("telegram"),
		bell:     &countingNotifier{},
		rec:      &recorder{},
	}
	for _, ch := range []channels.Channel{h.browser, h.telegram} {
		if err := mgr.Register(ch); err != nil {
			t.Fatal(err)
		}
	}
	bus := events.NewBus(logger)
	bus.SubscribeAll(h.rec.record)

	h.c = New(opts, Deps{
		Store:    h.store,
		Tasks:    h.tasks,
		Settings: staticSettings{s},
		Router:   router.New(mgr, "browser", logger),
		Channels: mgr,
		Worker:   w,
		Bus:      bus,
		Notifier: h.bell,
		Logger:   logger,
	})
	if err := h.c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(h.c.Shutdown)
	return h
}

func (h *harness) ingest(t *testing.T, groupID, content string) {
	t.Helper()
	if err := h.c.Ingest(context.Background(), storeMessage(groupID, content)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
}

func storeMessage(groupID, content string) store.Message {
	return store.Message{GroupID: groupID, Sender: "user", Content: content, Timestamp: time.Now()}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
