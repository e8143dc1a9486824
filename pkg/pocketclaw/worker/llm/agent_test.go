package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/worker"
)

type stubProvider struct {
	reply completion
	err   error
	got   []worker.ChatMessage
	req   worker.Request
}

func (s *stubProvider) complete(_ context.Context, req worker.Request, msgs []worker.ChatMessage) (completion, error) {
	s.req = req
	s.got = msgs
	return s.reply, s.err
}

func newStubAgent(p *stubProvider) *Agent {
	a := New(nil)
	a.factories["stub"] = func(worker.Request) (provider, error) { return p, nil }
	return a
}

func collect() (*worker.Emitter, *[]worker.Outbound) {
	var out []worker.Outbound
	return worker.NewEmitter("inv-1", "br:main", func(o worker.Outbound) { out = append(out, o) }), &out
}

func TestNormalizeMessages(t *testing.T) {
	t.Parallel()

	in := []worker.ChatMessage{
		{Role: worker.RoleAssistant, Content: "stale greeting"},
		{Role: worker.RoleUser, Content: "hi"},
		{Role: worker.RoleUser, Content: "  "},
		{Role: worker.RoleUser, Content: "are you there?"},
		{Role: worker.RoleAssistant, Content: "yes"},
		{Role: "system", Content: "treated as user"},
	}
	got := normalizeMessages(in)

	want := []worker.ChatMessage{
		{Role: worker.RoleUser, Content: "hi\n\nare you there?"},
		{Role: worker.RoleAssistant, Content: "yes"},
		{Role: worker.RoleUser, Content: "treated as user"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestExtractTasks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		text      string
		wantText  string
		wantTasks []worker.TaskSpec
	}{
		{
			name:     "no directives",
			text:     "Sure, done.",
			wantText: "Sure, done.",
		},
		{
			name:     "single directive",
			text:     "Okay!\n<schedule_task schedule=\"0 9 * * *\">Say good morning</schedule_task>",
			wantText: "Okay!",
			wantTasks: []worker.TaskSpec{
				{Schedule: "0 9 * * *", Prompt: "Say good morning"},
			},
		},
		{
			name:     "group and multiline prompt",
			text:     "<schedule_task schedule=\"@daily\" group=\"tg:42\">\nCheck the news\nand summarize\n</schedule_task> Scheduled.",
			wantText: "Scheduled.",
			wantTasks: []worker.TaskSpec{
				{Schedule: "@daily", GroupID: "tg:42", Prompt: "Check the news\nand summarize"},
			},
		},
		{
			name:     "empty prompt ignored",
			text:     "x <schedule_task schedule=\"@hourly\"> </schedule_task>",
			wantText: "x <schedule_task schedule=\"@hourly\"> </schedule_task>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			text, tasks := extractTasks(tt.text)
			if text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
			if len(tasks) != len(tt.wantTasks) {
				t.Fatalf("tasks = %+v, want %+v", tasks, tt.wantTasks)
			}
			for i := range tasks {
				if tasks[i] != tt.wantTasks[i] {
					t.Errorf("task %d = %+v, want %+v", i, tasks[i], tt.wantTasks[i])
				}
			}
		})
	}
}

func TestRun_EmitsProgressAndTasks(t *testing.T) {
	t.Parallel()

	p := &stubProvider{reply: completion{
		Text:         "Will do. <schedule_task schedule=\"0 8 * * 1\">Weekly plan</schedule_task>",
		InputTokens:  12,
		OutputTokens: 7,
	}}
	a := newStubAgent(p)
	emit, out := collect()

	text, err := a.Run(context.Background(), worker.Request{
		GroupID:  "br:main",
		Provider: "stub",
		Model:    "m1",
		Messages: []worker.ChatMessage{{Role: worker.RoleUser, Content: "plan my week every monday"}},
	}, emit)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if text != "Will do." {
		t.Errorf("text = %q", text)
	}
	if len(p.got) != 1 || p.req.Model != "m1" {
		t.Errorf("provider got %+v with model %q", p.got, p.req.Model)
	}

	var kinds []string
	for _, o := range *out {
		kinds = append(kinds, string(o.Kind()))
	}
	want := "typing,thinking-log,token-usage,tool-activity,task-created,tool-activity"
	if got := strings.Join(kinds, ","); got != want {
		t.Fatalf("emitted %s, want %s", got, want)
	}

	usage := (*out)[2].(worker.TokenUsage)
	if usage.InputTokens != 12 || usage.OutputTokens != 7 || usage.Model != "m1" {
		t.Errorf("usage = %+v", usage)
	}
	created := (*out)[4].(worker.TaskCreated)
	if created.Task.GroupID != "br:main" || created.Task.Schedule != "0 8 * * 1" {
		t.Errorf("task = %+v", created.Task)
	}
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()

	boom := errors.New("rate limited")
	user := []worker.ChatMessage{{Role: worker.RoleUser, Content: "hi"}}

	tests := []struct {
		name    string
		req     worker.Request
		stubErr error
		want    string
	}{
		{"unknown provider", worker.Request{Provider: "nope", Messages: user}, nil, "unsupported provider"},
		{"ollama needs model", worker.Request{Provider: "ollama", OllamaURL: "http://x", Messages: user}, nil, "requires a model"},
		{"anthropic needs key", worker.Request{Provider: "anthropic", Messages: user}, nil, "missing API key"},
		{"openai needs key", worker.Request{Provider: "openai", Messages: user}, nil, "missing API key"},
		{"gemini needs key", worker.Request{Provider: "gemini", Messages: user}, nil, "missing API key"},
		{"ollama needs url", worker.Request{Provider: "ollama", Model: "llama3", Messages: user}, nil, "missing server URL"},
		{"nothing to answer", worker.Request{Provider: "stub", Model: "m"}, nil, "no user message"},
		{"provider failure", worker.Request{Provider: "stub", Model: "m", Messages: user}, boom, "rate limited"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := newStubAgent(&stubProvider{err: tt.stubErr})
			emit, _ := collect()
			_, err := a.Run(context.Background(), tt.req, emit)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
			if tt.stubErr != nil && !errors.Is(err, tt.stubErr) {
				t.Errorf("err %v does not wrap provider error", err)
			}
		})
	}
}

func TestNew_DefaultModels(t *testing.T) {
	t.Parallel()

	p := &stubProvider{reply: completion{Text: "ok"}}
	a := New(nil)
	a.factories["anthropic"] = func(worker.Request) (provider, error) { return p, nil }
	emit, _ := collect()

	if _, err := a.Run(context.Background(), worker.Request{
		Provider: "anthropic",
		Messages: []worker.ChatMessage{{Role: worker.RoleUser, Content: "hi"}},
	}, emit); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.req.Model != defaultModels["anthropic"] {
		t.Errorf("model = %q", p.req.Model)
	}
}
