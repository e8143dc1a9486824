// Package llm is the worker-side agent: one model call per invocation
// against the provider named in the request (Anthropic, OpenAI, Ollama or
// Gemini), plus extraction of the schedule_task directives the model may
// include in its reply.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/worker"
)

// Default models used when the request does not name one.
var defaultModels = map[string]string{
	"anthropic": "claude-sonnet-4-5",
	"openai":    "gpt-4o-mini",
	"gemini":    "gemini-2.5-flash",
}

// DefaultModel returns the model used for provider when none is set, or ""
// when the provider has no default (Ollama).
func DefaultModel(provider string) string { return defaultModels[provider] }

// completion is a provider's answer.
type completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// provider performs one chat completion. msgs alternate user/assistant and
// start with a user turn.
type provider interface {
	complete(ctx context.Context, req worker.Request, msgs []worker.ChatMessage) (completion, error)
}

type providerFactory func(req worker.Request) (provider, error)

// Agent implements worker.Agent.
type Agent struct {
	factories map[string]providerFactory
	logger    *slog.Logger
}

// New creates an agent with every supported provider.
func New(logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		factories: map[string]providerFactory{
			"anthropic": newAnthropic,
			"openai":    newOpenAI,
			"ollama":    newOllama,
			"gemini":    newGemini,
		},
		logger: logger.With("component", "llm"),
	}
}

// Run answers req.
func (a *Agent) Run(ctx context.Context, req worker.Request, emit *worker.Emitter) (string, error) {
	emit.Typing()

	factory, ok := a.factories[req.Provider]
	if !ok {
		return "", fmt.Errorf("unsupported provider %q", req.Provider)
	}
	if req.Model == "" {
		req.Model = defaultModels[req.Provider]
	}
	if req.Model == "" {
		return "", fmt.Errorf("provider %s requires a model", req.Provider)
	}

	msgs := normalizeMessages(req.Messages)
	if len(msgs) == 0 {
		return "", fmt.Errorf("no user message to answer")
	}

	p, err := factory(req)
	if err != nil {
		return "", err
	}

	emit.ThinkingLog(fmt.Sprintf("asking %s/%s (%d turns)", req.Provider, req.Model, len(msgs)))
	c, err := p.complete(ctx, req, msgs)
	if err != nil {
		return "", fmt.Errorf("%s: %w", req.Provider, err)
	}
	emit.TokenUsage(req.Provider, req.Model, c.InputTokens, c.OutputTokens)

	text, tasks := extractTasks(c.Text)
	for _, t := range tasks {
		emit.ToolActivity("schedule_task", "running")
		emit.TaskCreated(t)
		emit.ToolActivity("schedule_task", "done")
	}
	a.logger.Debug("completion done",
		"provider", req.Provider,
		"model", req.Model,
		"input_tokens", c.InputTokens,
		"output_tokens", c.OutputTokens,
		"tasks", len(tasks),
	)
	return text, nil
}

// normalizeMessages drops empty turns and leading assistant turns and merges
// consecutive turns of the same role, so the result alternates starting
// with the user.
func normalizeMessages(in []worker.ChatMessage) []worker.ChatMessage {
	var out []worker.ChatMessage
	for _, m := range in {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		role := worker.RoleUser
		if m.Role == worker.RoleAssistant {
			role = worker.RoleAssistant
		}
		if len(out) == 0 && role == worker.RoleAssistant {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + content
			continue
		}
		out = append(out, worker.ChatMessage{Role: role, Content: content})
	}
	return out
}

// scheduleTaskRe matches <schedule_task schedule="CRON" [group="ID"]>prompt</schedule_task>.
var scheduleTaskRe = regexp.MustCompile(`(?s)<schedule_task\s+schedule="([^"]+)"(?:\s+group="([^"]*)")?\s*>(.*?)</schedule_task>`)

// extractTasks removes schedule_task directives from text and returns them.
func extractTasks(text string) (string, []worker.TaskSpec) {
	var tasks []worker.TaskSpec
	for _, m := range scheduleTaskRe.FindAllStringSubmatch(text, -1) {
		prompt := strings.TrimSpace(m[3])
		if prompt == "" {
			continue
		}
		tasks = append(tasks, worker.TaskSpec{
			Schedule: strings.TrimSpace(m[1]),
			GroupID:  strings.TrimSpace(m[2]),
			Prompt:   prompt,
		})
	}
	if len(tasks) == 0 {
		return text, nil
	}
	return strings.TrimSpace(scheduleTaskRe.ReplaceAllString(text, "")), tasks
}
