package coordinator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/router"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/scheduler"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/settings"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/store"
	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/worker"
)

const compactInstruction = "Summarize the conversation above for your own future reference. " +
	"Keep names, decisions, open tasks and preferences. Reply with the summary only."

// buildRequest assembles an invoke request from the current settings and
// the group's recent history.
func (c *Coordinator) buildRequest(ctx context.Context, groupID string, s *settings.Settings) (worker.Request, error) {
	history, err := c.store.RecentMessages(ctx, groupID, c.opts.HistoryWindow)
	if err != nil {
		return worker.Request{}, fmt.Errorf("loading history: %w", err)
	}
	return worker.Request{
		GroupID:      groupID,
		SystemPrompt: c.systemPrompt(ctx, s),
		Messages:     conversation(history),
		Provider:     s.Provider,
		Model:        s.Model,
		MaxTokens:    s.MaxTokens,
		APIKey:       s.APIKey,
		OllamaURL:    s.OllamaURL,
	}, nil
}

// buildCompactRequest is buildRequest with the summarize instruction
// appended as the final user turn.
func (c *Coordinator) buildCompactRequest(ctx context.Context, groupID string, s *settings.Settings) (worker.Request, error) {
	req, err := c.buildRequest(ctx, groupID, s)
	if err != nil {
		return req, err
	}
	if len(req.Messages) == 0 {
		return req, nil
	}
	req.Messages = append(req.Messages, worker.ChatMessage{Role: worker.RoleUser, Content: compactInstruction})
	return req, nil
}

// systemPrompt renders the assistant's instructions with memory and enabled
// skills. Failing to load either is logged and the section left out.
func (c *Coordinator) systemPrompt(ctx context.Context, s *settings.Settings) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a personal assistant talking with one user across several chat apps.\n", s.AssistantName)
	b.WriteString("Conversation history arrives as <messages> blocks; each <message> names its sender and time.\n")
	b.WriteString("Anything you wrap in <internal>...</internal> is never shown to the user.\n")
	b.WriteString("To create a recurring task, include <schedule_task schedule=\"CRON\">prompt</schedule_task> " +
		"in your reply, using a 5-field cron expression or a descriptor such as @daily.\n")
	b.WriteString("Messages starting with " + scheduler.TaskMarker + " come from a task that fired; answer them as the task asks.\n")
	fmt.Fprintf(&b, "Current time: %s\n", c.now().UTC().Format(time.RFC3339))

	memory, err := c.store.Memory(ctx)
	if err != nil {
		c.logger.Warn("failed to load memory", "error", err)
	} else if memory = strings.TrimSpace(memory); memory != "" {
		b.WriteString("\n## Memory\n")
		b.WriteString(memory)
		b.WriteString("\n")
	}

	skills, err := c.store.EnabledSkills(ctx)
	if err != nil {
		c.logger.Warn("failed to load skills", "error", err)
	} else if len(skills) > 0 {
		b.WriteString("\n## Skills\n")
		for _, sk := range skills {
			fmt.Fprintf(&b, "\n### %s\n%s\n", sk.Name, strings.TrimSpace(sk.Content))
		}
	}
	return b.String()
}

// conversation turns stored history into chat turns: runs of messages from
// anyone but the assistant become one user turn holding a <messages>
// document, the assistant's own replies become assistant turns.
func conversation(history []store.Message) []worker.ChatMessage {
	var (
		out []worker.ChatMessage
		run []router.FormatMessage
	)
	flush := func() {
		if len(run) == 0 {
			return
		}
		out = append(out, worker.ChatMessage{Role: worker.RoleUser, Content: router.FormatMessages(run)})
		run = nil
	}
	for _, m := range history {
		if m.IsFromMe {
			flush()
			out = append(out, worker.ChatMessage{Role: worker.RoleAssistant, Content: m.Content})
			continue
		}
		run = append(run, router.FormatMessage{Sender: m.Sender, Content: m.Content, Time: m.Timestamp})
	}
	flush()
	return out
}
