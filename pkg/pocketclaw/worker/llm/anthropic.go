package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/worker"
)

type anthropicProvider struct {
	client anthropic.Client
}

func newAnthropic(req worker.Request) (provider, error) {
	if req.APIKey == "" {
		return nil, fmt.Errorf("anthropic: missing API key")
	}
	return &anthropicProvider{client: anthropic.NewClient(option.WithAPIKey(req.APIKey))}, nil
}

func (p *anthropicProvider) complete(ctx context.Context, req worker.Request, msgs []worker.ChatMessage) (completion, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens(req)),
		Messages:  make([]anthropic.MessageParam, 0, len(msgs)),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	for _, m := range msgs {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == worker.RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return completion{}, err
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	return completion{
		Text:         b.String(),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

func maxTokens(req worker.Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return 4096
}
