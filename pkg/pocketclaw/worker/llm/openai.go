package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/worker"
)

// openaiProvider speaks the Chat Completions API. Ollama exposes the same
// API under /v1, so it shares this implementation.
type openaiProvider struct {
	client openai.Client
}

func newOpenAI(req worker.Request) (provider, error) {
	if req.APIKey == "" {
		return nil, fmt.Errorf("openai: missing API key")
	}
	return &openaiProvider{client: openai.NewClient(option.WithAPIKey(req.APIKey))}, nil
}

func newOllama(req worker.Request) (provider, error) {
	if req.OllamaURL == "" {
		return nil, fmt.Errorf("ollama: missing server URL")
	}
	base := strings.TrimRight(req.OllamaURL, "/") + "/v1/"
	return &openaiProvider{client: openai.NewClient(
		option.WithBaseURL(base),
		option.WithAPIKey("ollama"),
	)}, nil
}

func (p *openaiProvider) complete(ctx context.Context, req worker.Request, msgs []worker.ChatMessage) (completion, error) {
	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(req.Model),
		MaxTokens: openai.Int(int64(maxTokens(req))),
		Messages:  make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1),
	}
	if req.SystemPrompt != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range msgs {
		if m.Role == worker.RoleAssistant {
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		} else {
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return completion{}, err
	}
	if len(resp.Choices) == 0 {
		return completion{}, fmt.Errorf("empty completion")
	}
	return completion{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}
