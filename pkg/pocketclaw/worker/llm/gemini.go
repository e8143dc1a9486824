package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/jholhewres/pocketclaw/pkg/pocketclaw/worker"
)

type geminiProvider struct {
	apiKey string
}

func newGemini(req worker.Request) (provider, error) {
	if req.APIKey == "" {
		return nil, fmt.Errorf("gemini: missing API key")
	}
	return &geminiProvider{apiKey: req.APIKey}, nil
}

func (p *geminiProvider) complete(ctx context.Context, req worker.Request, msgs []worker.ChatMessage) (completion, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return completion{}, fmt.Errorf("creating Gemini client: %w", err)
	}

	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		var role genai.Role = genai.RoleUser
		if m.Role == worker.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens(req)),
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	res, err := client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return completion{}, err
	}

	c := completion{Text: res.Text()}
	if u := res.UsageMetadata; u != nil {
		c.InputTokens = int(u.PromptTokenCount)
		c.OutputTokens = int(u.CandidatesTokenCount)
	}
	return c, nil
}
