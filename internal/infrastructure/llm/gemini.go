package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"NewsDesk/internal/config"
	"NewsDesk/internal/ports"
)

// GeminiClient implements ports.ChatClient with the Gemini API SDK.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

var _ ports.ChatClient = (*GeminiClient)(nil)

// NewGeminiClient builds a Gemini API client; baseURL overrides the API host when set.
func NewGeminiClient(ctx context.Context, cfg config.AIConfig, baseURL string) (*GeminiClient, error) {
	if cfg.GeminiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.GeminiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	return &GeminiClient{
		client:      client,
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
	}, nil
}

func (c *GeminiClient) Model() string { return c.model }

// Complete generates one candidate and joins its text parts.
func (c *GeminiClient) Complete(ctx context.Context, prompt string, jsonResponse bool) (ports.Completion, error) {
	gc := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}},
		Temperature:       genai.Ptr(c.temperature),
	}
	if c.maxTokens > 0 {
		gc.MaxOutputTokens = c.maxTokens
	}
	if jsonResponse {
		gc.ResponseMIMEType = "application/json"
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), gc)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("gemini: %w", err)
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return ports.Completion{}, fmt.Errorf("gemini: response has no candidates")
	}

	var text strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}

	out := ports.Completion{Content: text.String(), Model: c.model}
	if result.UsageMetadata != nil {
		out.Usage = ports.TokenUsage{
			InputTokens:  int(result.UsageMetadata.PromptTokenCount),
			OutputTokens: int(result.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}
