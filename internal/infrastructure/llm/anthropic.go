package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"NewsDesk/internal/config"
	"NewsDesk/internal/ports"
)

const anthropicVersion = "2023-06-01"

// AnthropicClient implements ports.ChatClient over the Messages API.
type AnthropicClient struct {
	endpoint    string
	model       string
	apiKey      string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

var _ ports.ChatClient = (*AnthropicClient)(nil)

func NewAnthropicClient(cfg config.AIConfig) *AnthropicClient {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicClient{
		endpoint:    cfg.AnthropicEndpoint,
		model:       cfg.Model,
		apiKey:      cfg.AnthropicKey,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *AnthropicClient) Model() string { return c.model }

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete sends prompt as a single user turn; text blocks of the reply are concatenated.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string, jsonResponse bool) (ports.Completion, error) {
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return ports.Completion{}, fmt.Errorf("anthropic client misconfigured")
	}

	system := systemPrompt
	if jsonResponse {
		system += " Reply with raw JSON only, without Markdown fences."
	}
	payload := map[string]any{
		"model":       c.model,
		"max_tokens":  c.maxTokens,
		"temperature": c.temperature,
		"system":      system,
		"messages": []chatMessage{
			{Role: "user", Content: prompt},
		},
	}

	var out anthropicResponse
	err := postJSON(ctx, c.httpClient, c.endpoint, map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	}, payload, &out)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("anthropic: %w", err)
	}

	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return ports.Completion{}, fmt.Errorf("anthropic: response has no text content")
	}

	model := out.Model
	if model == "" {
		model = c.model
	}
	return ports.Completion{
		Content: text.String(),
		Usage: ports.TokenUsage{
			InputTokens:  out.Usage.InputTokens,
			OutputTokens: out.Usage.OutputTokens,
		},
		Model: model,
	}, nil
}
