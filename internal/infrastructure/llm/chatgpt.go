package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"NewsDesk/internal/config"
	"NewsDesk/internal/ports"
)

const systemPrompt = "You are a careful news editor. You answer with a single JSON object when asked to."

// ChatGPTClient implements ports.ChatClient backed by OpenAI-compatible chat completion APIs.
type ChatGPTClient struct {
	endpoint    string
	model       string
	apiKey      string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

var _ ports.ChatClient = (*ChatGPTClient)(nil)

// NewChatGPTClient builds a client from configuration.
func NewChatGPTClient(cfg config.AIConfig) *ChatGPTClient {
	return &ChatGPTClient{
		endpoint:    cfg.OpenAIEndpoint,
		model:       cfg.Model,
		apiKey:      cfg.OpenAIKey,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *ChatGPTClient) Model() string { return c.model }

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends prompt as a user message and returns the first choice.
func (c *ChatGPTClient) Complete(ctx context.Context, prompt string, jsonResponse bool) (ports.Completion, error) {
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return ports.Completion{}, fmt.Errorf("chatgpt client misconfigured")
	}

	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if jsonResponse {
		payload.ResponseFormat = map[string]string{"type": "json_object"}
	}

	var out chatResponse
	if err := postJSON(ctx, c.httpClient, c.endpoint, map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	}, payload, &out); err != nil {
		return ports.Completion{}, fmt.Errorf("chatgpt: %w", err)
	}
	if len(out.Choices) == 0 {
		return ports.Completion{}, fmt.Errorf("chatgpt: response has no choices")
	}

	model := out.Model
	if model == "" {
		model = c.model
	}
	return ports.Completion{
		Content: out.Choices[0].Message.Content,
		Usage: ports.TokenUsage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
		},
		Model: model,
	}, nil
}

// postJSON marshals payload, sends it with headers and decodes the 2xx body into v.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, val := range headers {
		req.Header.Set(k, val)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
