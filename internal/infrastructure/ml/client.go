package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"NewsDesk/internal/config"
	"NewsDesk/internal/ports"
)

// Client talks to an OpenAI-compatible /embeddings endpoint.
type Client struct {
	endpoint string
	apiKey   string
	model    string
	dims     int
	http     *http.Client
}

var _ ports.Embedder = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(cfg config.EmbeddingConfig) *Client {
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		dims:     cfg.Dimensions,
		http:     &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Dimensions() int { return c.dims }

// Embed requests one vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty embedding input")
	}

	payload := map[string]any{
		"model": c.model,
		"input": text,
	}
	if c.dims > 0 && strings.HasPrefix(c.model, "text-embedding-3") {
		payload["dimensions"] = c.dims
	}

	var resp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := c.post(ctx, "/embeddings", payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding response is empty")
	}
	return resp.Data[0].Embedding, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return fmt.Errorf("unexpected status %s, close body: %v", resp.Status, closeErr)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		_ = resp.Body.Close()
		return fmt.Errorf("decode response: %w", err)
	}

	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}

	return nil
}
