package ml

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"NewsDesk/internal/config"
	"NewsDesk/internal/ports"
)

// GeminiEmbedder produces vectors with the Gemini embedding models.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
	dims   int
}

var _ ports.Embedder = (*GeminiEmbedder)(nil)

func NewGeminiEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini embedding api key is required")
	}
	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.Endpoint != "" && !strings.Contains(cfg.Endpoint, "openai.com") {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiEmbedder{client: client, model: cfg.Model, dims: cfg.Dimensions}, nil
}

func (g *GeminiEmbedder) Dimensions() int { return g.dims }

func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var ec *genai.EmbedContentConfig
	if g.dims > 0 {
		dims := int32(g.dims)
		ec = &genai.EmbedContentConfig{OutputDimensionality: &dims}
	}
	result, err := g.client.Models.EmbedContent(ctx, g.model, genai.Text(text), ec)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if result == nil || len(result.Embeddings) == 0 || result.Embeddings[0] == nil {
		return nil, fmt.Errorf("gemini embed: response is empty")
	}
	return result.Embeddings[0].Values, nil
}

// NewEmbedder builds the embedder named by cfg.Provider.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (ports.Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return NewClient(cfg), nil
	case "gemini":
		return NewGeminiEmbedder(ctx, cfg)
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}
