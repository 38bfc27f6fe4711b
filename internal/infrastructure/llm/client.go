package llm

import (
	"context"
	"fmt"
	"strings"

	"NewsDesk/internal/config"
	"NewsDesk/internal/ports"
)

// Provider names an LLM vendor.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

// ProviderFor infers the vendor from a model identifier.
func ProviderFor(model string) (Provider, error) {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "gpt"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return ProviderOpenAI, nil
	case strings.HasPrefix(m, "claude"):
		return ProviderAnthropic, nil
	case strings.HasPrefix(m, "gemini"):
		return ProviderGemini, nil
	}
	return "", fmt.Errorf("no provider for model %q", model)
}

// NewClient builds the chat client serving cfg.Model.
func NewClient(ctx context.Context, cfg config.AIConfig) (ports.ChatClient, error) {
	provider, err := ProviderFor(cfg.Model)
	if err != nil {
		return nil, err
	}
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(cfg), nil
	case ProviderGemini:
		return NewGeminiClient(ctx, cfg, "")
	default:
		return NewChatGPTClient(cfg), nil
	}
}
