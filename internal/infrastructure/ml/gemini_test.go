package ml

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"NewsDesk/internal/config"
)

func TestGeminiEmbed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "models/gemini-embedding-001:") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !bytes.Contains(body, []byte("hello")) || !bytes.Contains(body, []byte(`"outputDimensionality":3`)) {
			t.Errorf("unexpected request: %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"embedding": {"values": [0.1, 0.2, 0.3]},
			"embeddings": [{"values": [0.1, 0.2, 0.3]}]
		}`))
	}))
	defer srv.Close()

	e, err := NewEmbedder(context.Background(), config.EmbeddingConfig{
		Provider:   "Gemini",
		Endpoint:   srv.URL,
		Model:      "gemini-embedding-001",
		APIKey:     "g-test",
		Dimensions: 3,
	})
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}
	if _, ok := e.(*GeminiEmbedder); !ok {
		t.Fatalf("provider gemini built %T", e)
	}
	if e.Dimensions() != 3 {
		t.Fatalf("dimensions = %d", e.Dimensions())
	}

	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Fatalf("unexpected vector %v", vec)
	}
}

func TestGeminiEmbedEmptyResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	e, err := NewGeminiEmbedder(context.Background(), config.EmbeddingConfig{
		Endpoint: srv.URL,
		Model:    "gemini-embedding-001",
		APIKey:   "g-test",
	})
	if err != nil {
		t.Fatalf("NewGeminiEmbedder: %v", err)
	}
	if _, err := e.Embed(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error for empty embedding response")
	}
}

func TestNewGeminiEmbedderRequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := NewGeminiEmbedder(context.Background(), config.EmbeddingConfig{Model: "gemini-embedding-001"}); err == nil {
		t.Fatalf("expected error without api key")
	}
}
