package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"NewsDesk/internal/config"
)

func TestGeminiComplete(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "models/gemini-2.0-flash:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "g-test" {
			t.Errorf("missing api key header: %q", r.Header.Get("x-goog-api-key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "{\"title\":"}, {"text": "\"T\"}"}]}}],
			"usageMetadata": {"promptTokenCount": 120, "candidatesTokenCount": 30},
			"modelVersion": "gemini-2.0-flash-001"
		}`))
	}))
	defer srv.Close()

	client, err := NewGeminiClient(context.Background(), config.AIConfig{
		Model:       "gemini-2.0-flash",
		GeminiKey:   "g-test",
		Temperature: 0.2,
		MaxTokens:   256,
	}, srv.URL)
	if err != nil {
		t.Fatalf("NewGeminiClient: %v", err)
	}

	out, err := client.Complete(context.Background(), "summarise this", true)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out.Content != `{"title":"T"}` {
		t.Fatalf("content = %q", out.Content)
	}
	if out.Model != "gemini-2.0-flash" {
		t.Fatalf("model = %q, want configured name", out.Model)
	}
	if out.Usage.InputTokens != 120 || out.Usage.OutputTokens != 30 {
		t.Fatalf("usage = %+v", out.Usage)
	}

	gen, _ := got["generationConfig"].(map[string]any)
	if gen["responseMimeType"] != "application/json" || gen["maxOutputTokens"] != float64(256) {
		t.Fatalf("unexpected generation config: %v", gen)
	}
	if _, ok := got["systemInstruction"]; !ok {
		t.Fatalf("system instruction not sent: %v", got)
	}
}

func TestGeminiCompleteWithoutCandidates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates": []}`))
	}))
	defer srv.Close()

	client, err := NewGeminiClient(context.Background(), config.AIConfig{Model: "gemini-2.0-flash", GeminiKey: "g-test"}, srv.URL)
	if err != nil {
		t.Fatalf("NewGeminiClient: %v", err)
	}
	if _, err := client.Complete(context.Background(), "prompt", false); err == nil {
		t.Fatalf("expected error for empty candidate list")
	}
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := NewGeminiClient(context.Background(), config.AIConfig{Model: "gemini-2.0-flash"}, ""); err == nil {
		t.Fatalf("expected error without api key")
	}
}
