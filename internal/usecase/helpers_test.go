package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/infrastructure/storage"
	"NewsDesk/internal/ports"
)

type fakeEmbedder struct {
	dims    int
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	for prefix, vec := range f.vectors {
		if len(text) >= len(prefix) && text[:len(prefix)] == prefix {
			return vec, nil
		}
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

type fakeChat struct {
	mu      sync.Mutex
	content string
	usage   ports.TokenUsage
	err     error
	calls   int
	prompts []string
	// model is the configured name; served is what the provider echoes back.
	model  string
	served string
	// block makes Complete wait for ctx cancellation after signalling started.
	block   bool
	started chan struct{}
}

func (f *fakeChat) Complete(ctx context.Context, prompt string, _ bool) (ports.Completion, error) {
	f.mu.Lock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.block {
		close(f.started)
		<-ctx.Done()
		return ports.Completion{}, ctx.Err()
	}
	if f.err != nil {
		return ports.Completion{}, f.err
	}
	served := f.served
	if served == "" {
		served = f.Model()
	}
	return ports.Completion{Content: f.content, Usage: f.usage, Model: served}, nil
}

func (f *fakeChat) Model() string {
	if f.model != "" {
		return f.model
	}
	return "gpt-4o"
}

func (f *fakeChat) LastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

func (f *fakeChat) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return nil
}

func (n *recordingNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

const validResult = "```json\n" + `{
  "title": "Central bank holds rates",
  "excerpt": "The bank kept its benchmark rate unchanged.",
  "content": "The central bank held rates on Monday.",
  "category": "Industry",
  "tags": ["rates", "Rates", "banks"],
  "significance_score": 7
}` + "\n```"

var testPricing = PriceTable{
	Rates: map[string]Rates{
		"gpt-4o":      {Input: 2.50, Output: 10.00},
		"gpt-4o-mini": {Input: 0.15, Output: 0.60},
	},
	Default: "gpt-4o",
}

func newStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	s, err := storage.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addSource(t *testing.T, s *storage.SQLiteStore, slug, kind string, cfg map[string]string) domain.Source {
	t.Helper()
	src, err := s.UpsertSource(context.Background(), domain.Source{
		Name:           slug,
		Slug:           slug,
		URL:            "https://" + slug + ".example",
		AdapterKind:    kind,
		AdapterConfig:  cfg,
		Active:         true,
		ScrapeInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("upsert source: %v", err)
	}
	return src
}

func addRaw(t *testing.T, s *storage.SQLiteStore, src domain.Source, externalID, title string) domain.RawArticle {
	t.Helper()
	raw := domain.RawArticle{
		ID:          uuid.New(),
		SourceID:    src.ID,
		ExternalID:  externalID,
		ExternalURL: "https://" + src.Slug + ".example/" + externalID,
		Title:       title,
		Content:     "Body of " + title,
		ScrapedAt:   time.Now().UTC(),
		Status:      domain.StatusPending,
	}
	if ok, err := s.InsertRawIfAbsent(context.Background(), raw); err != nil || !ok {
		t.Fatalf("insert raw %s: ok=%v err=%v", externalID, ok, err)
	}
	return raw
}

func newTestPipeline(s *storage.SQLiteStore, embedder ports.Embedder, chat ports.ChatClient, notifier ports.Notifier) *Pipeline {
	dedup := NewDedupEngine(embedder, s, DedupConfig{
		Threshold:      0.92,
		Window:         7 * 24 * time.Hour,
		CandidateLimit: 5,
		MaxChars:       8000,
	}, nil)
	return NewPipeline(PipelineDeps{
		Raws:        s,
		Sources:     s,
		Dedup:       dedup,
		Transformer: NewTransformer(chat, TransformerConfig{Pricing: testPricing}),
		Notifier:    notifier,
	}, PipelineConfig{Workers: 2, AIConcurrency: 1, BatchSize: 10, StaleAfter: 15 * time.Minute})
}

func mustStatus(t *testing.T, s *storage.SQLiteStore, id uuid.UUID, want domain.ProcessingStatus) domain.RawArticle {
	t.Helper()
	raw, err := s.GetRaw(context.Background(), id)
	if err != nil {
		t.Fatalf("get raw: %v", err)
	}
	if raw.Status != want {
		t.Fatalf("raw %s status = %s, want %s", id, raw.Status, want)
	}
	return raw
}
