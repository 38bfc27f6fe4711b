package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"NewsDesk/internal/domain"
)

// SourceRepository persists configured sources and their scrape bookkeeping.
type SourceRepository interface {
	UpsertSource(ctx context.Context, src domain.Source) (domain.Source, error)
	ListSources(ctx context.Context, activeOnly bool) ([]domain.Source, error)
	GetSource(ctx context.Context, id uuid.UUID) (domain.Source, error)
	GetSourceBySlug(ctx context.Context, slug string) (domain.Source, error)
	UpdateSource(ctx context.Context, src domain.Source) error
	MarkScraped(ctx context.Context, id uuid.UUID, at time.Time) error
}

// RawArticleRepository persists raw scrape results and drives their status.
// Every status change is conditional on the current status so transitions stay monotonic.
type RawArticleRepository interface {
	// InsertRawIfAbsent stores raw unless (source_id, external_id) exists; it reports whether a row was inserted.
	InsertRawIfAbsent(ctx context.Context, raw domain.RawArticle) (bool, error)
	RawExists(ctx context.Context, sourceID uuid.UUID, externalID string) (bool, error)
	GetRaw(ctx context.Context, id uuid.UUID) (domain.RawArticle, error)
	ListPendingRaw(ctx context.Context, limit int) ([]uuid.UUID, error)
	// ClaimRaw moves pending -> processing and fails with domain.ErrClaimConflict otherwise.
	ClaimRaw(ctx context.Context, id uuid.UUID, at time.Time) (domain.RawArticle, error)
	ReleaseClaim(ctx context.Context, id uuid.UUID) error
	ReleaseStale(ctx context.Context, claimedBefore time.Time) (int64, error)
	SaveEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error
	NearestNeighbors(ctx context.Context, q domain.NeighborQuery) ([]domain.Neighbor, error)
	// MarkDuplicate folds the raw article into an existing article in one transaction.
	MarkDuplicate(ctx context.Context, rawID, articleID uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, rawID uuid.UUID, reason string, at time.Time) error
	// CompleteWithArticle inserts the draft and marks the raw article processed in one transaction.
	CompleteWithArticle(ctx context.Context, rawID uuid.UUID, article domain.Article, at time.Time) error
}

// ArticleRepository exposes finalized drafts to the editorial workflow.
type ArticleRepository interface {
	GetArticle(ctx context.Context, id uuid.UUID) (domain.Article, error)
	ListArticles(ctx context.Context, filter domain.ArticleFilter) (domain.ArticlePage, error)
	// UpdateArticle writes only the editor-owned columns of a.
	UpdateArticle(ctx context.Context, a domain.Article) (domain.Article, error)
	// TransitionArticle atomically moves an article whose status is in from to status to.
	TransitionArticle(ctx context.Context, id uuid.UUID, from []domain.PublicationStatus, to domain.PublicationStatus, at time.Time) (domain.Article, error)
}

// Embedder converts article text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// TokenUsage carries provider-reported token counts.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// Completion is a single LLM response.
type Completion struct {
	Content string
	Usage   TokenUsage
	Model   string
}

// ChatClient sends a rendered prompt to an LLM provider.
type ChatClient interface {
	Complete(ctx context.Context, prompt string, jsonResponse bool) (Completion, error)
	Model() string
}

// Notifier streams operator alerts to Telegram or other channels.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Scheduler controls when recurring jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
