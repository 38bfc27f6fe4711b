package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/ports"
)

const (
	defaultPageLimit      = 20
	maxPageLimit          = 100
	maxCategoryLen        = 100
	minScrapeInterval     = 5 * time.Minute
	defaultScrapeInterval = time.Hour
)

// ScrapeTrigger enqueues an out-of-interval scrape.
type ScrapeTrigger interface {
	Trigger(ctx context.Context, sourceID uuid.UUID) error
}

// Editorial exposes the article and source operations behind the HTTP API.
type Editorial struct {
	articles ports.ArticleRepository
	sources  ports.SourceRepository
	trigger  ScrapeTrigger
	logger   *slog.Logger
	kinds    map[string]struct{}
	now      func() time.Time
}

// NewEditorial wires the editorial service.
func NewEditorial(articles ports.ArticleRepository, sources ports.SourceRepository, trigger ScrapeTrigger, logger *slog.Logger) *Editorial {
	return &Editorial{
		articles: articles,
		sources:  sources,
		trigger:  trigger,
		logger:   logger,
		now:      time.Now,
	}
}

// ListArticles returns one page of articles, newest first.
func (e *Editorial) ListArticles(ctx context.Context, filter domain.ArticleFilter) (domain.ArticlePage, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return domain.ArticlePage{}, domain.Validationf("unknown status %q", filter.Status)
	}
	if filter.Skip < 0 {
		filter.Skip = 0
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultPageLimit
	case filter.Limit > maxPageLimit:
		filter.Limit = maxPageLimit
	}
	filter.Category = strings.ToLower(strings.TrimSpace(filter.Category))
	return e.articles.ListArticles(ctx, filter)
}

func (e *Editorial) GetArticle(ctx context.Context, id uuid.UUID) (domain.Article, error) {
	return e.articles.GetArticle(ctx, id)
}

// UpdateArticle applies an editor patch to the allow-listed fields.
func (e *Editorial) UpdateArticle(ctx context.Context, id uuid.UUID, patch domain.ArticlePatch) (domain.Article, error) {
	if err := validateArticlePatch(&patch); err != nil {
		return domain.Article{}, err
	}
	current, err := e.articles.GetArticle(ctx, id)
	if err != nil {
		return domain.Article{}, err
	}
	if patch.Empty() {
		return current, nil
	}

	patch.Apply(&current)
	current.UpdatedAt = e.now().UTC()
	updated, err := e.articles.UpdateArticle(ctx, current)
	if err != nil {
		return domain.Article{}, err
	}
	e.info("article updated", "article_id", id)
	return updated, nil
}

// Publish moves a draft or review article to published.
func (e *Editorial) Publish(ctx context.Context, id uuid.UUID) (domain.Article, error) {
	a, err := e.articles.TransitionArticle(ctx, id,
		[]domain.PublicationStatus{domain.ArticleDraft, domain.ArticleReview},
		domain.ArticlePublished, e.now().UTC())
	if errors.Is(err, domain.ErrInvalidTransition) {
		if current, getErr := e.articles.GetArticle(ctx, id); getErr == nil && current.Status == domain.ArticlePublished {
			return domain.Article{}, domain.ErrAlreadyPublished
		}
	}
	if err != nil {
		return domain.Article{}, err
	}
	e.info("article published", "article_id", id, "slug", a.Slug)
	return a, nil
}

// Archive retires an article from any non-archived status.
func (e *Editorial) Archive(ctx context.Context, id uuid.UUID) (domain.Article, error) {
	a, err := e.articles.TransitionArticle(ctx, id,
		[]domain.PublicationStatus{domain.ArticleDraft, domain.ArticleReview, domain.ArticlePublished},
		domain.ArticleArchived, e.now().UTC())
	if err != nil {
		return domain.Article{}, err
	}
	e.info("article archived", "article_id", id)
	return a, nil
}

func (e *Editorial) ListSources(ctx context.Context, activeOnly bool) ([]domain.Source, error) {
	return e.sources.ListSources(ctx, activeOnly)
}

// UpdateSource changes the administrative fields of a source.
func (e *Editorial) UpdateSource(ctx context.Context, id uuid.UUID, patch domain.SourcePatch) (domain.Source, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return domain.Source{}, domain.Validationf("name must not be empty")
	}
	if patch.URL != nil && strings.TrimSpace(*patch.URL) == "" {
		return domain.Source{}, domain.Validationf("url must not be empty")
	}
	if patch.ScrapeInterval != nil && *patch.ScrapeInterval < minScrapeInterval {
		return domain.Source{}, domain.Validationf("scrape interval must be at least %s", minScrapeInterval)
	}

	src, err := e.sources.GetSource(ctx, id)
	if err != nil {
		return domain.Source{}, err
	}
	patch.Apply(&src)
	if err := e.sources.UpdateSource(ctx, src); err != nil {
		return domain.Source{}, err
	}
	e.info("source updated", "source", src.Slug, "active", src.Active, "interval", src.ScrapeInterval)
	return src, nil
}

// AllowAdapterKinds limits CreateSource to adapter kinds that can be resolved.
func (e *Editorial) AllowAdapterKinds(kinds ...string) {
	e.kinds = make(map[string]struct{}, len(kinds))
	for _, kind := range kinds {
		e.kinds[strings.ToLower(strings.TrimSpace(kind))] = struct{}{}
	}
}

// CreateSource registers a new source. An empty slug is derived from the name,
// a zero interval defaults to one hour.
func (e *Editorial) CreateSource(ctx context.Context, src domain.Source) (domain.Source, error) {
	src.Name = strings.TrimSpace(src.Name)
	src.Slug = strings.TrimSpace(src.Slug)
	src.URL = strings.TrimSpace(src.URL)
	src.AdapterKind = strings.ToLower(strings.TrimSpace(src.AdapterKind))
	if src.Slug == "" {
		src.Slug = slug.Make(src.Name)
	}
	if src.ScrapeInterval == 0 {
		src.ScrapeInterval = defaultScrapeInterval
	}

	if err := e.validateSource(src); err != nil {
		return domain.Source{}, err
	}

	_, err := e.sources.GetSourceBySlug(ctx, src.Slug)
	switch {
	case err == nil:
		return domain.Source{}, fmt.Errorf("source %s: %w", src.Slug, domain.ErrAlreadyExists)
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Source{}, err
	}

	src.ID = uuid.New()
	src.LastScrapedAt = nil
	src.CreatedAt = e.now().UTC()
	created, err := e.sources.UpsertSource(ctx, src)
	if err != nil {
		return domain.Source{}, err
	}
	e.info("source created", "source", created.Slug, "kind", created.AdapterKind)
	return created, nil
}

func (e *Editorial) validateSource(src domain.Source) error {
	if src.Name == "" {
		return domain.Validationf("name must not be empty")
	}
	if !slug.IsSlug(src.Slug) {
		return domain.Validationf("slug %q is not valid", src.Slug)
	}
	u, err := url.Parse(src.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.Validationf("url %q must be an absolute http(s) url", src.URL)
	}
	if src.AdapterKind == "" {
		return domain.Validationf("adapter kind must not be empty")
	}
	if len(e.kinds) > 0 {
		if _, ok := e.kinds[src.AdapterKind]; !ok {
			return domain.Validationf("adapter kind %q is not registered", src.AdapterKind)
		}
	}
	if src.ScrapeInterval < minScrapeInterval {
		return domain.Validationf("scrape interval must be at least %s", minScrapeInterval)
	}
	return nil
}

// TriggerScrape queues a manual scrape of one source.
func (e *Editorial) TriggerScrape(ctx context.Context, id uuid.UUID) error {
	if e.trigger == nil {
		return domain.ErrBusy
	}
	return e.trigger.Trigger(ctx, id)
}

func validateArticlePatch(p *domain.ArticlePatch) error {
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return domain.Validationf("title must not be empty")
		}
		if utf8.RuneCountInString(title) > maxTitleLen {
			return domain.Validationf("title exceeds %d characters", maxTitleLen)
		}
		p.Title = &title
	}
	if p.Category != nil {
		category := strings.ToLower(strings.TrimSpace(*p.Category))
		if category == "" {
			return domain.Validationf("category must not be empty")
		}
		if utf8.RuneCountInString(category) > maxCategoryLen {
			return domain.Validationf("category exceeds %d characters", maxCategoryLen)
		}
		p.Category = &category
	}
	if p.Excerpt != nil && strings.TrimSpace(*p.Excerpt) == "" {
		return domain.Validationf("excerpt must not be empty")
	}
	if p.Content != nil && strings.TrimSpace(*p.Content) == "" {
		return domain.Validationf("content must not be empty")
	}
	if p.Tags != nil {
		tags := cleanTags(*p.Tags)
		p.Tags = &tags
	}
	return nil
}

func (e *Editorial) info(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Info(msg, args...)
	}
}
