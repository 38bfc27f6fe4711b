package domain

import (
	"time"

	"github.com/google/uuid"
)

// Source is a configured news origin scraped by one adapter kind.
type Source struct {
	ID             uuid.UUID
	Name           string
	Slug           string
	URL            string
	AdapterKind    string
	AdapterConfig  map[string]string
	Active         bool
	ScrapeInterval time.Duration
	LastScrapedAt  *time.Time
	CreatedAt      time.Time
}

// DueAt reports when the source becomes eligible for the next scrape.
// A source that was never scraped is due immediately.
func (s Source) DueAt() time.Time {
	if s.LastScrapedAt == nil {
		return time.Time{}
	}
	return s.LastScrapedAt.Add(s.ScrapeInterval)
}

// IsDue reports whether an active source should be scraped at now.
func (s Source) IsDue(now time.Time) bool {
	return s.Active && !now.Before(s.DueAt())
}

// ProcessingStatus enumerates raw article pipeline milestones.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusProcessed  ProcessingStatus = "processed"
	StatusDuplicate  ProcessingStatus = "duplicate"
	StatusFailed     ProcessingStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusProcessed || s == StatusDuplicate || s == StatusFailed
}

// CanTransition validates a move along pending -> processing -> terminal.
// processing -> pending is allowed for released or stale claims.
func (s ProcessingStatus) CanTransition(to ProcessingStatus) bool {
	switch s {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to.Terminal() || to == StatusPending
	default:
		return false
	}
}

// RawArticle is an unprocessed scrape result.
type RawArticle struct {
	ID            uuid.UUID
	SourceID      uuid.UUID
	ExternalID    string
	ExternalURL   string
	Title         string
	Content       string
	PublishedAt   *time.Time
	ScrapedAt     time.Time
	Status        ProcessingStatus
	Embedding     []float32
	Metadata      map[string]string
	ClaimedAt     *time.Time
	ProcessedAt   *time.Time
	ArticleID     *uuid.UUID
	FailureReason string
}

// PublicationStatus is the editorial state of an Article.
type PublicationStatus string

const (
	ArticleDraft     PublicationStatus = "draft"
	ArticleReview    PublicationStatus = "review"
	ArticlePublished PublicationStatus = "published"
	ArticleArchived  PublicationStatus = "archived"
)

// Valid reports whether the status is one of the known values.
func (s PublicationStatus) Valid() bool {
	switch s {
	case ArticleDraft, ArticleReview, ArticlePublished, ArticleArchived:
		return true
	}
	return false
}

// Usage records the tokens and cost of the AI call that produced a draft.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Article is a publishable draft produced by the pipeline.
type Article struct {
	ID                uuid.UUID
	Slug              string
	Title             string
	Excerpt           string
	Content           string
	Category          string
	Tags              []string
	SignificanceScore int
	CoverImageURL     string
	SourceIDs         []uuid.UUID
	OriginalURLs      []string
	Status            PublicationStatus
	PublishedAt       *time.Time
	AIModel           string
	AIPromptVersion   string
	ProcessingCostUSD float64
	Usage             Usage
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ArticlePatch lists the only fields editors may change.
// Nil pointers leave the stored value untouched.
type ArticlePatch struct {
	Title         *string
	Excerpt       *string
	Content       *string
	Category      *string
	Tags          *[]string
	CoverImageURL *string
}

// Empty reports whether the patch changes nothing.
func (p ArticlePatch) Empty() bool {
	return p.Title == nil && p.Excerpt == nil && p.Content == nil &&
		p.Category == nil && p.Tags == nil && p.CoverImageURL == nil
}

// Apply copies the set fields onto a.
func (p ArticlePatch) Apply(a *Article) {
	if p.Title != nil {
		a.Title = *p.Title
	}
	if p.Excerpt != nil {
		a.Excerpt = *p.Excerpt
	}
	if p.Content != nil {
		a.Content = *p.Content
	}
	if p.Category != nil {
		a.Category = *p.Category
	}
	if p.Tags != nil {
		a.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.CoverImageURL != nil {
		a.CoverImageURL = *p.CoverImageURL
	}
}

// SourcePatch lists the administrative fields of a Source.
type SourcePatch struct {
	Name           *string
	URL            *string
	AdapterConfig  *map[string]string
	Active         *bool
	ScrapeInterval *time.Duration
}

// Apply copies the set fields onto s.
func (p SourcePatch) Apply(s *Source) {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.URL != nil {
		s.URL = *p.URL
	}
	if p.AdapterConfig != nil {
		cfg := make(map[string]string, len(*p.AdapterConfig))
		for k, v := range *p.AdapterConfig {
			cfg[k] = v
		}
		s.AdapterConfig = cfg
	}
	if p.Active != nil {
		s.Active = *p.Active
	}
	if p.ScrapeInterval != nil {
		s.ScrapeInterval = *p.ScrapeInterval
	}
}

// ArticleFilter narrows article listings.
type ArticleFilter struct {
	Status   PublicationStatus
	Category string
	Skip     int
	Limit    int
}

// ArticlePage is one page of an article listing.
type ArticlePage struct {
	Items []Article
	Total int
	Skip  int
	Limit int
}
