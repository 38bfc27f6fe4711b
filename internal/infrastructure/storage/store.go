package storage

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/ports"
)

// Store is the persistence surface the application wires into every component.
type Store interface {
	ports.SourceRepository
	ports.RawArticleRepository
	ports.ArticleRepository
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects the configured driver; dims sizes the Postgres vector column.
func Open(ctx context.Context, cfg config.DatabaseConfig, dims int) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "postgres":
		return NewPostgresStore(ctx, cfg.DSN, dims)
	case "sqlite":
		return NewSQLiteStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

const articleColumns = `id, slug, title, excerpt, content, category, tags, significance_score, cover_image_url,
	source_ids, original_urls, status, published_at, ai_model, ai_prompt_version, processing_cost_usd,
	input_tokens, output_tokens, created_at, updated_at`

const rawColumns = `id, source_id, external_id, external_url, title, content, published_at, scraped_at, status,
	embedding, metadata, claimed_at, processed_at, article_id, failure_reason`

const sourceColumns = `id, name, slug, url, adapter_kind, adapter_config, active, scrape_interval_seconds,
	last_scraped_at, created_at`

// articleListQueries builds the page and count queries of an article listing.
func articleListQueries(b sq.StatementBuilderType, filter domain.ArticleFilter) (sq.SelectBuilder, sq.SelectBuilder) {
	where := sq.And{}
	if filter.Status != "" {
		where = append(where, sq.Eq{"status": string(filter.Status)})
	}
	if filter.Category != "" {
		where = append(where, sq.Eq{"category": filter.Category})
	}

	page := b.Select(articleColumns).From("articles").
		OrderBy("created_at DESC", "id").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Skip))
	count := b.Select("COUNT(*)").From("articles")
	if len(where) > 0 {
		page = page.Where(where)
		count = count.Where(where)
	}
	return page, count
}

func statusStrings(statuses []domain.PublicationStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
