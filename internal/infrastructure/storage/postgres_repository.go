package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"NewsDesk/internal/domain"
)

// PostgresStore persists sources, raw articles and drafts in Postgres with pgvector.
type PostgresStore struct {
	pool *pgxpool.Pool
	sb   sq.StatementBuilderType
	dims int
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects a pgx pool; dims sizes the embedding column on Migrate.
func NewPostgresStore(ctx context.Context, dsn string, dims int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		dims: dims,
	}, nil
}

// Migrate creates the extension, tables and indexes when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS sources (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			url TEXT NOT NULL,
			adapter_kind TEXT NOT NULL,
			adapter_config JSONB NOT NULL DEFAULT '{}',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			scrape_interval_seconds BIGINT NOT NULL,
			last_scraped_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS articles (
			id UUID PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			title VARCHAR(500) NOT NULL,
			excerpt TEXT NOT NULL,
			content TEXT NOT NULL,
			category VARCHAR(100) NOT NULL,
			tags TEXT[] NOT NULL DEFAULT '{}',
			significance_score INT NOT NULL,
			cover_image_url TEXT NOT NULL DEFAULT '',
			source_ids UUID[] NOT NULL DEFAULT '{}',
			original_urls TEXT[] NOT NULL DEFAULT '{}',
			status TEXT NOT NULL,
			published_at TIMESTAMPTZ,
			ai_model TEXT NOT NULL,
			ai_prompt_version TEXT NOT NULL,
			processing_cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			input_tokens INT NOT NULL DEFAULT 0,
			output_tokens INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_status_created ON articles (status, created_at DESC)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS raw_articles (
			id UUID PRIMARY KEY,
			source_id UUID NOT NULL REFERENCES sources(id),
			external_id TEXT NOT NULL,
			external_url TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			published_at TIMESTAMPTZ,
			scraped_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			embedding vector(%d),
			metadata JSONB NOT NULL DEFAULT '{}',
			claimed_at TIMESTAMPTZ,
			processed_at TIMESTAMPTZ,
			article_id UUID REFERENCES articles(id),
			failure_reason TEXT NOT NULL DEFAULT '',
			UNIQUE (source_id, external_id)
		)`, s.dims),
		`CREATE INDEX IF NOT EXISTS idx_raw_articles_status ON raw_articles (status, scraped_at)`,
		`CREATE INDEX IF NOT EXISTS idx_raw_articles_embedding ON raw_articles USING hnsw (embedding vector_cosine_ops)`,
	}

	for _, q := range queries {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// UpsertSource inserts src or refreshes the configured fields of the source with the same slug.
// Active flag and scrape interval of an existing source are left to the operator.
func (s *PostgresStore) UpsertSource(ctx context.Context, src domain.Source) (domain.Source, error) {
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now().UTC()
	}
	cfg := src.AdapterConfig
	if cfg == nil {
		cfg = map[string]string{}
	}

	query := `INSERT INTO sources (id, name, slug, url, adapter_kind, adapter_config, active, scrape_interval_seconds, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	          ON CONFLICT (slug) DO UPDATE
	          SET name = EXCLUDED.name,
	              url = EXCLUDED.url,
	              adapter_kind = EXCLUDED.adapter_kind,
	              adapter_config = EXCLUDED.adapter_config
	          RETURNING ` + sourceColumns

	row := s.pool.QueryRow(ctx, query,
		src.ID,
		src.Name,
		src.Slug,
		src.URL,
		src.AdapterKind,
		cfg,
		src.Active,
		int64(src.ScrapeInterval/time.Second),
		src.CreatedAt,
	)
	out, err := scanPgSource(row)
	if err != nil {
		return domain.Source{}, fmt.Errorf("upsert source %s: %w", src.Slug, err)
	}
	return out, nil
}

func (s *PostgresStore) ListSources(ctx context.Context, activeOnly bool) ([]domain.Source, error) {
	q := s.sb.Select(sourceColumns).From("sources").OrderBy("name")
	if activeOnly {
		q = q.Where(sq.Eq{"active": true})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sources query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var out []domain.Source
	for rows.Next() {
		src, err := scanPgSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetSource(ctx context.Context, id uuid.UUID) (domain.Source, error) {
	return scanPgSource(s.pool.QueryRow(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id))
}

func (s *PostgresStore) GetSourceBySlug(ctx context.Context, slug string) (domain.Source, error) {
	return scanPgSource(s.pool.QueryRow(ctx, `SELECT `+sourceColumns+` FROM sources WHERE slug = $1`, slug))
}

func (s *PostgresStore) UpdateSource(ctx context.Context, src domain.Source) error {
	cfg := src.AdapterConfig
	if cfg == nil {
		cfg = map[string]string{}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sources SET name = $1, url = $2, adapter_config = $3, active = $4, scrape_interval_seconds = $5 WHERE id = $6`,
		src.Name, src.URL, cfg, src.Active, int64(src.ScrapeInterval/time.Second), src.ID)
	if err != nil {
		return fmt.Errorf("update source %s: %w", src.ID, err)
	}
	return pgAffected(tag, domain.ErrNotFound)
}

func (s *PostgresStore) MarkScraped(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE sources SET last_scraped_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("mark scraped %s: %w", id, err)
	}
	return pgAffected(tag, domain.ErrNotFound)
}

func (s *PostgresStore) InsertRawIfAbsent(ctx context.Context, raw domain.RawArticle) (bool, error) {
	if raw.ID == uuid.Nil {
		raw.ID = uuid.New()
	}
	if raw.Status == "" {
		raw.Status = domain.StatusPending
	}
	meta := raw.Metadata
	if meta == nil {
		meta = map[string]string{}
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO raw_articles (id, source_id, external_id, external_url, title, content, published_at, scraped_at, status, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (source_id, external_id) DO NOTHING`,
		raw.ID,
		raw.SourceID,
		raw.ExternalID,
		raw.ExternalURL,
		raw.Title,
		raw.Content,
		raw.PublishedAt,
		raw.ScrapedAt,
		string(raw.Status),
		meta,
	)
	if err != nil {
		return false, fmt.Errorf("insert raw article %s: %w", raw.ExternalID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) RawExists(ctx context.Context, sourceID uuid.UUID, externalID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM raw_articles WHERE source_id = $1 AND external_id = $2)`,
		sourceID, externalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check raw article: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) GetRaw(ctx context.Context, id uuid.UUID) (domain.RawArticle, error) {
	return scanPgRaw(s.pool.QueryRow(ctx, `SELECT `+rawColumns+` FROM raw_articles WHERE id = $1`, id))
}

func (s *PostgresStore) ListPendingRaw(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM raw_articles WHERE status = $1 ORDER BY scraped_at, id LIMIT $2`,
		string(domain.StatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending: %w", err)
	}
	return ids, nil
}

// ClaimRaw is a compare-and-set on status; losing the race yields ErrClaimConflict.
func (s *PostgresStore) ClaimRaw(ctx context.Context, id uuid.UUID, at time.Time) (domain.RawArticle, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE raw_articles SET status = $1, claimed_at = $2 WHERE id = $3 AND status = $4 RETURNING `+rawColumns,
		string(domain.StatusProcessing), at, id, string(domain.StatusPending))
	raw, err := scanPgRaw(row)
	if errors.Is(err, domain.ErrNotFound) {
		if _, getErr := s.GetRaw(ctx, id); getErr != nil {
			return domain.RawArticle{}, getErr
		}
		return domain.RawArticle{}, domain.ErrClaimConflict
	}
	if err != nil {
		return domain.RawArticle{}, fmt.Errorf("claim %s: %w", id, err)
	}
	return raw, nil
}

func (s *PostgresStore) ReleaseClaim(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE raw_articles SET status = $1, claimed_at = NULL WHERE id = $2 AND status = $3`,
		string(domain.StatusPending), id, string(domain.StatusProcessing))
	if err != nil {
		return fmt.Errorf("release %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) ReleaseStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE raw_articles SET status = $1, claimed_at = NULL WHERE status = $2 AND claimed_at < $3`,
		string(domain.StatusPending), string(domain.StatusProcessing), claimedBefore)
	if err != nil {
		return 0, fmt.Errorf("release stale: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) SaveEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE raw_articles SET embedding = $1::vector WHERE id = $2`,
		pgvector.NewVector(embedding), id)
	if err != nil {
		return fmt.Errorf("save embedding %s: %w", id, err)
	}
	return pgAffected(tag, domain.ErrNotFound)
}

// NearestNeighbors orders windowed candidates by cosine distance using the hnsw index.
func (s *PostgresStore) NearestNeighbors(ctx context.Context, q domain.NeighborQuery) ([]domain.Neighbor, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, article_id, processed_at, embedding, 1 - (embedding <=> $1::vector) AS similarity
		 FROM raw_articles
		 WHERE status IN ($2, $3)
		   AND embedding IS NOT NULL
		   AND article_id IS NOT NULL
		   AND id <> $4
		   AND scraped_at >= $5
		 ORDER BY embedding <=> $1::vector, processed_at DESC
		 LIMIT $6`,
		pgvector.NewVector(q.Embedding),
		string(domain.StatusProcessed),
		string(domain.StatusDuplicate),
		q.ExcludeID,
		q.Since,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query neighbours: %w", err)
	}
	defer rows.Close()

	var out []domain.Neighbor
	for rows.Next() {
		var (
			n         domain.Neighbor
			processed *time.Time
			vec       pgvector.Vector
		)
		if err := rows.Scan(&n.RawID, &n.ArticleID, &processed, &vec, &n.Similarity); err != nil {
			return nil, fmt.Errorf("scan neighbour: %w", err)
		}
		if processed != nil {
			n.ProcessedAt = *processed
		}
		n.Embedding = vec.Slice()
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate neighbours: %w", err)
	}
	return out, nil
}

// MarkDuplicate marks the raw article duplicate and appends it to the matched article's sources.
func (s *PostgresStore) MarkDuplicate(ctx context.Context, rawID, articleID uuid.UUID, at time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var url string
	err = tx.QueryRow(ctx,
		`UPDATE raw_articles SET status = $1, article_id = $2, processed_at = $3, claimed_at = NULL
		 WHERE id = $4 AND status = $5
		 RETURNING external_url`,
		string(domain.StatusDuplicate), articleID, at, rawID, string(domain.StatusProcessing)).Scan(&url)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrInvalidTransition
	}
	if err != nil {
		return fmt.Errorf("mark duplicate: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE articles
		 SET source_ids = array_append(source_ids, $1),
		     original_urls = CASE WHEN $2 = '' THEN original_urls ELSE array_append(original_urls, $2) END,
		     updated_at = $3
		 WHERE id = $4`,
		rawID, url, at, articleID)
	if err != nil {
		return fmt.Errorf("append duplicate source: %w", err)
	}
	if err := pgAffected(tag, domain.ErrNotFound); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, rawID uuid.UUID, reason string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE raw_articles SET status = $1, failure_reason = $2, processed_at = $3, claimed_at = NULL
		 WHERE id = $4 AND status = $5`,
		string(domain.StatusFailed), reason, at, rawID, string(domain.StatusProcessing))
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return pgAffected(tag, domain.ErrInvalidTransition)
}

// CompleteWithArticle stores the draft and marks the raw article processed atomically.
func (s *PostgresStore) CompleteWithArticle(ctx context.Context, rawID uuid.UUID, a domain.Article, at time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO articles (`+articleColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		a.ID,
		a.Slug,
		a.Title,
		a.Excerpt,
		a.Content,
		a.Category,
		nonNilStrings(a.Tags),
		a.SignificanceScore,
		a.CoverImageURL,
		a.SourceIDs,
		nonNilStrings(a.OriginalURLs),
		string(a.Status),
		a.PublishedAt,
		a.AIModel,
		a.AIPromptVersion,
		a.ProcessingCostUSD,
		a.Usage.InputTokens,
		a.Usage.OutputTokens,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert article: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE raw_articles SET status = $1, article_id = $2, processed_at = $3, claimed_at = NULL
		 WHERE id = $4 AND status = $5`,
		string(domain.StatusProcessed), a.ID, at, rawID, string(domain.StatusProcessing))
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	if err := pgAffected(tag, domain.ErrInvalidTransition); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetArticle(ctx context.Context, id uuid.UUID) (domain.Article, error) {
	return scanPgArticle(s.pool.QueryRow(ctx, `SELECT `+articleColumns+` FROM articles WHERE id = $1`, id))
}

func (s *PostgresStore) ListArticles(ctx context.Context, filter domain.ArticleFilter) (domain.ArticlePage, error) {
	pageQ, countQ := articleListQueries(s.sb, filter)
	page := domain.ArticlePage{Skip: filter.Skip, Limit: filter.Limit}

	query, args, err := countQ.ToSql()
	if err != nil {
		return page, fmt.Errorf("build count query: %w", err)
	}
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("count articles: %w", err)
	}

	query, args, err = pageQ.ToSql()
	if err != nil {
		return page, fmt.Errorf("build list query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return page, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	page.Items = []domain.Article{}
	for rows.Next() {
		a, err := scanPgArticle(rows)
		if err != nil {
			return page, err
		}
		page.Items = append(page.Items, a)
	}
	if err := rows.Err(); err != nil {
		return page, fmt.Errorf("iterate articles: %w", err)
	}
	return page, nil
}

func (s *PostgresStore) UpdateArticle(ctx context.Context, a domain.Article) (domain.Article, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE articles SET title = $1, excerpt = $2, content = $3, category = $4, tags = $5, cover_image_url = $6, updated_at = $7
		 WHERE id = $8
		 RETURNING `+articleColumns,
		a.Title, a.Excerpt, a.Content, a.Category, nonNilStrings(a.Tags), a.CoverImageURL, a.UpdatedAt, a.ID)
	return scanPgArticle(row)
}

func (s *PostgresStore) TransitionArticle(ctx context.Context, id uuid.UUID, from []domain.PublicationStatus, to domain.PublicationStatus, at time.Time) (domain.Article, error) {
	q := s.sb.Update("articles").
		Set("status", string(to)).
		Set("updated_at", at).
		Where(sq.Eq{"id": id.String(), "status": statusStrings(from)}).
		Suffix("RETURNING " + articleColumns)
	if to == domain.ArticlePublished {
		q = q.Set("published_at", at)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return domain.Article{}, fmt.Errorf("build transition: %w", err)
	}

	a, err := scanPgArticle(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, domain.ErrNotFound) {
		if _, getErr := s.GetArticle(ctx, id); getErr != nil {
			return domain.Article{}, getErr
		}
		return domain.Article{}, domain.ErrInvalidTransition
	}
	return a, err
}

func scanPgSource(row pgx.Row) (domain.Source, error) {
	var (
		src      domain.Source
		interval int64
	)
	err := row.Scan(
		&src.ID,
		&src.Name,
		&src.Slug,
		&src.URL,
		&src.AdapterKind,
		&src.AdapterConfig,
		&src.Active,
		&interval,
		&src.LastScrapedAt,
		&src.CreatedAt,
	)
	if err != nil {
		return domain.Source{}, pgNotFound(err)
	}
	src.ScrapeInterval = time.Duration(interval) * time.Second
	return src, nil
}

func scanPgRaw(row pgx.Row) (domain.RawArticle, error) {
	var (
		raw    domain.RawArticle
		status string
		vec    *pgvector.Vector
	)
	err := row.Scan(
		&raw.ID,
		&raw.SourceID,
		&raw.ExternalID,
		&raw.ExternalURL,
		&raw.Title,
		&raw.Content,
		&raw.PublishedAt,
		&raw.ScrapedAt,
		&status,
		&vec,
		&raw.Metadata,
		&raw.ClaimedAt,
		&raw.ProcessedAt,
		&raw.ArticleID,
		&raw.FailureReason,
	)
	if err != nil {
		return domain.RawArticle{}, pgNotFound(err)
	}
	raw.Status = domain.ProcessingStatus(status)
	if vec != nil {
		raw.Embedding = vec.Slice()
	}
	return raw, nil
}

func scanPgArticle(row pgx.Row) (domain.Article, error) {
	var (
		a      domain.Article
		status string
	)
	err := row.Scan(
		&a.ID,
		&a.Slug,
		&a.Title,
		&a.Excerpt,
		&a.Content,
		&a.Category,
		&a.Tags,
		&a.SignificanceScore,
		&a.CoverImageURL,
		&a.SourceIDs,
		&a.OriginalURLs,
		&status,
		&a.PublishedAt,
		&a.AIModel,
		&a.AIPromptVersion,
		&a.ProcessingCostUSD,
		&a.Usage.InputTokens,
		&a.Usage.OutputTokens,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return domain.Article{}, pgNotFound(err)
	}
	a.Status = domain.PublicationStatus(status)
	a.Usage.CostUSD = a.ProcessingCostUSD
	return a, nil
}

func pgNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return fmt.Errorf("scan: %w", err)
}

func pgAffected(tag pgconn.CommandTag, none error) error {
	if tag.RowsAffected() == 0 {
		return none
	}
	return nil
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
