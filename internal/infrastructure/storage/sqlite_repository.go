package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"NewsDesk/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sources (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	slug TEXT NOT NULL UNIQUE,
	url TEXT NOT NULL,
	adapter_kind TEXT NOT NULL,
	adapter_config TEXT NOT NULL DEFAULT '{}',
	active INTEGER NOT NULL DEFAULT 1,
	scrape_interval_seconds INTEGER NOT NULL,
	last_scraped_at INTEGER,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS articles (
	id TEXT PRIMARY KEY,
	slug TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	excerpt TEXT NOT NULL,
	content TEXT NOT NULL,
	category TEXT NOT NULL,
	tags TEXT NOT NULL DEFAULT '[]',
	significance_score INTEGER NOT NULL,
	cover_image_url TEXT NOT NULL DEFAULT '',
	source_ids TEXT NOT NULL DEFAULT '[]',
	original_urls TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL,
	published_at INTEGER,
	ai_model TEXT NOT NULL,
	ai_prompt_version TEXT NOT NULL,
	processing_cost_usd REAL NOT NULL DEFAULT 0,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_articles_status_created ON articles (status, created_at);

CREATE TABLE IF NOT EXISTS raw_articles (
	id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL REFERENCES sources(id),
	external_id TEXT NOT NULL,
	external_url TEXT NOT NULL,
	title TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	published_at INTEGER,
	scraped_at INTEGER NOT NULL,
	status TEXT NOT NULL,
	embedding TEXT,
	metadata TEXT NOT NULL DEFAULT '{}',
	claimed_at INTEGER,
	processed_at INTEGER,
	article_id TEXT REFERENCES articles(id),
	failure_reason TEXT NOT NULL DEFAULT '',
	UNIQUE (source_id, external_id)
);
CREATE INDEX IF NOT EXISTS idx_raw_articles_status ON raw_articles (status, scraped_at);
`

// SQLiteStore implements the persistence ports on an embedded SQLite file.
// Vectors are stored as JSON and compared in process.
type SQLiteStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ Store = (*SQLiteStore)(nil)

// openDB opens a SQLite database at the given path.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps :memory: databases shared and serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// NewSQLiteStore opens path (":memory:" for tests) and creates the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db, sb: sq.StatementBuilder.PlaceholderFormat(sq.Question)}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates missing tables.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("init sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertSource inserts src or refreshes the configured fields of the source with the same slug.
// Active flag and scrape interval of an existing source are left to the operator.
func (s *SQLiteStore) UpsertSource(ctx context.Context, src domain.Source) (domain.Source, error) {
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now().UTC()
	}
	cfg, err := marshalJSON(src.AdapterConfig, "{}")
	if err != nil {
		return domain.Source{}, err
	}

	query := `INSERT INTO sources (id, name, slug, url, adapter_kind, adapter_config, active, scrape_interval_seconds, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT (slug) DO UPDATE
	          SET name = excluded.name,
	              url = excluded.url,
	              adapter_kind = excluded.adapter_kind,
	              adapter_config = excluded.adapter_config`

	_, err = s.db.ExecContext(ctx, query,
		src.ID.String(),
		src.Name,
		src.Slug,
		src.URL,
		src.AdapterKind,
		cfg,
		src.Active,
		int64(src.ScrapeInterval/time.Second),
		toMillis(src.CreatedAt),
	)
	if err != nil {
		return domain.Source{}, fmt.Errorf("upsert source %s: %w", src.Slug, err)
	}
	return s.GetSourceBySlug(ctx, src.Slug)
}

func (s *SQLiteStore) ListSources(ctx context.Context, activeOnly bool) ([]domain.Source, error) {
	q := s.sb.Select(sourceColumns).From("sources").OrderBy("name")
	if activeOnly {
		q = q.Where(sq.Eq{"active": true})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sources query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var out []domain.Source
	for rows.Next() {
		src, err := scanSQLiteSource(rows)
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

func (s *SQLiteStore) GetSource(ctx context.Context, id uuid.UUID) (domain.Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id.String())
	return scanSQLiteSource(row)
}

func (s *SQLiteStore) GetSourceBySlug(ctx context.Context, slug string) (domain.Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE slug = ?`, slug)
	return scanSQLiteSource(row)
}

func (s *SQLiteStore) UpdateSource(ctx context.Context, src domain.Source) error {
	cfg, err := marshalJSON(src.AdapterConfig, "{}")
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET name = ?, url = ?, adapter_config = ?, active = ?, scrape_interval_seconds = ? WHERE id = ?`,
		src.Name, src.URL, cfg, src.Active, int64(src.ScrapeInterval/time.Second), src.ID.String())
	if err != nil {
		return fmt.Errorf("update source %s: %w", src.ID, err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) MarkScraped(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sources SET last_scraped_at = ? WHERE id = ?`, toMillis(at), id.String())
	if err != nil {
		return fmt.Errorf("mark scraped %s: %w", id, err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) InsertRawIfAbsent(ctx context.Context, raw domain.RawArticle) (bool, error) {
	if raw.ID == uuid.Nil {
		raw.ID = uuid.New()
	}
	if raw.Status == "" {
		raw.Status = domain.StatusPending
	}
	meta, err := marshalJSON(raw.Metadata, "{}")
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO raw_articles (id, source_id, external_id, external_url, title, content, published_at, scraped_at, status, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (source_id, external_id) DO NOTHING`,
		raw.ID.String(),
		raw.SourceID.String(),
		raw.ExternalID,
		raw.ExternalURL,
		raw.Title,
		raw.Content,
		nullMillis(raw.PublishedAt),
		toMillis(raw.ScrapedAt),
		string(raw.Status),
		meta,
	)
	if err != nil {
		return false, fmt.Errorf("insert raw article %s: %w", raw.ExternalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) RawExists(ctx context.Context, sourceID uuid.UUID, externalID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM raw_articles WHERE source_id = ? AND external_id = ?)`,
		sourceID.String(), externalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check raw article: %w", err)
	}
	return exists, nil
}

func (s *SQLiteStore) GetRaw(ctx context.Context, id uuid.UUID) (domain.RawArticle, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rawColumns+` FROM raw_articles WHERE id = ?`, id.String())
	return scanSQLiteRaw(row)
}

func (s *SQLiteStore) ListPendingRaw(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM raw_articles WHERE status = ? ORDER BY scraped_at, id LIMIT ?`,
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

func (s *SQLiteStore) ClaimRaw(ctx context.Context, id uuid.UUID, at time.Time) (domain.RawArticle, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE raw_articles SET status = ?, claimed_at = ? WHERE id = ? AND status = ?`,
		string(domain.StatusProcessing), toMillis(at), id.String(), string(domain.StatusPending))
	if err != nil {
		return domain.RawArticle{}, fmt.Errorf("claim %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return domain.RawArticle{}, fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		if _, err := s.GetRaw(ctx, id); err != nil {
			return domain.RawArticle{}, err
		}
		return domain.RawArticle{}, domain.ErrClaimConflict
	}
	return s.GetRaw(ctx, id)
}

func (s *SQLiteStore) ReleaseClaim(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE raw_articles SET status = ?, claimed_at = NULL WHERE id = ? AND status = ?`,
		string(domain.StatusPending), id.String(), string(domain.StatusProcessing))
	if err != nil {
		return fmt.Errorf("release %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ReleaseStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE raw_articles SET status = ?, claimed_at = NULL WHERE status = ? AND claimed_at < ?`,
		string(domain.StatusPending), string(domain.StatusProcessing), toMillis(claimedBefore))
	if err != nil {
		return 0, fmt.Errorf("release stale: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) SaveEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	vec, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE raw_articles SET embedding = ? WHERE id = ?`, string(vec), id.String())
	if err != nil {
		return fmt.Errorf("save embedding %s: %w", id, err)
	}
	return requireAffected(res)
}

// NearestNeighbors scans windowed candidates and ranks them by cosine similarity in process.
func (s *SQLiteStore) NearestNeighbors(ctx context.Context, q domain.NeighborQuery) ([]domain.Neighbor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, article_id, processed_at, embedding FROM raw_articles
		 WHERE status IN (?, ?) AND embedding IS NOT NULL AND article_id IS NOT NULL
		   AND id <> ? AND scraped_at >= ?`,
		string(domain.StatusProcessed), string(domain.StatusDuplicate), q.ExcludeID.String(), toMillis(q.Since))
	if err != nil {
		return nil, fmt.Errorf("query neighbours: %w", err)
	}
	defer rows.Close()

	var out []domain.Neighbor
	for rows.Next() {
		var (
			n         domain.Neighbor
			processed sql.NullInt64
			vec       string
		)
		if err := rows.Scan(&n.RawID, &n.ArticleID, &processed, &vec); err != nil {
			return nil, fmt.Errorf("scan neighbour: %w", err)
		}
		if err := json.Unmarshal([]byte(vec), &n.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding %s: %w", n.RawID, err)
		}
		if processed.Valid {
			n.ProcessedAt = fromMillis(processed.Int64)
		}
		n.Similarity = domain.CosineSimilarity(q.Embedding, n.Embedding)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate neighbours: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].ProcessedAt.After(out[j].ProcessedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// MarkDuplicate marks the raw article duplicate and appends it to the matched article's sources.
func (s *SQLiteStore) MarkDuplicate(ctx context.Context, rawID, articleID uuid.UUID, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var url string
	if err := tx.QueryRowContext(ctx, `SELECT external_url FROM raw_articles WHERE id = ?`, rawID.String()).Scan(&url); err != nil {
		return notFound(err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE raw_articles SET status = ?, article_id = ?, processed_at = ?, claimed_at = NULL
		 WHERE id = ? AND status = ?`,
		string(domain.StatusDuplicate), articleID.String(), toMillis(at), rawID.String(), string(domain.StatusProcessing))
	if err != nil {
		return fmt.Errorf("mark duplicate: %w", err)
	}
	if err := requireTransition(res); err != nil {
		return err
	}

	var idsJSON, urlsJSON string
	err = tx.QueryRowContext(ctx, `SELECT source_ids, original_urls FROM articles WHERE id = ?`, articleID.String()).
		Scan(&idsJSON, &urlsJSON)
	if err != nil {
		return notFound(err)
	}
	var (
		ids  []uuid.UUID
		urls []string
	)
	if err := json.Unmarshal([]byte(idsJSON), &ids); err != nil {
		return fmt.Errorf("decode source ids: %w", err)
	}
	if err := json.Unmarshal([]byte(urlsJSON), &urls); err != nil {
		return fmt.Errorf("decode original urls: %w", err)
	}
	ids = append(ids, rawID)
	if url != "" {
		urls = append(urls, url)
	}
	idsOut, _ := json.Marshal(ids)
	urlsOut, _ := json.Marshal(urls)

	if _, err := tx.ExecContext(ctx,
		`UPDATE articles SET source_ids = ?, original_urls = ?, updated_at = ? WHERE id = ?`,
		string(idsOut), string(urlsOut), toMillis(at), articleID.String()); err != nil {
		return fmt.Errorf("append duplicate source: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, rawID uuid.UUID, reason string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE raw_articles SET status = ?, failure_reason = ?, processed_at = ?, claimed_at = NULL
		 WHERE id = ? AND status = ?`,
		string(domain.StatusFailed), reason, toMillis(at), rawID.String(), string(domain.StatusProcessing))
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireTransition(res)
}

// CompleteWithArticle stores the draft and marks the raw article processed atomically.
func (s *SQLiteStore) CompleteWithArticle(ctx context.Context, rawID uuid.UUID, a domain.Article, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tags, _ := marshalJSON(a.Tags, "[]")
	ids, _ := marshalJSON(a.SourceIDs, "[]")
	urls, _ := marshalJSON(a.OriginalURLs, "[]")

	_, err = tx.ExecContext(ctx,
		`INSERT INTO articles (`+articleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(),
		a.Slug,
		a.Title,
		a.Excerpt,
		a.Content,
		a.Category,
		tags,
		a.SignificanceScore,
		a.CoverImageURL,
		ids,
		urls,
		string(a.Status),
		nullMillis(a.PublishedAt),
		a.AIModel,
		a.AIPromptVersion,
		a.ProcessingCostUSD,
		a.Usage.InputTokens,
		a.Usage.OutputTokens,
		toMillis(a.CreatedAt),
		toMillis(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert article: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE raw_articles SET status = ?, article_id = ?, processed_at = ?, claimed_at = NULL
		 WHERE id = ? AND status = ?`,
		string(domain.StatusProcessed), a.ID.String(), toMillis(at), rawID.String(), string(domain.StatusProcessing))
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	if err := requireTransition(res); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetArticle(ctx context.Context, id uuid.UUID) (domain.Article, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM articles WHERE id = ?`, id.String())
	return scanSQLiteArticle(row)
}

func (s *SQLiteStore) ListArticles(ctx context.Context, filter domain.ArticleFilter) (domain.ArticlePage, error) {
	pageQ, countQ := articleListQueries(s.sb, filter)
	page := domain.ArticlePage{Skip: filter.Skip, Limit: filter.Limit}

	query, args, err := countQ.ToSql()
	if err != nil {
		return page, fmt.Errorf("build count query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("count articles: %w", err)
	}

	query, args, err = pageQ.ToSql()
	if err != nil {
		return page, fmt.Errorf("build list query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return page, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	page.Items = []domain.Article{}
	for rows.Next() {
		a, err := scanSQLiteArticle(rows)
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

func (s *SQLiteStore) UpdateArticle(ctx context.Context, a domain.Article) (domain.Article, error) {
	tags, _ := marshalJSON(a.Tags, "[]")
	res, err := s.db.ExecContext(ctx,
		`UPDATE articles SET title = ?, excerpt = ?, content = ?, category = ?, tags = ?, cover_image_url = ?, updated_at = ?
		 WHERE id = ?`,
		a.Title, a.Excerpt, a.Content, a.Category, tags, a.CoverImageURL, toMillis(a.UpdatedAt), a.ID.String())
	if err != nil {
		return domain.Article{}, fmt.Errorf("update article %s: %w", a.ID, err)
	}
	if err := requireAffected(res); err != nil {
		return domain.Article{}, err
	}
	return s.GetArticle(ctx, a.ID)
}

func (s *SQLiteStore) TransitionArticle(ctx context.Context, id uuid.UUID, from []domain.PublicationStatus, to domain.PublicationStatus, at time.Time) (domain.Article, error) {
	q := s.sb.Update("articles").
		Set("status", string(to)).
		Set("updated_at", toMillis(at)).
		Where(sq.Eq{"id": id.String(), "status": statusStrings(from)})
	if to == domain.ArticlePublished {
		q = q.Set("published_at", toMillis(at))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return domain.Article{}, fmt.Errorf("build transition: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.Article{}, fmt.Errorf("transition article %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return domain.Article{}, fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		if _, err := s.GetArticle(ctx, id); err != nil {
			return domain.Article{}, err
		}
		return domain.Article{}, domain.ErrInvalidTransition
	}
	return s.GetArticle(ctx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSource(row rowScanner) (domain.Source, error) {
	var (
		src      domain.Source
		cfg      string
		interval int64
		last     sql.NullInt64
		created  int64
	)
	err := row.Scan(
		&src.ID,
		&src.Name,
		&src.Slug,
		&src.URL,
		&src.AdapterKind,
		&cfg,
		&src.Active,
		&interval,
		&last,
		&created,
	)
	if err != nil {
		return domain.Source{}, notFound(err)
	}
	if err := json.Unmarshal([]byte(cfg), &src.AdapterConfig); err != nil {
		return domain.Source{}, fmt.Errorf("decode adapter config: %w", err)
	}
	src.ScrapeInterval = time.Duration(interval) * time.Second
	src.LastScrapedAt = ptrMillis(last)
	src.CreatedAt = fromMillis(created)
	return src, nil
}

func scanSQLiteRaw(row rowScanner) (domain.RawArticle, error) {
	var (
		raw                           domain.RawArticle
		status, meta                  string
		vec                           sql.NullString
		published, claimed, processed sql.NullInt64
		scraped                       int64
		articleID                     uuid.NullUUID
	)
	err := row.Scan(
		&raw.ID,
		&raw.SourceID,
		&raw.ExternalID,
		&raw.ExternalURL,
		&raw.Title,
		&raw.Content,
		&published,
		&scraped,
		&status,
		&vec,
		&meta,
		&claimed,
		&processed,
		&articleID,
		&raw.FailureReason,
	)
	if err != nil {
		return domain.RawArticle{}, notFound(err)
	}
	raw.Status = domain.ProcessingStatus(status)
	raw.PublishedAt = ptrMillis(published)
	raw.ScrapedAt = fromMillis(scraped)
	raw.ClaimedAt = ptrMillis(claimed)
	raw.ProcessedAt = ptrMillis(processed)
	if articleID.Valid {
		id := articleID.UUID
		raw.ArticleID = &id
	}
	if vec.Valid && vec.String != "" {
		if err := json.Unmarshal([]byte(vec.String), &raw.Embedding); err != nil {
			return domain.RawArticle{}, fmt.Errorf("decode embedding: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(meta), &raw.Metadata); err != nil {
		return domain.RawArticle{}, fmt.Errorf("decode metadata: %w", err)
	}
	return raw, nil
}

func scanSQLiteArticle(row rowScanner) (domain.Article, error) {
	var (
		a                domain.Article
		tags, ids, urls  string
		status           string
		published        sql.NullInt64
		created, updated int64
	)
	err := row.Scan(
		&a.ID,
		&a.Slug,
		&a.Title,
		&a.Excerpt,
		&a.Content,
		&a.Category,
		&tags,
		&a.SignificanceScore,
		&a.CoverImageURL,
		&ids,
		&urls,
		&status,
		&published,
		&a.AIModel,
		&a.AIPromptVersion,
		&a.ProcessingCostUSD,
		&a.Usage.InputTokens,
		&a.Usage.OutputTokens,
		&created,
		&updated,
	)
	if err != nil {
		return domain.Article{}, notFound(err)
	}
	for _, field := range []struct {
		raw  string
		dest any
	}{{tags, &a.Tags}, {ids, &a.SourceIDs}, {urls, &a.OriginalURLs}} {
		if err := json.Unmarshal([]byte(field.raw), field.dest); err != nil {
			return domain.Article{}, fmt.Errorf("decode article %s: %w", a.ID, err)
		}
	}
	a.Status = domain.PublicationStatus(status)
	a.PublishedAt = ptrMillis(published)
	a.Usage.CostUSD = a.ProcessingCostUSD
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	return a, nil
}

func marshalJSON(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func ptrMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return fmt.Errorf("scan: %w", err)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func requireTransition(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}
