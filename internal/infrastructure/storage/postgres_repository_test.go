package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"NewsDesk/internal/domain"
)

// newPostgresTestStore connects to NEWSDESK_TEST_POSTGRES_DSN and recreates the schema.
// The database must be disposable: existing NewsDesk tables are dropped.
func newPostgresTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("NEWSDESK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("NEWSDESK_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn, 3)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if _, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS raw_articles, articles, sources`); err != nil {
		t.Fatalf("drop tables: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func pgSeedRaw(t *testing.T, s *PostgresStore, src domain.Source, externalID string, scrapedAt time.Time) domain.RawArticle {
	t.Helper()
	raw := domain.RawArticle{
		ID:          uuid.New(),
		SourceID:    src.ID,
		ExternalID:  externalID,
		ExternalURL: "https://example.com/" + externalID,
		Title:       "Title " + externalID,
		Content:     "Body " + externalID,
		ScrapedAt:   scrapedAt,
		Status:      domain.StatusPending,
	}
	inserted, err := s.InsertRawIfAbsent(context.Background(), raw)
	if err != nil || !inserted {
		t.Fatalf("insert raw %s: inserted=%v err=%v", externalID, inserted, err)
	}
	return raw
}

func pgProcessRaw(t *testing.T, s *PostgresStore, raw domain.RawArticle, vec []float32, at time.Time) domain.Article {
	t.Helper()
	ctx := context.Background()
	if _, err := s.ClaimRaw(ctx, raw.ID, at); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.SaveEmbedding(ctx, raw.ID, vec); err != nil {
		t.Fatalf("save embedding: %v", err)
	}
	article := draftFor(raw, at)
	if err := s.CompleteWithArticle(ctx, raw.ID, article, at); err != nil {
		t.Fatalf("complete: %v", err)
	}
	return article
}

func TestPostgresStoreLifecycle(t *testing.T) {
	s := newPostgresTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	src, err := s.UpsertSource(ctx, domain.Source{
		Name:           "Wire",
		Slug:           "wire",
		URL:            "https://wire.example",
		AdapterKind:    "feed",
		Active:         true,
		ScrapeInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("upsert source: %v", err)
	}

	again := pgSeedRaw(t, s, src, "a1", now)
	again.ID = uuid.New()
	if inserted, err := s.InsertRawIfAbsent(ctx, again); err != nil || inserted {
		t.Fatalf("reinsert = %v, %v; want ignored", inserted, err)
	}

	t.Run("claim is compare and set", func(t *testing.T) {
		raw := pgSeedRaw(t, s, src, "claim", now)
		if _, err := s.ClaimRaw(ctx, raw.ID, now); err != nil {
			t.Fatalf("first claim: %v", err)
		}
		if _, err := s.ClaimRaw(ctx, raw.ID, now); !errors.Is(err, domain.ErrClaimConflict) {
			t.Fatalf("second claim err = %v, want ErrClaimConflict", err)
		}
		if _, err := s.ClaimRaw(ctx, uuid.New(), now); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("claim of unknown id err = %v, want ErrNotFound", err)
		}

		released, err := s.ReleaseStale(ctx, now.Add(time.Second))
		if err != nil || released != 1 {
			t.Fatalf("release stale = %d, %v", released, err)
		}
		if _, err := s.ClaimRaw(ctx, raw.ID, now); err != nil {
			t.Fatalf("claim after release: %v", err)
		}
		if err := s.ReleaseClaim(ctx, raw.ID); err != nil {
			t.Fatalf("release claim: %v", err)
		}
	})

	var near, far domain.Article
	var nearRaw domain.RawArticle
	t.Run("neighbours ordered by cosine distance", func(t *testing.T) {
		farRaw := pgSeedRaw(t, s, src, "far", now)
		far = pgProcessRaw(t, s, farRaw, []float32{0, 1, 0}, now)
		nearRaw = pgSeedRaw(t, s, src, "near", now)
		near = pgProcessRaw(t, s, nearRaw, []float32{0.9, 0.1, 0}, now.Add(time.Minute))

		got, err := s.NearestNeighbors(ctx, domain.NeighborQuery{
			Embedding: []float32{1, 0, 0},
			Since:     now.Add(-time.Hour),
			Limit:     5,
		})
		if err != nil {
			t.Fatalf("neighbours: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d neighbours, want 2", len(got))
		}
		if got[0].ArticleID != near.ID || got[1].ArticleID != far.ID {
			t.Fatalf("unexpected order: %+v", got)
		}
		if got[0].Similarity <= got[1].Similarity || got[0].Similarity > 1 {
			t.Fatalf("unexpected similarities %v, %v", got[0].Similarity, got[1].Similarity)
		}
		if len(got[0].Embedding) != 3 {
			t.Fatalf("embedding not returned: %v", got[0].Embedding)
		}

		excluded, err := s.NearestNeighbors(ctx, domain.NeighborQuery{
			Embedding: []float32{1, 0, 0},
			ExcludeID: nearRaw.ID,
			Since:     now.Add(-time.Hour),
		})
		if err != nil {
			t.Fatalf("neighbours excluding: %v", err)
		}
		if len(excluded) != 1 || excluded[0].ArticleID != far.ID {
			t.Fatalf("exclusion ignored: %+v", excluded)
		}
	})

	t.Run("duplicate joins the cluster", func(t *testing.T) {
		dup := pgSeedRaw(t, s, src, "dup", now)
		if _, err := s.ClaimRaw(ctx, dup.ID, now); err != nil {
			t.Fatalf("claim: %v", err)
		}
		if err := s.MarkDuplicate(ctx, dup.ID, near.ID, now); err != nil {
			t.Fatalf("mark duplicate: %v", err)
		}
		if err := s.MarkDuplicate(ctx, dup.ID, near.ID, now); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("second mark err = %v, want ErrInvalidTransition", err)
		}

		article, err := s.GetArticle(ctx, near.ID)
		if err != nil {
			t.Fatalf("get article: %v", err)
		}
		if len(article.SourceIDs) != 2 || article.SourceIDs[0] != nearRaw.ID || article.SourceIDs[1] != dup.ID {
			t.Fatalf("source ids = %v", article.SourceIDs)
		}
		if len(article.OriginalURLs) != 2 || article.OriginalURLs[1] != dup.ExternalURL {
			t.Fatalf("original urls = %v", article.OriginalURLs)
		}

		stored, err := s.GetRaw(ctx, dup.ID)
		if err != nil {
			t.Fatalf("get raw: %v", err)
		}
		if stored.Status != domain.StatusDuplicate || stored.ArticleID == nil || *stored.ArticleID != near.ID {
			t.Fatalf("duplicate raw = %+v", stored)
		}
	})
}
