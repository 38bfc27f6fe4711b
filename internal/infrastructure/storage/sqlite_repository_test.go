package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"NewsDesk/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedSource(t *testing.T, s *SQLiteStore, slug string) domain.Source {
	t.Helper()
	src, err := s.UpsertSource(context.Background(), domain.Source{
		Name:           slug,
		Slug:           slug,
		URL:            "https://example.com/" + slug,
		AdapterKind:    "feed",
		AdapterConfig:  map[string]string{"feed_url": "https://example.com/" + slug + ".xml"},
		Active:         true,
		ScrapeInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("upsert source: %v", err)
	}
	return src
}

func seedRaw(t *testing.T, s *SQLiteStore, src domain.Source, externalID string, scrapedAt time.Time) domain.RawArticle {
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
		Metadata:    map[string]string{"language": "en"},
	}
	inserted, err := s.InsertRawIfAbsent(context.Background(), raw)
	if err != nil || !inserted {
		t.Fatalf("insert raw %s: inserted=%v err=%v", externalID, inserted, err)
	}
	return raw
}

func draftFor(raw domain.RawArticle, now time.Time) domain.Article {
	id := uuid.New()
	return domain.Article{
		ID:                id,
		Slug:              "draft-" + id.String()[:8],
		Title:             raw.Title,
		Excerpt:           "excerpt",
		Content:           "content",
		Category:          "industry",
		Tags:              []string{"a", "b"},
		SignificanceScore: 6,
		SourceIDs:         []uuid.UUID{raw.ID},
		OriginalURLs:      []string{raw.ExternalURL},
		Status:            domain.ArticleDraft,
		AIModel:           "gpt-4o",
		AIPromptVersion:   "v1",
		ProcessingCostUSD: 0.0075,
		Usage:             domain.Usage{InputTokens: 1000, OutputTokens: 500, CostUSD: 0.0075},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// processRaw drives raw to processed with an embedding and returns the created article.
func processRaw(t *testing.T, s *SQLiteStore, raw domain.RawArticle, vec []float32, at time.Time) domain.Article {
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

func TestUpsertSourceKeepsOperatorFields(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	src := seedSource(t, s, "wire")

	src.Active = false
	src.ScrapeInterval = 30 * time.Minute
	if err := s.UpdateSource(ctx, src); err != nil {
		t.Fatalf("update: %v", err)
	}

	again, err := s.UpsertSource(ctx, domain.Source{
		Name: "Wire Renamed", Slug: "wire", URL: "https://example.com/new", AdapterKind: "rss",
		Active: true, ScrapeInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if again.ID != src.ID {
		t.Fatalf("upsert created a second source")
	}
	if again.Name != "Wire Renamed" || again.AdapterKind != "rss" {
		t.Fatalf("configured fields not refreshed: %+v", again)
	}
	if again.Active || again.ScrapeInterval != 30*time.Minute {
		t.Fatalf("operator fields overwritten: active=%v interval=%s", again.Active, again.ScrapeInterval)
	}

	active, err := s.ListSources(ctx, true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("inactive source listed as active")
	}
}

func TestInsertRawIfAbsentIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	src := seedSource(t, s, "wire")
	raw := seedRaw(t, s, src, "a1", time.Now())

	dup := raw
	dup.ID = uuid.New()
	dup.Title = "changed"
	inserted, err := s.InsertRawIfAbsent(ctx, dup)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if inserted {
		t.Fatalf("expected no insert for existing (source, external id)")
	}

	exists, err := s.RawExists(ctx, src.ID, "a1")
	if err != nil || !exists {
		t.Fatalf("RawExists = %v, %v", exists, err)
	}

	got, err := s.GetRaw(ctx, raw.ID)
	if err != nil {
		t.Fatalf("get raw: %v", err)
	}
	if got.Title != raw.Title || got.Status != domain.StatusPending || got.Metadata["language"] != "en" {
		t.Fatalf("unexpected raw: %+v", got)
	}

	ids, err := s.ListPendingRaw(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(ids) != 1 || ids[0] != raw.ID {
		t.Fatalf("unexpected pending ids: %v", ids)
	}
}

func TestClaimRawHasSingleWinner(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	raw := seedRaw(t, s, seedSource(t, s, "wire"), "a1", time.Now())

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ClaimRaw(ctx, raw.ID, time.Now())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrClaimConflict):
				conflicts++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || conflicts != workers-1 {
		t.Fatalf("wins=%d conflicts=%d", wins, conflicts)
	}

	if _, err := s.ClaimRaw(ctx, uuid.New(), time.Now()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestReleaseClaimAndStale(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	src := seedSource(t, s, "wire")
	fresh := seedRaw(t, s, src, "fresh", time.Now())
	stale := seedRaw(t, s, src, "stale", time.Now())

	now := time.Now()
	if _, err := s.ClaimRaw(ctx, fresh.ID, now); err != nil {
		t.Fatalf("claim fresh: %v", err)
	}
	if _, err := s.ClaimRaw(ctx, stale.ID, now.Add(-time.Hour)); err != nil {
		t.Fatalf("claim stale: %v", err)
	}

	n, err := s.ReleaseStale(ctx, now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("release stale: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one stale claim, got %d", n)
	}

	if err := s.ReleaseClaim(ctx, fresh.ID); err != nil {
		t.Fatalf("release claim: %v", err)
	}
	for _, id := range []uuid.UUID{fresh.ID, stale.ID} {
		got, err := s.GetRaw(ctx, id)
		if err != nil {
			t.Fatalf("get raw: %v", err)
		}
		if got.Status != domain.StatusPending || got.ClaimedAt != nil {
			t.Fatalf("expected pending without claim, got %s %v", got.Status, got.ClaimedAt)
		}
	}
}

func TestTerminalStatusesAreFinal(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	src := seedSource(t, s, "wire")
	raw := seedRaw(t, s, src, "a1", time.Now())

	if err := s.MarkFailed(ctx, raw.ID, "boom", time.Now()); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("failing an unclaimed article should be rejected, got %v", err)
	}

	processRaw(t, s, raw, []float32{1, 0}, time.Now())

	if err := s.MarkFailed(ctx, raw.ID, "late", time.Now()); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := s.ReleaseClaim(ctx, raw.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := s.ClaimRaw(ctx, raw.ID, time.Now()); !errors.Is(err, domain.ErrClaimConflict) {
		t.Fatalf("processed article must not be claimable, got %v", err)
	}
	got, _ := s.GetRaw(ctx, raw.ID)
	if got.Status != domain.StatusProcessed || got.ArticleID == nil {
		t.Fatalf("unexpected raw after processing: %+v", got)
	}
}

func TestNearestNeighborsWindowAndOrder(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	src := seedSource(t, s, "wire")
	now := time.Now()

	close1 := seedRaw(t, s, src, "close", now.Add(-time.Hour))
	far := seedRaw(t, s, src, "far", now.Add(-time.Hour))
	old := seedRaw(t, s, src, "old", now.Add(-30*24*time.Hour))
	pending := seedRaw(t, s, src, "pending", now)

	processRaw(t, s, close1, []float32{1, 0.1}, now)
	processRaw(t, s, far, []float32{0, 1}, now)
	processRaw(t, s, old, []float32{1, 0}, now)

	got, err := s.NearestNeighbors(ctx, domain.NeighborQuery{
		Embedding: []float32{1, 0},
		ExcludeID: pending.ID,
		Since:     now.Add(-7 * 24 * time.Hour),
		Limit:     5,
	})
	if err != nil {
		t.Fatalf("neighbours: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 windowed neighbours, got %d", len(got))
	}
	if got[0].RawID != close1.ID || got[0].Similarity <= got[1].Similarity {
		t.Fatalf("neighbours not ordered by similarity: %+v", got)
	}
	if got[0].ArticleID == uuid.Nil {
		t.Fatalf("neighbour without article id")
	}
}

func TestMarkDuplicateAppendsToArticle(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	src := seedSource(t, s, "wire")
	now := time.Now()

	first := seedRaw(t, s, src, "first", now)
	article := processRaw(t, s, first, []float32{1, 0}, now)

	second := seedRaw(t, s, src, "second", now)
	if _, err := s.ClaimRaw(ctx, second.ID, now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.MarkDuplicate(ctx, second.ID, article.ID, now); err != nil {
		t.Fatalf("mark duplicate: %v", err)
	}

	got, err := s.GetArticle(ctx, article.ID)
	if err != nil {
		t.Fatalf("get article: %v", err)
	}
	if len(got.SourceIDs) != 2 || got.SourceIDs[1] != second.ID {
		t.Fatalf("duplicate not appended to source ids: %v", got.SourceIDs)
	}
	if len(got.OriginalURLs) != 2 || got.OriginalURLs[1] != second.ExternalURL {
		t.Fatalf("duplicate not appended to urls: %v", got.OriginalURLs)
	}

	raw, _ := s.GetRaw(ctx, second.ID)
	if raw.Status != domain.StatusDuplicate || raw.ArticleID == nil || *raw.ArticleID != article.ID {
		t.Fatalf("unexpected duplicate raw: %+v", raw)
	}

	page, err := s.ListArticles(ctx, domain.ArticleFilter{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("duplicate must not create an article, total=%d", page.Total)
	}
}

func TestTransitionArticle(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	raw := seedRaw(t, s, seedSource(t, s, "wire"), "a1", time.Now())
	article := processRaw(t, s, raw, []float32{1, 0}, time.Now())

	draftOrReview := []domain.PublicationStatus{domain.ArticleDraft, domain.ArticleReview}
	published, err := s.TransitionArticle(ctx, article.ID, draftOrReview, domain.ArticlePublished, time.Now())
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if published.Status != domain.ArticlePublished || published.PublishedAt == nil {
		t.Fatalf("unexpected published article: %+v", published)
	}

	_, err = s.TransitionArticle(ctx, article.ID, draftOrReview, domain.ArticlePublished, time.Now())
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	_, err = s.TransitionArticle(ctx, uuid.New(), draftOrReview, domain.ArticlePublished, time.Now())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	after, _ := s.GetArticle(ctx, article.ID)
	if !after.PublishedAt.Equal(*published.PublishedAt) {
		t.Fatalf("rejected transition mutated published_at")
	}
}

func TestListArticlesFiltersAndPages(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	src := seedSource(t, s, "wire")
	base := time.Now().Add(-time.Hour)

	var ids []uuid.UUID
	for i, ext := range []string{"a", "b", "c"} {
		raw := seedRaw(t, s, src, ext, base)
		a := processRaw(t, s, raw, []float32{1, float32(i)}, base.Add(time.Duration(i)*time.Minute))
		ids = append(ids, a.ID)
	}
	if _, err := s.TransitionArticle(ctx, ids[0], []domain.PublicationStatus{domain.ArticleDraft}, domain.ArticlePublished, time.Now()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	page, err := s.ListArticles(ctx, domain.ArticleFilter{Status: domain.ArticleDraft, Limit: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 1 {
		t.Fatalf("unexpected page: total=%d items=%d", page.Total, len(page.Items))
	}
	if page.Items[0].ID != ids[2] {
		t.Fatalf("expected newest draft first")
	}

	page, err = s.ListArticles(ctx, domain.ArticleFilter{Status: domain.ArticleDraft, Skip: 1, Limit: 5})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != ids[1] {
		t.Fatalf("unexpected second page: %+v", page.Items)
	}
}
