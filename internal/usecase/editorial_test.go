package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/infrastructure/storage"
	"NewsDesk/internal/ports"
)

func addDraft(t *testing.T, s *storage.SQLiteStore, src domain.Source, externalID string) domain.Article {
	t.Helper()
	ctx := context.Background()
	raw := addRaw(t, s, src, externalID, "Story "+externalID)
	if _, err := s.ClaimRaw(ctx, raw.ID, time.Now()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	now := time.Now().UTC()
	article := domain.Article{
		ID: uuid.New(), Slug: "story-" + externalID, Title: raw.Title, Excerpt: "e", Content: "c",
		Category: "industry", Tags: []string{"rates"},
		SourceIDs: []uuid.UUID{raw.ID}, OriginalURLs: []string{raw.ExternalURL},
		Status: domain.ArticleDraft, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CompleteWithArticle(ctx, raw.ID, article, now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	return article
}

type filterSpy struct {
	ports.ArticleRepository
	got domain.ArticleFilter
}

func (f *filterSpy) ListArticles(_ context.Context, filter domain.ArticleFilter) (domain.ArticlePage, error) {
	f.got = filter
	return domain.ArticlePage{}, nil
}

type countingTrigger struct{ calls int }

func (c *countingTrigger) Trigger(context.Context, uuid.UUID) error {
	c.calls++
	return nil
}

func TestListArticlesNormalizesFilter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	spy := &filterSpy{}
	e := NewEditorial(spy, nil, nil, nil)

	if _, err := e.ListArticles(ctx, domain.ArticleFilter{Status: "live"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("unknown status should be rejected, got %v", err)
	}

	cases := []struct {
		name      string
		in        domain.ArticleFilter
		wantSkip  int
		wantLimit int
	}{
		{name: "defaults", in: domain.ArticleFilter{}, wantLimit: defaultPageLimit},
		{name: "clamped", in: domain.ArticleFilter{Skip: -3, Limit: 1000}, wantLimit: maxPageLimit},
		{name: "kept", in: domain.ArticleFilter{Skip: 40, Limit: 10}, wantSkip: 40, wantLimit: 10},
	}
	for _, tc := range cases {
		if _, err := e.ListArticles(ctx, tc.in); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if spy.got.Skip != tc.wantSkip || spy.got.Limit != tc.wantLimit {
			t.Fatalf("%s: got skip=%d limit=%d", tc.name, spy.got.Skip, spy.got.Limit)
		}
	}

	if _, err := e.ListArticles(ctx, domain.ArticleFilter{Category: "  Policy "}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if spy.got.Category != "policy" {
		t.Fatalf("category filter should be normalized, got %q", spy.got.Category)
	}
}

func TestUpdateArticle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t)
	src := addSource(t, s, "wire", "feed", nil)
	draft := addDraft(t, s, src, "a1")
	e := NewEditorial(s, s, nil, nil)

	empty := "  "
	if _, err := e.UpdateArticle(ctx, draft.ID, domain.ArticlePatch{Title: &empty}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("blank title should be rejected, got %v", err)
	}

	title := "  Rates held again "
	category := " Policy "
	tags := []string{"Banks", "banks", " ", "rates"}
	updated, err := e.UpdateArticle(ctx, draft.ID, domain.ArticlePatch{Title: &title, Category: &category, Tags: &tags})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "Rates held again" || updated.Category != "policy" {
		t.Fatalf("patch not normalized: %q %q", updated.Title, updated.Category)
	}
	if len(updated.Tags) != 2 || updated.Tags[0] != "Banks" || updated.Tags[1] != "rates" {
		t.Fatalf("tags not cleaned: %v", updated.Tags)
	}
	if updated.Slug != draft.Slug || updated.Status != domain.ArticleDraft {
		t.Fatalf("pipeline-owned fields must not change: %+v", updated)
	}

	if _, err := e.UpdateArticle(ctx, uuid.New(), domain.ArticlePatch{Title: &title}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown article should be not found, got %v", err)
	}
}

func TestArchiveFromAnyLiveStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t)
	src := addSource(t, s, "wire", "feed", nil)
	e := NewEditorial(s, s, nil, nil)

	draft := addDraft(t, s, src, "a1")
	archived, err := e.Archive(ctx, draft.ID)
	if err != nil || archived.Status != domain.ArticleArchived {
		t.Fatalf("archive draft: %+v %v", archived, err)
	}
	if _, err := e.Archive(ctx, draft.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("archiving twice should be an invalid transition, got %v", err)
	}
	if _, err := e.Publish(ctx, draft.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("archived articles cannot be published, got %v", err)
	}

	live := addDraft(t, s, src, "a2")
	if _, err := e.Publish(ctx, live.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if archived, err := e.Archive(ctx, live.ID); err != nil || archived.Status != domain.ArticleArchived {
		t.Fatalf("archive published: %+v %v", archived, err)
	}
}

func TestUpdateSource(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t)
	src := addSource(t, s, "wire", "feed", nil)
	e := NewEditorial(s, s, nil, nil)

	short := time.Minute
	if _, err := e.UpdateSource(ctx, src.ID, domain.SourcePatch{ScrapeInterval: &short}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("interval below minimum should be rejected, got %v", err)
	}

	interval := 30 * time.Minute
	inactive := false
	updated, err := e.UpdateSource(ctx, src.ID, domain.SourcePatch{ScrapeInterval: &interval, Active: &inactive})
	if err != nil {
		t.Fatalf("update source: %v", err)
	}
	if updated.Active || updated.ScrapeInterval != interval {
		t.Fatalf("patch not applied: %+v", updated)
	}
	active, _ := e.ListSources(ctx, true)
	if len(active) != 0 {
		t.Fatalf("deactivated source still listed as active")
	}

	if _, err := e.UpdateSource(ctx, uuid.New(), domain.SourcePatch{Active: &inactive}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown source should be not found, got %v", err)
	}
}

func TestCreateSource(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newStore(t)
	addSource(t, s, "wire", "feed", nil)
	e := NewEditorial(s, s, nil, nil)
	e.AllowAdapterKinds("feed", "Document")

	created, err := e.CreateSource(ctx, domain.Source{
		Name:        "  Energy Reports ",
		URL:         "https://energy.example/reports",
		AdapterKind: " document ",
		Active:      true,
	})
	if err != nil {
		t.Fatalf("create source: %v", err)
	}
	if created.Slug != "energy-reports" || created.AdapterKind != "document" || created.ScrapeInterval != defaultScrapeInterval {
		t.Fatalf("source not normalized: %+v", created)
	}
	if created.ID == uuid.Nil || created.LastScrapedAt != nil {
		t.Fatalf("new source must be unscraped with an id: %+v", created)
	}

	cases := []struct {
		name string
		src  domain.Source
		want error
	}{
		{name: "taken slug", src: domain.Source{Name: "Wire", URL: "https://wire.example", AdapterKind: "feed"}, want: domain.ErrAlreadyExists},
		{name: "no name", src: domain.Source{URL: "https://x.example", AdapterKind: "feed"}, want: domain.ErrValidation},
		{name: "bad slug", src: domain.Source{Name: "X", Slug: "Not A Slug", URL: "https://x.example", AdapterKind: "feed"}, want: domain.ErrValidation},
		{name: "bad url", src: domain.Source{Name: "X", URL: "ftp://x.example", AdapterKind: "feed"}, want: domain.ErrValidation},
		{name: "unknown kind", src: domain.Source{Name: "X", URL: "https://x.example", AdapterKind: "telex"}, want: domain.ErrValidation},
		{name: "short interval", src: domain.Source{Name: "X", URL: "https://x.example", AdapterKind: "feed", ScrapeInterval: time.Minute}, want: domain.ErrValidation},
	}
	for _, tc := range cases {
		if _, err := e.CreateSource(ctx, tc.src); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}

	all, _ := e.ListSources(ctx, false)
	if len(all) != 2 {
		t.Fatalf("rejected sources must not be stored, got %d sources", len(all))
	}
}

func TestTriggerScrape(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if err := NewEditorial(nil, nil, nil, nil).TriggerScrape(ctx, uuid.New()); !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("missing trigger should report busy, got %v", err)
	}

	trigger := &countingTrigger{}
	if err := NewEditorial(nil, nil, trigger, nil).TriggerScrape(ctx, uuid.New()); err != nil || trigger.calls != 1 {
		t.Fatalf("trigger not forwarded: calls=%d err=%v", trigger.calls, err)
	}
}
