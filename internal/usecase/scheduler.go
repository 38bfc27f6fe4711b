package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/ports"
	"NewsDesk/internal/scanner"
)

// LanguageDetector guesses the ISO 639-1 code of a text.
type LanguageDetector interface {
	Detect(text string) (string, bool)
}

// SchedulerConfig bounds scrape jobs.
type SchedulerConfig struct {
	ScrapeWorkers       int
	ScrapeTimeout       time.Duration
	ManualQueueSize     int
	FullContentMinChars int
}

// SchedulerDeps wires the scrape side of the pipeline.
type SchedulerDeps struct {
	Sources  ports.SourceRepository
	Raws     ports.RawArticleRepository
	Registry *scanner.Registry
	Driver   ports.Scheduler
	Language LanguageDetector
	Notifier ports.Notifier
	Logger   *slog.Logger
	// OnIngested is called after a scrape inserted at least one raw article.
	OnIngested func()
}

// SourceReport summarises one scrape job.
type SourceReport struct {
	SourceID uuid.UUID
	Slug     string
	Found    int
	Inserted int
	Existing int
	Skipped  bool
	Err      error
}

// Scheduler selects due sources, runs their adapters and enqueues raw articles.
type Scheduler struct {
	sources    ports.SourceRepository
	raws       ports.RawArticleRepository
	registry   *scanner.Registry
	driver     ports.Scheduler
	language   LanguageDetector
	notifier   ports.Notifier
	logger     *slog.Logger
	onIngested func()
	cfg        SchedulerConfig

	slots  *semaphore.Weighted
	manual chan uuid.UUID

	mu       sync.Mutex
	scraping map[uuid.UUID]struct{}
	now      func() time.Time
}

// NewScheduler returns the scrape scheduler.
func NewScheduler(deps SchedulerDeps, cfg SchedulerConfig) *Scheduler {
	if cfg.ScrapeWorkers <= 0 {
		cfg.ScrapeWorkers = 1
	}
	if cfg.ScrapeTimeout <= 0 {
		cfg.ScrapeTimeout = 2 * time.Minute
	}
	if cfg.ManualQueueSize <= 0 {
		cfg.ManualQueueSize = 16
	}
	return &Scheduler{
		sources:    deps.Sources,
		raws:       deps.Raws,
		registry:   deps.Registry,
		driver:     deps.Driver,
		language:   deps.Language,
		notifier:   deps.Notifier,
		logger:     deps.Logger,
		onIngested: deps.OnIngested,
		cfg:        cfg,
		slots:      semaphore.NewWeighted(int64(cfg.ScrapeWorkers)),
		manual:     make(chan uuid.UUID, cfg.ManualQueueSize),
		scraping:   map[uuid.UUID]struct{}{},
		now:        time.Now,
	}
}

// DueSources returns active sources whose interval elapsed at now.
func (s *Scheduler) DueSources(ctx context.Context, now time.Time) ([]domain.Source, error) {
	all, err := s.sources.ListSources(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	due := make([]domain.Source, 0, len(all))
	for _, src := range all {
		if src.IsDue(now) {
			due = append(due, src)
		}
	}
	return due, nil
}

// Tick scrapes every due source concurrently, bounded by the worker pool.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) ([]SourceReport, error) {
	due, err := s.DueSources(ctx, now)
	if err != nil {
		return nil, err
	}
	if len(due) == 0 {
		return nil, nil
	}

	reports := make([]SourceReport, len(due))
	var g errgroup.Group
	for i, src := range due {
		g.Go(func() error {
			reports[i] = s.ScrapeSource(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	inserted := 0
	for _, r := range reports {
		inserted += r.Inserted
	}
	s.debug("tick done", "due", len(due), "inserted", inserted)
	if inserted > 0 && s.onIngested != nil {
		s.onIngested()
	}
	return reports, nil
}

// ScrapeSource runs one adapter and stores new items as pending raw articles.
// last_scraped_at advances even when the adapter fails so a broken source waits for its next interval.
func (s *Scheduler) ScrapeSource(ctx context.Context, src domain.Source) SourceReport {
	report := SourceReport{SourceID: src.ID, Slug: src.Slug}

	if !s.begin(src.ID) {
		report.Skipped = true
		return report
	}
	defer s.end(src.ID)

	if err := s.slots.Acquire(ctx, 1); err != nil {
		report.Err = err
		return report
	}
	defer s.slots.Release(1)

	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.ScrapeTimeout)
	defer cancel()

	items, adapter, err := s.scrape(jobCtx, src)
	if err != nil {
		report.Err = err
		s.warn("scrape failed", "source", src.Slug, "error", err)
		s.notify(ctx, fmt.Sprintf("Scrape failed for %s: %v", src.Name, err))
	} else {
		report.Found = len(items)
		for _, item := range items {
			inserted, err := s.ingest(jobCtx, src, adapter, item)
			if err != nil {
				s.warn("store raw article", "source", src.Slug, "external_id", item.ExternalID, "error", err)
				continue
			}
			if inserted {
				report.Inserted++
			} else {
				report.Existing++
			}
		}
	}

	if err := s.sources.MarkScraped(context.WithoutCancel(ctx), src.ID, s.now().UTC()); err != nil {
		s.warn("mark scraped", "source", src.Slug, "error", err)
	}

	s.debug("source scraped", "source", src.Slug, "found", report.Found, "inserted", report.Inserted, "existing", report.Existing)
	return report
}

func (s *Scheduler) scrape(ctx context.Context, src domain.Source) ([]scanner.ScrapedItem, scanner.Adapter, error) {
	if s.registry == nil {
		return nil, nil, &domain.FetchError{Source: src.Slug, Err: errors.New("adapter registry is not configured")}
	}
	adapter, err := s.registry.Resolve(src)
	if err != nil {
		return nil, nil, err
	}
	items, err := adapter.Scrape(ctx)
	if err != nil {
		var fetchErr *domain.FetchError
		if !errors.As(err, &fetchErr) {
			err = &domain.FetchError{Source: src.Slug, Err: err}
		}
		return nil, adapter, err
	}
	return items, adapter, nil
}

func (s *Scheduler) ingest(ctx context.Context, src domain.Source, adapter scanner.Adapter, item scanner.ScrapedItem) (bool, error) {
	externalID := strings.TrimSpace(item.ExternalID)
	if externalID == "" {
		externalID = strings.TrimSpace(item.ExternalURL)
	}
	if externalID == "" || strings.TrimSpace(item.Title) == "" {
		return false, errors.New("item has no identity or title")
	}

	exists, err := s.raws.RawExists(ctx, src.ID, externalID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	content := strings.TrimSpace(item.Content)
	wantsFull := scanner.DefersContent(adapter) || wantsFullContent(src)
	if wantsFull && item.ExternalURL != "" && utf8.RuneCountInString(content) < s.cfg.FullContentMinChars {
		full, err := adapter.FetchFullContent(ctx, item.ExternalURL)
		if err != nil {
			s.debug("full content unavailable, keeping excerpt", "source", src.Slug, "url", item.ExternalURL, "error", err)
		} else if strings.TrimSpace(full) != "" {
			content = strings.TrimSpace(full)
		}
	}

	metadata := make(map[string]string, len(item.Metadata)+1)
	for k, v := range item.Metadata {
		metadata[k] = v
	}
	if s.language != nil {
		if lang, ok := s.language.Detect(item.Title + "\n" + content); ok {
			metadata["language"] = lang
		}
	}

	return s.raws.InsertRawIfAbsent(ctx, domain.RawArticle{
		ID:          uuid.New(),
		SourceID:    src.ID,
		ExternalID:  externalID,
		ExternalURL: item.ExternalURL,
		Title:       strings.TrimSpace(item.Title),
		Content:     content,
		PublishedAt: item.PublishedAt,
		ScrapedAt:   s.now().UTC(),
		Status:      domain.StatusPending,
		Metadata:    metadata,
	})
}

// Trigger enqueues an out-of-interval scrape for one source.
func (s *Scheduler) Trigger(ctx context.Context, id uuid.UUID) error {
	if _, err := s.sources.GetSource(ctx, id); err != nil {
		return err
	}
	select {
	case s.manual <- id:
		return nil
	default:
		return domain.ErrBusy
	}
}

// Run starts the tick driver and serves manual triggers until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.driver != nil {
		err := s.driver.Start(ctx, func(t time.Time) {
			if _, err := s.Tick(ctx, t.UTC()); err != nil && ctx.Err() == nil {
				s.warn("tick", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("start scheduler driver: %w", err)
		}
		defer func() { _ = s.driver.Stop(context.Background()) }()
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case id := <-s.manual:
			src, err := s.sources.GetSource(ctx, id)
			if err != nil {
				s.warn("manual scrape", "source_id", id, "error", err)
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				report := s.ScrapeSource(ctx, src)
				if report.Inserted > 0 && s.onIngested != nil {
					s.onIngested()
				}
			}()
		}
	}
}

func (s *Scheduler) begin(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.scraping[id]; busy {
		return false
	}
	s.scraping[id] = struct{}{}
	return true
}

func (s *Scheduler) end(id uuid.UUID) {
	s.mu.Lock()
	delete(s.scraping, id)
	s.mu.Unlock()
}

func wantsFullContent(src domain.Source) bool {
	switch strings.ToLower(src.AdapterConfig["fetch_full_content"]) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func (s *Scheduler) notify(ctx context.Context, msg string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.warn("notify", "error", err)
	}
}

func (s *Scheduler) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Scheduler) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
