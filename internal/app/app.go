package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/infrastructure/httpapi"
	"NewsDesk/internal/infrastructure/language"
	"NewsDesk/internal/infrastructure/llm"
	"NewsDesk/internal/infrastructure/ml"
	"NewsDesk/internal/infrastructure/parser"
	"NewsDesk/internal/infrastructure/scheduler"
	"NewsDesk/internal/infrastructure/storage"
	"NewsDesk/internal/infrastructure/telegram"
	"NewsDesk/internal/logging"
	"NewsDesk/internal/ports"
	"NewsDesk/internal/scanner"
	"NewsDesk/internal/usecase"
)

const scrapeHTTPTimeout = 30 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	store     storage.Store
	browser   *parser.Browser
	scheduler *usecase.Scheduler
	pipeline  *usecase.Pipeline
	editorial *usecase.Editorial
	server    *httpapi.Server
	// aiErr explains why the pipeline could not be built.
	aiErr error
}

// New opens storage, seeds configured sources and builds every component.
// A missing LLM or embedding setup only disables the processing pipeline.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	store, err := storage.Open(ctx, cfg.Database, cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate storage: %w", err)
	}
	if err := SeedSources(ctx, store, cfg.Sources); err != nil {
		_ = store.Close()
		return nil, err
	}

	detector, err := language.NewDetector(cfg.Scheduler.Languages)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("language detector: %w", err)
	}

	notifier := telegram.NewNotifier(cfg.Notifications.Telegram)
	browser := parser.NewBrowser()

	registry := scanner.NewRegistry()
	parser.Register(registry, parser.Deps{
		HTTPClient: &http.Client{Timeout: scrapeHTTPTimeout},
		Browser:    browser,
		Logger:     baseLogger.With("component", "scanner"),
	})

	a := &Application{cfg: cfg, logger: baseLogger, store: store, browser: browser}

	a.pipeline, a.aiErr = buildPipeline(ctx, cfg, store, notifier, baseLogger)
	if a.aiErr != nil {
		baseLogger.Warn("processing pipeline disabled", "error", a.aiErr)
	}

	a.scheduler = usecase.NewScheduler(usecase.SchedulerDeps{
		Sources:    store,
		Raws:       store,
		Registry:   registry,
		Driver:     scheduler.NewTickerScheduler(cfg.Scheduler.TickInterval),
		Language:   detector,
		Notifier:   notifier,
		Logger:     baseLogger.With("component", "scheduler"),
		OnIngested: a.wakePipeline,
	}, usecase.SchedulerConfig{
		ScrapeWorkers:       cfg.Scheduler.ScrapeWorkers,
		ScrapeTimeout:       cfg.Scheduler.ScrapeTimeout,
		ManualQueueSize:     cfg.Scheduler.ManualQueueSize,
		FullContentMinChars: cfg.Scheduler.FullContentMinChars,
	})

	a.editorial = usecase.NewEditorial(store, store, a.scheduler, baseLogger.With("component", "editorial"))
	a.editorial.AllowAdapterKinds(registry.Kinds()...)
	a.server = httpapi.New(a.editorial, cfg.Server, cfg.Feed, baseLogger.With("component", "http"))
	return a, nil
}

func buildPipeline(ctx context.Context, cfg config.Config, store storage.Store, notifier *telegram.Notifier, logger *slog.Logger) (*usecase.Pipeline, error) {
	chat, err := llm.NewClient(ctx, cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("llm client: %w", err)
	}
	embedder, err := ml.NewEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	dedup := usecase.NewDedupEngine(embedder, store, usecase.DedupConfig{
		Threshold:        cfg.Dedup.SimilarityThreshold,
		Window:           cfg.Dedup.Window(),
		CandidateLimit:   cfg.Dedup.CandidateLimit,
		MaxChars:         cfg.Embedding.MaxChars,
		RelatedThreshold: cfg.Dedup.RelatedThreshold,
		MaxRelated:       cfg.Dedup.MaxRelated,
	}, logger.With("component", "dedup"))

	transformer := usecase.NewTransformer(chat, usecase.TransformerConfig{
		Pricing: priceTable(cfg.AI),
	})

	return usecase.NewPipeline(usecase.PipelineDeps{
		Raws:        store,
		Sources:     store,
		Dedup:       dedup,
		Transformer: transformer,
		Notifier:    notifier,
		Logger:      logger.With("component", "pipeline"),
	}, usecase.PipelineConfig{
		Workers:       cfg.Pipeline.Workers,
		AIConcurrency: cfg.Pipeline.AIConcurrency,
		BatchSize:     cfg.Pipeline.BatchSize,
		PollInterval:  cfg.Pipeline.PollInterval,
		StaleAfter:    cfg.Pipeline.StaleAfter,
	}), nil
}

func priceTable(cfg config.AIConfig) usecase.PriceTable {
	rates := make(map[string]usecase.Rates, len(cfg.Pricing))
	for model, r := range cfg.Pricing {
		rates[model] = usecase.Rates{Input: r.Input, Output: r.Output}
	}
	return usecase.PriceTable{Rates: rates, Default: cfg.DefaultPricing}
}

// SeedSources upserts the configured sources by slug.
func SeedSources(ctx context.Context, repo ports.SourceRepository, sources []config.SourceConfig) error {
	for _, sc := range sources {
		active := true
		if sc.Active != nil {
			active = *sc.Active
		}
		_, err := repo.UpsertSource(ctx, domain.Source{
			ID:             uuid.New(),
			Name:           sc.Name,
			Slug:           sc.Slug,
			URL:            sc.URL,
			AdapterKind:    sc.Adapter,
			AdapterConfig:  sc.Options,
			Active:         active,
			ScrapeInterval: sc.ScrapeInterval,
			CreatedAt:      time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("seed source %s: %w", sc.Slug, err)
		}
	}
	return nil
}

func (a *Application) wakePipeline() {
	if a.pipeline != nil {
		a.pipeline.Wake()
	}
}

// Serve runs the scheduler, the pipeline and the HTTP API until ctx is cancelled.
// Without a pipeline, scraping and the API still run and raw articles stay pending.
func (a *Application) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.scheduler.Run(gctx) })
	g.Go(func() error { return a.server.Run(gctx) })
	if a.pipeline != nil {
		g.Go(func() error { return a.pipeline.Run(gctx) })
	} else {
		a.logger.Warn("serving without processing pipeline", "error", a.aiErr)
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.logger.Info("application stopped")
	return err
}

// Scrape runs one scrape of the source with slug, or of every active source when slug is empty.
func (a *Application) Scrape(ctx context.Context, slug string) ([]usecase.SourceReport, error) {
	var sources []domain.Source
	if slug != "" {
		src, err := a.store.GetSourceBySlug(ctx, slug)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", slug, err)
		}
		sources = append(sources, src)
	} else {
		all, err := a.store.ListSources(ctx, true)
		if err != nil {
			return nil, fmt.Errorf("list sources: %w", err)
		}
		sources = all
	}

	reports := make([]usecase.SourceReport, len(sources))
	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			reports[i] = a.scheduler.ScrapeSource(ctx, src)
			return nil
		})
	}
	_ = g.Wait()
	return reports, nil
}

// Process reclaims stale claims and drains every pending raw article.
func (a *Application) Process(ctx context.Context) (*usecase.Stats, error) {
	if a.pipeline == nil {
		return nil, fmt.Errorf("processing pipeline unavailable: %w", a.aiErr)
	}
	if _, err := a.pipeline.ReclaimStale(ctx); err != nil {
		return nil, err
	}
	return a.pipeline.Drain(ctx)
}

// Close releases the browser and the storage handle.
func (a *Application) Close() error {
	var errs []error
	if a.browser != nil {
		errs = append(errs, a.browser.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

// Migrate creates the schema of the configured database and exits.
func Migrate(ctx context.Context, cfg config.Config) error {
	store, err := storage.Open(ctx, cfg.Database, cfg.Embedding.Dimensions)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()
	return store.Migrate(ctx)
}
