package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/ports"
)

// Outcome is the terminal result of driving one raw article through the pipeline.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
	// OutcomeSkipped means the claim was lost to another worker.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeReleased means the job was cancelled and the claim handed back.
	OutcomeReleased Outcome = "released"
)

const releaseTimeout = 5 * time.Second

// PipelineConfig bounds concurrency of the orchestrator.
type PipelineConfig struct {
	Workers       int
	AIConcurrency int
	BatchSize     int
	PollInterval  time.Duration
	StaleAfter    time.Duration
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Raws        ports.RawArticleRepository
	Sources     ports.SourceRepository
	Dedup       *DedupEngine
	Transformer *Transformer
	Notifier    ports.Notifier
	Logger      *slog.Logger
}

// Pipeline drives raw articles from pending to a terminal status.
type Pipeline struct {
	raws        ports.RawArticleRepository
	sources     ports.SourceRepository
	dedup       *DedupEngine
	transformer *Transformer
	notifier    ports.Notifier
	logger      *slog.Logger
	cfg         PipelineConfig
	aiSlots     *semaphore.Weighted
	wake        chan struct{}
	now         func() time.Time
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps, cfg PipelineConfig) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.AIConcurrency <= 0 {
		cfg.AIConcurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	return &Pipeline{
		raws:        deps.Raws,
		sources:     deps.Sources,
		dedup:       deps.Dedup,
		transformer: deps.Transformer,
		notifier:    deps.Notifier,
		logger:      deps.Logger,
		cfg:         cfg,
		aiSlots:     semaphore.NewWeighted(int64(cfg.AIConcurrency)),
		wake:        make(chan struct{}, 1),
		now:         time.Now,
	}
}

// Process claims one raw article and drives it to a terminal status.
// Claim conflicts are reported as OutcomeSkipped without error.
func (p *Pipeline) Process(ctx context.Context, id uuid.UUID) (Outcome, error) {
	raw, err := p.raws.ClaimRaw(ctx, id, p.now().UTC())
	if errors.Is(err, domain.ErrClaimConflict) {
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("claim %s: %w", id, err)
	}

	outcome, err := p.advance(ctx, raw)
	if ctx.Err() != nil && (err != nil || outcome == "") {
		p.release(ctx, raw.ID)
		return OutcomeReleased, nil
	}
	return outcome, err
}

func (p *Pipeline) advance(ctx context.Context, raw domain.RawArticle) (Outcome, error) {
	decision, err := p.dedup.Check(ctx, &raw)
	if err != nil {
		var embedErr *domain.EmbeddingError
		if ctx.Err() != nil || !errors.As(err, &embedErr) {
			// storage errors leave the claim for the stale reaper
			return "", err
		}
		return p.fail(ctx, raw, err)
	}

	if decision.Verdict == VerdictDuplicate {
		if err := p.raws.MarkDuplicate(ctx, raw.ID, decision.Match.ArticleID, p.now().UTC()); err != nil {
			return "", fmt.Errorf("mark duplicate %s: %w", raw.ID, err)
		}
		p.info("raw article folded into existing article",
			"raw_id", raw.ID, "article_id", decision.Match.ArticleID, "similarity", decision.Similarity)
		return OutcomeDuplicate, nil
	}

	article, err := p.transform(ctx, raw, decision.Related)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return p.fail(ctx, raw, err)
	}

	if err := p.raws.CompleteWithArticle(ctx, raw.ID, article, p.now().UTC()); err != nil {
		return "", fmt.Errorf("complete %s: %w", raw.ID, err)
	}
	p.info("draft created",
		"raw_id", raw.ID, "article_id", article.ID, "model", article.AIModel,
		"cost_usd", article.ProcessingCostUSD, "similarity", decision.Similarity)
	return OutcomeProcessed, nil
}

func (p *Pipeline) transform(ctx context.Context, raw domain.RawArticle, neighbors []domain.Neighbor) (domain.Article, error) {
	if err := p.aiSlots.Acquire(ctx, 1); err != nil {
		return domain.Article{}, err
	}
	defer p.aiSlots.Release(1)

	sourceName := ""
	if p.sources != nil {
		if src, err := p.sources.GetSource(ctx, raw.SourceID); err == nil {
			sourceName = src.Name
		}
	}

	return p.transformer.Transform(ctx, TransformInput{
		Raw:        raw,
		SourceName: sourceName,
		Related:    p.relatedRaws(ctx, neighbors),
	})
}

func (p *Pipeline) relatedRaws(ctx context.Context, neighbors []domain.Neighbor) []domain.RawArticle {
	related := make([]domain.RawArticle, 0, len(neighbors))
	for _, n := range neighbors {
		r, err := p.raws.GetRaw(ctx, n.RawID)
		if err != nil {
			p.warn("load related raw article", "raw_id", n.RawID, "error", err)
			continue
		}
		related = append(related, r)
	}
	return related
}

func (p *Pipeline) fail(ctx context.Context, raw domain.RawArticle, cause error) (Outcome, error) {
	if err := p.raws.MarkFailed(ctx, raw.ID, cause.Error(), p.now().UTC()); err != nil {
		return "", fmt.Errorf("mark failed %s: %w", raw.ID, err)
	}

	p.warn("raw article failed", "raw_id", raw.ID, "kind", failureKind(cause), "error", cause)
	if p.notifier != nil {
		msg := fmt.Sprintf("Article processing failed (%s)\n%s\n%s\n%v", failureKind(cause), raw.Title, raw.ExternalURL, cause)
		if err := p.notifier.Notify(ctx, msg); err != nil {
			p.warn("notify failure", "raw_id", raw.ID, "error", err)
		}
	}
	return OutcomeFailed, nil
}

// release hands an interrupted claim back to pending so another run can pick it up.
func (p *Pipeline) release(ctx context.Context, id uuid.UUID) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := p.raws.ReleaseClaim(rctx, id); err != nil {
		p.warn("release claim", "raw_id", id, "error", err)
		return
	}
	p.info("claim released on cancellation", "raw_id", id)
}

// Stats counts outcomes of one batch.
type Stats struct {
	mu       sync.Mutex
	outcomes map[Outcome]int
	errors   int
}

func (s *Stats) record(o Outcome, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcomes == nil {
		s.outcomes = map[Outcome]int{}
	}
	if err != nil {
		s.errors++
		return
	}
	s.outcomes[o]++
}

// Count returns how many items ended with o.
func (s *Stats) Count(o Outcome) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcomes[o]
}

// Errors returns how many items hit infrastructure errors.
func (s *Stats) Errors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

// Settled returns how many items reached a terminal status.
func (s *Stats) Settled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcomes[OutcomeProcessed] + s.outcomes[OutcomeDuplicate] + s.outcomes[OutcomeFailed]
}

func (s *Stats) merge(o *Stats) {
	if o == nil {
		return
	}
	o.mu.Lock()
	outcomes := make(map[Outcome]int, len(o.outcomes))
	for k, v := range o.outcomes {
		outcomes[k] = v
	}
	errs := o.errors
	o.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcomes == nil {
		s.outcomes = map[Outcome]int{}
	}
	for k, v := range outcomes {
		s.outcomes[k] += v
	}
	s.errors += errs
}

// Total returns the number of items attempted.
func (s *Stats) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.errors
	for _, n := range s.outcomes {
		total += n
	}
	return total
}

// RunPending processes one batch of pending raw articles on a bounded worker pool.
// Failures are isolated per item and never abort the batch.
func (p *Pipeline) RunPending(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	ids, err := p.raws.ListPendingRaw(ctx, p.cfg.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("list pending: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcome, err := p.Process(ctx, id)
			if err != nil {
				p.warn("process raw article", "raw_id", id, "error", err)
			}
			stats.record(outcome, err)
			return nil
		})
	}
	_ = g.Wait()

	if n := stats.Total(); n > 0 {
		p.info("batch done",
			"attempted", n,
			"processed", stats.Count(OutcomeProcessed),
			"duplicate", stats.Count(OutcomeDuplicate),
			"failed", stats.Count(OutcomeFailed),
			"skipped", stats.Count(OutcomeSkipped),
			"released", stats.Count(OutcomeReleased),
			"errors", stats.Errors())
	}
	return stats, nil
}

// ReclaimStale reverts claims older than the staleness timeout to pending.
func (p *Pipeline) ReclaimStale(ctx context.Context) (int64, error) {
	if p.cfg.StaleAfter <= 0 {
		return 0, nil
	}
	n, err := p.raws.ReleaseStale(ctx, p.now().UTC().Add(-p.cfg.StaleAfter))
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	if n > 0 {
		p.info("stale claims returned to pending", "count", n)
	}
	return n, nil
}

// Wake asks a running loop to look for pending work now.
func (p *Pipeline) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run loops until ctx is cancelled, draining pending work on every poll or wake-up.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := p.ReclaimStale(ctx); err != nil && ctx.Err() == nil {
			p.warn("reclaim", "error", err)
		}
		if _, err := p.Drain(ctx); err != nil && ctx.Err() == nil {
			p.warn("drain pending", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

// Drain runs batches until the pending queue is empty or a batch settles nothing.
func (p *Pipeline) Drain(ctx context.Context) (*Stats, error) {
	total := &Stats{}
	for ctx.Err() == nil {
		stats, err := p.RunPending(ctx)
		total.merge(stats)
		if err != nil {
			return total, err
		}
		if stats.Total() < p.cfg.BatchSize || stats.Settled() == 0 {
			break
		}
	}
	return total, nil
}

func failureKind(err error) string {
	var (
		embedErr *domain.EmbeddingError
		procErr  *domain.ProcessingError
	)
	switch {
	case errors.As(err, &embedErr):
		return "embedding"
	case errors.As(err, &procErr):
		return "processing"
	default:
		return "internal"
	}
}

func (p *Pipeline) info(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

func (p *Pipeline) warn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}
