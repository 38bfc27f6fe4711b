package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/ports"
)

// Verdict is the dedup engine's decision for one raw article.
type Verdict string

const (
	VerdictNovel     Verdict = "novel"
	VerdictDuplicate Verdict = "duplicate"
)

// Decision carries the verdict and, for duplicates, the matched neighbour.
// Novel decisions list close neighbours below the threshold as Related.
type Decision struct {
	Verdict    Verdict
	Match      *domain.Neighbor
	Similarity float64
	Related    []domain.Neighbor
}

// DedupConfig holds the externally supplied dedup parameters.
type DedupConfig struct {
	Threshold        float64
	Window           time.Duration
	CandidateLimit   int
	MaxChars         int
	RelatedThreshold float64
	MaxRelated       int
}

// DedupEngine decides whether a pending raw article repeats existing coverage.
type DedupEngine struct {
	embedder ports.Embedder
	raws     ports.RawArticleRepository
	cfg      DedupConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewDedupEngine wires the embedder with the similarity search.
func NewDedupEngine(embedder ports.Embedder, raws ports.RawArticleRepository, cfg DedupConfig, logger *slog.Logger) *DedupEngine {
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 5
	}
	return &DedupEngine{
		embedder: embedder,
		raws:     raws,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Check embeds raw when needed, persists the vector and compares it against recent coverage.
// raw.Embedding is filled in place.
func (d *DedupEngine) Check(ctx context.Context, raw *domain.RawArticle) (Decision, error) {
	if len(raw.Embedding) == 0 {
		vec, err := d.embed(ctx, EmbeddingText(*raw, d.cfg.MaxChars))
		if err != nil {
			return Decision{}, err
		}
		if err := d.raws.SaveEmbedding(ctx, raw.ID, vec); err != nil {
			return Decision{}, fmt.Errorf("save embedding %s: %w", raw.ID, err)
		}
		raw.Embedding = vec
	}

	neighbors, err := d.raws.NearestNeighbors(ctx, domain.NeighborQuery{
		Embedding: raw.Embedding,
		ExcludeID: raw.ID,
		Since:     d.now().Add(-d.cfg.Window),
		Limit:     d.cfg.CandidateLimit,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("nearest neighbours %s: %w", raw.ID, err)
	}

	match, ok := SelectMatch(raw.Embedding, neighbors, d.cfg.Threshold)
	if !ok {
		best := 0.0
		if match != nil {
			best = match.Similarity
		}
		d.debug("novel article", "raw_id", raw.ID, "candidates", len(neighbors), "best_similarity", best)
		related := RelatedNeighbors(raw.Embedding, neighbors, d.cfg.RelatedThreshold, d.cfg.MaxRelated)
		return Decision{Verdict: VerdictNovel, Similarity: best, Related: related}, nil
	}

	d.debug("duplicate article", "raw_id", raw.ID, "article_id", match.ArticleID, "similarity", match.Similarity)
	return Decision{Verdict: VerdictDuplicate, Match: match, Similarity: match.Similarity}, nil
}

func (d *DedupEngine) embed(ctx context.Context, text string) ([]float32, error) {
	if d.embedder == nil {
		return nil, &domain.EmbeddingError{Err: fmt.Errorf("embedder is not configured")}
	}
	vec, err := d.embedder.Embed(ctx, text)
	if err != nil {
		return nil, &domain.EmbeddingError{Err: err}
	}
	if want := d.embedder.Dimensions(); want > 0 && len(vec) != want {
		return nil, &domain.EmbeddingError{Err: fmt.Errorf("expected %d dimensions, got %d", want, len(vec))}
	}
	return vec, nil
}

// SelectMatch re-scores neighbours against query and returns the best one.
// ok is true only when the best similarity reaches threshold (inclusive).
// Equal similarities resolve to the most recently processed neighbour.
func SelectMatch(query []float32, neighbors []domain.Neighbor, threshold float64) (*domain.Neighbor, bool) {
	var best *domain.Neighbor
	for i := range neighbors {
		n := neighbors[i]
		if len(n.Embedding) > 0 {
			n.Similarity = domain.CosineSimilarity(query, n.Embedding)
		}
		if best == nil ||
			n.Similarity > best.Similarity ||
			(n.Similarity == best.Similarity && n.ProcessedAt.After(best.ProcessedAt)) {
			best = &n
		}
	}
	if best == nil {
		return nil, false
	}
	return best, best.Similarity >= threshold
}

// RelatedNeighbors returns up to limit neighbours whose similarity is at least minSimilarity,
// most similar first. A non-positive minSimilarity disables the lookup.
func RelatedNeighbors(query []float32, neighbors []domain.Neighbor, minSimilarity float64, limit int) []domain.Neighbor {
	if minSimilarity <= 0 || limit <= 0 {
		return nil
	}
	var out []domain.Neighbor
	for _, n := range neighbors {
		if len(n.Embedding) > 0 {
			n.Similarity = domain.CosineSimilarity(query, n.Embedding)
		}
		if n.Similarity >= minSimilarity {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// EmbeddingText joins title and content and caps the result at maxChars runes.
func EmbeddingText(raw domain.RawArticle, maxChars int) string {
	text := strings.TrimSpace(raw.Title)
	if body := strings.TrimSpace(raw.Content); body != "" {
		text += "\n\n" + body
	}
	if maxChars > 0 && utf8.RuneCountInString(text) > maxChars {
		runes := []rune(text)
		text = string(runes[:maxChars])
	}
	return text
}

func (d *DedupEngine) debug(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Debug(msg, args...)
	}
}
