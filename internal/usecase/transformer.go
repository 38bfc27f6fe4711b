package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/ports"
)

// PromptVersion identifies the prompt template stored on every draft.
const PromptVersion = "v1"

const (
	maxTitleLen         = 500
	maxSlugLen          = 200
	defaultSignificance = 5
)

var articlePrompt = template.Must(template.New("article").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(`You are the editor of a professional news site. Rewrite the source material below into an original, factual news article. Do not invent facts that are not in the material.

Source: {{.SourceName}}
Original title: {{.Title}}

Original text:
{{.Content}}
{{if .Related}}
Related coverage of the same event:
{{range .Related}}- {{.Title}} ({{.ExternalURL}})
{{end}}{{end}}
Respond with one JSON object and nothing else, using these keys:
"title": headline, at most 120 characters;
"excerpt": one or two sentences summarising the news;
"content": the article body in Markdown, three to six paragraphs;
"category": one of {{join .Categories ", "}};
"tags": array of three to seven short tags;
"significance_score": integer from 1 (minor) to 10 (major).
`))

// DefaultCategories are offered to the model when none are configured.
var DefaultCategories = []string{"research", "clinical", "industry", "regulation", "technology", "events", "other"}

// TransformInput is the material handed to the transformer.
type TransformInput struct {
	Raw        domain.RawArticle
	SourceName string
	Related    []domain.RawArticle
}

// TransformerConfig tunes prompt rendering and pricing.
type TransformerConfig struct {
	Pricing        PriceTable
	Categories     []string
	MaxPromptChars int
}

// Transformer turns a novel raw article into a structured draft via an LLM.
type Transformer struct {
	client ports.ChatClient
	cfg    TransformerConfig
	now    func() time.Time
	newID  func() uuid.UUID
}

// NewTransformer wires an LLM client with its pricing table.
func NewTransformer(client ports.ChatClient, cfg TransformerConfig) *Transformer {
	if len(cfg.Categories) == 0 {
		cfg.Categories = DefaultCategories
	}
	if cfg.MaxPromptChars <= 0 {
		cfg.MaxPromptChars = 12000
	}
	return &Transformer{client: client, cfg: cfg, now: time.Now, newID: uuid.New}
}

// Transform renders the prompt, calls the provider and builds a draft article.
func (t *Transformer) Transform(ctx context.Context, in TransformInput) (domain.Article, error) {
	if t.client == nil {
		return domain.Article{}, &domain.ProcessingError{Stage: "call", Err: errors.New("llm client is not configured")}
	}

	prompt, err := t.RenderPrompt(in)
	if err != nil {
		return domain.Article{}, &domain.ProcessingError{Stage: "prompt", Err: err}
	}

	completion, err := t.client.Complete(ctx, prompt, true)
	if err != nil {
		return domain.Article{}, &domain.ProcessingError{Stage: "call", Err: err}
	}

	result, err := ParseResult(completion.Content)
	if err != nil {
		return domain.Article{}, &domain.ProcessingError{Stage: "parse", Err: err}
	}

	// providers echo dated snapshot names; pricing is keyed by the configured model
	model := t.client.Model()
	if model == "" {
		model = completion.Model
	}
	cost := t.cfg.Pricing.Cost(model, completion.Usage)
	now := t.now().UTC()
	id := t.newID()

	return domain.Article{
		ID:                id,
		Slug:              MakeSlug(result.Title, id),
		Title:             result.Title,
		Excerpt:           result.Excerpt,
		Content:           result.Content,
		Category:          result.Category,
		Tags:              result.Tags,
		SignificanceScore: result.Significance,
		SourceIDs:         []uuid.UUID{in.Raw.ID},
		OriginalURLs:      []string{in.Raw.ExternalURL},
		Status:            domain.ArticleDraft,
		AIModel:           model,
		AIPromptVersion:   PromptVersion,
		ProcessingCostUSD: cost,
		Usage: domain.Usage{
			InputTokens:  completion.Usage.InputTokens,
			OutputTokens: completion.Usage.OutputTokens,
			CostUSD:      cost,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// RenderPrompt fills the versioned template; content falls back to the title.
func (t *Transformer) RenderPrompt(in TransformInput) (string, error) {
	content := strings.TrimSpace(in.Raw.Content)
	if content == "" {
		content = in.Raw.Title
	}
	if utf8.RuneCountInString(content) > t.cfg.MaxPromptChars {
		content = string([]rune(content)[:t.cfg.MaxPromptChars])
	}
	source := in.SourceName
	if source == "" {
		source = "Unknown"
	}

	var buf bytes.Buffer
	err := articlePrompt.Execute(&buf, struct {
		SourceName string
		Title      string
		Content    string
		Related    []domain.RawArticle
		Categories []string
	}{source, in.Raw.Title, content, in.Related, t.cfg.Categories})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

// Result is the structured content the model must return.
type Result struct {
	Title        string   `json:"title"`
	Excerpt      string   `json:"excerpt"`
	Content      string   `json:"content"`
	Category     string   `json:"category"`
	Tags         []string `json:"tags"`
	Significance int      `json:"-"`
}

// ParseResult extracts and validates the JSON object in a model response.
func ParseResult(content string) (Result, error) {
	payload, err := ExtractJSON(content)
	if err != nil {
		return Result{}, err
	}

	var raw struct {
		Result
		Significance json.RawMessage `json:"significance_score"`
	}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return Result{}, fmt.Errorf("decode result: %w", err)
	}

	res := raw.Result
	res.Title = strings.TrimSpace(res.Title)
	res.Excerpt = strings.TrimSpace(res.Excerpt)
	res.Content = strings.TrimSpace(res.Content)
	res.Category = strings.ToLower(strings.TrimSpace(res.Category))

	var missing []string
	for name, value := range map[string]string{
		"title": res.Title, "excerpt": res.Excerpt, "content": res.Content, "category": res.Category,
	} {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Result{}, fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	if utf8.RuneCountInString(res.Title) > maxTitleLen {
		res.Title = string([]rune(res.Title)[:maxTitleLen])
	}

	res.Tags = cleanTags(res.Tags)
	res.Significance = clampSignificance(parseSignificance(raw.Significance))
	return res, nil
}

// ExtractJSON returns the JSON object in a model response.
// A response that is already a JSON object is used as is; otherwise a leading
// Markdown fence and surrounding prose are stripped.
func ExtractJSON(content string) (string, error) {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "{") && json.Valid([]byte(text)) {
		return text, nil
	}

	brace := strings.Index(text, "{")
	if fence := strings.Index(text, "```"); fence >= 0 && (brace < 0 || fence < brace) {
		text = strings.TrimPrefix(text[fence+3:], "json")
		if j := strings.LastIndex(text, "```"); j >= 0 {
			text = text[:j]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", errors.New("response contains no JSON object")
	}
	return text[start : end+1], nil
}

// MakeSlug builds a URL slug from the title with a short id suffix for uniqueness.
func MakeSlug(title string, id uuid.UUID) string {
	base := slug.Make(title)
	if len(base) > maxSlugLen {
		base = strings.Trim(base[:maxSlugLen], "-")
	}
	suffix := strings.ReplaceAll(id.String(), "-", "")[:8]
	if base == "" {
		return "article-" + suffix
	}
	return base + "-" + suffix
}

func parseSignificance(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return int(n)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return int(v)
		}
	}
	return 0
}

func clampSignificance(v int) int {
	switch {
	case v == 0:
		return defaultSignificance
	case v < 1:
		return 1
	case v > 10:
		return 10
	}
	return v
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]struct{}{}
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		key := strings.ToLower(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	return out
}
