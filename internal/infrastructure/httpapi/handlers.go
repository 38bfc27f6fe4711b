package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"NewsDesk/internal/domain"
)

const maxBodyBytes = 1 << 20

type articleResponse struct {
	ID                uuid.UUID   `json:"id"`
	Slug              string      `json:"slug"`
	Title             string      `json:"title"`
	Excerpt           string      `json:"excerpt"`
	Content           string      `json:"content"`
	Category          string      `json:"category"`
	Tags              []string    `json:"tags"`
	SignificanceScore int         `json:"significance_score"`
	CoverImageURL     string      `json:"cover_image_url,omitempty"`
	SourceIDs         []uuid.UUID `json:"source_ids"`
	OriginalURLs      []string    `json:"original_urls"`
	Status            string      `json:"status"`
	PublishedAt       *time.Time  `json:"published_at,omitempty"`
	AIModel           string      `json:"ai_model"`
	AIPromptVersion   string      `json:"ai_prompt_version"`
	ProcessingCostUSD float64     `json:"processing_cost_usd"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

type articlePageResponse struct {
	Items []articleResponse `json:"items"`
	Total int               `json:"total"`
	Skip  int               `json:"skip"`
	Limit int               `json:"limit"`
}

type articlePatchRequest struct {
	Title         *string   `json:"title"`
	Excerpt       *string   `json:"excerpt"`
	Content       *string   `json:"content"`
	Category      *string   `json:"category"`
	Tags          *[]string `json:"tags"`
	CoverImageURL *string   `json:"cover_image_url"`
}

type sourceResponse struct {
	ID                    uuid.UUID         `json:"id"`
	Name                  string            `json:"name"`
	Slug                  string            `json:"slug"`
	URL                   string            `json:"url"`
	AdapterKind           string            `json:"adapter_kind"`
	AdapterConfig         map[string]string `json:"adapter_config"`
	Active                bool              `json:"active"`
	ScrapeIntervalSeconds int64             `json:"scrape_interval_seconds"`
	LastScrapedAt         *time.Time        `json:"last_scraped_at,omitempty"`
}

type sourceCreateRequest struct {
	Name                  string            `json:"name"`
	Slug                  string            `json:"slug"`
	URL                   string            `json:"url"`
	AdapterKind           string            `json:"adapter_kind"`
	AdapterConfig         map[string]string `json:"adapter_config"`
	Active                *bool             `json:"active"`
	ScrapeIntervalSeconds int64             `json:"scrape_interval_seconds"`
}

type sourcePatchRequest struct {
	Name                  *string            `json:"name"`
	URL                   *string            `json:"url"`
	AdapterConfig         *map[string]string `json:"adapter_config"`
	Active                *bool              `json:"active"`
	ScrapeIntervalSeconds *int64             `json:"scrape_interval_seconds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.listArticles(w, r, filter)
}

func (s *Server) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter.Status = domain.ArticleDraft
	s.listArticles(w, r, filter)
}

func (s *Server) listArticles(w http.ResponseWriter, r *http.Request, filter domain.ArticleFilter) {
	page, err := s.editorial.ListArticles(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := articlePageResponse{
		Items: make([]articleResponse, 0, len(page.Items)),
		Total: page.Total,
		Skip:  page.Skip,
		Limit: page.Limit,
	}
	for _, a := range page.Items {
		resp.Items = append(resp.Items, toArticleResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.editorial.GetArticle(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toArticleResponse(a))
}

func (s *Server) handleUpdateArticle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req articlePatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.editorial.UpdateArticle(r.Context(), id, domain.ArticlePatch{
		Title:         req.Title,
		Excerpt:       req.Excerpt,
		Content:       req.Content,
		Category:      req.Category,
		Tags:          req.Tags,
		CoverImageURL: req.CoverImageURL,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toArticleResponse(a))
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.editorial.Publish(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toArticleResponse(a))
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	a, err := s.editorial.Archive(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toArticleResponse(a))
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	sources, err := s.editorial.ListSources(r.Context(), activeOnly)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := make([]sourceResponse, 0, len(sources))
	for _, src := range sources {
		resp = append(resp, toSourceResponse(src))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var req sourceCreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	src, err := s.editorial.CreateSource(r.Context(), domain.Source{
		Name:           req.Name,
		Slug:           req.Slug,
		URL:            req.URL,
		AdapterKind:    req.AdapterKind,
		AdapterConfig:  req.AdapterConfig,
		Active:         active,
		ScrapeInterval: time.Duration(req.ScrapeIntervalSeconds) * time.Second,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSourceResponse(src))
}

func (s *Server) handleUpdateSource(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req sourcePatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	patch := domain.SourcePatch{
		Name:          req.Name,
		URL:           req.URL,
		AdapterConfig: req.AdapterConfig,
		Active:        req.Active,
	}
	if req.ScrapeIntervalSeconds != nil {
		interval := time.Duration(*req.ScrapeIntervalSeconds) * time.Second
		patch.ScrapeInterval = &interval
	}
	src, err := s.editorial.UpdateSource(r.Context(), id, patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSourceResponse(src))
}

func (s *Server) handleTriggerScrape(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.editorial.TriggerScrape(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func parseFilter(r *http.Request) (domain.ArticleFilter, error) {
	q := r.URL.Query()
	filter := domain.ArticleFilter{
		Status:   domain.PublicationStatus(q.Get("status")),
		Category: q.Get("category"),
	}
	var err error
	if filter.Skip, err = intParam(q.Get("skip")); err != nil {
		return filter, domain.Validationf("skip: %v", err)
	}
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		return filter, domain.Validationf("limit: %v", err)
	}
	return filter, nil
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", v)
	}
	return n, nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, domain.Validationf("invalid id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.Validationf("invalid body: %v", err)
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError && s.logger != nil {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyPublished), errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func toArticleResponse(a domain.Article) articleResponse {
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	return articleResponse{
		ID:                a.ID,
		Slug:              a.Slug,
		Title:             a.Title,
		Excerpt:           a.Excerpt,
		Content:           a.Content,
		Category:          a.Category,
		Tags:              tags,
		SignificanceScore: a.SignificanceScore,
		CoverImageURL:     a.CoverImageURL,
		SourceIDs:         a.SourceIDs,
		OriginalURLs:      a.OriginalURLs,
		Status:            string(a.Status),
		PublishedAt:       a.PublishedAt,
		AIModel:           a.AIModel,
		AIPromptVersion:   a.AIPromptVersion,
		ProcessingCostUSD: a.ProcessingCostUSD,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func toSourceResponse(src domain.Source) sourceResponse {
	cfg := src.AdapterConfig
	if cfg == nil {
		cfg = map[string]string{}
	}
	return sourceResponse{
		ID:                    src.ID,
		Name:                  src.Name,
		Slug:                  src.Slug,
		URL:                   src.URL,
		AdapterKind:           src.AdapterKind,
		AdapterConfig:         cfg,
		Active:                src.Active,
		ScrapeIntervalSeconds: int64(src.ScrapeInterval / time.Second),
		LastScrapedAt:         src.LastScrapedAt,
	}
}
