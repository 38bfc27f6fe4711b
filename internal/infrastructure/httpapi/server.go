package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
)

// Editorial is the article and source workflow served over HTTP.
type Editorial interface {
	ListArticles(ctx context.Context, filter domain.ArticleFilter) (domain.ArticlePage, error)
	GetArticle(ctx context.Context, id uuid.UUID) (domain.Article, error)
	UpdateArticle(ctx context.Context, id uuid.UUID, patch domain.ArticlePatch) (domain.Article, error)
	Publish(ctx context.Context, id uuid.UUID) (domain.Article, error)
	Archive(ctx context.Context, id uuid.UUID) (domain.Article, error)
	ListSources(ctx context.Context, activeOnly bool) ([]domain.Source, error)
	CreateSource(ctx context.Context, src domain.Source) (domain.Source, error)
	UpdateSource(ctx context.Context, id uuid.UUID, patch domain.SourcePatch) (domain.Source, error)
	TriggerScrape(ctx context.Context, id uuid.UUID) error
}

// Server exposes the editorial API and the published RSS feed.
type Server struct {
	router    *chi.Mux
	editorial Editorial
	feed      config.FeedConfig
	logger    *slog.Logger
	http      *http.Server
}

// New creates a server with all routes mounted.
func New(editorial Editorial, cfg config.ServerConfig, feed config.FeedConfig, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		editorial: editorial,
		feed:      feed,
		logger:    logger,
	}
	s.setupRoutes(cfg.RequestTimeout)
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes(timeout time.Duration) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.logRequests)
	s.router.Use(middleware.Recoverer)
	if timeout > 0 {
		s.router.Use(middleware.Timeout(timeout))
	}

	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	s.router.Route("/articles", func(r chi.Router) {
		r.Get("/", s.handleListArticles)
		r.Get("/drafts", s.handleListDrafts)
		r.Get("/{id}", s.handleGetArticle)
		r.Put("/{id}", s.handleUpdateArticle)
		r.Post("/{id}/publish", s.handlePublish)
		r.Post("/{id}/archive", s.handleArchive)
	})

	s.router.Route("/sources", func(r chi.Router) {
		r.Get("/", s.handleListSources)
		r.Post("/", s.handleCreateSource)
		r.Put("/{id}", s.handleUpdateSource)
		r.Post("/{id}/scrape", s.handleTriggerScrape)
	})

	s.router.Get("/rss.xml", s.handleRSS)
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if s.logger != nil {
			s.logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}
	})
}

func (s *Server) info(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}
