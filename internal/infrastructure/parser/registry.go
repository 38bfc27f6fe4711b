package parser

import (
	"log/slog"
	"net/http"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/scanner"
)

// Deps are the shared handles adapters are built from.
type Deps struct {
	HTTPClient *http.Client
	Browser    *Browser
	Logger     *slog.Logger
}

// Register installs every concrete adapter kind on reg.
func Register(reg *scanner.Registry, deps Deps) {
	reg.Register(func(src domain.Source) (scanner.Adapter, error) {
		debug(deps.Logger, "build feed adapter", "source", src.Slug)
		return NewFeedAdapter(src, deps.HTTPClient)
	}, "feed", "rss", "atom")

	reg.Register(func(src domain.Source) (scanner.Adapter, error) {
		debug(deps.Logger, "build browser adapter", "source", src.Slug)
		return NewBrowserAdapter(src, deps.Browser)
	}, "browser", "playwright")

	reg.Register(func(src domain.Source) (scanner.Adapter, error) {
		debug(deps.Logger, "build document adapter", "source", src.Slug)
		return NewDocumentAdapter(src, deps.HTTPClient)
	}, "document", "pdf")

	reg.Register(func(src domain.Source) (scanner.Adapter, error) {
		debug(deps.Logger, "build arxiv adapter", "source", src.Slug)
		return NewArxivAdapter(src, deps.HTTPClient)
	}, "arxiv")
}

func debug(logger *slog.Logger, msg string, args ...interface{}) {
	if logger != nil {
		logger.Debug(msg, args...)
	}
}
