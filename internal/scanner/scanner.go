package scanner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"NewsDesk/internal/domain"
)

// ScrapedItem is one newly observed entry returned by an adapter.
type ScrapedItem struct {
	ExternalID  string
	ExternalURL string
	Title       string
	Content     string
	PublishedAt *time.Time
	Metadata    map[string]string
}

// Adapter captures the capability set every source implementation provides.
type Adapter interface {
	// Scrape returns a finite batch of items observed since the last successful scrape.
	Scrape(ctx context.Context) ([]ScrapedItem, error)
	// FetchFullContent returns the complete body text behind url.
	FetchFullContent(ctx context.Context, url string) (string, error)
}

// ContentDeferrer is implemented by adapters whose items carry no body until FetchFullContent runs.
type ContentDeferrer interface {
	DefersContent() bool
}

// DefersContent reports whether items from a need a full-content fetch regardless of configuration.
func DefersContent(a Adapter) bool {
	d, ok := a.(ContentDeferrer)
	return ok && d.DefersContent()
}

// Factory builds an adapter bound to a single source.
type Factory func(src domain.Source) (Adapter, error)

// Registry keeps a mapping from adapter kinds to their factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds or replaces the factory for each of the given kinds.
func (r *Registry) Register(factory Factory, kinds ...string) {
	if r.factories == nil {
		r.factories = map[string]Factory{}
	}
	for _, kind := range kinds {
		r.factories[normalizeKind(kind)] = factory
	}
}

// Kinds lists the registered adapter kinds in sorted order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Resolve builds the adapter for src or returns a FetchError if its kind is absent.
func (r *Registry) Resolve(src domain.Source) (Adapter, error) {
	factory, ok := r.factories[normalizeKind(src.AdapterKind)]
	if !ok {
		return nil, &domain.FetchError{
			Source: src.Slug,
			Err:    fmt.Errorf("adapter kind %q is not registered", src.AdapterKind),
		}
	}

	adapter, err := factory(src)
	if err != nil {
		return nil, &domain.FetchError{Source: src.Slug, Err: fmt.Errorf("build adapter: %w", err)}
	}
	return adapter, nil
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}
