package parser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-shiori/go-readability"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/scanner"
)

// Browser is a lazily launched headless Chromium shared by browser adapters.
type Browser struct {
	mu      sync.Mutex
	browser *rod.Browser
}

// NewBrowser returns a handle; Chromium starts on first use.
func NewBrowser() *Browser {
	return &Browser{}
}

func (b *Browser) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	l := launcher.New().Headless(true)
	if path, ok := launcher.LookPath(); ok {
		l = l.Bin(path)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	b.browser = browser
	return browser, nil
}

// Render loads pageURL and returns its HTML after the load event.
func (b *Browser) Render(ctx context.Context, pageURL string) (string, error) {
	browser, err := b.connect()
	if err != nil {
		return "", err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: pageURL})
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	defer func() { _ = page.Close() }()

	page = page.Context(ctx)
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load: %w", err)
	}
	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// Close shuts Chromium down if it was started.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	return err
}

// BrowserAdapter renders JavaScript-heavy listing pages and their articles.
type BrowserAdapter struct {
	source   domain.Source
	browser  *Browser
	listURL  string
	selector string
	maxItems int
}

var _ scanner.Adapter = (*BrowserAdapter)(nil)

// NewBrowserAdapter binds src to the shared browser; adapter_config.list_url and link_selector drive discovery.
func NewBrowserAdapter(src domain.Source, browser *Browser) (*BrowserAdapter, error) {
	if browser == nil {
		return nil, fmt.Errorf("browser is not configured")
	}
	listURL := option(src, "list_url", src.URL)
	if listURL == "" {
		return nil, fmt.Errorf("source %s has no list url", src.Slug)
	}
	return &BrowserAdapter{
		source:   src,
		browser:  browser,
		listURL:  listURL,
		selector: option(src, "link_selector", "article a[href]"),
		maxItems: intOption(src, "max_items", 20),
	}, nil
}

// Scrape renders the listing, then each linked article; items that fail to render are skipped.
func (a *BrowserAdapter) Scrape(ctx context.Context) ([]scanner.ScrapedItem, error) {
	base, err := url.Parse(a.listURL)
	if err != nil {
		return nil, &domain.FetchError{Source: a.source.Slug, URL: a.listURL, Err: err}
	}
	html, err := a.browser.Render(ctx, a.listURL)
	if err != nil {
		return nil, &domain.FetchError{Source: a.source.Slug, URL: a.listURL, Err: err}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &domain.FetchError{Source: a.source.Slug, URL: a.listURL, Err: err}
	}

	links := extractLinks(doc, base, a.selector, a.maxItems)
	items := make([]scanner.ScrapedItem, 0, len(links))
	for _, l := range links {
		if ctx.Err() != nil {
			return items, ctx.Err()
		}
		title, text, err := a.render(ctx, l.URL)
		if err != nil {
			continue
		}
		if title == "" {
			title = l.Text
		}
		if title == "" {
			continue
		}
		items = append(items, scanner.ScrapedItem{
			ExternalID:  l.URL,
			ExternalURL: l.URL,
			Title:       title,
			Content:     text,
		})
	}
	return items, nil
}

func (a *BrowserAdapter) FetchFullContent(ctx context.Context, pageURL string) (string, error) {
	_, text, err := a.render(ctx, pageURL)
	if err != nil {
		return "", &domain.FetchError{Source: a.source.Slug, URL: pageURL, Err: err}
	}
	return text, nil
}

func (a *BrowserAdapter) render(ctx context.Context, pageURL string) (string, string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", "", err
	}
	html, err := a.browser.Render(ctx, pageURL)
	if err != nil {
		return "", "", err
	}
	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return "", "", fmt.Errorf("extract readable content: %w", err)
	}
	return normalizeText(article.Title), normalizeText(article.TextContent), nil
}
