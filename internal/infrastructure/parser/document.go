package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/ledongthuc/pdf"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/scanner"
)

// DocumentAdapter discovers PDF reports linked from an index page.
// Item content is left empty; the PDF text is pulled through FetchFullContent.
type DocumentAdapter struct {
	source   domain.Source
	indexURL string
	selector string
	maxItems int
	content  *ContentFetcher
}

var _ scanner.Adapter = (*DocumentAdapter)(nil)

func NewDocumentAdapter(src domain.Source, client *http.Client) (*DocumentAdapter, error) {
	indexURL := option(src, "index_url", src.URL)
	if indexURL == "" {
		return nil, fmt.Errorf("source %s has no index url", src.Slug)
	}
	return &DocumentAdapter{
		source:   src,
		indexURL: indexURL,
		selector: option(src, "link_selector", `a[href$=".pdf"]`),
		maxItems: intOption(src, "max_items", 20),
		content:  NewContentFetcher(client),
	}, nil
}

// DefersContent reports that scraped items carry no body until FetchFullContent runs.
func (a *DocumentAdapter) DefersContent() bool { return true }

func (a *DocumentAdapter) Scrape(ctx context.Context) ([]scanner.ScrapedItem, error) {
	base, err := url.Parse(a.indexURL)
	if err != nil {
		return nil, &domain.FetchError{Source: a.source.Slug, URL: a.indexURL, Err: err}
	}
	doc, err := a.content.Document(ctx, a.indexURL)
	if err != nil {
		return nil, &domain.FetchError{Source: a.source.Slug, URL: a.indexURL, Err: err}
	}

	links := extractLinks(doc, base, a.selector, a.maxItems)
	items := make([]scanner.ScrapedItem, 0, len(links))
	for _, l := range links {
		title := l.Text
		if title == "" {
			title = documentTitle(l.URL)
		}
		items = append(items, scanner.ScrapedItem{
			ExternalID:  l.URL,
			ExternalURL: l.URL,
			Title:       title,
			Metadata:    map[string]string{"content_type": "application/pdf"},
		})
	}
	return items, nil
}

// FetchFullContent downloads the PDF and returns its plain text.
func (a *DocumentAdapter) FetchFullContent(ctx context.Context, fileURL string) (string, error) {
	data, err := a.content.Download(ctx, fileURL)
	if err != nil {
		return "", &domain.FetchError{Source: a.source.Slug, URL: fileURL, Err: err}
	}
	text, err := pdfText(data)
	if err != nil {
		return "", &domain.FetchError{Source: a.source.Slug, URL: fileURL, Err: err}
	}
	return text, nil
}

func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return normalizeText(buf.String()), nil
}

func documentTitle(fileURL string) string {
	u, err := url.Parse(fileURL)
	if err != nil {
		return ""
	}
	name := strings.TrimSuffix(path.Base(u.Path), path.Ext(u.Path))
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	return strings.TrimSpace(name)
}
