package parser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

const (
	userAgent       = "NewsDesk/1.0 (+https://github.com/newsdesk)"
	maxDocumentSize = 20 << 20
)

var spaceExpr = regexp.MustCompile(`[ \t\r\f\v]+`)

// ContentFetcher downloads article pages and reduces them to readable text.
type ContentFetcher struct {
	client *http.Client
}

// NewContentFetcher wires an HTTP client; nil defaults to a 20s timeout.
func NewContentFetcher(client *http.Client) *ContentFetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &ContentFetcher{client: client}
}

// Fetch returns the main text of the page at pageURL.
func (f *ContentFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %s: %w", pageURL, err)
	}

	body, err := f.get(ctx, pageURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	article, err := readability.FromReader(body, parsed)
	if err != nil {
		return "", fmt.Errorf("extract readable content: %w", err)
	}
	return normalizeText(article.TextContent), nil
}

// Document fetches pageURL and parses it with goquery.
func (f *ContentFetcher) Document(ctx context.Context, pageURL string) (*goquery.Document, error) {
	body, err := f.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

// Download returns the raw bytes at fileURL, capped at maxDocumentSize.
func (f *ContentFetcher) Download(ctx context.Context, fileURL string) ([]byte, error) {
	body, err := f.get(ctx, fileURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fileURL, err)
	}
	if len(data) > maxDocumentSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", fileURL, maxDocumentSize)
	}
	return data, nil
}

func (f *ContentFetcher) get(ctx context.Context, target string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", target, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%s returned %s", target, resp.Status)
	}
	return resp.Body, nil
}

// htmlToText flattens an HTML fragment into paragraphs of plain text.
func htmlToText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return normalizeText(fragment)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return normalizeText(fragment)
	}
	doc.Find("script, style").Remove()

	var parts []string
	blocks := doc.Find("p, li, h1, h2, h3, h4, blockquote")
	if blocks.Length() == 0 {
		return normalizeText(doc.Text())
	}
	blocks.Each(func(_ int, s *goquery.Selection) {
		if text := normalizeText(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n\n")
}

func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(spaceExpr.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// extractLinks collects unique absolute links matching selector, in document order.
func extractLinks(doc *goquery.Document, base *url.URL, selector string, limit int) []link {
	var (
		links []link
		seen  = map[string]struct{}{}
	)
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" || strings.HasPrefix(href, "#") {
			return true
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		key := abs.String()
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}
		links = append(links, link{URL: key, Text: normalizeText(s.Text())})
		return limit <= 0 || len(links) < limit
	})
	return links
}

type link struct {
	URL  string
	Text string
}
