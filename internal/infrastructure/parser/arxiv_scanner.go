package parser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/scanner"
)

var dateExpr = regexp.MustCompile(`\d{1,2} [A-Za-z]{3} \d{4}`)

// ArxivAdapter crawls arXiv listing pages; each entry's abstract becomes the item content.
type ArxivAdapter struct {
	source   domain.Source
	listURL  string
	pageSize int
	maxItems int
	content  *ContentFetcher
}

var _ scanner.Adapter = (*ArxivAdapter)(nil)

// NewArxivAdapter reads list_url, page_size and max_items from the source's adapter config.
func NewArxivAdapter(src domain.Source, client *http.Client) (*ArxivAdapter, error) {
	listURL := option(src, "list_url", src.URL)
	if listURL == "" {
		return nil, fmt.Errorf("source %s has no list url", src.Slug)
	}
	return &ArxivAdapter{
		source:   src,
		listURL:  listURL,
		pageSize: intOption(src, "page_size", 100),
		maxItems: intOption(src, "max_items", 100),
		content:  NewContentFetcher(client),
	}, nil
}

// Scrape pages through the listing until max_items entries were seen or a page comes back short.
func (a *ArxivAdapter) Scrape(ctx context.Context) ([]scanner.ScrapedItem, error) {
	base, err := url.Parse(a.listURL)
	if err != nil {
		return nil, &domain.FetchError{Source: a.source.Slug, URL: a.listURL, Err: err}
	}

	var (
		items []scanner.ScrapedItem
		seen  = map[string]struct{}{}
	)
	for skip := 0; len(items) < a.maxItems; skip += a.pageSize {
		pageURL := buildPageURL(base, skip, a.pageSize)
		doc, err := a.content.Document(ctx, pageURL)
		if err != nil {
			return nil, &domain.FetchError{Source: a.source.Slug, URL: pageURL, Err: err}
		}

		entries := doc.Find("dl > dt")
		entries.Each(func(_ int, dt *goquery.Selection) {
			item, ok := parseEntry(base, dt, dt.Next())
			if !ok || len(items) >= a.maxItems {
				return
			}
			if _, dup := seen[item.ExternalID]; dup {
				return
			}
			seen[item.ExternalID] = struct{}{}
			items = append(items, item)
		})

		if entries.Length() < a.pageSize {
			break
		}
	}
	return items, nil
}

// FetchFullContent returns the readable text of the abstract page.
func (a *ArxivAdapter) FetchFullContent(ctx context.Context, pageURL string) (string, error) {
	text, err := a.content.Fetch(ctx, pageURL)
	if err != nil {
		return "", &domain.FetchError{Source: a.source.Slug, URL: pageURL, Err: err}
	}
	return text, nil
}

func parseEntry(base *url.URL, dt, dd *goquery.Selection) (scanner.ScrapedItem, bool) {
	anchor := dt.Find(`a[href*="/abs/"]`).First()
	href, _ := anchor.Attr("href")
	id := strings.TrimSpace(anchor.Text())
	if id == "" {
		id = strings.TrimPrefix(href, "/abs/")
	}

	link := href
	if ref, err := url.Parse(href); err == nil && href != "" {
		link = base.ResolveReference(ref).String()
	}

	title := strings.TrimSpace(dd.Find(".list-title").First().Text())
	title = normalizeText(strings.TrimPrefix(title, "Title:"))

	summary := dd.Find("p.mathjax").First().Text()
	summary = normalizeText(strings.TrimPrefix(strings.TrimSpace(summary), "Abstract:"))

	if id == "" {
		id = link
	}
	if id == "" || title == "" {
		return scanner.ScrapedItem{}, false
	}

	item := scanner.ScrapedItem{
		ExternalID:  id,
		ExternalURL: link,
		Title:       title,
		Content:     summary,
		Metadata:    map[string]string{},
	}

	dateText := strings.TrimSpace(dd.Find(".list-date").First().Text())
	if dateText == "" {
		dateText = strings.TrimSpace(dd.Find(".list-dateline").First().Text())
	}
	if match := dateExpr.FindString(dateText); match != "" {
		if parsed, err := time.Parse("2 Jan 2006", match); err == nil {
			published := parsed.UTC()
			item.PublishedAt = &published
		}
	}
	if subjects := normalizeText(dd.Find(".list-subjects").First().Text()); subjects != "" {
		item.Metadata["categories"] = strings.TrimSpace(strings.TrimPrefix(subjects, "Subjects:"))
	}
	return item, true
}

func buildPageURL(base *url.URL, skip, pageSize int) string {
	u := *base
	query := u.Query()
	query.Set("skip", strconv.Itoa(skip))
	query.Set("show", strconv.Itoa(pageSize))
	u.RawQuery = query.Encode()
	return u.String()
}
