package parser

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/scanner"
)

// FeedAdapter reads RSS and Atom feeds.
type FeedAdapter struct {
	source   domain.Source
	feedURL  string
	maxItems int
	parser   *gofeed.Parser
	content  *ContentFetcher
}

var _ scanner.Adapter = (*FeedAdapter)(nil)

// NewFeedAdapter binds a feed parser to src; adapter_config.feed_url overrides the source url.
func NewFeedAdapter(src domain.Source, client *http.Client) (*FeedAdapter, error) {
	feedURL := option(src, "feed_url", src.URL)
	if feedURL == "" {
		return nil, fmt.Errorf("source %s has no feed url", src.Slug)
	}
	fp := gofeed.NewParser()
	fp.UserAgent = userAgent
	if client != nil {
		fp.Client = client
	}
	return &FeedAdapter{
		source:   src,
		feedURL:  feedURL,
		maxItems: intOption(src, "max_items", 50),
		parser:   fp,
		content:  NewContentFetcher(client),
	}, nil
}

// Scrape parses the feed and maps its entries to scraped items, newest as published by the feed.
func (a *FeedAdapter) Scrape(ctx context.Context) ([]scanner.ScrapedItem, error) {
	feed, err := a.parser.ParseURLWithContext(a.feedURL, ctx)
	if err != nil {
		return nil, &domain.FetchError{Source: a.source.Slug, URL: a.feedURL, Err: err}
	}

	items := make([]scanner.ScrapedItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if entry == nil {
			continue
		}
		item, ok := feedItem(entry)
		if !ok {
			continue
		}
		items = append(items, item)
		if a.maxItems > 0 && len(items) >= a.maxItems {
			break
		}
	}
	return items, nil
}

// FetchFullContent downloads the linked page and extracts its readable text.
func (a *FeedAdapter) FetchFullContent(ctx context.Context, pageURL string) (string, error) {
	text, err := a.content.Fetch(ctx, pageURL)
	if err != nil {
		return "", &domain.FetchError{Source: a.source.Slug, URL: pageURL, Err: err}
	}
	return text, nil
}

func feedItem(entry *gofeed.Item) (scanner.ScrapedItem, bool) {
	title := normalizeText(entry.Title)
	link := strings.TrimSpace(entry.Link)
	id := strings.TrimSpace(entry.GUID)
	if id == "" {
		id = link
	}
	if title == "" || id == "" {
		return scanner.ScrapedItem{}, false
	}

	body := entry.Content
	if strings.TrimSpace(body) == "" {
		body = entry.Description
	}

	var published *time.Time
	switch {
	case entry.PublishedParsed != nil:
		t := entry.PublishedParsed.UTC()
		published = &t
	case entry.UpdatedParsed != nil:
		t := entry.UpdatedParsed.UTC()
		published = &t
	}

	meta := map[string]string{}
	if len(entry.Authors) > 0 && entry.Authors[0] != nil && entry.Authors[0].Name != "" {
		meta["author"] = entry.Authors[0].Name
	}
	if len(entry.Categories) > 0 {
		meta["categories"] = strings.Join(entry.Categories, ",")
	}
	if entry.Image != nil && entry.Image.URL != "" {
		meta["image_url"] = entry.Image.URL
	}

	return scanner.ScrapedItem{
		ExternalID:  id,
		ExternalURL: link,
		Title:       title,
		Content:     htmlToText(body),
		PublishedAt: published,
		Metadata:    meta,
	}, true
}

func option(src domain.Source, key, def string) string {
	if v := strings.TrimSpace(src.AdapterConfig[key]); v != "" {
		return v
	}
	return def
}

func intOption(src domain.Source, key string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(src.AdapterConfig[key])); err == nil && v > 0 {
		return v
	}
	return def
}
