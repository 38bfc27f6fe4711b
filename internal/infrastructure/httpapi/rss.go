package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/feeds"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
)

const (
	rssItems          = 50
	rssDescriptionLen = 500
)

func (s *Server) handleRSS(w http.ResponseWriter, r *http.Request) {
	page, err := s.editorial.ListArticles(r.Context(), domain.ArticleFilter{
		Status: domain.ArticlePublished,
		Limit:  rssItems,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rss, err := GenerateRSSFeed(page.Items, s.feed, time.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	_, _ = w.Write([]byte(rss))
}

// GenerateRSSFeed renders published articles as an RSS 2.0 document.
func GenerateRSSFeed(articles []domain.Article, cfg config.FeedConfig, now time.Time) (string, error) {
	link := strings.TrimSuffix(cfg.Link, "/")
	feed := &feeds.Feed{
		Title:       cfg.Title,
		Link:        &feeds.Link{Href: link},
		Description: cfg.Description,
		Author:      &feeds.Author{Name: cfg.Author},
		Created:     now,
	}

	feed.Items = make([]*feeds.Item, 0, len(articles))
	for _, a := range articles {
		item := &feeds.Item{
			Title:       a.Title,
			Link:        &feeds.Link{Href: fmt.Sprintf("%s/articles/%s", link, a.ID)},
			Id:          a.ID.String(),
			Description: excerpt(a),
			Created:     a.CreatedAt,
		}
		if a.PublishedAt != nil {
			item.Created = *a.PublishedAt
		}
		if a.UpdatedAt.After(item.Created) {
			item.Updated = a.UpdatedAt
		}
		feed.Items = append(feed.Items, item)
	}

	rss, err := feed.ToRss()
	if err != nil {
		return "", fmt.Errorf("failed to generate RSS: %w", err)
	}
	return rss, nil
}

func excerpt(a domain.Article) string {
	if a.Excerpt != "" {
		return a.Excerpt
	}
	if utf8.RuneCountInString(a.Content) <= rssDescriptionLen {
		return a.Content
	}
	return string([]rune(a.Content)[:rssDescriptionLen]) + "..."
}
