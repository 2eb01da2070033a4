package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/cherryfeed/cherry/internal/database/types/enum"
	"github.com/cherryfeed/cherry/internal/setup/config"
	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
)

// Fetcher downloads and parses one feed.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) (*gofeed.Feed, error)
}

// HTTPFetcher fetches feeds over HTTP with gofeed.
type HTTPFetcher struct {
	parser *gofeed.Parser
}

// NewHTTPFetcher creates a fetcher whose requests time out after timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	parser.UserAgent = "cherry-ingest/1.0"

	return &HTTPFetcher{parser: parser}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", feedURL, err)
	}
	return feed, nil
}

// ItemID derives the stable content ID of a feed item from its link.
func ItemID(link string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(link)).String()
}

// toContentItem converts a feed item. It returns nil for items that have
// neither a link nor a title.
func toContentItem(item *gofeed.Item, feed *gofeed.Feed, source config.Feed, now time.Time) *types.ContentItem {
	link := strings.TrimSpace(item.Link)
	if link == "" {
		link = strings.TrimSpace(item.GUID)
	}
	title := strings.TrimSpace(item.Title)
	if link == "" || title == "" {
		return nil
	}

	createdAt := now
	switch {
	case item.PublishedParsed != nil:
		createdAt = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		createdAt = *item.UpdatedParsed
	}
	// Future timestamps would keep an item out of every window until then
	if createdAt.After(now) {
		createdAt = now
	}

	body := item.Content
	if body == "" {
		body = item.Description
	}
	content := htmlText(body)
	if content == "" {
		content = title
	}

	category := source.Category
	if category == "" {
		category = "general"
	}

	return &types.ContentItem{
		ID:         ItemID(link),
		Author:     author(item, feed, source),
		Tags:       tags(item.Categories, source.Tags),
		Category:   category,
		CreatedAt:  createdAt.UTC(),
		Visibility: enum.VisibilityPublic,
		Title:      title,
		Content:    content,
	}
}

func author(item *gofeed.Item, feed *gofeed.Feed, source config.Feed) string {
	if item.Author != nil && strings.TrimSpace(item.Author.Name) != "" {
		return strings.TrimSpace(item.Author.Name)
	}
	if source.Name != "" {
		return source.Name
	}
	if feed != nil && strings.TrimSpace(feed.Title) != "" {
		return strings.TrimSpace(feed.Title)
	}
	return sourceName(source.URL)
}

// tags lowercases and deduplicates item categories followed by the feed tags.
func tags(categories, extra []string) []string {
	out := make([]string, 0, len(categories)+len(extra))
	for _, raw := range slices.Concat(categories, extra) {
		tag := strings.ToLower(strings.TrimSpace(raw))
		if tag == "" || slices.Contains(out, tag) {
			continue
		}
		out = append(out, tag)
	}
	return out
}

// sourceName turns a feed URL into a short name such as "golang" for blog.golang.org.
func sourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}

	host := strings.ToLower(u.Hostname())
	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return parts[len(parts)-2]
	}
	return host
}
