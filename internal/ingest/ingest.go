// Package ingest polls RSS and Atom feeds into the content store and pings
// the users whose watchlist matches a new item.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/cherryfeed/cherry/internal/metrics"
	"github.com/cherryfeed/cherry/internal/queue"
	"github.com/cherryfeed/cherry/internal/setup/config"
	"go.uber.org/zap"
)

// ContentStore persists content items.
type ContentStore interface {
	// InsertNew stores the items not seen before and returns their IDs.
	InsertNew(ctx context.Context, items ...*types.ContentItem) ([]string, error)
}

// WatcherIndex finds the users interested in an item.
type WatcherIndex interface {
	WatchersOf(ctx context.Context, item *types.ContentItem) ([]string, error)
}

// WatchlistSource loads a watcher's entries for summary prewarming.
type WatchlistSource interface {
	List(ctx context.Context, userID string) ([]*types.WatchlistEntry, error)
}

// Enqueuer schedules jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload queue.Payload, priority float64) (string, error)
}

// Options tunes the ingester.
type Options struct {
	Feeds      []config.Feed
	Interval   time.Duration
	MaxPerFeed int
	MaxAge     time.Duration
}

// OptionsFromConfig converts the ingest configuration.
func OptionsFromConfig(cfg *config.Ingest) Options {
	return Options{
		Feeds:      cfg.Feeds,
		Interval:   config.Seconds(cfg.Interval),
		MaxPerFeed: cfg.MaxPerFeed,
		MaxAge:     time.Duration(cfg.MaxAge) * time.Hour,
	}
}

// Stats summarizes one poll.
type Stats struct {
	Feeds  int
	Failed int
	Seen   int
	New    int
	Pings  int
}

// Ingester polls the configured feeds.
type Ingester struct {
	fetcher    Fetcher
	content    ContentStore
	watchers   WatcherIndex
	watchlists WatchlistSource
	jobs       Enqueuer
	opts       Options
	now        func() time.Time
	logger     *zap.Logger
}

// New creates an ingester. The watchlist source is optional; without it no
// summaries are prewarmed.
func New(
	fetcher Fetcher, content ContentStore, watchers WatcherIndex, watchlists WatchlistSource,
	jobs Enqueuer, opts Options, logger *zap.Logger,
) *Ingester {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Minute
	}

	return &Ingester{
		fetcher:    fetcher,
		content:    content,
		watchers:   watchers,
		watchlists: watchlists,
		jobs:       jobs,
		opts:       opts,
		now:        time.Now,
		logger:     logger.Named("ingest"),
	}
}

// SetClock replaces the time source.
func (i *Ingester) SetClock(now func() time.Time) {
	i.now = now
}

// Run polls immediately and then on every interval until the context ends.
func (i *Ingester) Run(ctx context.Context) {
	ticker := time.NewTicker(i.opts.Interval)
	defer ticker.Stop()

	for {
		stats := i.Poll(ctx)
		i.logger.Info("Feed poll finished",
			zap.Int("feeds", stats.Feeds),
			zap.Int("failed", stats.Failed),
			zap.Int("seen", stats.Seen),
			zap.Int("new", stats.New),
			zap.Int("pings", stats.Pings))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll ingests every feed once. A failing feed is logged and skipped.
func (i *Ingester) Poll(ctx context.Context) Stats {
	stats := Stats{Feeds: len(i.opts.Feeds)}

	for _, source := range i.opts.Feeds {
		if ctx.Err() != nil {
			break
		}

		if err := i.pollFeed(ctx, source, &stats); err != nil {
			stats.Failed++
			metrics.FeedErrors.WithLabelValues(source.URL).Inc()
			i.logger.Warn("Failed to ingest feed",
				zap.String("url", source.URL),
				zap.Error(err))
		}
	}

	return stats
}

func (i *Ingester) pollFeed(ctx context.Context, source config.Feed, stats *Stats) error {
	feed, err := i.fetcher.Fetch(ctx, source.URL)
	if err != nil {
		return err
	}

	now := i.now().UTC()
	items := make([]*types.ContentItem, 0, len(feed.Items))

	for _, entry := range feed.Items {
		if i.opts.MaxPerFeed > 0 && len(items) >= i.opts.MaxPerFeed {
			break
		}

		item := toContentItem(entry, feed, source, now)
		if item == nil || (i.opts.MaxAge > 0 && item.CreatedAt.Before(now.Add(-i.opts.MaxAge))) {
			metrics.ItemsIngested.WithLabelValues(source.URL, "skipped").Inc()
			continue
		}

		items = append(items, item)
	}

	stats.Seen += len(items)
	if len(items) == 0 {
		return nil
	}

	ids, err := i.content.InsertNew(ctx, items...)
	if err != nil {
		return fmt.Errorf("failed to store items: %w", err)
	}

	fresh := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		fresh[id] = struct{}{}
	}

	metrics.ItemsIngested.WithLabelValues(source.URL, "new").Add(float64(len(ids)))
	metrics.ItemsIngested.WithLabelValues(source.URL, "known").Add(float64(len(items) - len(ids)))
	stats.New += len(ids)

	for _, item := range items {
		if _, ok := fresh[item.ID]; !ok {
			continue
		}
		stats.Pings += i.notify(ctx, item)
	}

	return nil
}

// notify enqueues a ping for every watcher of a new item and returns how many were sent.
func (i *Ingester) notify(ctx context.Context, item *types.ContentItem) int {
	userIDs, err := i.watchers.WatchersOf(ctx, item)
	if err != nil {
		i.logger.Warn("Failed to find watchers", zap.String("itemID", item.ID), zap.Error(err))
		return 0
	}

	sent := 0
	for _, userID := range userIDs {
		_, err := i.jobs.Enqueue(ctx, queue.PingPayload{
			UserID: userID,
			ItemID: item.ID,
			Author: item.Author,
			Tags:   item.Tags,
		}, queue.PriorityNormal)
		if err != nil {
			i.logger.Warn("Failed to enqueue ping",
				zap.String("userID", userID),
				zap.String("itemID", item.ID),
				zap.Error(err))
			continue
		}
		sent++

		i.prewarm(ctx, userID, item)
	}

	return sent
}

// prewarm schedules the TL;DR of an item for one watcher's watchlist.
func (i *Ingester) prewarm(ctx context.Context, userID string, item *types.ContentItem) {
	if i.watchlists == nil {
		return
	}

	entries, err := i.watchlists.List(ctx, userID)
	if err != nil {
		i.logger.Debug("Skipping summary prewarm", zap.String("userID", userID), zap.Error(err))
		return
	}

	_, err = i.jobs.Enqueue(ctx, queue.SummarizePayload{
		ItemID:    item.ID,
		Content:   item.Content,
		Tags:      item.Tags,
		Watchlist: entries,
	}, queue.PriorityLow)
	if err != nil {
		i.logger.Debug("Failed to enqueue summary prewarm", zap.String("itemID", item.ID), zap.Error(err))
	}
}
