// Package digest computes personalized digests of watched content.
package digest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cherryfeed/cherry/internal/cache"
	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/cherryfeed/cherry/internal/metrics"
	"github.com/cherryfeed/cherry/internal/ratelimit"
	"github.com/cherryfeed/cherry/internal/scoring"
	"github.com/cherryfeed/cherry/internal/setup/config"
	"github.com/cherryfeed/cherry/internal/summarize"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// EmptySummary is the summary of a digest without highlights.
const EmptySummary = "No new cherries found in your watchlist since your last visit."

// MaxItemsLimit is the largest highlight count a caller may request.
const MaxItemsLimit = 50

var (
	ErrUnauthorized   = errors.New("no user")
	ErrInvalidRequest = errors.New("invalid digest request")
	ErrRateLimited    = errors.New("too many digest recomputations")
)

// CandidateStore looks up content items.
type CandidateStore interface {
	FindCandidates(ctx context.Context, q types.CandidateQuery) ([]*types.ContentItem, error)
}

// Store is the system-of-record tier of the digest cache.
type Store interface {
	PurgeStore
	GetFresh(ctx context.Context, userID, sliceKey string, now time.Time) (*types.DigestCacheEntry, error)
	Upsert(ctx context.Context, entry *types.DigestCacheEntry) error
}

// WatchlistSource returns a user's watchlist.
type WatchlistSource interface {
	List(ctx context.Context, userID string) ([]*types.WatchlistEntry, error)
}

// PersonaSource returns a user's last activity time.
type PersonaSource interface {
	LastActive(ctx context.Context, userID string) (time.Time, bool)
}

// Summarizer produces the TL;DR of one item.
type Summarizer interface {
	Summarize(ctx context.Context, content string, tags []string, watchlist []*types.WatchlistEntry) string
}

// Request holds the caller's digest parameters. Every field is optional.
type Request struct {
	Start         *time.Time
	End           *time.Time
	ContinueToken string
	MaxItems      int
	// Refresh skips both cache tiers and recomputes, subject to the recompute limit.
	Refresh bool
}

// Options tunes the orchestrator.
type Options struct {
	MaxItems           int
	TTL                time.Duration
	CandidateLimit     int
	DefaultWindow      time.Duration
	SliceGranularity   time.Duration
	SummaryConcurrency int
	RecomputeLimit     int64
	RecomputeWindow    time.Duration
}

// OptionsFromConfig converts the digest configuration section.
func OptionsFromConfig(cfg *config.Digest) Options {
	return Options{
		MaxItems:           cfg.MaxItems,
		TTL:                config.Seconds(cfg.TTL),
		CandidateLimit:     cfg.CandidateLimit,
		DefaultWindow:      time.Duration(cfg.DefaultWindow) * time.Hour,
		SliceGranularity:   config.Seconds(cfg.SliceGranularity),
		SummaryConcurrency: cfg.SummaryConcurrency,
		RecomputeLimit:     cfg.RecomputeLimit,
		RecomputeWindow:    config.Seconds(cfg.RecomputeWindow),
	}
}

// Dependencies are the collaborators of the orchestrator. Memo and Limiter are optional.
type Dependencies struct {
	Candidates CandidateStore
	Store      Store
	Watchlists WatchlistSource
	Personas   PersonaSource
	Summarizer Summarizer
	Engine     *scoring.Engine
	Cache      *cache.Layer
	Memo       *summarize.Memo
	Limiter    *ratelimit.Limiter
}

// Service orchestrates digest generation under a two-tier cache.
type Service struct {
	deps        Dependencies
	opts        Options
	invalidator *Invalidator
	now         func() time.Time
	logger      *zap.Logger
}

// NewService creates a digest orchestrator.
func NewService(deps Dependencies, opts Options, logger *zap.Logger) *Service {
	if deps.Engine == nil {
		deps.Engine = scoring.NewEngine(scoring.DefaultWeights())
	}

	logger = logger.Named("digest")

	return &Service{
		deps:        deps,
		opts:        opts,
		invalidator: NewInvalidator(deps.Cache, deps.Store, logger),
		now:         time.Now,
		logger:      logger,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Invalidate drops every digest of a user from both tiers.
func (s *Service) Invalidate(ctx context.Context, userID string) error {
	return s.invalidator.Invalidate(ctx, userID)
}

// Generate returns the digest of a user for the requested window, from cache
// when a fresh one exists.
func (s *Service) Generate(ctx context.Context, userID string, req Request) (*types.DigestResult, error) {
	start := time.Now()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrUnauthorized
	}

	maxItems := req.MaxItems
	switch {
	case maxItems < 0:
		return nil, fmt.Errorf("%w: max items must not be negative", ErrInvalidRequest)
	case maxItems > MaxItemsLimit:
		return nil, fmt.Errorf("%w: max items must not exceed %d", ErrInvalidRequest, MaxItemsLimit)
	case maxItems == 0:
		maxItems = s.opts.MaxItems
	}

	now := s.now().UTC()

	window, after, err := s.resolveWindow(req, func() (time.Time, bool) {
		if s.deps.Personas == nil {
			return time.Time{}, false
		}
		return s.deps.Personas.LastActive(ctx, userID)
	}, now)
	if err != nil {
		return nil, err
	}

	windowKey := SliceKey(window.Start, window.End)
	sliceKey := windowKey
	if after != nil {
		sliceKey = fmt.Sprintf("%s-c%s", sliceKey, after.ID)
	}
	if maxItems != s.opts.MaxItems {
		sliceKey = fmt.Sprintf("%s-n%d", sliceKey, maxItems)
	}
	cacheKey := userID + ":" + sliceKey

	if req.Refresh {
		// Every highlight count of a window shares one recompute budget
		if err := s.checkRecompute(ctx, userID+":"+windowKey); err != nil {
			return nil, err
		}
	} else if result := s.lookup(ctx, userID, sliceKey, cacheKey, now); result != nil {
		metrics.DigestDuration.Observe(time.Since(start).Seconds())
		return result, nil
	}

	result, err := s.compute(ctx, userID, window, after, maxItems, now)
	if err != nil {
		return nil, err
	}

	s.persist(ctx, userID, sliceKey, cacheKey, result, now)

	metrics.DigestRequests.WithLabelValues("computed").Inc()
	metrics.DigestDuration.Observe(time.Since(start).Seconds())

	s.logger.Debug("Computed digest",
		zap.String("userID", userID),
		zap.String("sliceKey", sliceKey),
		zap.Int("highlights", len(result.Highlights)),
		zap.Int("totalItems", result.TotalItems),
		zap.Duration("duration", time.Since(start)))

	return result, nil
}

// lookup checks the fast tier then the system-of-record tier, backfilling
// the fast tier on a slow hit.
func (s *Service) lookup(ctx context.Context, userID, sliceKey, cacheKey string, now time.Time) *types.DigestResult {
	if cached, ok := cache.GetJSON[types.DigestResult](ctx, s.deps.Cache, cache.NamespaceDigest, cacheKey); ok {
		metrics.DigestRequests.WithLabelValues("fast_cache").Inc()
		return cached
	}

	entry, err := s.deps.Store.GetFresh(ctx, userID, sliceKey, now)
	if err != nil {
		s.logger.Warn("Failed to read stored digest",
			zap.String("userID", userID),
			zap.String("sliceKey", sliceKey),
			zap.Error(err))
		return nil
	}

	if entry == nil || entry.Result == nil {
		return nil
	}

	if ttl := entry.ExpiresAt.Sub(now); ttl > 0 {
		s.deps.Cache.SetJSON(ctx, cache.NamespaceDigest, cacheKey, entry.Result, ttl)
	}

	metrics.DigestRequests.WithLabelValues("store_cache").Inc()

	return entry.Result
}

func (s *Service) checkRecompute(ctx context.Context, cacheKey string) error {
	if s.deps.Limiter == nil {
		return nil
	}

	decision := s.deps.Limiter.Allow(ctx, "digest:"+cacheKey, s.opts.RecomputeLimit, s.opts.RecomputeWindow)
	if !decision.Allowed {
		s.logger.Info("Rejected digest recomputation",
			zap.String("key", cacheKey),
			zap.Int64("count", decision.Count),
			zap.Int64("limit", decision.Limit))
		return ErrRateLimited
	}

	return nil
}

func (s *Service) compute(
	ctx context.Context, userID string, window types.TimeWindow, after *types.CandidateCursor, maxItems int, now time.Time,
) (*types.DigestResult, error) {
	watchlist, err := s.deps.Watchlists.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load watchlist: %w", err)
	}

	candidates, err := s.deps.Candidates.FindCandidates(ctx, types.CandidateQuery{
		ViewerID: userID,
		Start:    window.Start,
		End:      window.End,
		After:    after,
		Filter:   types.FilterFromWatchlist(watchlist),
		Limit:    s.opts.CandidateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up candidates: %w", err)
	}

	result := &types.DigestResult{
		Highlights:  []*types.ScoredItem{},
		TotalItems:  len(candidates),
		TimeWindow:  window,
		GeneratedAt: now,
	}

	if len(candidates) == 0 {
		result.Summary = EmptySummary
		return result, nil
	}

	if s.opts.CandidateLimit > 0 && len(candidates) >= s.opts.CandidateLimit {
		result.ContinueToken = EncodeContinueToken(window.Start, lastCandidate(candidates))
	}

	scored := s.deps.Engine.ScoreAll(candidates, watchlist, scoring.Context{UserID: userID, Now: now})
	result.Highlights = scoring.TopN(scored, maxItems)

	s.summarizeAll(ctx, result.Highlights, watchlist)
	result.Summary = overview(result.Highlights)

	return result, nil
}

// lastCandidate returns the final item in (created_at DESC, id ASC) order.
func lastCandidate(candidates []*types.ContentItem) types.CandidateCursor {
	last := candidates[0]
	for _, item := range candidates[1:] {
		switch {
		case item.CreatedAt.Before(last.CreatedAt):
			last = item
		case item.CreatedAt.Equal(last.CreatedAt) && item.ID > last.ID:
			last = item
		}
	}
	return types.CandidateCursor{CreatedAt: last.CreatedAt, ID: last.ID}
}

// summarizeAll fills the TL;DR of every highlight concurrently.
func (s *Service) summarizeAll(ctx context.Context, items []*types.ScoredItem, watchlist []*types.WatchlistEntry) {
	p := pool.New().WithMaxGoroutines(max(s.opts.SummaryConcurrency, 1))

	for _, item := range items {
		p.Go(func() {
			if tldr, ok := s.deps.Memo.Get(ctx, item.Item.ID, watchlist); ok {
				item.TLDR = tldr
				return
			}

			content := item.Item.Content
			if strings.TrimSpace(content) == "" {
				content = item.Item.Title
			}

			item.TLDR = s.deps.Summarizer.Summarize(ctx, content, item.Item.Tags, watchlist)
			s.deps.Memo.Put(ctx, item.Item.ID, watchlist, item.TLDR)
		})
	}

	p.Wait()
}

// persist writes the digest through to both tiers. Failures are absorbed.
func (s *Service) persist(
	ctx context.Context, userID, sliceKey, cacheKey string, result *types.DigestResult, now time.Time,
) {
	s.deps.Cache.SetJSON(ctx, cache.NamespaceDigest, cacheKey, result, s.opts.TTL)

	err := s.deps.Store.Upsert(ctx, &types.DigestCacheEntry{
		UserID:    userID,
		SliceKey:  sliceKey,
		Result:    result,
		ExpiresAt: now.Add(s.opts.TTL),
		CreatedAt: now,
	})
	if err != nil {
		s.logger.Warn("Failed to store digest",
			zap.String("userID", userID),
			zap.String("sliceKey", sliceKey),
			zap.Error(err))
	}
}

func overview(highlights []*types.ScoredItem) string {
	if len(highlights) == 0 {
		return EmptySummary
	}

	noun := "cherries"
	if len(highlights) == 1 {
		noun = "cherry"
	}

	top := highlights[0]
	title := strings.TrimSpace(top.Item.Title)
	if title == "" {
		title = top.Item.ID
	}

	return fmt.Sprintf("%d new %s from your watchlist. Top pick: %q (%s).",
		len(highlights), noun, title, top.Provenance.Reason)
}
