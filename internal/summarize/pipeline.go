package summarize

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/cherryfeed/cherry/internal/database/types/enum"
	"github.com/cherryfeed/cherry/internal/metrics"
	"go.uber.org/zap"
)

const (
	// PreviewLength caps the preview pass output.
	PreviewLength = 120
	// RefinedPreviewLength caps the preview quoted inside the TL;DR.
	RefinedPreviewLength = 60
	// FallbackLength is the sentence length kept by the fallback before the ellipsis.
	FallbackLength = 100
	// MaxRefinedLength caps a TL;DR returned by an external summarizer.
	MaxRefinedLength = 240
	// EmptySummary is returned for items without content.
	EmptySummary = "No summary available."
)

var (
	ErrPassFailed  = errors.New("summarization pass failed")
	ErrNoSentences = errors.New("content has no sentences")
)

// Summarizer is an optional external collaborator for the preview and refine passes.
type Summarizer interface {
	Preview(ctx context.Context, content string, index *Index, watchlist []*types.WatchlistEntry) (string, error)
	Refine(ctx context.Context, preview string, index *Index, watchlist []*types.WatchlistEntry) (string, error)
}

// Pipeline produces the TL;DR of one item through the index, preview and refine
// passes. It holds no per-call state and is safe for concurrent use.
type Pipeline struct {
	summarizer Summarizer
	logger     *zap.Logger
}

// New creates a pipeline. A nil summarizer runs every pass on local heuristics.
func New(summarizer Summarizer, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		summarizer: summarizer,
		logger:     logger.Named("summarize"),
	}
}

// Summarize returns the TL;DR for the content. It never fails: if any pass
// errors or panics the fallback summary is returned instead.
func (p *Pipeline) Summarize(ctx context.Context, content string, tags []string, watchlist []*types.WatchlistEntry) (summary string) {
	if strings.TrimSpace(content) == "" {
		return EmptySummary
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Summarization pass panicked, using fallback", zap.Any("panic", r))
			metrics.SummaryFallbacks.Inc()
			summary = Fallback(content, watchlist)
		}
	}()

	result, err := p.run(ctx, content, tags, watchlist)
	if err != nil {
		p.logger.Debug("Summarization pass failed, using fallback", zap.Error(err))
		metrics.SummaryFallbacks.Inc()
		return Fallback(content, watchlist)
	}

	return result
}

func (p *Pipeline) run(ctx context.Context, content string, tags []string, watchlist []*types.WatchlistEntry) (string, error) {
	index, err := BuildIndex(content, tags, watchlist)
	if err != nil {
		return "", fmt.Errorf("%w: index: %w", ErrPassFailed, err)
	}

	preview, err := p.preview(ctx, content, index, watchlist)
	if err != nil {
		return "", fmt.Errorf("%w: preview: %w", ErrPassFailed, err)
	}

	refined, err := p.refine(ctx, preview, index, watchlist)
	if err != nil {
		return "", fmt.Errorf("%w: refine: %w", ErrPassFailed, err)
	}

	return refined, nil
}

func (p *Pipeline) preview(ctx context.Context, content string, index *Index, watchlist []*types.WatchlistEntry) (string, error) {
	if p.summarizer != nil {
		text, err := p.summarizer.Preview(ctx, content, index, watchlist)
		if err != nil {
			return "", err
		}
		text = collapseSpace(text)
		if text == "" {
			return "", ErrNoSentences
		}
		return truncate(text, PreviewLength), nil
	}

	return Preview(content, index, watchlist)
}

func (p *Pipeline) refine(ctx context.Context, preview string, index *Index, watchlist []*types.WatchlistEntry) (string, error) {
	if p.summarizer != nil {
		text, err := p.summarizer.Refine(ctx, preview, index, watchlist)
		if err != nil {
			return "", err
		}
		text = collapseSpace(text)
		if text == "" {
			return "", ErrNoSentences
		}
		return truncate(text, MaxRefinedLength), nil
	}

	return Refine(preview, index), nil
}

// Preview selects the sentence with the highest concept overlap, ties keeping
// the first, capped at PreviewLength.
func Preview(content string, index *Index, watchlist []*types.WatchlistEntry) (string, error) {
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return "", ErrNoSentences
	}

	weights := make(map[string]float64, len(index.KeyConcepts)+len(watchlist))
	for _, c := range index.KeyConcepts {
		weights[fold(c)] = 1
	}
	for _, entry := range watchlist {
		if v := fold(strings.TrimSpace(entry.Value)); v != "" {
			weights[v] = max(weights[v], entry.Weight)
		}
	}

	best, bestScore := 0, -1.0
	for i, s := range sentences {
		score := overlap(s, weights)
		if score > bestScore {
			best, bestScore = i, score
		}
	}

	return truncate(collapseSpace(sentences[best]), PreviewLength), nil
}

// Refine composes the final TL;DR from the preview and the index.
func Refine(preview string, index *Index) string {
	reason := index.MainTopic
	if index.RelevanceLevel == enum.RelevanceHigh && len(index.Matched) > 0 {
		top := index.Matched[:min(2, len(index.Matched))]
		reason = strings.Join(top, ", ")
	}

	return fmt.Sprintf("TL;DR: %s (Relevant because: %s)", truncate(preview, RefinedPreviewLength), reason)
}

// Fallback returns the sentence with the highest watchlist weight overlap,
// cut to FallbackLength characters plus an ellipsis. It is deterministic and
// always returns a non-empty string.
func Fallback(content string, watchlist []*types.WatchlistEntry) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return EmptySummary
	}

	weights := make(map[string]float64, len(watchlist))
	for _, entry := range watchlist {
		if v := fold(strings.TrimSpace(entry.Value)); v != "" {
			weights[v] += entry.Weight
		}
	}

	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return clip(collapseSpace(content), FallbackLength)
	}

	best, bestScore := 0, -1.0
	for i, s := range sentences {
		score := overlap(s, weights)
		if score > bestScore {
			best, bestScore = i, score
		}
	}

	out := clip(collapseSpace(sentences[best]), FallbackLength)
	if out == "" {
		return EmptySummary
	}
	return out
}

// overlap sums the weights of the terms that appear in the sentence.
// Terms are visited in sorted order so the sum is reproducible.
func overlap(sentence string, weights map[string]float64) float64 {
	folded := fold(sentence)

	var score float64
	for _, term := range slices.Sorted(maps.Keys(weights)) {
		if strings.Contains(folded, term) {
			score += weights[term]
		}
	}
	return score
}
