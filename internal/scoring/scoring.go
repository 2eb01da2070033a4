package scoring

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/cherryfeed/cherry/internal/database/types/enum"
	"golang.org/x/text/cases"
)

const (
	// RecencyHorizon is the age at which an item's recency reaches zero.
	RecencyHorizon = 24 * time.Hour
	// NoveltyConstant is the novelty signal given to every item until
	// per-user novelty detection exists.
	NoveltyConstant = 0.8
	// EmptyWatchlistRelevance keeps unmatched content from being fully suppressed.
	EmptyWatchlistRelevance = 0.1
	// GeneralReason is the provenance reason when no watchlist entry matched.
	GeneralReason = "General relevance"
	// GeneralConfidence is the confidence attached to GeneralReason.
	GeneralConfidence = 0.3
	// MatchTypeNone is the provenance match type when no watchlist entry matched.
	MatchTypeNone = "general"
)

// Weights are the coefficients of the five signals.
type Weights struct {
	Recency    float64 `json:"recency"`
	Relevance  float64 `json:"relevance"`
	Affinity   float64 `json:"affinity"`
	Novelty    float64 `json:"novelty"`
	Provenance float64 `json:"provenance"`
}

// DefaultWeights returns the standard weighting, which sums to one.
func DefaultWeights() Weights {
	return Weights{
		Recency:    0.35,
		Relevance:  0.30,
		Affinity:   0.15,
		Novelty:    0.10,
		Provenance: 0.10,
	}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Recency + w.Relevance + w.Affinity + w.Novelty + w.Provenance
}

// Normalize scales the weights to sum to one. Negative weights are treated as
// zero and an all-zero set falls back to DefaultWeights.
func (w Weights) Normalize() Weights {
	w = Weights{
		Recency:    max(w.Recency, 0),
		Relevance:  max(w.Relevance, 0),
		Affinity:   max(w.Affinity, 0),
		Novelty:    max(w.Novelty, 0),
		Provenance: max(w.Provenance, 0),
	}

	sum := w.Sum()
	if sum == 0 {
		return DefaultWeights()
	}

	return Weights{
		Recency:    w.Recency / sum,
		Relevance:  w.Relevance / sum,
		Affinity:   w.Affinity / sum,
		Novelty:    w.Novelty / sum,
		Provenance: w.Provenance / sum,
	}
}

// Signals holds the five raw signal values of one item, each in [0,1].
type Signals struct {
	Recency    float64 `json:"recency"`
	Relevance  float64 `json:"relevance"`
	Affinity   float64 `json:"affinity"`
	Novelty    float64 `json:"novelty"`
	Provenance float64 `json:"provenance"`
}

// Context is the per-request input that is not part of the item or watchlist.
type Context struct {
	UserID string
	Now    time.Time
}

// Result is the score of one item with its explanation.
type Result struct {
	Score      float64
	Signals    Signals
	Provenance types.Provenance
}

// Engine scores candidate items against a watchlist.
type Engine struct {
	weights Weights
	// Novelty is the value of the novelty signal for every item.
	Novelty float64
	// Horizon is the age at which recency reaches zero.
	Horizon time.Duration
}

// NewEngine creates an engine with normalized weights.
func NewEngine(weights Weights) *Engine {
	return &Engine{
		weights: weights.Normalize(),
		Novelty: NoveltyConstant,
		Horizon: RecencyHorizon,
	}
}

// Weights returns the normalized weights in use.
func (e *Engine) Weights() Weights {
	return e.weights
}

// Score computes the weighted score and provenance of one item.
func (e *Engine) Score(item *types.ContentItem, watchlist []*types.WatchlistEntry, sctx Context) Result {
	relevance, best := relevanceAndBestMatch(item, watchlist)

	signals := Signals{
		Recency:    Recency(sctx.Now.Sub(item.CreatedAt), e.Horizon),
		Relevance:  relevance,
		Affinity:   Affinity(item, sctx.UserID),
		Novelty:    clamp(e.Novelty),
		Provenance: ProvenanceScore(item.Visibility),
	}

	score := e.weights.Recency*signals.Recency +
		e.weights.Relevance*signals.Relevance +
		e.weights.Affinity*signals.Affinity +
		e.weights.Novelty*signals.Novelty +
		e.weights.Provenance*signals.Provenance

	return Result{
		Score:      clamp(score),
		Signals:    signals,
		Provenance: explain(best),
	}
}

// ScoreAll scores every item and returns them ranked.
func (e *Engine) ScoreAll(items []*types.ContentItem, watchlist []*types.WatchlistEntry, sctx Context) []*types.ScoredItem {
	scored := make([]*types.ScoredItem, 0, len(items))
	for _, item := range items {
		result := e.Score(item, watchlist, sctx)
		scored = append(scored, &types.ScoredItem{
			Item:       item,
			Score:      result.Score,
			Provenance: result.Provenance,
		})
	}

	Rank(scored)
	return scored
}

// Rank sorts by score descending, then newest first, then by ID.
func Rank(items []*types.ScoredItem) {
	slices.SortFunc(items, func(a, b *types.ScoredItem) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := b.Item.CreatedAt.Compare(a.Item.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Item.ID, b.Item.ID)
	})
}

// TopN returns the first n ranked items. A non-positive n returns none.
func TopN(items []*types.ScoredItem, n int) []*types.ScoredItem {
	if n <= 0 {
		return []*types.ScoredItem{}
	}
	if len(items) <= n {
		return items
	}
	return items[:n]
}

// Recency decays linearly from one at age zero to zero at the horizon.
func Recency(age, horizon time.Duration) float64 {
	if horizon <= 0 {
		return 0
	}
	return clamp(1 - float64(age)/float64(horizon))
}

// Affinity rates how close the viewer is to the item's audience.
func Affinity(item *types.ContentItem, userID string) float64 {
	switch {
	case userID != "" && item.Author == userID:
		return 1.0
	case item.Visibility == enum.VisibilityFriends:
		return 0.8
	case item.Visibility == enum.VisibilityPublic:
		return 0.5
	default:
		return 0.2
	}
}

// ProvenanceScore rates the item by the audience it was published to.
func ProvenanceScore(visibility enum.Visibility) float64 {
	switch visibility {
	case enum.VisibilityPrivate:
		return 1.0
	case enum.VisibilityFriends:
		return 0.8
	case enum.VisibilityPublic:
		return 0.6
	default:
		return 0.5
	}
}

// Relevance is the matched share of the total watchlist weight.
func Relevance(item *types.ContentItem, watchlist []*types.WatchlistEntry) float64 {
	relevance, _ := relevanceAndBestMatch(item, watchlist)
	return relevance
}

// Matches reports whether a watchlist entry matches an item. Comparisons ignore case.
func Matches(entry *types.WatchlistEntry, item *types.ContentItem) bool {
	value := fold(entry.Value)
	if value == "" {
		return false
	}

	switch entry.Kind {
	case enum.WatchKindTag:
		return slices.ContainsFunc(item.Tags, func(tag string) bool { return fold(tag) == value })
	case enum.WatchKindCategory:
		return fold(item.Category) == value
	case enum.WatchKindPerson:
		return fold(item.Author) == value
	case enum.WatchKindKeyword:
		return strings.Contains(fold(item.Title), value) || strings.Contains(fold(item.Content), value)
	}

	return false
}

func relevanceAndBestMatch(item *types.ContentItem, watchlist []*types.WatchlistEntry) (float64, *types.WatchlistEntry) {
	var total, matched float64
	var best *types.WatchlistEntry

	for _, entry := range watchlist {
		total += entry.Weight

		if !Matches(entry, item) {
			continue
		}

		matched += entry.Weight
		if best == nil || entry.Weight > best.Weight {
			best = entry
		}
	}

	if total <= 0 {
		return EmptyWatchlistRelevance, best
	}

	return clamp(matched / total), best
}

func explain(best *types.WatchlistEntry) types.Provenance {
	if best == nil {
		return types.Provenance{
			Reason:     GeneralReason,
			MatchType:  MatchTypeNone,
			Confidence: GeneralConfidence,
		}
	}

	return types.Provenance{
		Reason:     fmt.Sprintf("Matched %s: %s", best.Kind, best.Value),
		MatchType:  best.Kind.String(),
		Confidence: max(GeneralConfidence, clamp(best.Weight/types.MaxWatchWeight)),
	}
}

func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

func clamp(v float64) float64 {
	return min(max(v, 0), 1)
}
