package scoring_test

import (
	"testing"
	"time"

	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/cherryfeed/cherry/internal/database/types/enum"
	"github.com/cherryfeed/cherry/internal/scoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(kind enum.WatchKind, value string, weight float64) *types.WatchlistEntry {
	return &types.WatchlistEntry{UserID: "viewer", Kind: kind, Value: value, Weight: weight}
}

func TestScoreExample(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	item := &types.ContentItem{
		ID:         "i1",
		Author:     "someone",
		Tags:       []string{"rust", "go"},
		CreatedAt:  now.Add(-time.Hour),
		Visibility: enum.VisibilityPublic,
	}
	watchlist := []*types.WatchlistEntry{entry(enum.WatchKindTag, "rust", 1.5)}

	engine := scoring.NewEngine(scoring.DefaultWeights())
	result := engine.Score(item, watchlist, scoring.Context{UserID: "viewer", Now: now})

	assert.InDelta(t, 1.0, result.Signals.Relevance, 1e-9)
	assert.InDelta(t, 23.0/24.0, result.Signals.Recency, 1e-9)
	assert.InDelta(t, 0.5, result.Signals.Affinity, 1e-9)
	assert.InDelta(t, 0.8, result.Signals.Novelty, 1e-9)
	assert.InDelta(t, 0.6, result.Signals.Provenance, 1e-9)
	assert.InDelta(t, 0.85, result.Score, 0.001)

	assert.Equal(t, "Matched tag: rust", result.Provenance.Reason)
	assert.Equal(t, "tag", result.Provenance.MatchType)
	assert.InDelta(t, 0.75, result.Provenance.Confidence, 1e-9)
}

func TestScoreFormula(t *testing.T) {
	t.Parallel()

	now := time.Now()
	engine := scoring.NewEngine(scoring.DefaultWeights())

	items := []*types.ContentItem{
		{ID: "a", Author: "viewer", CreatedAt: now, Visibility: enum.VisibilityPrivate},
		{ID: "b", Author: "x", CreatedAt: now.Add(-48 * time.Hour), Visibility: enum.VisibilityFriends},
		{ID: "c", Author: "x", CreatedAt: now.Add(time.Hour), Visibility: "unknown"},
	}

	for _, item := range items {
		r := engine.Score(item, nil, scoring.Context{UserID: "viewer", Now: now})
		want := 0.35*r.Signals.Recency + 0.30*r.Signals.Relevance + 0.15*r.Signals.Affinity +
			0.10*r.Signals.Novelty + 0.10*r.Signals.Provenance
		assert.InDelta(t, want, r.Score, 1e-9, item.ID)
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
}

func TestRelevance(t *testing.T) {
	t.Parallel()

	item := &types.ContentItem{
		Author:   "Alice",
		Tags:     []string{"Rust"},
		Category: "systems",
		Title:    "Borrow checker tips",
		Content:  "Lifetimes explained with examples.",
	}

	tests := []struct {
		name      string
		watchlist []*types.WatchlistEntry
		want      float64
	}{
		{name: "empty watchlist", watchlist: nil, want: 0.1},
		{name: "zero total weight", watchlist: []*types.WatchlistEntry{entry(enum.WatchKindTag, "go", 0)}, want: 0.1},
		{name: "tag is case insensitive", watchlist: []*types.WatchlistEntry{entry(enum.WatchKindTag, "rust", 1)}, want: 1},
		{name: "person", watchlist: []*types.WatchlistEntry{entry(enum.WatchKindPerson, "alice", 1)}, want: 1},
		{name: "category", watchlist: []*types.WatchlistEntry{entry(enum.WatchKindCategory, "Systems", 1)}, want: 1},
		{name: "keyword in title", watchlist: []*types.WatchlistEntry{entry(enum.WatchKindKeyword, "borrow", 1)}, want: 1},
		{name: "keyword in content", watchlist: []*types.WatchlistEntry{entry(enum.WatchKindKeyword, "lifetimes", 1)}, want: 1},
		{
			name: "partial match",
			watchlist: []*types.WatchlistEntry{
				entry(enum.WatchKindTag, "rust", 1.5),
				entry(enum.WatchKindTag, "python", 0.5),
			},
			want: 0.75,
		},
		{
			name: "no match",
			watchlist: []*types.WatchlistEntry{
				entry(enum.WatchKindTag, "python", 1),
				entry(enum.WatchKindKeyword, "garbage", 1),
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := scoring.Relevance(item, tt.watchlist)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestRecencyMonotonic(t *testing.T) {
	t.Parallel()

	prev := 2.0
	for age := time.Duration(0); age <= 30*time.Hour; age += 15 * time.Minute {
		got := scoring.Recency(age, scoring.RecencyHorizon)
		assert.LessOrEqual(t, got, prev, age.String())
		prev = got
	}

	assert.InDelta(t, 1.0, scoring.Recency(0, scoring.RecencyHorizon), 1e-9)
	assert.Zero(t, scoring.Recency(24*time.Hour, scoring.RecencyHorizon))
	assert.Zero(t, scoring.Recency(72*time.Hour, scoring.RecencyHorizon))
}

func TestAffinityAndProvenance(t *testing.T) {
	t.Parallel()

	own := &types.ContentItem{Author: "viewer", Visibility: enum.VisibilityPublic}
	friends := &types.ContentItem{Author: "x", Visibility: enum.VisibilityFriends}
	public := &types.ContentItem{Author: "x", Visibility: enum.VisibilityPublic}
	private := &types.ContentItem{Author: "x", Visibility: enum.VisibilityPrivate}

	assert.InDelta(t, 1.0, scoring.Affinity(own, "viewer"), 1e-9)
	assert.InDelta(t, 0.8, scoring.Affinity(friends, "viewer"), 1e-9)
	assert.InDelta(t, 0.5, scoring.Affinity(public, "viewer"), 1e-9)
	assert.InDelta(t, 0.2, scoring.Affinity(private, "viewer"), 1e-9)

	assert.InDelta(t, 1.0, scoring.ProvenanceScore(enum.VisibilityPrivate), 1e-9)
	assert.InDelta(t, 0.8, scoring.ProvenanceScore(enum.VisibilityFriends), 1e-9)
	assert.InDelta(t, 0.6, scoring.ProvenanceScore(enum.VisibilityPublic), 1e-9)
	assert.InDelta(t, 0.5, scoring.ProvenanceScore("other"), 1e-9)
}

func TestProvenancePicksHighestWeight(t *testing.T) {
	t.Parallel()

	item := &types.ContentItem{Tags: []string{"go", "rust"}, Category: "systems", Visibility: enum.VisibilityPublic}
	watchlist := []*types.WatchlistEntry{
		entry(enum.WatchKindTag, "go", 1.2),
		entry(enum.WatchKindCategory, "systems", 1.8),
		entry(enum.WatchKindTag, "rust", 1.8),
	}

	engine := scoring.NewEngine(scoring.DefaultWeights())
	result := engine.Score(item, watchlist, scoring.Context{Now: time.Now()})

	// Ties keep the first match
	assert.Equal(t, "Matched category: systems", result.Provenance.Reason)
	assert.InDelta(t, 0.9, result.Provenance.Confidence, 1e-9)

	general := engine.Score(&types.ContentItem{}, watchlist, scoring.Context{Now: time.Now()})
	assert.Equal(t, scoring.GeneralReason, general.Provenance.Reason)
	assert.InDelta(t, scoring.GeneralConfidence, general.Provenance.Confidence, 1e-9)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, scoring.DefaultWeights().Sum(), 1e-9)

	w := scoring.Weights{Recency: 2, Relevance: 2}.Normalize()
	assert.InDelta(t, 0.5, w.Recency, 1e-9)
	assert.InDelta(t, 0.5, w.Relevance, 1e-9)
	assert.InDelta(t, 1.0, w.Sum(), 1e-9)

	assert.Equal(t, scoring.DefaultWeights(), scoring.Weights{}.Normalize())
}

func TestNoveltyOverride(t *testing.T) {
	t.Parallel()

	engine := scoring.NewEngine(scoring.DefaultWeights())
	engine.Novelty = 0.2

	r := engine.Score(&types.ContentItem{CreatedAt: time.Now()}, nil, scoring.Context{Now: time.Now()})
	assert.InDelta(t, 0.2, r.Signals.Novelty, 1e-9)
}

func TestRankDeterministic(t *testing.T) {
	t.Parallel()

	now := time.Now()
	older := &types.ScoredItem{Item: &types.ContentItem{ID: "older", CreatedAt: now.Add(-time.Hour)}, Score: 0.5}
	newerB := &types.ScoredItem{Item: &types.ContentItem{ID: "b", CreatedAt: now}, Score: 0.5}
	newerA := &types.ScoredItem{Item: &types.ContentItem{ID: "a", CreatedAt: now}, Score: 0.5}
	best := &types.ScoredItem{Item: &types.ContentItem{ID: "best", CreatedAt: now.Add(-2 * time.Hour)}, Score: 0.9}

	items := []*types.ScoredItem{older, newerB, best, newerA}
	scoring.Rank(items)

	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.Item.ID)
	}
	assert.Equal(t, []string{"best", "a", "b", "older"}, ids)

	top := scoring.TopN(items, 2)
	require.Len(t, top, 2)
	assert.Len(t, scoring.TopN(items, 10), 4)
	assert.Empty(t, scoring.TopN(items, 0))
}
