package types

import "time"

// Provenance explains why an item was picked for a digest.
type Provenance struct {
	Reason     string  `json:"reason"`
	MatchType  string  `json:"matchType"`
	Confidence float64 `json:"confidence"`
}

// ScoredItem is a candidate together with its relevance score and summary.
type ScoredItem struct {
	Item       *ContentItem `json:"item"`
	Score      float64      `json:"score"`
	Provenance Provenance   `json:"provenance"`
	TLDR       string       `json:"tldr"`
}

// TimeWindow is the half-open interval [Start, End) a digest covers.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DigestResult is the ranked, summarized set of highlights for one user and window.
type DigestResult struct {
	Highlights    []*ScoredItem `json:"highlights"`
	TotalItems    int           `json:"totalItems"`
	TimeWindow    TimeWindow    `json:"timeWindow"`
	Summary       string        `json:"summary"`
	ContinueToken string        `json:"continueToken,omitempty"`
	GeneratedAt   time.Time     `json:"generatedAt"`
}

// DigestCacheEntry is the system-of-record copy of a computed digest.
type DigestCacheEntry struct {
	UserID    string        `bun:",pk"                json:"userId"`
	SliceKey  string        `bun:",pk"                json:"sliceKey"`
	Result    *DigestResult `bun:"type:jsonb,notnull" json:"result"`
	ExpiresAt time.Time     `bun:",notnull"           json:"expiresAt"`
	CreatedAt time.Time     `bun:",notnull"           json:"createdAt"`
}
