package types

import (
	"time"

	"github.com/cherryfeed/cherry/internal/database/types/enum"
)

// ContentItem is a published piece of content considered for a digest.
// It is read-only to the digest engine.
type ContentItem struct {
	ID         string          `bun:",pk"            json:"id"`
	Author     string          `bun:",notnull"       json:"author"`
	Tags       []string        `bun:",array,notnull" json:"tags"`
	Category   string          `bun:",notnull"       json:"category"`
	CreatedAt  time.Time       `bun:",notnull"       json:"createdAt"`
	Visibility enum.Visibility `bun:",notnull"       json:"visibility"`
	Title      string          `bun:",notnull"       json:"title"`
	Content    string          `bun:",notnull"       json:"content"`
}

// CandidateCursor is the last item of a candidate page in (created_at DESC, id ASC) order.
type CandidateCursor struct {
	CreatedAt time.Time
	ID        string
}

// CandidateQuery bounds a candidate lookup by time and watchlist-derived sets.
// Items are returned newest first, created in [Start, End). With After set,
// the upper bound is replaced by the rows ordered after the cursor.
type CandidateQuery struct {
	ViewerID string
	Start    time.Time
	End      time.Time
	After    *CandidateCursor
	Filter   WatchlistFilter
	Limit    int
}
