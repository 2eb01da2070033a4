package types

import (
	"errors"
	"strings"
	"time"

	"github.com/cherryfeed/cherry/internal/database/types/enum"
)

var (
	ErrWatchlistEntryNotFound  = errors.New("watchlist entry not found")
	ErrDuplicateWatchlistEntry = errors.New("watchlist entry already exists")
)

const (
	// DefaultWatchWeight is applied when an entry is created without a weight.
	DefaultWatchWeight = 1.0
	// MinWatchWeight is the lowest weight an entry can carry.
	MinWatchWeight = 0.0
	// MaxWatchWeight is the highest weight an entry can carry.
	MaxWatchWeight = 2.0
)

// WatchlistEntry is one weighted interest of a user. Entries are unique per (user, kind, value).
type WatchlistEntry struct {
	ID        int64          `bun:",pk,autoincrement" json:"id"`
	UserID    string         `bun:",notnull"          json:"userId"`
	Kind      enum.WatchKind `bun:",notnull"          json:"kind"`
	Value     string         `bun:",notnull"          json:"value"`
	Weight    float64        `bun:",notnull"          json:"weight"`
	CreatedAt time.Time      `bun:",notnull"          json:"createdAt"`
	UpdatedAt time.Time      `bun:",notnull"          json:"updatedAt"`
}

// NewWatchlistEntry builds an entry with a trimmed value and a clamped weight.
// A nil weight falls back to DefaultWatchWeight.
func NewWatchlistEntry(userID string, kind enum.WatchKind, value string, weight *float64) *WatchlistEntry {
	w := DefaultWatchWeight
	if weight != nil {
		w = ClampWatchWeight(*weight)
	}

	now := time.Now()

	return &WatchlistEntry{
		UserID:    userID,
		Kind:      kind,
		Value:     strings.TrimSpace(value),
		Weight:    w,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ClampWatchWeight bounds a weight to [MinWatchWeight, MaxWatchWeight].
func ClampWatchWeight(weight float64) float64 {
	switch {
	case weight < MinWatchWeight:
		return MinWatchWeight
	case weight > MaxWatchWeight:
		return MaxWatchWeight
	default:
		return weight
	}
}

// WatchlistFilter holds the candidate query sets derived from a watchlist.
type WatchlistFilter struct {
	Tags       []string
	Categories []string
	Authors    []string
}

// IsEmpty reports whether the filter has no set to match against.
func (f WatchlistFilter) IsEmpty() bool {
	return len(f.Tags) == 0 && len(f.Categories) == 0 && len(f.Authors) == 0
}

// FilterFromWatchlist derives the tag, category and author sets used to narrow candidate lookup.
// Values are lowercased because the candidate query compares lower(column).
// Keyword entries are matched during scoring only.
func FilterFromWatchlist(entries []*WatchlistEntry) WatchlistFilter {
	var filter WatchlistFilter

	seen := make(map[string]struct{}, len(entries))

	for _, entry := range entries {
		value := strings.ToLower(strings.TrimSpace(entry.Value))
		if value == "" {
			continue
		}

		key := string(entry.Kind) + "\x00" + value
		if _, ok := seen[key]; ok {
			continue
		}

		seen[key] = struct{}{}

		switch entry.Kind {
		case enum.WatchKindTag:
			filter.Tags = append(filter.Tags, value)
		case enum.WatchKindCategory:
			filter.Categories = append(filter.Categories, value)
		case enum.WatchKindPerson:
			filter.Authors = append(filter.Authors, value)
		case enum.WatchKindKeyword:
		}
	}

	return filter
}
