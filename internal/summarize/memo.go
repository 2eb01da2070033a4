package summarize

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cherryfeed/cherry/internal/cache"
	"github.com/cherryfeed/cherry/internal/database/types"
)

// DefaultMemoTTL is how long a memoized TL;DR is kept.
const DefaultMemoTTL = 6 * time.Hour

// Memo stores computed TL;DRs in the summary namespace. A TL;DR depends on
// the item and on the watchlist it was computed for, so both form the key.
type Memo struct {
	cache *cache.Layer
	ttl   time.Duration
}

// NewMemo creates a memo over the cache layer.
func NewMemo(layer *cache.Layer, ttl time.Duration) *Memo {
	if ttl <= 0 {
		ttl = DefaultMemoTTL
	}
	return &Memo{cache: layer, ttl: ttl}
}

// Get returns the memoized TL;DR of an item for a watchlist.
func (m *Memo) Get(ctx context.Context, itemID string, watchlist []*types.WatchlistEntry) (string, bool) {
	if m == nil {
		return "", false
	}

	data, ok := m.cache.Get(ctx, cache.NamespaceSummary, MemoKey(itemID, watchlist))
	if !ok || len(data) == 0 {
		return "", false
	}

	return string(data), true
}

// Put memoizes the TL;DR of an item for a watchlist.
func (m *Memo) Put(ctx context.Context, itemID string, watchlist []*types.WatchlistEntry, tldr string) {
	if m == nil || tldr == "" {
		return
	}

	m.cache.Set(ctx, cache.NamespaceSummary, MemoKey(itemID, watchlist), []byte(tldr), m.ttl)
}

// MemoKey builds the memo key of an item. Entry order does not matter.
func MemoKey(itemID string, watchlist []*types.WatchlistEntry) string {
	return itemID + ":" + Fingerprint(watchlist)
}

// Fingerprint hashes the parts of a watchlist that influence a summary.
func Fingerprint(watchlist []*types.WatchlistEntry) string {
	entries := slices.Clone(watchlist)
	slices.SortFunc(entries, func(a, b *types.WatchlistEntry) int {
		return cmp.Or(cmp.Compare(a.Kind, b.Kind), cmp.Compare(a.Value, b.Value), cmp.Compare(a.Weight, b.Weight))
	})

	h := xxhash.New()
	for _, entry := range entries {
		_, _ = h.WriteString(string(entry.Kind))
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(entry.Value)
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(strconv.FormatFloat(entry.Weight, 'g', -1, 64))
		_, _ = h.WriteString("\x01")
	}

	return strconv.FormatUint(h.Sum64(), 16)
}
