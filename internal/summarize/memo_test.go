package summarize_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cherryfeed/cherry/internal/cache"
	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/cherryfeed/cherry/internal/database/types/enum"
	"github.com/cherryfeed/cherry/internal/summarize"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFingerprintIgnoresOrder(t *testing.T) {
	t.Parallel()

	a := []*types.WatchlistEntry{
		{Kind: enum.WatchKindTag, Value: "rust", Weight: 1.5},
		{Kind: enum.WatchKindPerson, Value: "bob", Weight: 1},
	}
	b := []*types.WatchlistEntry{a[1], a[0]}

	assert.Equal(t, summarize.Fingerprint(a), summarize.Fingerprint(b))

	changed := []*types.WatchlistEntry{
		{Kind: enum.WatchKindTag, Value: "rust", Weight: 2},
		{Kind: enum.WatchKindPerson, Value: "bob", Weight: 1},
	}
	assert.NotEqual(t, summarize.Fingerprint(a), summarize.Fingerprint(changed))
}

func TestMemo(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
		DisableRetry: true,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	memo := summarize.NewMemo(cache.New(client, zap.NewNop()), time.Hour)
	watchlist := rustWatchlist()

	_, ok := memo.Get(t.Context(), "item-1", watchlist)
	assert.False(t, ok)

	memo.Put(t.Context(), "item-1", watchlist, "TL;DR: cached")

	got, ok := memo.Get(t.Context(), "item-1", watchlist)
	require.True(t, ok)
	assert.Equal(t, "TL;DR: cached", got)
	assert.Equal(t, time.Hour, mr.TTL("summary:"+summarize.MemoKey("item-1", watchlist)))

	_, ok = memo.Get(t.Context(), "item-1", nil)
	assert.False(t, ok)

	var nilMemo *summarize.Memo
	_, ok = nilMemo.Get(t.Context(), "item-1", watchlist)
	assert.False(t, ok)
}
