package cache_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cherryfeed/cherry/internal/cache"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type cachedThing struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func setupTest(t *testing.T) (*cache.Layer, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
		DisableRetry: true,
	})
	require.NoError(t, err)

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	layer := cache.New(client, logger)

	cleanup := func() {
		mr.Close()
		client.Close()
		_ = logger.Sync()
	}

	return layer, mr, cleanup
}

func TestGetSet(t *testing.T) {
	t.Parallel()
	layer, mr, cleanup := setupTest(t)
	defer cleanup()

	ctx := t.Context()

	_, ok := layer.Get(ctx, cache.NamespaceDigest, "u1:slice")
	assert.False(t, ok)

	layer.Set(ctx, cache.NamespaceDigest, "u1:slice", []byte("value"), time.Minute)

	value, ok := layer.Get(ctx, cache.NamespaceDigest, "u1:slice")
	require.True(t, ok)
	assert.Equal(t, []byte("value"), value)

	// Keys are namespaced
	assert.True(t, mr.Exists("digest:u1:slice"))
	assert.Equal(t, time.Minute, mr.TTL("digest:u1:slice"))

	mr.FastForward(2 * time.Minute)
	_, ok = layer.Get(ctx, cache.NamespaceDigest, "u1:slice")
	assert.False(t, ok)
}

func TestSetWithoutTTL(t *testing.T) {
	t.Parallel()
	layer, mr, cleanup := setupTest(t)
	defer cleanup()

	layer.Set(t.Context(), cache.NamespaceSummary, "item", []byte("x"), 0)
	assert.True(t, mr.Exists("summary:item"))
	assert.Equal(t, time.Duration(0), mr.TTL("summary:item"))
}

func TestDeletePattern(t *testing.T) {
	t.Parallel()
	layer, mr, cleanup := setupTest(t)
	defer cleanup()

	ctx := t.Context()
	for i := range 250 {
		layer.Set(ctx, cache.NamespaceDigest, "u1:"+time.Unix(int64(i), 0).UTC().Format("150405"), []byte("x"), time.Hour)
	}
	layer.Set(ctx, cache.NamespaceDigest, "u2:slice", []byte("x"), time.Hour)
	layer.Set(ctx, cache.NamespaceWatchlist, "u1", []byte("x"), time.Hour)

	layer.Delete(ctx, cache.NamespaceDigest, "u1:*")

	keys := mr.Keys()
	assert.ElementsMatch(t, []string{"digest:u2:slice", "watchlist:u1"}, keys)

	layer.Delete(ctx, cache.NamespaceWatchlist, "u1")
	assert.False(t, mr.Exists("watchlist:u1"))
}

func TestDeletePatternKeysInDifferentSlots(t *testing.T) {
	t.Parallel()
	layer, mr, cleanup := setupTest(t)
	defer cleanup()

	ctx := t.Context()

	// These keys hash to different cluster slots
	for _, slice := range []string{"a", "b", "c", "1700000000-1700003600"} {
		layer.Set(ctx, cache.NamespaceDigest, "u9:"+slice, []byte("x"), time.Hour)
	}

	assert.NotPanics(t, func() {
		layer.Delete(ctx, cache.NamespaceDigest, "u9:*")
	})
	assert.Empty(t, mr.Keys())
}

func TestIncrementWithTTL(t *testing.T) {
	t.Parallel()
	layer, mr, cleanup := setupTest(t)
	defer cleanup()

	ctx := t.Context()

	count, ok := layer.IncrementWithTTL(ctx, "digest:u1", time.Minute)
	require.True(t, ok)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, time.Minute, mr.TTL("rate_limit:digest:u1"))

	// Later increments keep the original expiry
	mr.FastForward(30 * time.Second)
	count, ok = layer.IncrementWithTTL(ctx, "digest:u1", time.Minute)
	require.True(t, ok)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 30*time.Second, mr.TTL("rate_limit:digest:u1"))

	// A new window starts from one
	mr.FastForward(31 * time.Second)
	count, ok = layer.IncrementWithTTL(ctx, "digest:u1", time.Minute)
	require.True(t, ok)
	assert.Equal(t, int64(1), count)
}

func TestJSONHelpers(t *testing.T) {
	t.Parallel()
	layer, mr, cleanup := setupTest(t)
	defer cleanup()

	ctx := t.Context()
	layer.SetJSON(ctx, cache.NamespacePersona, "u1", cachedThing{Name: "a", Count: 2}, time.Minute)

	got, ok := cache.GetJSON[cachedThing](ctx, layer, cache.NamespacePersona, "u1")
	require.True(t, ok)
	assert.Equal(t, cachedThing{Name: "a", Count: 2}, *got)

	// Corrupt entries are dropped
	require.NoError(t, mr.Set("persona:u2", "{not json"))
	_, ok = cache.GetJSON[cachedThing](ctx, layer, cache.NamespacePersona, "u2")
	assert.False(t, ok)
	assert.False(t, mr.Exists("persona:u2"))
}

func TestTTL(t *testing.T) {
	t.Parallel()
	layer, _, cleanup := setupTest(t)
	defer cleanup()

	ctx := t.Context()
	assert.Equal(t, time.Duration(0), layer.TTL(ctx, cache.NamespaceDigest, "missing"))

	layer.Set(ctx, cache.NamespaceDigest, "k", []byte("v"), 10*time.Minute)
	ttl := layer.TTL(ctx, cache.NamespaceDigest, "k")
	assert.Greater(t, ttl, 9*time.Minute)
	assert.LessOrEqual(t, ttl, 10*time.Minute)
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	layer, mr, cleanup := setupTest(t)
	defer cleanup()

	assert.True(t, layer.HealthCheck(t.Context()))

	mr.Close()
	assert.False(t, layer.HealthCheck(t.Context()))
}

func TestBackendUnavailable(t *testing.T) {
	t.Parallel()
	layer, mr, cleanup := setupTest(t)
	defer cleanup()

	ctx := t.Context()
	layer.Set(ctx, cache.NamespaceDigest, "k", []byte("v"), time.Minute)
	mr.Close()

	assert.NotPanics(t, func() {
		_, ok := layer.Get(ctx, cache.NamespaceDigest, "k")
		assert.False(t, ok)

		layer.Set(ctx, cache.NamespaceDigest, "k", []byte("v2"), time.Minute)
		layer.Delete(ctx, cache.NamespaceDigest, "k")
		layer.Delete(ctx, cache.NamespaceDigest, "*")

		_, ok = layer.IncrementWithTTL(ctx, "k", time.Minute)
		assert.False(t, ok)
	})
}

func TestUnavailableMode(t *testing.T) {
	t.Parallel()

	layer := cache.New(nil, zap.NewNop())
	ctx := t.Context()

	assert.False(t, layer.Available())
	assert.False(t, layer.HealthCheck(ctx))

	layer.Set(ctx, cache.NamespaceWatchlist, "u1", []byte("x"), time.Minute)
	_, ok := layer.Get(ctx, cache.NamespaceWatchlist, "u1")
	assert.False(t, ok)

	layer.Delete(ctx, cache.NamespaceWatchlist, "u1")

	count, ok := layer.IncrementWithTTL(ctx, "k", time.Minute)
	assert.False(t, ok)
	assert.Zero(t, count)

	_, ok = cache.GetJSON[cachedThing](ctx, layer, cache.NamespaceWatchlist, "u1")
	assert.False(t, ok)
}
