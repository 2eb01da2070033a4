package ratelimit_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cherryfeed/cherry/internal/cache"
	"github.com/cherryfeed/cherry/internal/ratelimit"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTest(t *testing.T) (*ratelimit.Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
		DisableRetry: true,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return ratelimit.New(cache.New(client, zap.NewNop())), mr
}

func TestAllowFixedWindow(t *testing.T) {
	t.Parallel()
	limiter, mr := setupTest(t)
	ctx := t.Context()

	for i := 1; i <= 3; i++ {
		decision := limiter.Allow(ctx, "digest:u1", 3, time.Minute)
		assert.True(t, decision.Allowed)
		assert.Equal(t, int64(i), decision.Count)
	}

	decision := limiter.Allow(ctx, "digest:u1", 3, time.Minute)
	assert.False(t, decision.Allowed)
	assert.Equal(t, int64(4), decision.Count)

	// Other keys are independent
	assert.True(t, limiter.Allow(ctx, "digest:u2", 3, time.Minute).Allowed)

	mr.FastForward(time.Minute + time.Second)
	assert.True(t, limiter.Allow(ctx, "digest:u1", 3, time.Minute).Allowed)
}

func TestAllowFailsOpen(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.New(cache.New(nil, zap.NewNop()))
	decision := limiter.Allow(t.Context(), "digest:u1", 1, time.Minute)

	assert.True(t, decision.Allowed)
	assert.True(t, decision.Degraded)
}

func TestAllowNoLimit(t *testing.T) {
	t.Parallel()
	limiter, mr := setupTest(t)

	assert.True(t, limiter.Allow(t.Context(), "k", 0, time.Minute).Allowed)
	assert.False(t, mr.Exists("rate_limit:k"))
}

func TestIPLimiter(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.NewIPLimiter(0.001, 2)

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.2"))
}

func TestIPLimiterCleanup(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.NewIPLimiter(0.001, 1)

	for i := range 100 {
		limiter.Allow(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	assert.Equal(t, 100, limiter.Len())

	assert.Zero(t, limiter.Cleanup(time.Hour))
	assert.Equal(t, 100, limiter.Len())

	assert.Equal(t, 100, limiter.Cleanup(0))
	assert.Zero(t, limiter.Len())

	// A swept address starts again with a full bucket
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.Equal(t, 1, limiter.Len())
}
