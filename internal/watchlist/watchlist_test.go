package watchlist_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cherryfeed/cherry/internal/cache"
	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/cherryfeed/cherry/internal/database/types/enum"
	"github.com/cherryfeed/cherry/internal/queue"
	"github.com/cherryfeed/cherry/internal/validation"
	"github.com/cherryfeed/cherry/internal/watchlist"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	mu      sync.Mutex
	entries []*types.WatchlistEntry
	lists   int
}

func (s *memStore) ListByUser(_ context.Context, userID string) ([]*types.WatchlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	var out []*types.WatchlistEntry
	for _, e := range s.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) Create(_ context.Context, entry *types.WatchlistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.UserID == entry.UserID && e.Kind == entry.Kind && e.Value == entry.Value {
			return types.ErrDuplicateWatchlistEntry
		}
	}
	entry.ID = int64(len(s.entries) + 1)
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memStore) UpdateWeight(
	_ context.Context, userID string, kind enum.WatchKind, value string, weight float64,
) (*types.WatchlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.UserID == userID && e.Kind == kind && e.Value == value {
			e.Weight = weight
			return e, nil
		}
	}
	return nil, types.ErrWatchlistEntryNotFound
}

func (s *memStore) Delete(_ context.Context, userID string, kind enum.WatchKind, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.UserID == userID && e.Kind == kind && e.Value == value {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return nil
		}
	}
	return types.ErrWatchlistEntryNotFound
}

type recordingInvalidator struct {
	mu    sync.Mutex
	users []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
	return nil
}

func setupTest(t *testing.T) (*watchlist.Service, *memStore, *recordingInvalidator, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
		DisableRetry: true,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	store := &memStore{}
	invalidator := &recordingInvalidator{}
	layer := cache.New(client, zap.NewNop())

	return watchlist.NewService(store, layer, invalidator, time.Hour, zap.NewNop()), store, invalidator, mr
}

func weight(w float64) *float64 { return &w }

func TestAddDefaultsWeight(t *testing.T) {
	t.Parallel()

	svc, _, invalidator, _ := setupTest(t)

	entry, err := svc.Add(t.Context(), "alice", watchlist.EntryInput{Kind: enum.WatchKindTag, Value: "  rust  "})
	require.NoError(t, err)
	assert.Equal(t, "rust", entry.Value)
	assert.InDelta(t, types.DefaultWatchWeight, entry.Weight, 1e-9)
	assert.Equal(t, []string{"alice"}, invalidator.users)
}

func TestAddRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	svc, store, _, _ := setupTest(t)

	inputs := []watchlist.EntryInput{
		{Kind: "emoji", Value: "x"},
		{Kind: enum.WatchKindTag, Value: ""},
		{Kind: enum.WatchKindTag, Value: "go", Weight: weight(3)},
		{Kind: enum.WatchKindTag, Value: "go", Weight: weight(-0.5)},
	}

	for _, input := range inputs {
		_, err := svc.Add(t.Context(), "alice", input)
		require.ErrorIs(t, err, validation.ErrInvalid)
	}
	assert.Empty(t, store.entries)
}

func TestAddConflict(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := setupTest(t)

	input := watchlist.EntryInput{Kind: enum.WatchKindPerson, Value: "bob"}
	_, err := svc.Add(t.Context(), "alice", input)
	require.NoError(t, err)

	_, err = svc.Add(t.Context(), "alice", input)
	require.ErrorIs(t, err, types.ErrDuplicateWatchlistEntry)

	// Same value for another user is fine
	_, err = svc.Add(t.Context(), "carol", input)
	require.NoError(t, err)
}

func TestListIsReadThrough(t *testing.T) {
	t.Parallel()

	svc, store, _, mr := setupTest(t)

	_, err := svc.Add(t.Context(), "alice", watchlist.EntryInput{Kind: enum.WatchKindTag, Value: "rust", Weight: weight(1.5)})
	require.NoError(t, err)

	first, err := svc.List(t.Context(), "alice")
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.True(t, mr.Exists("watchlist:alice"))

	second, err := svc.List(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, first[0].Value, second[0].Value)
	assert.Equal(t, 1, store.lists)
}

func TestWritesInvalidateCache(t *testing.T) {
	t.Parallel()

	svc, _, invalidator, mr := setupTest(t)
	ctx := t.Context()

	_, err := svc.Add(ctx, "alice", watchlist.EntryInput{Kind: enum.WatchKindTag, Value: "rust"})
	require.NoError(t, err)
	_, err = svc.List(ctx, "alice")
	require.NoError(t, err)
	require.True(t, mr.Exists("watchlist:alice"))

	updated, err := svc.Update(ctx, "alice", watchlist.EntryInput{Kind: enum.WatchKindTag, Value: "rust", Weight: weight(2)})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, updated.Weight, 1e-9)
	assert.False(t, mr.Exists("watchlist:alice"))

	_, err = svc.List(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, svc.Remove(ctx, "alice", enum.WatchKindTag, "rust"))
	assert.False(t, mr.Exists("watchlist:alice"))

	entries, err := svc.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Len(t, invalidator.users, 3)
}

func TestUpdateAndRemoveMissing(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := setupTest(t)

	_, err := svc.Update(t.Context(), "alice", watchlist.EntryInput{Kind: enum.WatchKindTag, Value: "go", Weight: weight(1)})
	require.ErrorIs(t, err, types.ErrWatchlistEntryNotFound)

	_, err = svc.Update(t.Context(), "alice", watchlist.EntryInput{Kind: enum.WatchKindTag, Value: "go"})
	require.ErrorIs(t, err, validation.ErrInvalid)

	err = svc.Remove(t.Context(), "alice", enum.WatchKindTag, "go")
	require.ErrorIs(t, err, types.ErrWatchlistEntryNotFound)
}

func TestApply(t *testing.T) {
	t.Parallel()

	svc, store, _, _ := setupTest(t)
	ctx := t.Context()

	require.NoError(t, svc.Apply(ctx, &queue.WatchlistPayload{
		UserID: "alice",
		Action: enum.WatchlistActionAdd,
		Entry:  queue.WatchlistEntryPayload{Kind: enum.WatchKindCategory, Value: "science"},
	}))
	require.NoError(t, svc.Apply(ctx, &queue.WatchlistPayload{
		UserID: "alice",
		Action: enum.WatchlistActionUpdate,
		Entry:  queue.WatchlistEntryPayload{Kind: enum.WatchKindCategory, Value: "science", Weight: weight(0.5)},
	}))
	require.Len(t, store.entries, 1)
	assert.InDelta(t, 0.5, store.entries[0].Weight, 1e-9)

	require.NoError(t, svc.Apply(ctx, &queue.WatchlistPayload{
		UserID: "alice",
		Action: enum.WatchlistActionRemove,
		Entry:  queue.WatchlistEntryPayload{Kind: enum.WatchKindCategory, Value: "science"},
	}))
	assert.Empty(t, store.entries)

	err := svc.Apply(ctx, &queue.WatchlistPayload{UserID: "alice", Action: "rename"})
	require.ErrorIs(t, err, watchlist.ErrUnknownAction)
}

func TestWorksWithoutCache(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	svc := watchlist.NewService(store, cache.New(nil, zap.NewNop()), nil, time.Hour, zap.NewNop())

	_, err := svc.Add(t.Context(), "alice", watchlist.EntryInput{Kind: enum.WatchKindKeyword, Value: "tokio"})
	require.NoError(t, err)

	for range 2 {
		entries, err := svc.List(t.Context(), "alice")
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	}
	assert.Equal(t, 2, store.lists)
}
