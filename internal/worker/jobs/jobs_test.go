package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/cherryfeed/cherry/internal/database/types/enum"
	"github.com/cherryfeed/cherry/internal/digest"
	"github.com/cherryfeed/cherry/internal/queue"
	"github.com/cherryfeed/cherry/internal/validation"
	"github.com/cherryfeed/cherry/internal/worker/jobs"
	"github.com/cherryfeed/cherry/internal/worker/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newJob(t *testing.T, payload queue.Payload) *queue.Job {
	t.Helper()

	data, err := sonic.Marshal(payload)
	require.NoError(t, err)

	return &queue.Job{ID: "job-1", Type: payload.JobType(), Payload: data, MaxAttempts: 3}
}

type fakeGenerator struct {
	userID string
	req    digest.Request
	err    error
}

func (f *fakeGenerator) Generate(_ context.Context, userID string, req digest.Request) (*types.DigestResult, error) {
	f.userID, f.req = userID, req
	if f.err != nil {
		return nil, f.err
	}
	return &types.DigestResult{}, nil
}

type fakeInvalidator struct {
	users []string
	err   error
}

func (f *fakeInvalidator) Invalidate(_ context.Context, userID string) error {
	f.users = append(f.users, userID)
	return f.err
}

type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(_ context.Context, content string, _ []string, _ []*types.WatchlistEntry) string {
	return "TL;DR: " + content
}

type fakeMemo struct {
	itemID string
	tldr   string
}

func (f *fakeMemo) Put(_ context.Context, itemID string, _ []*types.WatchlistEntry, tldr string) {
	f.itemID, f.tldr = itemID, tldr
}

type fakeApplier struct {
	payload *queue.WatchlistPayload
	err     error
}

func (f *fakeApplier) Apply(_ context.Context, payload *queue.WatchlistPayload) error {
	f.payload = payload
	return f.err
}

func TestGenerateDigest(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 10, 13, 12, 0, 0, 0, time.UTC)
	gen := &fakeGenerator{}
	h := &jobs.Handlers{Digests: gen, Logger: zap.NewNop()}

	err := h.GenerateDigest(t.Context(), newJob(t, queue.DigestPayload{UserID: "u1", WindowStart: &start, MaxItems: 4}))
	require.NoError(t, err)

	assert.Equal(t, "u1", gen.userID)
	require.NotNil(t, gen.req.Start)
	assert.True(t, start.Equal(*gen.req.Start))
	assert.Nil(t, gen.req.End)
	assert.Equal(t, 4, gen.req.MaxItems)
	assert.False(t, gen.req.Refresh)
}

func TestGenerateDigestErrors(t *testing.T) {
	t.Parallel()

	invalid := &jobs.Handlers{Digests: &fakeGenerator{err: digest.ErrInvalidRequest}}
	err := invalid.GenerateDigest(t.Context(), newJob(t, queue.DigestPayload{UserID: "u1"}))
	assert.True(t, pool.IsPermanent(err))

	transient := &jobs.Handlers{Digests: &fakeGenerator{err: errors.New("db down")}}
	err = transient.GenerateDigest(t.Context(), newJob(t, queue.DigestPayload{UserID: "u1"}))
	require.Error(t, err)
	assert.False(t, pool.IsPermanent(err))

	mismatched := newJob(t, queue.PingPayload{UserID: "u1"})
	err = transient.GenerateDigest(t.Context(), mismatched)
	require.ErrorIs(t, err, queue.ErrPayloadMismatch)
	assert.True(t, pool.IsPermanent(err))
}

func TestProcessPing(t *testing.T) {
	t.Parallel()

	inv := &fakeInvalidator{}
	h := &jobs.Handlers{Invalidator: inv}

	require.NoError(t, h.ProcessPing(t.Context(), newJob(t, queue.PingPayload{UserID: "u2", ItemID: "i1", Author: "ann"})))
	assert.Equal(t, []string{"u2"}, inv.users)

	err := h.ProcessPing(t.Context(), newJob(t, queue.PingPayload{ItemID: "i1"}))
	assert.True(t, pool.IsPermanent(err))

	inv.err = errors.New("redis down")
	err = h.ProcessPing(t.Context(), newJob(t, queue.PingPayload{UserID: "u2"}))
	require.Error(t, err)
	assert.False(t, pool.IsPermanent(err))
}

func TestSummarizeStoresMemo(t *testing.T) {
	t.Parallel()

	memo := &fakeMemo{}
	h := &jobs.Handlers{Summarizer: fakeSummarizer{}, Memo: memo}

	err := h.Summarize(t.Context(), newJob(t, queue.SummarizePayload{
		ItemID:    "i9",
		Content:   "Rust ships.",
		Watchlist: []*types.WatchlistEntry{{Kind: enum.WatchKindTag, Value: "rust", Weight: 1}},
	}))
	require.NoError(t, err)

	assert.Equal(t, "i9", memo.itemID)
	assert.Equal(t, "TL;DR: Rust ships.", memo.tldr)
}

func TestUpdateWatchlist(t *testing.T) {
	t.Parallel()

	weight := 1.5
	payload := queue.WatchlistPayload{
		UserID: "u1",
		Action: enum.WatchlistActionAdd,
		Entry:  queue.WatchlistEntryPayload{Kind: enum.WatchKindTag, Value: "rust", Weight: &weight},
	}

	applier := &fakeApplier{}
	h := &jobs.Handlers{Watchlists: applier}
	require.NoError(t, h.UpdateWatchlist(t.Context(), newJob(t, payload)))
	require.NotNil(t, applier.payload)
	assert.Equal(t, "rust", applier.payload.Entry.Value)
	assert.InDelta(t, 1.5, *applier.payload.Entry.Weight, 1e-9)

	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{name: "invalid", err: validation.NewError("value", "required", "value is required"), permanent: true},
		{name: "duplicate", err: types.ErrDuplicateWatchlistEntry, permanent: true},
		{name: "missing", err: types.ErrWatchlistEntryNotFound, permanent: true},
		{name: "transient", err: errors.New("connection reset by peer"), permanent: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := &jobs.Handlers{Watchlists: &fakeApplier{err: tt.err}}
			err := h.UpdateWatchlist(t.Context(), newJob(t, payload))
			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.permanent, pool.IsPermanent(err))
		})
	}
}

func TestRegisterSkipsMissingCollaborators(t *testing.T) {
	t.Parallel()

	q := &emptyQueue{}
	p := pool.New(q, nil, nil, pool.Options{Size: 1}, zap.NewNop())
	h := &jobs.Handlers{Invalidator: &fakeInvalidator{}}
	h.Register(p)
	p.RunOnce(t.Context())

	assert.Equal(t, []enum.JobType{enum.JobTypePingProcessing}, q.polled)
}

type emptyQueue struct {
	polled []enum.JobType
}

func (q *emptyQueue) Dequeue(_ context.Context, jobType enum.JobType) (*queue.Job, error) {
	q.polled = append(q.polled, jobType)
	return nil, nil
}

func (q *emptyQueue) Retry(context.Context, *queue.Job, time.Duration) error { return nil }
