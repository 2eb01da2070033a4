// Package jobs holds the handlers the worker pool dispatches queued jobs to.
package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/cherryfeed/cherry/internal/database/types/enum"
	"github.com/cherryfeed/cherry/internal/digest"
	"github.com/cherryfeed/cherry/internal/queue"
	"github.com/cherryfeed/cherry/internal/validation"
	"github.com/cherryfeed/cherry/internal/watchlist"
	"github.com/cherryfeed/cherry/internal/worker/pool"
	"go.uber.org/zap"
)

// DigestGenerator computes digests.
type DigestGenerator interface {
	Generate(ctx context.Context, userID string, req digest.Request) (*types.DigestResult, error)
}

// DigestInvalidator drops the cached digests of a user.
type DigestInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// ContentSummarizer produces the TL;DR of one item.
type ContentSummarizer interface {
	Summarize(ctx context.Context, content string, tags []string, watchlist []*types.WatchlistEntry) string
}

// SummaryMemo stores precomputed TL;DRs.
type SummaryMemo interface {
	Put(ctx context.Context, itemID string, watchlist []*types.WatchlistEntry, tldr string)
}

// WatchlistApplier executes watchlist mutations.
type WatchlistApplier interface {
	Apply(ctx context.Context, payload *queue.WatchlistPayload) error
}

// Handlers bundles the collaborators of every job type. A nil collaborator
// leaves its job type unregistered.
type Handlers struct {
	Digests     DigestGenerator
	Invalidator DigestInvalidator
	Summarizer  ContentSummarizer
	Memo        SummaryMemo
	Watchlists  WatchlistApplier
	Logger      *zap.Logger
}

// Register wires every available handler into the pool.
func (h *Handlers) Register(p *pool.Pool) {
	if h.Digests != nil {
		p.Register(enum.JobTypeDigestGeneration, h.GenerateDigest)
	}
	if h.Invalidator != nil {
		p.Register(enum.JobTypePingProcessing, h.ProcessPing)
	}
	if h.Summarizer != nil {
		p.Register(enum.JobTypeLLMSummarization, h.Summarize)
	}
	if h.Watchlists != nil {
		p.Register(enum.JobTypeWatchlistUpdate, h.UpdateWatchlist)
	}
}

// GenerateDigest computes and stores the digest described by the job.
func (h *Handlers) GenerateDigest(ctx context.Context, job *queue.Job) error {
	var payload queue.DigestPayload
	if err := job.Decode(&payload); err != nil {
		return pool.Permanent(err)
	}

	result, err := h.Digests.Generate(ctx, payload.UserID, digest.Request{
		Start:    payload.WindowStart,
		End:      payload.WindowEnd,
		MaxItems: payload.MaxItems,
	})
	if err != nil {
		if errors.Is(err, digest.ErrInvalidRequest) || errors.Is(err, digest.ErrUnauthorized) {
			return pool.Permanent(err)
		}
		return fmt.Errorf("failed to generate digest: %w", err)
	}

	h.logger().Debug("Generated digest",
		zap.String("userID", payload.UserID),
		zap.Int("highlights", len(result.Highlights)),
		zap.Int("totalItems", result.TotalItems))

	return nil
}

// ProcessPing makes the watcher's digests stale so the new item shows up.
func (h *Handlers) ProcessPing(ctx context.Context, job *queue.Job) error {
	var payload queue.PingPayload
	if err := job.Decode(&payload); err != nil {
		return pool.Permanent(err)
	}

	if payload.UserID == "" {
		return pool.Permanent(fmt.Errorf("%w: ping without user", digest.ErrUnauthorized))
	}

	if err := h.Invalidator.Invalidate(ctx, payload.UserID); err != nil {
		return fmt.Errorf("failed to invalidate digests: %w", err)
	}

	h.logger().Debug("Processed ping",
		zap.String("userID", payload.UserID),
		zap.String("itemID", payload.ItemID),
		zap.String("author", payload.Author))

	return nil
}

// Summarize precomputes the TL;DR of an item for a watchlist.
func (h *Handlers) Summarize(ctx context.Context, job *queue.Job) error {
	var payload queue.SummarizePayload
	if err := job.Decode(&payload); err != nil {
		return pool.Permanent(err)
	}

	tldr := h.Summarizer.Summarize(ctx, payload.Content, payload.Tags, payload.Watchlist)
	if err := ctx.Err(); err != nil {
		return err
	}

	if h.Memo != nil {
		h.Memo.Put(ctx, payload.ItemID, payload.Watchlist, tldr)
	}

	return nil
}

// UpdateWatchlist applies a deferred watchlist mutation.
func (h *Handlers) UpdateWatchlist(ctx context.Context, job *queue.Job) error {
	var payload queue.WatchlistPayload
	if err := job.Decode(&payload); err != nil {
		return pool.Permanent(err)
	}

	err := h.Watchlists.Apply(ctx, &payload)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, validation.ErrInvalid),
		errors.Is(err, watchlist.ErrUnknownAction),
		errors.Is(err, types.ErrDuplicateWatchlistEntry),
		errors.Is(err, types.ErrWatchlistEntryNotFound):
		return pool.Permanent(err)
	default:
		return fmt.Errorf("failed to apply watchlist update: %w", err)
	}
}

func (h *Handlers) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger.Named("jobs")
}
