package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cherryfeed/cherry/internal/database/dbretry"
	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// DigestCacheModel is the system-of-record cache of computed digests.
type DigestCacheModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewDigestCache creates a DigestCacheModel.
func NewDigestCache(db *bun.DB, logger *zap.Logger) *DigestCacheModel {
	return &DigestCacheModel{
		db:     db,
		logger: logger.Named("db_digest_cache"),
	}
}

// GetFresh returns the non-expired digest for a user and slice, or nil.
func (r *DigestCacheModel) GetFresh(
	ctx context.Context, userID, sliceKey string, now time.Time,
) (*types.DigestCacheEntry, error) {
	var entry types.DigestCacheEntry

	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		return r.db.NewSelect().
			Model(&entry).
			Where("user_id = ?", userID).
			Where("slice_key = ?", sliceKey).
			Where("expires_at > ?", now).
			Scan(ctx)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to get digest %s for user %s: %w", sliceKey, userID, err)
	}

	return &entry, nil
}

// Upsert stores a digest, superseding any previous one for the same slice.
func (r *DigestCacheModel) Upsert(ctx context.Context, entry *types.DigestCacheEntry) error {
	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewInsert().
			Model(entry).
			On("CONFLICT (user_id, slice_key) DO UPDATE").
			Set("result = EXCLUDED.result").
			Set("expires_at = EXCLUDED.expires_at").
			Set("created_at = EXCLUDED.created_at").
			Exec(ctx)

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to store digest %s for user %s: %w", entry.SliceKey, entry.UserID, err)
	}

	return nil
}

// DeleteByUser removes every digest of a user.
func (r *DigestCacheModel) DeleteByUser(ctx context.Context, userID string) error {
	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewDelete().
			Model((*types.DigestCacheEntry)(nil)).
			Where("user_id = ?", userID).
			Exec(ctx)

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete digests for user %s: %w", userID, err)
	}

	return nil
}

// CountEntries returns how many stored digests are still fresh and how many have expired.
func (r *DigestCacheModel) CountEntries(ctx context.Context, now time.Time) (fresh, expired int, err error) {
	type counts struct {
		Fresh   int
		Expired int
	}

	result, err := dbretry.Operation(ctx, func(ctx context.Context) (counts, error) {
		var c counts
		err := r.db.NewSelect().
			Model((*types.DigestCacheEntry)(nil)).
			ColumnExpr("count(*) FILTER (WHERE expires_at > ?) AS fresh", now).
			ColumnExpr("count(*) FILTER (WHERE expires_at <= ?) AS expired", now).
			Scan(ctx, &c.Fresh, &c.Expired)
		return c, err
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count digests: %w", err)
	}

	return result.Fresh, result.Expired, nil
}

// PurgeExpired removes expired digests and returns how many were removed.
func (r *DigestCacheModel) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	removed, err := dbretry.Operation(ctx, func(ctx context.Context) (int64, error) {
		result, err := r.db.NewDelete().
			Model((*types.DigestCacheEntry)(nil)).
			Where("expires_at <= ?", now).
			Exec(ctx)
		if err != nil {
			return 0, err
		}

		return result.RowsAffected()
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired digests: %w", err)
	}

	if removed > 0 {
		r.logger.Info("Purged expired digests", zap.Int64("count", removed))
	}

	return removed, nil
}
