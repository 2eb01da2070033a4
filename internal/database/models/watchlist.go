package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cherryfeed/cherry/internal/database/dbretry"
	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/cherryfeed/cherry/internal/database/types/enum"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// WatchlistModel handles database operations for watchlist entries.
type WatchlistModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewWatchlist creates a WatchlistModel.
func NewWatchlist(db *bun.DB, logger *zap.Logger) *WatchlistModel {
	return &WatchlistModel{
		db:     db,
		logger: logger.Named("db_watchlist"),
	}
}

// ListByUser returns every entry of a user in creation order.
func (r *WatchlistModel) ListByUser(ctx context.Context, userID string) ([]*types.WatchlistEntry, error) {
	entries, err := dbretry.Operation(ctx, func(ctx context.Context) ([]*types.WatchlistEntry, error) {
		var entries []*types.WatchlistEntry

		err := r.db.NewSelect().
			Model(&entries).
			Where("user_id = ?", userID).
			Order("id ASC").
			Scan(ctx)

		return entries, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list watchlist for user %s: %w", userID, err)
	}

	return entries, nil
}

// Create inserts an entry. Returns types.ErrDuplicateWatchlistEntry if the
// user already watches the same kind and value.
func (r *WatchlistModel) Create(ctx context.Context, entry *types.WatchlistEntry) error {
	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewInsert().
			Model(entry).
			Returning("id").
			Exec(ctx)

		return err
	})
	if err != nil {
		if dbretry.IsUniqueViolation(err) {
			return types.ErrDuplicateWatchlistEntry
		}

		return fmt.Errorf("failed to create watchlist entry for user %s: %w", entry.UserID, err)
	}

	r.logger.Debug("Created watchlist entry",
		zap.String("userID", entry.UserID),
		zap.String("kind", entry.Kind.String()),
		zap.String("value", entry.Value))

	return nil
}

// UpdateWeight changes the weight of an existing entry and returns it.
func (r *WatchlistModel) UpdateWeight(
	ctx context.Context, userID string, kind enum.WatchKind, value string, weight float64,
) (*types.WatchlistEntry, error) {
	var entry types.WatchlistEntry

	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		return r.db.NewUpdate().
			Model(&entry).
			Set("weight = ?", weight).
			Set("updated_at = ?", time.Now()).
			Where("user_id = ?", userID).
			Where("kind = ?", kind).
			Where("value = ?", value).
			Returning("*").
			Scan(ctx)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrWatchlistEntryNotFound
		}

		return nil, fmt.Errorf("failed to update watchlist entry for user %s: %w", userID, err)
	}

	return &entry, nil
}

// Delete removes an entry.
func (r *WatchlistModel) Delete(ctx context.Context, userID string, kind enum.WatchKind, value string) error {
	affected, err := dbretry.Operation(ctx, func(ctx context.Context) (int64, error) {
		result, err := r.db.NewDelete().
			Model((*types.WatchlistEntry)(nil)).
			Where("user_id = ?", userID).
			Where("kind = ?", kind).
			Where("value = ?", value).
			Exec(ctx)
		if err != nil {
			return 0, err
		}

		return result.RowsAffected()
	})
	if err != nil {
		return fmt.Errorf("failed to delete watchlist entry for user %s: %w", userID, err)
	}

	if affected == 0 {
		return types.ErrWatchlistEntryNotFound
	}

	return nil
}

// WatchersOf returns the users whose watchlist matches any of the tags,
// the category or the author of an item.
func (r *WatchlistModel) WatchersOf(ctx context.Context, item *types.ContentItem) ([]string, error) {
	userIDs, err := dbretry.Operation(ctx, func(ctx context.Context) ([]string, error) {
		var userIDs []string

		query := r.db.NewSelect().
			Model((*types.WatchlistEntry)(nil)).
			ColumnExpr("DISTINCT user_id").
			WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				q = q.WhereOr("kind = ? AND value = ?", enum.WatchKindPerson, item.Author).
					WhereOr("kind = ? AND value = ?", enum.WatchKindCategory, item.Category)
				if len(item.Tags) > 0 {
					q = q.WhereOr("kind = ? AND value IN (?)", enum.WatchKindTag, bun.In(item.Tags))
				}
				return q
			}).
			Where("user_id <> ?", item.Author)

		err := query.Scan(ctx, &userIDs)
		return userIDs, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find watchers of item %s: %w", item.ID, err)
	}

	return userIDs, nil
}
