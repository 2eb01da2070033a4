package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cherryfeed/cherry/internal/database/dbretry"
	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/cherryfeed/cherry/internal/database/types/enum"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"go.uber.org/zap"
)

// ContentModel handles read access to content items.
type ContentModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewContent creates a ContentModel.
func NewContent(db *bun.DB, logger *zap.Logger) *ContentModel {
	return &ContentModel{
		db:     db,
		logger: logger.Named("db_content"),
	}
}

// FindCandidates returns the items created in the query window that overlap
// the watchlist filter, newest first. Private items of other users are never
// returned. An empty filter matches every visible item.
func (r *ContentModel) FindCandidates(ctx context.Context, q types.CandidateQuery) ([]*types.ContentItem, error) {
	items, err := dbretry.Operation(ctx, func(ctx context.Context) ([]*types.ContentItem, error) {
		var items []*types.ContentItem

		err := r.candidateSelect(&items, q).Scan(ctx)
		return items, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find candidates for user %s: %w", q.ViewerID, err)
	}

	r.logger.Debug("Found candidates",
		zap.String("viewerID", q.ViewerID),
		zap.Time("start", q.Start),
		zap.Time("end", q.End),
		zap.Bool("continued", q.After != nil),
		zap.Int("count", len(items)))

	return items, nil
}

// candidateSelect builds the candidate lookup for FindCandidates.
func (r *ContentModel) candidateSelect(items *[]*types.ContentItem, q types.CandidateQuery) *bun.SelectQuery {
	query := r.db.NewSelect().
		Model(items).
		Where("created_at >= ?", q.Start).
		Where("(visibility <> ? OR author = ?)", enum.VisibilityPrivate, q.ViewerID)

	if q.After != nil {
		query = query.Where("(created_at < ? OR (created_at = ? AND id > ?))",
			q.After.CreatedAt, q.After.CreatedAt, q.After.ID)
	} else {
		query = query.Where("created_at < ?", q.End)
	}

	if !q.Filter.IsEmpty() {
		query = query.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			// Filter values arrive lowercased
			if len(q.Filter.Tags) > 0 {
				sq = sq.WhereOr("EXISTS (SELECT 1 FROM unnest(tags) AS tag WHERE lower(tag) = ANY(?))",
					pgdialect.Array(q.Filter.Tags))
			}
			if len(q.Filter.Categories) > 0 {
				sq = sq.WhereOr("lower(category) IN (?)", bun.In(q.Filter.Categories))
			}
			if len(q.Filter.Authors) > 0 {
				sq = sq.WhereOr("lower(author) IN (?)", bun.In(q.Filter.Authors))
			}
			return sq
		})
	}

	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	return query.OrderExpr("created_at DESC, id ASC")
}

// Insert stores content items, replacing existing ones with the same ID.
func (r *ContentModel) Insert(ctx context.Context, items ...*types.ContentItem) error {
	if len(items) == 0 {
		return nil
	}

	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewInsert().
			Model(&items).
			On("CONFLICT (id) DO UPDATE").
			Set("author = EXCLUDED.author").
			Set("tags = EXCLUDED.tags").
			Set("category = EXCLUDED.category").
			Set("visibility = EXCLUDED.visibility").
			Set("title = EXCLUDED.title").
			Set("content = EXCLUDED.content").
			Exec(ctx)

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert %d content items: %w", len(items), err)
	}

	return nil
}

// InsertNew stores the items whose ID is not known yet and returns those IDs.
func (r *ContentModel) InsertNew(ctx context.Context, items ...*types.ContentItem) ([]string, error) {
	if len(items) == 0 {
		return nil, nil
	}

	ids, err := dbretry.Operation(ctx, func(ctx context.Context) ([]string, error) {
		var ids []string

		err := r.db.NewInsert().
			Model(&items).
			On("CONFLICT (id) DO NOTHING").
			Returning("id").
			Scan(ctx, &ids)

		return ids, err
	})
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to insert %d content items: %w", len(items), err)
	}

	return ids, nil
}
