package migrations

import (
	"context"
	"fmt"

	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		models := []any{
			(*types.WatchlistEntry)(nil),
			(*types.Persona)(nil),
			(*types.ContentItem)(nil),
			(*types.DigestCacheEntry)(nil),
			(*types.QueuedJob)(nil),
			(*types.JobFailure)(nil),
		}

		for _, model := range models {
			_, err := db.NewCreateTable().
				Model(model).
				IfNotExists().
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to create table %T: %w", model, err)
			}
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		models := []any{
			(*types.JobFailure)(nil),
			(*types.QueuedJob)(nil),
			(*types.DigestCacheEntry)(nil),
			(*types.ContentItem)(nil),
			(*types.Persona)(nil),
			(*types.WatchlistEntry)(nil),
		}

		for _, model := range models {
			_, err := db.NewDropTable().
				Model(model).
				IfExists().
				Cascade().
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to drop table %T: %w", model, err)
			}
		}

		return nil
	})
}
