package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			-- Candidate lookup compares lowercased categories and authors
			CREATE INDEX IF NOT EXISTS idx_content_items_lower_category_created_at
			ON content_items (lower(category), created_at DESC);

			CREATE INDEX IF NOT EXISTS idx_content_items_lower_author_created_at
			ON content_items (lower(author), created_at DESC);
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create case-insensitive indexes: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			DROP INDEX IF EXISTS idx_content_items_lower_category_created_at;
			DROP INDEX IF EXISTS idx_content_items_lower_author_created_at;
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop case-insensitive indexes: %w", err)
		}

		return nil
	})
}
