package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			-- Watchlist entries are unique per user, kind and value
			CREATE UNIQUE INDEX IF NOT EXISTS idx_watchlist_entries_user_kind_value
			ON watchlist_entries (user_id, kind, value);

			-- Candidate lookup
			CREATE INDEX IF NOT EXISTS idx_content_items_created_at
			ON content_items (created_at DESC);

			CREATE INDEX IF NOT EXISTS idx_content_items_tags
			ON content_items USING GIN (tags);

			CREATE INDEX IF NOT EXISTS idx_content_items_category_created_at
			ON content_items (category, created_at DESC);

			CREATE INDEX IF NOT EXISTS idx_content_items_author_created_at
			ON content_items (author, created_at DESC);

			-- Digest cache expiry sweeps
			CREATE INDEX IF NOT EXISTS idx_digest_cache_entries_expires_at
			ON digest_cache_entries (expires_at);

			-- Fallback queue claims
			CREATE INDEX IF NOT EXISTS idx_queued_jobs_claim
			ON queued_jobs (job_type, priority DESC, available_at);

			CREATE INDEX IF NOT EXISTS idx_job_failures_failed_at
			ON job_failures (failed_at DESC);

			CREATE INDEX IF NOT EXISTS idx_job_failures_type_failed_at
			ON job_failures (job_type, failed_at DESC);
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		_, err := db.NewRaw(`
			DROP INDEX IF EXISTS idx_watchlist_entries_user_kind_value;
			DROP INDEX IF EXISTS idx_content_items_created_at;
			DROP INDEX IF EXISTS idx_content_items_tags;
			DROP INDEX IF EXISTS idx_content_items_category_created_at;
			DROP INDEX IF EXISTS idx_content_items_author_created_at;
			DROP INDEX IF EXISTS idx_digest_cache_entries_expires_at;
			DROP INDEX IF EXISTS idx_queued_jobs_claim;
			DROP INDEX IF EXISTS idx_job_failures_failed_at;
			DROP INDEX IF EXISTS idx_job_failures_type_failed_at;
		`).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop indexes: %w", err)
		}

		return nil
	})
}
