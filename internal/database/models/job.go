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

// JobModel is the durable job queue used when Redis is unavailable, and the
// audit log of permanently failed jobs.
type JobModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewJob creates a JobModel.
func NewJob(db *bun.DB, logger *zap.Logger) *JobModel {
	return &JobModel{
		db:     db,
		logger: logger.Named("db_job"),
	}
}

// SaveJob stores a pending job. Saving the same job again replaces it.
func (r *JobModel) SaveJob(ctx context.Context, job *types.QueuedJob) error {
	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewInsert().
			Model(job).
			On("CONFLICT (id) DO UPDATE").
			Set("priority = EXCLUDED.priority").
			Set("available_at = EXCLUDED.available_at").
			Set("attempts = EXCLUDED.attempts").
			Set("last_error = EXCLUDED.last_error").
			Exec(ctx)

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}

	return nil
}

// ClaimJob removes and returns the highest priority job of a type that is
// available at now. Concurrent claimers skip rows locked by each other.
func (r *JobModel) ClaimJob(ctx context.Context, jobType enum.JobType, now time.Time) (*types.QueuedJob, error) {
	var job types.QueuedJob

	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		return r.db.NewRaw(`
			DELETE FROM queued_jobs
			WHERE id = (
				SELECT id FROM queued_jobs
				WHERE job_type = ? AND available_at <= ?
				ORDER BY priority DESC, created_at ASC
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING *
		`, jobType, now).Scan(ctx, &job)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to claim %s job: %w", jobType, err)
	}

	return &job, nil
}

// CountJobs returns the number of stored jobs of a type.
func (r *JobModel) CountJobs(ctx context.Context, jobType enum.JobType) (int, error) {
	count, err := dbretry.Operation(ctx, func(ctx context.Context) (int, error) {
		return r.db.NewSelect().
			Model((*types.QueuedJob)(nil)).
			Where("job_type = ?", jobType).
			Count(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count %s jobs: %w", jobType, err)
	}

	return count, nil
}

// RecordFailure stores the audit record of a permanently failed job.
func (r *JobModel) RecordFailure(ctx context.Context, failure *types.JobFailure) error {
	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewInsert().
			Model(failure).
			Returning("id").
			Exec(ctx)

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record failure of job %s: %w", failure.JobID, err)
	}

	return nil
}

// ListFailures returns the most recent failures, optionally of one type.
func (r *JobModel) ListFailures(ctx context.Context, jobType enum.JobType, limit int) ([]*types.JobFailure, error) {
	failures, err := dbretry.Operation(ctx, func(ctx context.Context) ([]*types.JobFailure, error) {
		var failures []*types.JobFailure

		query := r.db.NewSelect().
			Model(&failures).
			Order("failed_at DESC").
			Limit(limit)
		if jobType != "" {
			query = query.Where("job_type = ?", jobType)
		}

		err := query.Scan(ctx)
		return failures, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list job failures: %w", err)
	}

	return failures, nil
}
