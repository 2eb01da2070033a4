package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cherryfeed/cherry/internal/cache"
	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/cherryfeed/cherry/internal/database/types/enum"
	"github.com/cherryfeed/cherry/internal/metrics"
	"github.com/google/uuid"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

const (
	// DefaultMaxAttempts is the attempt ceiling for new jobs.
	DefaultMaxAttempts = 3
	// PromoteBatchSize bounds how many due retries are moved per dequeue.
	PromoteBatchSize = 50
)

// FallbackStore is the durable queue used when Redis cannot take or serve jobs.
type FallbackStore interface {
	SaveJob(ctx context.Context, job *types.QueuedJob) error
	// ClaimJob removes and returns the highest priority job available at now, or nil.
	ClaimJob(ctx context.Context, jobType enum.JobType, now time.Time) (*types.QueuedJob, error)
	CountJobs(ctx context.Context, jobType enum.JobType) (int, error)
}

// Manager handles the per job type priority queues.
//
// Each type has a sorted set keyed `queue:{type}` scored by priority, and a
// delayed set `queue:{type}:delayed` scored by the time a retry becomes ready.
type Manager struct {
	client      rueidis.Client
	fallback    FallbackStore
	logger      *zap.Logger
	maxAttempts int
	now         func() time.Time
}

// NewManager creates a queue manager. Either backend may be nil; with neither
// available Enqueue returns ErrEnqueueFailed.
func NewManager(client rueidis.Client, fallback FallbackStore, logger *zap.Logger) *Manager {
	return &Manager{
		client:      client,
		fallback:    fallback,
		logger:      logger.Named("queue"),
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}
}

// SetMaxAttempts sets the attempt ceiling given to newly enqueued jobs.
func (m *Manager) SetMaxAttempts(n int) {
	if n > 0 {
		m.maxAttempts = n
	}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Enqueue adds a job for the payload and returns its ID.
func (m *Manager) Enqueue(ctx context.Context, payload Payload, priority float64) (string, error) {
	jobType := payload.JobType()
	if !jobType.IsAJobType() {
		return "", fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}

	data, err := sonic.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s payload: %w", jobType, err)
	}

	job := &Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Payload:     data,
		Priority:    priority,
		CreatedAt:   m.now(),
		MaxAttempts: m.maxAttempts,
	}

	if err := m.push(ctx, job, mainKey(jobType), priority, m.now()); err != nil {
		return "", err
	}

	m.logger.Debug("Enqueued job",
		zap.String("jobID", job.ID),
		zap.String("jobType", jobType.String()),
		zap.Float64("priority", priority))

	return job.ID, nil
}

// Dequeue pops the highest priority ready job of the given type.
// Returns nil without error when no job is ready.
func (m *Manager) Dequeue(ctx context.Context, jobType enum.JobType) (*Job, error) {
	if m.client != nil {
		job, err := m.popRedis(ctx, jobType)
		if err == nil && job != nil {
			return job, nil
		}
		if err != nil {
			m.logger.Warn("Redis dequeue failed, using fallback store",
				zap.String("jobType", jobType.String()),
				zap.Error(err))
		}
	}

	if m.fallback == nil {
		return nil, nil
	}

	record, err := m.fallback.ClaimJob(ctx, jobType, m.now())
	if err != nil {
		return nil, fmt.Errorf("failed to claim %s job: %w", jobType, err)
	}
	if record == nil {
		return nil, nil
	}

	return jobFromRecord(record), nil
}

// Retry schedules a failed job to become ready again after delay.
func (m *Manager) Retry(ctx context.Context, job *Job, delay time.Duration) error {
	readyAt := m.now().Add(delay)
	return m.push(ctx, job, delayedKey(job.Type), float64(readyAt.UnixMilli()), readyAt)
}

// Length returns the number of pending jobs of a type across every backend.
func (m *Manager) Length(ctx context.Context, jobType enum.JobType) (int, error) {
	total := 0

	if m.client != nil {
		for _, key := range []string{mainKey(jobType), delayedKey(jobType)} {
			n, err := m.client.Do(ctx, m.client.B().Zcard().Key(key).Build()).AsInt64()
			if err != nil {
				return 0, fmt.Errorf("failed to get queue length: %w", err)
			}
			total += int(n)
		}
	}

	if m.fallback != nil {
		n, err := m.fallback.CountJobs(ctx, jobType)
		if err != nil {
			return 0, fmt.Errorf("failed to count fallback jobs: %w", err)
		}
		total += n
	}

	return total, nil
}

// push writes the job to a Redis set, falling back to the durable store.
func (m *Manager) push(ctx context.Context, job *Job, key string, score float64, availableAt time.Time) error {
	var redisErr error

	if m.client != nil {
		data, err := sonic.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		redisErr = m.client.Do(ctx,
			m.client.B().Zadd().Key(key).ScoreMember().ScoreMember(score, string(data)).Build(),
		).Error()
		if redisErr == nil {
			metrics.JobsEnqueued.WithLabelValues(job.Type.String(), "redis").Inc()
			return nil
		}

		m.logger.Warn("Redis enqueue failed, writing job to fallback store",
			zap.String("jobID", job.ID),
			zap.String("jobType", job.Type.String()),
			zap.Error(redisErr))
	}

	if m.fallback == nil {
		if redisErr != nil {
			return fmt.Errorf("%w: %w", ErrEnqueueFailed, redisErr)
		}
		return fmt.Errorf("%w: no backend available", ErrEnqueueFailed)
	}

	if err := m.fallback.SaveJob(ctx, job.toRecord(availableAt)); err != nil {
		return fmt.Errorf("%w: %w", ErrEnqueueFailed, errors.Join(redisErr, err))
	}

	metrics.JobsEnqueued.WithLabelValues(job.Type.String(), "database").Inc()
	return nil
}

// popRedis promotes due retries then pops the top member of the main set.
func (m *Manager) popRedis(ctx context.Context, jobType enum.JobType) (*Job, error) {
	if err := m.promoteDue(ctx, jobType); err != nil {
		return nil, err
	}

	scores, err := m.client.Do(ctx,
		m.client.B().Zpopmax().Key(mainKey(jobType)).Count(1).Build(),
	).AsZScores()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil
		}
		return nil, err
	}

	if len(scores) == 0 {
		return nil, nil
	}

	var job Job
	if err := sonic.Unmarshal([]byte(scores[0].Member), &job); err != nil {
		// A member that cannot be decoded can never run
		m.logger.Error("Dropping undecodable job",
			zap.String("jobType", jobType.String()),
			zap.String("member", scores[0].Member),
			zap.Error(err))
		return nil, nil
	}

	return &job, nil
}

// promoteDue moves retries whose ready time has passed into the main set.
// Only the caller whose ZREM succeeds re-adds a member, so a retry is never duplicated.
func (m *Manager) promoteDue(ctx context.Context, jobType enum.JobType) error {
	key := delayedKey(jobType)
	now := strconv.FormatInt(m.now().UnixMilli(), 10)

	members, err := m.client.Do(ctx,
		m.client.B().Zrangebyscore().Key(key).Min("-inf").Max(now).Limit(0, PromoteBatchSize).Build(),
	).AsStrSlice()
	if err != nil {
		return fmt.Errorf("failed to read delayed jobs: %w", err)
	}

	for _, member := range members {
		removed, err := m.client.Do(ctx, m.client.B().Zrem().Key(key).Member(member).Build()).AsInt64()
		if err != nil {
			return fmt.Errorf("failed to remove delayed job: %w", err)
		}
		if removed == 0 {
			continue
		}

		var job Job
		if err := sonic.Unmarshal([]byte(member), &job); err != nil {
			m.logger.Error("Dropping undecodable delayed job",
				zap.String("jobType", jobType.String()),
				zap.Error(err))
			continue
		}

		err = m.client.Do(ctx,
			m.client.B().Zadd().Key(mainKey(jobType)).ScoreMember().ScoreMember(job.Priority, member).Build(),
		).Error()
		if err != nil {
			if m.fallback != nil {
				if saveErr := m.fallback.SaveJob(ctx, job.toRecord(m.now())); saveErr == nil {
					continue
				}
			}
			return fmt.Errorf("failed to promote delayed job %s: %w", job.ID, err)
		}
	}

	return nil
}

func mainKey(jobType enum.JobType) string {
	return cache.Key(cache.NamespaceQueue, jobType.String())
}

func delayedKey(jobType enum.JobType) string {
	return mainKey(jobType) + ":delayed"
}
