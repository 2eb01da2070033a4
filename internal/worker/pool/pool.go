// Package pool runs queued jobs on a fixed set of polling workers.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/cherryfeed/cherry/internal/database/types/enum"
	"github.com/cherryfeed/cherry/internal/metrics"
	"github.com/cherryfeed/cherry/internal/queue"
	"github.com/cherryfeed/cherry/internal/setup/config"
	"github.com/cherryfeed/cherry/internal/worker/core"
	"go.uber.org/zap"
)

const (
	outcomeCompleted = "completed"
	outcomeRetrying  = "retrying"
	outcomeFailed    = "failed"
	outcomeRequeued  = "requeued"

	// detachedTimeout bounds queue and audit writes made after the pool context ended.
	detachedTimeout = 5 * time.Second

	// DefaultJobTimeout applies to job types without a configured deadline.
	DefaultJobTimeout = 30 * time.Second
)

var (
	ErrPanic       = errors.New("job handler panicked")
	ErrJobTimedOut = errors.New("job exceeded its deadline")
)

// Handler executes one job.
type Handler func(ctx context.Context, job *queue.Job) error

// JobQueue is the queue the pool consumes.
type JobQueue interface {
	Dequeue(ctx context.Context, jobType enum.JobType) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job, delay time.Duration) error
}

// FailureRecorder stores the audit record of permanently failed jobs.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, failure *types.JobFailure) error
}

// Options tunes the pool.
type Options struct {
	Size         int
	PollInterval time.Duration
	RetryDelay   time.Duration
	Timeouts     map[enum.JobType]time.Duration
}

// OptionsFromConfig converts the worker configuration.
func OptionsFromConfig(cfg *config.WorkerConfig) Options {
	return Options{
		Size:         cfg.Count,
		PollInterval: config.Millis(cfg.PollInterval),
		RetryDelay:   config.Millis(cfg.RetryDelay),
		Timeouts: map[enum.JobType]time.Duration{
			enum.JobTypeDigestGeneration: config.Millis(cfg.Timeouts.DigestGeneration),
			enum.JobTypePingProcessing:   config.Millis(cfg.Timeouts.PingProcessing),
			enum.JobTypeLLMSummarization: config.Millis(cfg.Timeouts.LLMSummarization),
			enum.JobTypeWatchlistUpdate:  config.Millis(cfg.Timeouts.WatchlistUpdate),
		},
	}
}

// Pool is a fixed set of workers. Each worker polls on its own ticker, walks
// the job types in processing order and runs at most one job per tick.
type Pool struct {
	queue    JobQueue
	failures FailureRecorder
	monitor  *core.Monitor
	handlers map[enum.JobType]Handler
	opts     Options
	wake     chan struct{}
	now      func() time.Time
	logger   *zap.Logger

	// OnPermanentFailure is called after a job is recorded as permanently failed.
	OnPermanentFailure func(job *queue.Job, err error)

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a pool. The monitor may be nil.
func New(q JobQueue, failures FailureRecorder, monitor *core.Monitor, opts Options, logger *zap.Logger) *Pool {
	if opts.Size <= 0 {
		opts.Size = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if monitor == nil {
		monitor = core.NewMonitor(nil, logger)
	}

	return &Pool{
		queue:    q,
		failures: failures,
		monitor:  monitor,
		handlers: make(map[enum.JobType]Handler),
		opts:     opts,
		wake:     make(chan struct{}, opts.Size),
		now:      time.Now,
		logger:   logger.Named("worker_pool"),
	}
}

// Register sets the handler of a job type. Types without a handler are not polled.
func (p *Pool) Register(jobType enum.JobType, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.handlers[jobType] = handler
}

// Start launches the workers. It returns immediately.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true

	ctx, p.cancel = context.WithCancel(ctx)

	for i := range p.opts.Size {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.loop(ctx, i)
		}()
	}

	p.logger.Info("Worker pool started",
		zap.Int("workers", p.opts.Size),
		zap.Duration("pollInterval", p.opts.PollInterval))
}

// Stop cancels the workers and waits for running jobs to return.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()

	p.logger.Info("Worker pool stopped")
}

// Notify wakes an idle worker before its next tick.
func (p *Pool) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) loop(ctx context.Context, slot int) {
	logger := p.logger.With(zap.Int("slot", slot))

	reporter := core.NewStatusReporter(p.monitor, "jobs", logger)
	reporter.Start(ctx)
	defer reporter.Stop()

	logger.Info("Worker started", zap.String("workerID", reporter.GetWorkerID()))

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		reporter.UpdateTask("polling")

		ran, failed := p.tick(ctx, reporter)
		if ran {
			reporter.RecordOutcome(failed)
		}
		reporter.UpdateTask("idle")

		select {
		case <-ctx.Done():
			logger.Info("Context cancelled, stopping worker")
			return
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

// RunOnce performs a single tick and reports whether a job was run.
func (p *Pool) RunOnce(ctx context.Context) bool {
	ran, _ := p.tick(ctx, nil)
	return ran
}

// tick runs the first job found in processing order.
func (p *Pool) tick(ctx context.Context, reporter *core.StatusReporter) (ran, failed bool) {
	for _, jobType := range enum.JobTypeProcessingOrder() {
		if ctx.Err() != nil {
			return false, false
		}

		handler := p.handler(jobType)
		if handler == nil {
			continue
		}

		job, err := p.queue.Dequeue(ctx, jobType)
		if err != nil {
			p.logger.Warn("Failed to dequeue job", zap.String("jobType", jobType.String()), zap.Error(err))
			if reporter != nil {
				reporter.SetHealthy(false)
			}
			continue
		}

		if reporter != nil {
			reporter.SetHealthy(true)
		}

		if job == nil {
			continue
		}

		if reporter != nil {
			reporter.UpdateTask(jobType.String())
		}

		return true, !p.execute(ctx, job, handler)
	}

	return false, false
}

// execute runs a job and applies the retry policy. It reports whether the job completed.
func (p *Pool) execute(ctx context.Context, job *queue.Job, handler Handler) bool {
	start := time.Now()
	logger := p.logger.With(
		zap.String("jobID", job.ID),
		zap.String("jobType", job.Type.String()),
		zap.Int("attempt", job.Attempts+1),
		zap.Int("maxAttempts", job.MaxAttempts))

	err := p.run(ctx, job, handler)
	if err == nil {
		metrics.RecordJob(job.Type.String(), outcomeCompleted, time.Since(start))
		logger.Debug("Job completed", zap.Duration("duration", time.Since(start)))
		return true
	}

	// Interrupted by shutdown: hand the job back without spending an attempt
	if ctx.Err() != nil && !IsPermanent(err) {
		if p.requeue(ctx, job, logger) {
			metrics.RecordJob(job.Type.String(), outcomeRequeued, time.Since(start))
			return false
		}
	}

	job.Attempts++
	job.LastError = err.Error()

	if !IsPermanent(err) && !job.Exhausted() {
		retryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
		retryErr := p.queue.Retry(retryCtx, job, p.opts.RetryDelay)
		cancel()
		if retryErr == nil {
			metrics.RecordJob(job.Type.String(), outcomeRetrying, time.Since(start))
			logger.Warn("Job failed, scheduled retry",
				zap.Duration("delay", p.opts.RetryDelay),
				zap.Error(err))
			return false
		}

		logger.Error("Failed to schedule retry", zap.Error(retryErr))
		job.LastError = fmt.Sprintf("%s; retry not scheduled: %s", job.LastError, retryErr)
	}

	metrics.RecordJob(job.Type.String(), outcomeFailed, time.Since(start))
	p.failPermanently(ctx, job, err, logger)

	return false
}

// requeue puts an interrupted job back for immediate pickup by the next pool.
func (p *Pool) requeue(ctx context.Context, job *queue.Job, logger *zap.Logger) bool {
	requeueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
	defer cancel()

	if err := p.queue.Retry(requeueCtx, job, 0); err != nil {
		logger.Error("Failed to requeue interrupted job", zap.Error(err))
		return false
	}

	logger.Info("Job interrupted by shutdown, requeued")
	return true
}

func (p *Pool) failPermanently(ctx context.Context, job *queue.Job, err error, logger *zap.Logger) {
	// Record even when the pool is shutting down
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
	defer cancel()

	if p.failures != nil {
		if recordErr := p.failures.RecordFailure(recordCtx, job.ToFailure(p.now())); recordErr != nil {
			logger.Error("Failed to record permanent job failure", zap.Error(recordErr))
		}
	}

	logger.Error("Job permanently failed",
		zap.Int("attempts", job.Attempts),
		zap.Float64("priority", job.Priority),
		zap.Time("createdAt", job.CreatedAt),
		zap.ByteString("payload", job.Payload),
		zap.Error(err))

	if p.OnPermanentFailure != nil {
		p.OnPermanentFailure(job, err)
	}
}

// run executes the handler under the job type deadline, turning a panic into an error.
func (p *Pool) run(ctx context.Context, job *queue.Job, handler Handler) (err error) {
	jobCtx, cancel := context.WithTimeout(ctx, p.timeout(job.Type))
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	err = handler(jobCtx, job)
	if err == nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		err = ErrJobTimedOut
	}

	return err
}

func (p *Pool) timeout(jobType enum.JobType) time.Duration {
	if d, ok := p.opts.Timeouts[jobType]; ok && d > 0 {
		return d
	}
	return DefaultJobTimeout
}

func (p *Pool) handler(jobType enum.JobType) Handler {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.handlers[jobType]
}
