package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StatusReporter sends periodic heartbeats for one worker.
type StatusReporter struct {
	monitor  *Monitor
	status   Status
	interval time.Duration
	stopChan chan struct{}
	done     chan struct{}
	started  bool
	stopped  bool
	mu       sync.Mutex
	logger   *zap.Logger
}

// NewStatusReporter creates a reporter with a fresh worker ID.
func NewStatusReporter(monitor *Monitor, workerType string, logger *zap.Logger) *StatusReporter {
	return &StatusReporter{
		monitor: monitor,
		status: Status{
			WorkerID:   uuid.New().String(),
			WorkerType: workerType,
			IsHealthy:  true,
		},
		interval: HeartbeatInterval,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Named("status_reporter"),
	}
}

// Start begins periodic status reporting.
func (r *StatusReporter) Start(ctx context.Context) {
	r.mu.Lock()
	if r.stopped || r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.report(ctx)

		for {
			select {
			case <-ticker.C:
				r.report(ctx)
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			}
		}
	}()
}

// Stop ends status reporting and removes the worker's status.
func (r *StatusReporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	close(r.stopChan)
	r.mu.Unlock()

	if !started {
		return
	}
	<-r.done

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := r.monitor.ClearStatus(ctx, r.status.WorkerType, r.status.WorkerID); err != nil {
		r.logger.Warn("Failed to clear status", zap.Error(err))
	}
}

// UpdateTask records what the worker is doing.
func (r *StatusReporter) UpdateTask(task string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.status.CurrentTask = task
}

// RecordOutcome counts a finished job.
func (r *StatusReporter) RecordOutcome(failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if failed {
		r.status.Failed++
	} else {
		r.status.Processed++
	}
}

// SetHealthy updates the health status.
func (r *StatusReporter) SetHealthy(healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.status.IsHealthy = healthy
}

// GetWorkerID returns the unique worker ID.
func (r *StatusReporter) GetWorkerID() string {
	return r.status.WorkerID
}

// Snapshot returns a copy of the current status.
func (r *StatusReporter) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.status
}

func (r *StatusReporter) report(ctx context.Context) {
	if err := r.monitor.ReportStatus(ctx, r.Snapshot()); err != nil {
		r.logger.Warn("Failed to report status", zap.Error(err))
	}
}
