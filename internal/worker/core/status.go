package core

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

const (
	// HeartbeatInterval is how often workers report their status.
	HeartbeatInterval = 10 * time.Second

	// HeartbeatTTL is how long a worker's status remains valid.
	HeartbeatTTL = 2 * time.Minute

	// StaleThreshold is how long before a worker is considered offline.
	StaleThreshold = time.Minute

	statusKeyPrefix = "worker:"
)

// Status is a worker's last reported state.
type Status struct {
	WorkerID    string    `json:"workerId"`
	WorkerType  string    `json:"workerType"`
	LastSeen    time.Time `json:"lastSeen"`
	CurrentTask string    `json:"currentTask,omitempty"`
	Processed   int64     `json:"processed"`
	Failed      int64     `json:"failed"`
	IsHealthy   bool      `json:"isHealthy"`
}

// IsStale reports whether the worker has not reported recently.
func (s Status) IsStale(now time.Time) bool {
	return now.Sub(s.LastSeen) > StaleThreshold
}

// Monitor stores and reads worker heartbeats.
type Monitor struct {
	client rueidis.Client
	logger *zap.Logger
}

// NewMonitor creates a worker status monitor. A nil client disables it.
func NewMonitor(client rueidis.Client, logger *zap.Logger) *Monitor {
	return &Monitor{
		client: client,
		logger: logger.Named("worker_monitor"),
	}
}

// ReportStatus stores a worker's status under worker:{type}:{id}.
func (m *Monitor) ReportStatus(ctx context.Context, status Status) error {
	if m.client == nil {
		return nil
	}

	status.LastSeen = time.Now()

	data, err := sonic.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	key := fmt.Sprintf("%s%s:%s", statusKeyPrefix, status.WorkerType, status.WorkerID)
	err = m.client.Do(ctx, m.client.B().Set().Key(key).Value(rueidis.BinaryString(data)).Ex(HeartbeatTTL).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to store status: %w", err)
	}

	return nil
}

// ClearStatus removes a worker's status.
func (m *Monitor) ClearStatus(ctx context.Context, workerType, workerID string) error {
	if m.client == nil {
		return nil
	}

	key := fmt.Sprintf("%s%s:%s", statusKeyPrefix, workerType, workerID)
	return m.client.Do(ctx, m.client.B().Del().Key(key).Build()).Error()
}

// GetAllStatuses returns every reported worker status.
func (m *Monitor) GetAllStatuses(ctx context.Context) ([]Status, error) {
	if m.client == nil {
		return nil, nil
	}

	var (
		statuses []Status
		cursor   uint64
	)

	for {
		entry, err := m.client.Do(ctx, m.client.B().Scan().Cursor(cursor).Match(statusKeyPrefix+"*").Count(100).Build()).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker keys: %w", err)
		}

		for _, key := range entry.Elements {
			data, err := m.client.Do(ctx, m.client.B().Get().Key(key).Build()).AsBytes()
			if err != nil {
				if !rueidis.IsRedisNil(err) {
					m.logger.Error("Failed to get worker status", zap.String("key", key), zap.Error(err))
				}
				continue
			}

			var status Status
			if err := sonic.Unmarshal(data, &status); err != nil {
				m.logger.Error("Failed to unmarshal worker status", zap.String("key", key), zap.Error(err))
				continue
			}

			statuses = append(statuses, status)
		}

		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}

	return statuses, nil
}
