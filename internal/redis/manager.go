package redis

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cherryfeed/cherry/internal/setup/config"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

const (
	// CacheDBIndex stores digests, watchlists, personas, summaries,
	// rate limit counters and job queues.
	CacheDBIndex = 0

	// WorkerStatusDBIndex uses database 4 for tracking worker heartbeats and status
	// to monitor worker health and activity.
	WorkerStatusDBIndex = 4
)

// ErrUnavailable is returned when no Redis backend is configured or reachable.
var ErrUnavailable = errors.New("redis unavailable")

// Manager maintains a thread-safe mapping of database indices to Redis clients.
// Each database index gets its own dedicated connection pool through rueidis.
//
// A failed connection attempt is remembered so callers degrade to their
// fallback paths instead of reconnecting on every request.
type Manager struct {
	clients map[int]rueidis.Client
	failed  map[int]error
	config  *config.Redis
	logger  *zap.Logger
	mu      sync.Mutex
}

// NewManager initializes the Redis connection manager with an empty client pool.
// Actual client connections are created lazily when first requested.
func NewManager(config *config.Redis, logger *zap.Logger) *Manager {
	return &Manager{
		clients: make(map[int]rueidis.Client),
		failed:  make(map[int]error),
		config:  config,
		logger:  logger.Named("redis"),
	}
}

// Enabled reports whether a Redis host is configured.
func (m *Manager) Enabled() bool {
	return m.config != nil && m.config.Host != ""
}

// GetClient retrieves or creates a Redis client for the specified database index.
// Returns ErrUnavailable when Redis is not configured or the first connect failed.
func (m *Manager) GetClient(dbIndex int) (rueidis.Client, error) {
	if !m.Enabled() {
		return nil, ErrUnavailable
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if client, exists := m.clients[dbIndex]; exists {
		return client, nil
	}

	if err, failed := m.failed[dbIndex]; failed {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:         []string{fmt.Sprintf("%s:%d", m.config.Host, m.config.Port)},
		Username:            m.config.Username,
		Password:            m.config.Password,
		SelectDB:            dbIndex,
		ClientName:          "cherry",
		ReadBufferEachConn:  1 << 20,
		WriteBufferEachConn: 1 << 20,
	})
	if err != nil {
		m.failed[dbIndex] = err
		m.logger.Warn("Redis unavailable, continuing without cache",
			zap.Int("dbIndex", dbIndex),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	m.clients[dbIndex] = client
	m.logger.Info("Created new Redis client", zap.Int("dbIndex", dbIndex))
	return client, nil
}

// ClientOrNil returns the client for the index or nil when Redis is unavailable.
func (m *Manager) ClientOrNil(dbIndex int) rueidis.Client {
	client, err := m.GetClient(dbIndex)
	if err != nil {
		return nil
	}
	return client
}

// Close gracefully shuts down all active Redis clients in the pool.
// Safe to call multiple times as it cleans up only existing connections.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for dbIndex, client := range m.clients {
		client.Close()
		delete(m.clients, dbIndex)
		m.logger.Info("Closed Redis client", zap.Int("dbIndex", dbIndex))
	}
}
