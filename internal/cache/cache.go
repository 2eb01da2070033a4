package cache

import (
	"context"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cherryfeed/cherry/internal/metrics"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

// Namespace groups cache keys by purpose.
type Namespace string

const (
	NamespaceDigest    Namespace = "digest"
	NamespaceWatchlist Namespace = "watchlist"
	NamespacePersona   Namespace = "persona"
	NamespaceRateLimit Namespace = "rate_limit"
	NamespaceQueue     Namespace = "queue"
	NamespaceSummary   Namespace = "summary"
)

// ScanBatchSize is the COUNT hint used when deleting by pattern.
const ScanBatchSize = 100

// Key builds the full key for a namespaced entry.
func Key(ns Namespace, key string) string {
	return string(ns) + ":" + key
}

// Layer is a namespaced key-value cache over Redis.
//
// No operation returns an error. Backend failures are logged, counted and
// reported to the caller as a miss or a no-op, so the caller falls back to the
// system of record. A Layer built without a client stays in unavailable mode
// and never touches the network.
type Layer struct {
	client rueidis.Client
	logger *zap.Logger
}

// New creates a cache layer. A nil client puts the layer in unavailable mode.
func New(client rueidis.Client, logger *zap.Logger) *Layer {
	l := &Layer{
		client: client,
		logger: logger.Named("cache"),
	}
	if client == nil {
		l.logger.Warn("Cache backend not configured, running without cache")
	}
	return l
}

// Available reports whether the layer has a backend.
func (l *Layer) Available() bool {
	return l != nil && l.client != nil
}

// Get returns the cached value and whether it was found.
func (l *Layer) Get(ctx context.Context, ns Namespace, key string) ([]byte, bool) {
	if !l.Available() {
		return nil, false
	}

	fullKey := Key(ns, key)
	value, err := l.client.Do(ctx, l.client.B().Get().Key(fullKey).Build()).AsBytes()
	if err != nil {
		if !rueidis.IsRedisNil(err) {
			l.fail(ns, "get", fullKey, err)
		}
		metrics.RecordCacheLookup(string(ns), false)
		return nil, false
	}

	metrics.RecordCacheLookup(string(ns), true)
	return value, true
}

// Set stores a value. A non-positive ttl stores it without expiry.
func (l *Layer) Set(ctx context.Context, ns Namespace, key string, value []byte, ttl time.Duration) {
	if !l.Available() {
		return
	}

	fullKey := Key(ns, key)

	var cmd rueidis.Completed
	if ttl > 0 {
		cmd = l.client.B().Set().Key(fullKey).Value(rueidis.BinaryString(value)).Ex(ttl).Build()
	} else {
		cmd = l.client.B().Set().Key(fullKey).Value(rueidis.BinaryString(value)).Build()
	}

	if err := l.client.Do(ctx, cmd).Error(); err != nil {
		l.fail(ns, "set", fullKey, err)
	}
}

// Delete removes a key. A key containing '*' is treated as a pattern and every
// matching key in the namespace is removed.
func (l *Layer) Delete(ctx context.Context, ns Namespace, keyOrPattern string) {
	if !l.Available() {
		return
	}

	fullKey := Key(ns, keyOrPattern)
	if !strings.Contains(keyOrPattern, "*") {
		if err := l.client.Do(ctx, l.client.B().Del().Key(fullKey).Build()).Error(); err != nil {
			l.fail(ns, "delete", fullKey, err)
		}
		return
	}

	// A cluster client scans each node separately
	for _, node := range l.client.Nodes() {
		if !l.deleteMatching(ctx, node, ns, fullKey) {
			return
		}
	}
}

// deleteMatching scans one node and removes every match with single-key DELs.
// It reports false after the first backend error.
func (l *Layer) deleteMatching(ctx context.Context, node rueidis.Client, ns Namespace, pattern string) bool {
	cursor := uint64(0)
	for {
		entry, err := node.Do(ctx,
			node.B().Scan().Cursor(cursor).Match(pattern).Count(ScanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			l.fail(ns, "scan", pattern, err)
			return false
		}

		if len(entry.Elements) > 0 {
			cmds := make(rueidis.Commands, 0, len(entry.Elements))
			for _, key := range entry.Elements {
				cmds = append(cmds, l.client.B().Del().Key(key).Build())
			}

			for _, resp := range l.client.DoMulti(ctx, cmds...) {
				if err := resp.Error(); err != nil {
					l.fail(ns, "delete", pattern, err)
					return false
				}
			}
		}

		cursor = entry.Cursor
		if cursor == 0 {
			return true
		}
	}
}

// HealthCheck pings the backend.
func (l *Layer) HealthCheck(ctx context.Context) bool {
	if !l.Available() {
		return false
	}

	if err := l.client.Do(ctx, l.client.B().Ping().Build()).Error(); err != nil {
		l.logger.Warn("Cache health check failed", zap.Error(err))
		return false
	}
	return true
}

// IncrementWithTTL increments a fixed-window counter in the rate limit namespace.
// The first increment in a window sets the expiry. The boolean is false when
// the backend could not be reached and the count is meaningless.
func (l *Layer) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, bool) {
	if !l.Available() {
		return 0, false
	}

	fullKey := Key(NamespaceRateLimit, key)
	count, err := l.client.Do(ctx, l.client.B().Incr().Key(fullKey).Build()).AsInt64()
	if err != nil {
		l.fail(NamespaceRateLimit, "incr", fullKey, err)
		return 0, false
	}

	if count == 1 {
		seconds := max(int64(window.Seconds()), 1)
		if err := l.client.Do(ctx, l.client.B().Expire().Key(fullKey).Seconds(seconds).Build()).Error(); err != nil {
			l.fail(NamespaceRateLimit, "expire", fullKey, err)
		}
	}

	return count, true
}

// TTL returns the remaining lifetime of a key, or zero if it is missing or has none.
func (l *Layer) TTL(ctx context.Context, ns Namespace, key string) time.Duration {
	if !l.Available() {
		return 0
	}

	fullKey := Key(ns, key)
	ms, err := l.client.Do(ctx, l.client.B().Pttl().Key(fullKey).Build()).AsInt64()
	if err != nil {
		l.fail(ns, "pttl", fullKey, err)
		return 0
	}
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// SetJSON marshals a value with sonic and stores it.
func (l *Layer) SetJSON(ctx context.Context, ns Namespace, key string, value any, ttl time.Duration) {
	if !l.Available() {
		return
	}

	data, err := sonic.Marshal(value)
	if err != nil {
		l.logger.Error("Failed to marshal cache value",
			zap.String("namespace", string(ns)),
			zap.String("key", key),
			zap.Error(err))
		return
	}

	l.Set(ctx, ns, key, data, ttl)
}

// GetJSON loads and unmarshals a cached value. A value that no longer decodes
// is deleted and reported as a miss.
func GetJSON[T any](ctx context.Context, l *Layer, ns Namespace, key string) (*T, bool) {
	data, ok := l.Get(ctx, ns, key)
	if !ok {
		return nil, false
	}

	var value T
	if err := sonic.Unmarshal(data, &value); err != nil {
		l.logger.Warn("Dropping undecodable cache entry",
			zap.String("namespace", string(ns)),
			zap.String("key", key),
			zap.Error(err))
		l.Delete(ctx, ns, key)
		return nil, false
	}

	return &value, true
}

func (l *Layer) fail(ns Namespace, op, key string, err error) {
	metrics.CacheErrors.WithLabelValues(string(ns), op).Inc()
	l.logger.Warn("Cache operation failed",
		zap.String("operation", op),
		zap.String("key", key),
		zap.Error(err))
}
