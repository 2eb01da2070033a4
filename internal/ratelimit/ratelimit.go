package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cherryfeed/cherry/internal/cache"
	"golang.org/x/time/rate"
)

// Decision is the outcome of a fixed-window check.
type Decision struct {
	Allowed bool
	Count   int64
	Limit   int64
	// Degraded is set when the counter could not be read and the request was let through.
	Degraded bool
}

// Limiter is a fixed-window counter shared by every process through the cache.
type Limiter struct {
	cache *cache.Layer
}

// New creates a fixed-window limiter.
func New(layer *cache.Layer) *Limiter {
	return &Limiter{cache: layer}
}

// Allow counts one request against key for the current window.
// It fails open when the cache backend is unavailable.
func (l *Limiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit}
	}

	count, ok := l.cache.IncrementWithTTL(ctx, key, window)
	if !ok {
		return Decision{Allowed: true, Limit: limit, Degraded: true}
	}

	return Decision{
		Allowed: count <= limit,
		Count:   count,
		Limit:   limit,
	}
}

// MinIdleTTL is the shortest time an address bucket is kept after its last request.
const MinIdleTTL = 10 * time.Minute

// IPLimiter keeps an in-process token bucket per client address.
// Buckets idle longer than the idle TTL are swept while new addresses arrive.
type IPLimiter struct {
	limiters  map[string]*ipBucket
	mu        sync.RWMutex
	rps       rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// NewIPLimiter creates a per-address limiter.
func NewIPLimiter(requestsPerSecond float64, burst int) *IPLimiter {
	// An evicted bucket must already have refilled
	idleTTL := MinIdleTTL
	if requestsPerSecond > 0 {
		idleTTL = max(idleTTL, time.Duration(float64(burst)/requestsPerSecond*float64(time.Second)))
	}

	return &IPLimiter{
		limiters:  make(map[string]*ipBucket),
		rps:       rate.Limit(requestsPerSecond),
		burst:     burst,
		idleTTL:   idleTTL,
		lastSweep: time.Now(),
	}
}

// Allow reports whether a request from ip may proceed now.
func (l *IPLimiter) Allow(ip string) bool {
	now := time.Now()
	bucket := l.getBucket(ip, now)
	bucket.lastSeen.Store(now.UnixNano())
	return bucket.limiter.Allow()
}

// Len returns the number of tracked addresses.
func (l *IPLimiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.limiters)
}

// Cleanup removes buckets that saw no request within idle and returns how many were removed.
func (l *IPLimiter) Cleanup(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweep(time.Now(), idle)
}

// sweep must be called with the write lock held.
func (l *IPLimiter) sweep(now time.Time, idle time.Duration) int {
	cutoff := now.Add(-idle).UnixNano()
	removed := 0
	for ip, bucket := range l.limiters {
		if bucket.lastSeen.Load() <= cutoff {
			delete(l.limiters, ip)
			removed++
		}
	}
	l.lastSweep = now
	return removed
}

// getBucket retrieves or creates the bucket for the given IP.
func (l *IPLimiter) getBucket(ip string, now time.Time) *ipBucket {
	l.mu.RLock()
	bucket, exists := l.limiters[ip]
	l.mu.RUnlock()

	if !exists {
		l.mu.Lock()
		bucket, exists = l.limiters[ip]
		if !exists {
			if now.Sub(l.lastSweep) >= l.idleTTL {
				l.sweep(now, l.idleTTL)
			}
			bucket = &ipBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
			bucket.lastSeen.Store(now.UnixNano())
			l.limiters[ip] = bucket
		}
		l.mu.Unlock()
	}

	return bucket
}
