// Package middleware holds the bunrouter middleware of the REST API.
package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cherryfeed/cherry/internal/metrics"
	"github.com/cherryfeed/cherry/internal/ratelimit"
	"github.com/cherryfeed/cherry/internal/rest/render"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// UserHeader carries the caller identity. Authentication happens upstream.
const UserHeader = "X-User-ID"

// UnknownIP is returned when no valid IP can be determined.
const UnknownIP = "unknown"

type (
	userCtxKey struct{}
	ipCtxKey   struct{}
)

// UserFromContext returns the user set by RequireUser.
func UserFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(userCtxKey{}).(string); ok {
		return userID
	}
	return ""
}

// WithUser stores the user in the context.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userCtxKey{}, userID)
}

// IPFromContext returns the client address set by ClientIP.
func IPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(ipCtxKey{}).(string); ok {
		return ip
	}
	return UnknownIP
}

// RequireUser rejects requests without a user header with 401.
func RequireUser(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
	return func(w http.ResponseWriter, req bunrouter.Request) error {
		userID := strings.TrimSpace(req.Header.Get(UserHeader))
		if userID == "" {
			return render.Error(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
		}

		return next(w, req.WithContext(WithUser(req.Context(), userID)))
	}
}

// ClientIP resolves the caller address. X-Forwarded-For is only honored when
// the direct peer is a trusted proxy.
type ClientIP struct {
	trusted []*net.IPNet
	logger  *zap.Logger
}

// NewClientIP creates the middleware. Invalid CIDRs are logged and skipped.
func NewClientIP(trustedProxies []string, logger *zap.Logger) *ClientIP {
	m := &ClientIP{logger: logger.Named("client_ip")}

	for _, cidr := range trustedProxies {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			m.logger.Warn("Ignoring invalid trusted proxy", zap.String("cidr", cidr), zap.Error(err))
			continue
		}
		m.trusted = append(m.trusted, network)
	}

	return m
}

// Middleware implements bunrouter.MiddlewareFunc.
func (m *ClientIP) Middleware(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
	return func(w http.ResponseWriter, req bunrouter.Request) error {
		ip := m.resolve(req.RemoteAddr, req.Header)
		return next(w, req.WithContext(context.WithValue(req.Context(), ipCtxKey{}, ip)))
	}
}

func (m *ClientIP) resolve(remoteAddr string, header http.Header) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	remote := net.ParseIP(host)
	if remote == nil {
		m.logger.Debug("Invalid remote address", zap.String("addr", remoteAddr))
		return UnknownIP
	}

	if !m.isTrusted(remote) {
		return remote.String()
	}

	// Walk right to left, closest hop first
	hops := strings.Split(header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		ip := net.ParseIP(strings.TrimSpace(hops[i]))
		if ip == nil {
			continue
		}
		if !m.isTrusted(ip) {
			return ip.String()
		}
	}

	return remote.String()
}

func (m *ClientIP) isTrusted(ip net.IP) bool {
	for _, network := range m.trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// RateLimit applies the per-address token bucket.
func RateLimit(limiter *ratelimit.IPLimiter) bunrouter.MiddlewareFunc {
	return func(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
		return func(w http.ResponseWriter, req bunrouter.Request) error {
			if !limiter.Allow(IPFromContext(req.Context())) {
				w.Header().Set("Retry-After", "1")
				return render.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(w, req)
		}
	}
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Observe records request metrics and logs each request at Debug.
func Observe(logger *zap.Logger) bunrouter.MiddlewareFunc {
	logger = logger.Named("http")

	return func(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
		return func(w http.ResponseWriter, req bunrouter.Request) error {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			err := next(rec, req)

			route := req.Route()
			if route == "" {
				route = "unmatched"
			}
			duration := time.Since(start)
			metrics.RecordAPIRequest(route, req.Method, strconv.Itoa(rec.status), duration)

			logger.Debug("Handled request",
				zap.String("method", req.Method),
				zap.String("route", route),
				zap.Int("status", rec.status),
				zap.Duration("duration", duration),
				zap.Error(err))

			return err
		}
	}
}
