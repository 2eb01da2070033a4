// Package rest serves the digest and watchlist HTTP API.
package rest

import (
	"net/http"

	"github.com/cherryfeed/cherry/internal/ratelimit"
	"github.com/cherryfeed/cherry/internal/rest/handler"
	"github.com/cherryfeed/cherry/internal/rest/middleware"
	"github.com/cherryfeed/cherry/internal/rest/render"
	"github.com/cherryfeed/cherry/internal/setup/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// Dependencies are the services behind the API.
type Dependencies struct {
	Digests    handler.DigestService
	Watchlists handler.WatchlistService
	Jobs       handler.Enqueuer
	Health     handler.HealthChecker
}

// NewServer builds the API router.
func NewServer(deps Dependencies, cfg *config.APIConfig, logger *zap.Logger) http.Handler {
	logger = logger.Named("rest")

	digestHandler := handler.NewDigestHandler(deps.Digests, logger)
	watchlistHandler := handler.NewWatchlistHandler(deps.Watchlists, logger)
	jobHandler := handler.NewJobHandler(deps.Jobs, logger)

	clientIP := middleware.NewClientIP(cfg.TrustedProxies, logger)
	limiter := ratelimit.NewIPLimiter(cfg.RequestsPerSecond, cfg.Burst)

	router := bunrouter.New(
		bunrouter.Use(middleware.Observe(logger)),
		bunrouter.WithNotFoundHandler(func(w http.ResponseWriter, _ bunrouter.Request) error {
			return render.Error(w, http.StatusNotFound, "not found")
		}),
		bunrouter.WithMethodNotAllowedHandler(func(w http.ResponseWriter, _ bunrouter.Request) error {
			return render.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		}),
	)

	router.Use(
		clientIP.Middleware,
		middleware.RateLimit(limiter),
		middleware.RequireUser,
	).WithGroup("/v1", func(g *bunrouter.Group) {
		g.GET("/digest", digestHandler.GetDigest)

		g.GET("/watchlist", watchlistHandler.List)
		g.POST("/watchlist", watchlistHandler.Add)
		g.PATCH("/watchlist", watchlistHandler.Update)
		g.DELETE("/watchlist", watchlistHandler.Remove)

		g.POST("/jobs/digest", jobHandler.EnqueueDigest)
	})

	router.GET("/healthz", handler.Health(deps.Health, logger))
	router.GET("/metrics", bunrouter.HTTPHandler(promhttp.Handler()))

	return router
}
