package handler

import (
	"context"
	"net/http"

	"github.com/cherryfeed/cherry/internal/rest/render"
	restTypes "github.com/cherryfeed/cherry/internal/rest/types"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// HealthChecker probes the backends.
type HealthChecker interface {
	HealthCheck(ctx context.Context) (dbOK, cacheOK bool, err error)
}

// Health serves GET /healthz. A missing cache degrades but does not fail the check.
func Health(checker HealthChecker, logger *zap.Logger) bunrouter.HandlerFunc {
	return func(w http.ResponseWriter, req bunrouter.Request) error {
		dbOK, cacheOK, err := checker.HealthCheck(req.Context())

		resp := restTypes.HealthResponse{Status: "ok", Database: dbOK, Cache: cacheOK}
		status := http.StatusOK

		switch {
		case err != nil || !dbOK:
			logger.Warn("Health check failed", zap.Error(err))
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		case !cacheOK:
			resp.Status = "degraded"
		}

		return render.JSON(w, status, resp)
	}
}
