package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/cherryfeed/cherry/internal/digest"
	"github.com/cherryfeed/cherry/internal/rest/middleware"
	"github.com/cherryfeed/cherry/internal/rest/render"
	restTypes "github.com/cherryfeed/cherry/internal/rest/types"
	"github.com/cherryfeed/cherry/internal/validation"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// DigestService generates digests.
type DigestService interface {
	Generate(ctx context.Context, userID string, req digest.Request) (*types.DigestResult, error)
}

// DigestHandler serves GET /v1/digest.
type DigestHandler struct {
	digests DigestService
	logger  *zap.Logger
}

// NewDigestHandler creates a digest handler.
func NewDigestHandler(digests DigestService, logger *zap.Logger) *DigestHandler {
	return &DigestHandler{
		digests: digests,
		logger:  logger.Named("digest_handler"),
	}
}

// GetDigest returns the digest of the caller.
//
// Query parameters: start and end (RFC 3339), continue, max_items and refresh.
func (h *DigestHandler) GetDigest(w http.ResponseWriter, req bunrouter.Request) error {
	digestReq, err := parseDigestRequest(req.URL.Query())
	if err != nil {
		return writeError(w, err, "failed to generate digest", h.logger)
	}

	result, err := h.digests.Generate(req.Context(), middleware.UserFromContext(req.Context()), digestReq)
	if err != nil {
		return writeError(w, err, "failed to generate digest", h.logger)
	}

	return render.JSON(w, http.StatusOK, restTypes.DigestResponse{Digest: result})
}

type queryValues interface {
	Get(key string) string
}

func parseDigestRequest(q queryValues) (digest.Request, error) {
	var req digest.Request

	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{
		{"start", &req.Start},
		{"end", &req.End},
	} {
		raw := q.Get(bound.name)
		if raw == "" {
			continue
		}

		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return req, validation.NewError(bound.name, "datetime", bound.name+" must be an RFC 3339 timestamp")
		}
		*bound.dst = &t
	}

	if raw := q.Get("max_items"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return req, validation.NewError("max_items", "number", "max_items must be a non-negative integer")
		}
		if n > digest.MaxItemsLimit {
			return req, validation.NewError("max_items", "lte", "max_items must be at most "+strconv.Itoa(digest.MaxItemsLimit))
		}
		req.MaxItems = n
	}

	if raw := q.Get("refresh"); raw != "" {
		refresh, err := strconv.ParseBool(raw)
		if err != nil {
			return req, validation.NewError("refresh", "boolean", "refresh must be true or false")
		}
		req.Refresh = refresh
	}

	req.ContinueToken = q.Get("continue")

	return req, nil
}
