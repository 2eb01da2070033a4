package handler

import (
	"context"
	"net/http"

	"github.com/cherryfeed/cherry/internal/queue"
	"github.com/cherryfeed/cherry/internal/rest/middleware"
	"github.com/cherryfeed/cherry/internal/rest/render"
	restTypes "github.com/cherryfeed/cherry/internal/rest/types"
	"github.com/cherryfeed/cherry/internal/validation"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// Enqueuer schedules background jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload queue.Payload, priority float64) (string, error)
}

// JobHandler serves POST /v1/jobs/digest.
type JobHandler struct {
	jobs   Enqueuer
	logger *zap.Logger
}

// NewJobHandler creates a job handler.
func NewJobHandler(jobs Enqueuer, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		jobs:   jobs,
		logger: logger.Named("job_handler"),
	}
}

// EnqueueDigest defers the caller's digest to the worker pool.
func (h *JobHandler) EnqueueDigest(w http.ResponseWriter, req bunrouter.Request) error {
	var body restTypes.DigestJobRequest
	if req.ContentLength != 0 {
		if err := decodeBody(req, &body); err != nil {
			return writeError(w, err, "failed to enqueue digest", h.logger)
		}
	}

	if err := validation.Struct(&body); err != nil {
		return writeError(w, err, "failed to enqueue digest", h.logger)
	}

	id, err := h.jobs.Enqueue(req.Context(), queue.DigestPayload{
		UserID:      middleware.UserFromContext(req.Context()),
		WindowStart: body.Start,
		WindowEnd:   body.End,
		MaxItems:    body.MaxItems,
	}, queue.PriorityHigh)
	if err != nil {
		return writeError(w, err, "failed to enqueue digest", h.logger)
	}

	return render.JSON(w, http.StatusAccepted, restTypes.JobResponse{JobID: id, Status: "queued"})
}
