// Package types holds the REST request and response bodies.
package types

import (
	"time"

	"github.com/cherryfeed/cherry/internal/database/types"
)

// WatchlistResponse lists a user's watchlist.
type WatchlistResponse struct {
	Entries []*types.WatchlistEntry `json:"entries"`
}

// DigestResponse wraps a generated digest.
type DigestResponse struct {
	Digest *types.DigestResult `json:"digest"`
}

// DigestJobRequest defers a digest computation to the worker pool.
type DigestJobRequest struct {
	Start    *time.Time `json:"start,omitempty"`
	End      *time.Time `json:"end,omitempty"`
	MaxItems int        `json:"maxItems,omitempty" validate:"gte=0,lte=50"`
}

// JobResponse acknowledges an enqueued job.
type JobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// HealthResponse reports the state of the backends.
type HealthResponse struct {
	Status   string `json:"status"`
	Database bool   `json:"database"`
	Cache    bool   `json:"cache"`
}
