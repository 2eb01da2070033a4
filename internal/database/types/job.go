package types

import (
	"encoding/json"
	"time"

	"github.com/cherryfeed/cherry/internal/database/types/enum"
)

// QueuedJob is a job persisted to the database when the cache backend could not take it.
type QueuedJob struct {
	ID          string          `bun:",pk"                json:"id"`
	JobType     enum.JobType    `bun:",notnull"           json:"jobType"`
	Payload     json.RawMessage `bun:"type:jsonb,notnull" json:"payload"`
	Priority    float64         `bun:",notnull"           json:"priority"`
	CreatedAt   time.Time       `bun:",notnull"           json:"createdAt"`
	AvailableAt time.Time       `bun:",notnull"           json:"availableAt"`
	Attempts    int             `bun:",notnull"           json:"attempts"`
	MaxAttempts int             `bun:",notnull"           json:"maxAttempts"`
	LastError   string          `bun:",nullzero"          json:"lastError,omitempty"`
}

// JobFailure is the audit record of a job that exhausted its attempts.
type JobFailure struct {
	ID          int64           `bun:",pk,autoincrement"  json:"id"`
	JobID       string          `bun:",notnull"           json:"jobId"`
	JobType     enum.JobType    `bun:",notnull"           json:"jobType"`
	Payload     json.RawMessage `bun:"type:jsonb,notnull" json:"payload"`
	Priority    float64         `bun:",notnull"           json:"priority"`
	Attempts    int             `bun:",notnull"           json:"attempts"`
	MaxAttempts int             `bun:",notnull"           json:"maxAttempts"`
	LastError   string          `bun:",notnull"           json:"lastError"`
	CreatedAt   time.Time       `bun:",notnull"           json:"createdAt"`
	FailedAt    time.Time       `bun:",notnull"           json:"failedAt"`
}
