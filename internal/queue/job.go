package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/cherryfeed/cherry/internal/database/types/enum"
)

// Priority levels used by the enqueueing call sites.
const (
	PriorityLow    = 0.0
	PriorityNormal = 5.0
	PriorityHigh   = 10.0
)

// Payload is implemented by every typed job payload.
type Payload interface {
	JobType() enum.JobType
}

// DigestPayload defers a digest computation.
type DigestPayload struct {
	UserID      string     `json:"userId"`
	WindowStart *time.Time `json:"windowStart,omitempty"`
	WindowEnd   *time.Time `json:"windowEnd,omitempty"`
	MaxItems    int        `json:"maxItems,omitempty"`
}

// PingPayload notifies a watcher that a new item matched one of their entries.
type PingPayload struct {
	UserID string   `json:"userId"`
	ItemID string   `json:"itemId"`
	Author string   `json:"author"`
	Tags   []string `json:"tags"`
}

// SummarizePayload precomputes the TL;DR of one item for a watchlist.
type SummarizePayload struct {
	ItemID    string                  `json:"itemId"`
	Content   string                  `json:"content"`
	Tags      []string                `json:"tags"`
	Watchlist []*types.WatchlistEntry `json:"watchlist"`
}

// WatchlistEntryPayload is the entry carried by a watchlist update.
type WatchlistEntryPayload struct {
	Kind   enum.WatchKind `json:"kind"`
	Value  string         `json:"value"`
	Weight *float64       `json:"weight,omitempty"`
}

// WatchlistPayload applies one watchlist mutation in the background.
type WatchlistPayload struct {
	UserID string                `json:"userId"`
	Action enum.WatchlistAction  `json:"action"`
	Entry  WatchlistEntryPayload `json:"entry"`
}

func (DigestPayload) JobType() enum.JobType    { return enum.JobTypeDigestGeneration }
func (PingPayload) JobType() enum.JobType      { return enum.JobTypePingProcessing }
func (SummarizePayload) JobType() enum.JobType { return enum.JobTypeLLMSummarization }
func (WatchlistPayload) JobType() enum.JobType { return enum.JobTypeWatchlistUpdate }

// Job is a unit of deferred work.
type Job struct {
	ID          string          `json:"id"`
	Type        enum.JobType    `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    float64         `json:"priority"`
	CreatedAt   time.Time       `json:"createdAt"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	LastError   string          `json:"lastError,omitempty"`
}

// Decode unmarshals the payload into v, which must match the job type.
func (j *Job) Decode(v Payload) error {
	if v.JobType() != j.Type {
		return fmt.Errorf("%w: job is %s, payload is %s", ErrPayloadMismatch, j.Type, v.JobType())
	}

	if err := sonic.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", j.Type, err)
	}

	return nil
}

// Exhausted reports whether the job has used all of its attempts.
func (j *Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

// toRecord converts the job to its database form.
func (j *Job) toRecord(availableAt time.Time) *types.QueuedJob {
	return &types.QueuedJob{
		ID:          j.ID,
		JobType:     j.Type,
		Payload:     j.Payload,
		Priority:    j.Priority,
		CreatedAt:   j.CreatedAt,
		AvailableAt: availableAt,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		LastError:   j.LastError,
	}
}

// ToFailure converts the job to its permanent failure audit record.
func (j *Job) ToFailure(failedAt time.Time) *types.JobFailure {
	return &types.JobFailure{
		JobID:       j.ID,
		JobType:     j.Type,
		Payload:     j.Payload,
		Priority:    j.Priority,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		LastError:   j.LastError,
		CreatedAt:   j.CreatedAt,
		FailedAt:    failedAt,
	}
}

func jobFromRecord(r *types.QueuedJob) *Job {
	return &Job{
		ID:          r.ID,
		Type:        r.JobType,
		Payload:     r.Payload,
		Priority:    r.Priority,
		CreatedAt:   r.CreatedAt,
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
		LastError:   r.LastError,
	}
}
