package queue

import "errors"

var (
	// ErrUnknownJobType indicates a payload whose job type has no queue.
	ErrUnknownJobType = errors.New("unknown job type")
	// ErrPayloadMismatch indicates a job decoded into the payload of another type.
	ErrPayloadMismatch = errors.New("payload does not match job type")
	// ErrEnqueueFailed indicates that neither Redis nor the fallback store took the job.
	ErrEnqueueFailed = errors.New("failed to enqueue job")
)
