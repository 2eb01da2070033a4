package enum

// JobType identifies the handler a queued job is dispatched to.
type JobType string

const (
	JobTypeDigestGeneration JobType = "digest_generation"
	JobTypePingProcessing   JobType = "ping_processing"
	JobTypeLLMSummarization JobType = "llm_summarization"
	JobTypeWatchlistUpdate  JobType = "watchlist_update"
)

// JobTypeProcessingOrder is the fixed order workers poll job types in on every tick.
func JobTypeProcessingOrder() []JobType {
	return []JobType{
		JobTypeDigestGeneration,
		JobTypePingProcessing,
		JobTypeLLMSummarization,
		JobTypeWatchlistUpdate,
	}
}

// IsAJobType reports whether the type is one of the declared values.
func (t JobType) IsAJobType() bool {
	switch t {
	case JobTypeDigestGeneration, JobTypePingProcessing, JobTypeLLMSummarization, JobTypeWatchlistUpdate:
		return true
	}

	return false
}

// String returns the wire form of the job type.
func (t JobType) String() string {
	return string(t)
}

// WatchlistAction is the mutation carried by a watchlist update job.
type WatchlistAction string

const (
	WatchlistActionAdd    WatchlistAction = "add"
	WatchlistActionUpdate WatchlistAction = "update"
	WatchlistActionRemove WatchlistAction = "remove"
)
