package enum

// RelevanceLevel buckets the index pass relevance score.
type RelevanceLevel string

const (
	RelevanceLow    RelevanceLevel = "low"
	RelevanceMedium RelevanceLevel = "medium"
	RelevanceHigh   RelevanceLevel = "high"
)

// ContentType is the coarse shape of a piece of content detected during indexing.
type ContentType string

const (
	ContentTypeQuestion     ContentType = "question"
	ContentTypeTutorial     ContentType = "tutorial"
	ContentTypeAnnouncement ContentType = "announcement"
	ContentTypeUpdate       ContentType = "update"
	ContentTypeDiscussion   ContentType = "discussion"
)
