package enum

// WatchKind identifies what a watchlist entry is matched against.
type WatchKind string

const (
	// WatchKindTag matches when the entry value is one of the item's tags.
	WatchKindTag WatchKind = "tag"
	// WatchKindPerson matches when the item was written by the entry value.
	WatchKindPerson WatchKind = "person"
	// WatchKindCategory matches when the item's category equals the entry value.
	WatchKindCategory WatchKind = "category"
	// WatchKindKeyword matches when the entry value appears in the item's title or content.
	WatchKindKeyword WatchKind = "keyword"
)

// WatchKindValues returns every known watch kind in declaration order.
func WatchKindValues() []WatchKind {
	return []WatchKind{WatchKindTag, WatchKindPerson, WatchKindCategory, WatchKindKeyword}
}

// IsAWatchKind reports whether the kind is one of the declared values.
func (k WatchKind) IsAWatchKind() bool {
	switch k {
	case WatchKindTag, WatchKindPerson, WatchKindCategory, WatchKindKeyword:
		return true
	}

	return false
}

// String returns the wire form of the kind.
func (k WatchKind) String() string {
	return string(k)
}
