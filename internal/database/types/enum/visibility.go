package enum

// Visibility is the audience a content item was published to.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityFriends Visibility = "friends"
	VisibilityPublic  Visibility = "public"
)

// String returns the wire form of the visibility.
func (v Visibility) String() string {
	return string(v)
}
