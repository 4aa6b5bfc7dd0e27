package domain

import (
	"fmt"

	"github.com/google/uuid"
)

type BroadcasterID string
type ViewerID string

// TrackKind distinguishes the two media kinds a session may carry.
type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// ClientRole identifies which side of the relay a connection registered as.
type ClientRole string

const (
	RoleBroadcaster ClientRole = "broadcaster"
	RoleViewer      ClientRole = "viewer"
	RoleUnknown     ClientRole = ""
)

// NewViewerID generates an opaque client-side viewer identifier.
func NewViewerID() ViewerID {
	return ViewerID(fmt.Sprintf("viewer_%s", uuid.NewString()[:8]))
}

// NewBroadcasterID generates an opaque client-side broadcaster identifier.
func NewBroadcasterID() BroadcasterID {
	return BroadcasterID(fmt.Sprintf("broadcaster_%s", uuid.NewString()[:8]))
}
