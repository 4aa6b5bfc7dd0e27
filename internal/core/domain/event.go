package domain

import "time"

// EventKind enumerates the status events the session managers surface to the
// UI collaborator. Events are reports only; the managers never depend on a
// consumer reacting to them.
type EventKind string

const (
	EventSignalingConnected    EventKind = "signaling-connected"
	EventSignalingDisconnected EventKind = "signaling-disconnected"
	EventStreamStarted         EventKind = "stream-started"
	EventStreamEnded           EventKind = "stream-ended"
	EventViewerJoined          EventKind = "viewer-joined"
	EventViewerLeft            EventKind = "viewer-left"
	EventViewerCount           EventKind = "viewer-count"
	EventPeerConnecting        EventKind = "peer-connecting"
	EventPeerConnected         EventKind = "peer-connected"
	EventPeerDisconnected      EventKind = "peer-disconnected"
	EventPeerFailed            EventKind = "peer-failed"
	EventPeerRetrying          EventKind = "peer-retrying"
	EventTrackChanged          EventKind = "track-changed"
	EventTrackEnded            EventKind = "track-ended"
	EventRemoteStream          EventKind = "remote-stream"
	EventChatReceived          EventKind = "chat-received"
	EventRecoveryNeeded        EventKind = "recovery-needed"
	EventKeyframeRequested     EventKind = "keyframe-requested"
)

// Event is one status report from a session manager.
type Event struct {
	Kind     EventKind
	ViewerID ViewerID
	Track    TrackKind // set for track events
	Title    string
	Message  string
	Count    int
	At       time.Time
}

// EventHandler receives status events. A nil handler is valid and means the
// caller does not observe events.
type EventHandler func(Event)
