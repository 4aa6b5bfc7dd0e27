package domain

import "encoding/json"

// MessageType enumerates every signaling message exchanged through the relay.
type MessageType string

const (
	TypeBroadcasterJoin       MessageType = "broadcaster_join"
	TypeViewerJoin            MessageType = "viewer_join"
	TypeBroadcasterJoined     MessageType = "broadcaster_joined"
	TypeViewerJoined          MessageType = "viewer_joined"
	TypeStreamStart           MessageType = "stream_start"
	TypeStreamEnd             MessageType = "stream_end"
	TypeViewersNeedConnection MessageType = "viewers_need_connection"
	TypeOffer                 MessageType = "offer"
	TypeAnswer                MessageType = "answer"
	TypeICECandidate          MessageType = "ice_candidate"
	TypeChatMessage           MessageType = "chat_message"
	TypeViewerCountUpdate     MessageType = "viewer_count_update"
	TypeHeartbeat             MessageType = "heartbeat"
)

// Envelope is the flat wire format for every signaling message. The relay
// routes offer/answer/candidate payloads as opaque raw JSON and never
// inspects them; only the addressing fields are read server-side.
type Envelope struct {
	Type          MessageType     `json:"type"`
	BroadcasterID BroadcasterID   `json:"broadcasterId,omitempty"`
	ViewerID      ViewerID        `json:"viewerId,omitempty"`
	Title         string          `json:"title,omitempty"`
	Message       string          `json:"message,omitempty"`
	Username      string          `json:"username,omitempty"`
	Viewers       []ViewerID      `json:"viewers,omitempty"`
	Count         *int            `json:"count,omitempty"`
	Offer         json.RawMessage `json:"offer,omitempty"`
	Answer        json.RawMessage `json:"answer,omitempty"`
	Candidate     json.RawMessage `json:"candidate,omitempty"`
	Timestamp     int64           `json:"timestamp,omitempty"`
}

// FromBroadcaster reports whether an ice_candidate envelope originated at the
// broadcaster: exactly one of the two identifier fields marks the direction,
// and broadcaster-sourced candidates carry both (broadcasterId plus the
// addressed viewerId), viewer-sourced ones carry only viewerId.
func (e *Envelope) FromBroadcaster() bool {
	return e.BroadcasterID != ""
}

func NewViewerCountUpdate(count int) *Envelope {
	return &Envelope{Type: TypeViewerCountUpdate, Count: &count}
}

func NewStreamStart(title, message string) *Envelope {
	return &Envelope{Type: TypeStreamStart, Title: title, Message: message}
}

func NewStreamEnd(message string) *Envelope {
	return &Envelope{Type: TypeStreamEnd, Message: message}
}

func NewViewersNeedConnection(viewers []ViewerID, message string) *Envelope {
	return &Envelope{Type: TypeViewersNeedConnection, Viewers: viewers, Message: message}
}
