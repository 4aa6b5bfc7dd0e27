// Package ports declares the interfaces between the signaling core and its
// collaborators: presence mirroring, media acquisition, and the outbound
// signaling channel the client session managers write to.
package ports

import (
	"context"

	"github.com/pion/webrtc/v3"

	"github.com/richardrhg/ocean-live/internal/core/domain"
)

// PresenceStore mirrors the relay registry for observability. The in-memory
// registry remains the single source of truth; writes here are best-effort
// and a failure must never affect routing.
type PresenceStore interface {
	BroadcasterJoined(ctx context.Context, id domain.BroadcasterID) error
	BroadcasterLeft(ctx context.Context) error
	ViewerJoined(ctx context.Context, id domain.ViewerID) error
	ViewerLeft(ctx context.Context, id domain.ViewerID) error
	SetLive(ctx context.Context, live bool) error
	Snapshot(ctx context.Context) (PresenceSnapshot, error)
	Close() error
}

// PresenceSnapshot is the observable relay state at one point in time.
type PresenceSnapshot struct {
	BroadcasterID domain.BroadcasterID
	Live          bool
	Viewers       []domain.ViewerID
}

// SignalSender is the outbound half of a client signaling channel. The
// session managers depend on this instead of the concrete websocket client
// so tests can capture outbound traffic.
type SignalSender interface {
	Send(msg *domain.Envelope) error
}

// MediaSource produces one local track of a fixed kind. Capture itself
// (camera, microphone, display) is outside this module; a source hands the
// session manager a track and keeps feeding it until stopped.
type MediaSource interface {
	Kind() domain.TrackKind
	Track() webrtc.TrackLocal
	// SetEnabled toggles mute without changing track identity.
	SetEnabled(enabled bool)
	Enabled() bool
	Stop() error
}
