// Package media holds the broadcaster's current local tracks and a synthetic
// source implementation used when no hardware capture collaborator is wired.
package media

import (
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/richardrhg/ocean-live/internal/core/domain"
	"github.com/richardrhg/ocean-live/internal/core/ports"
)

// TrackSet is the broadcaster's current local audio/video sources: at most
// one live source per kind. Replacing one kind never touches the other.
type TrackSet struct {
	mu      sync.Mutex
	sources map[domain.TrackKind]ports.MediaSource
}

func NewTrackSet() *TrackSet {
	return &TrackSet{sources: make(map[domain.TrackKind]ports.MediaSource)}
}

// Replace installs src for its kind and returns the source it displaced,
// if any. The caller decides whether to stop the old source; the set does
// not own capture hardware.
func (ts *TrackSet) Replace(src ports.MediaSource) ports.MediaSource {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	old := ts.sources[src.Kind()]
	ts.sources[src.Kind()] = src
	return old
}

// Get returns the current source for a kind, or nil.
func (ts *TrackSet) Get(kind domain.TrackKind) ports.MediaSource {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.sources[kind]
}

// Track returns the current local track for a kind, or nil when that kind
// has no live source.
func (ts *TrackSet) Track(kind domain.TrackKind) webrtc.TrackLocal {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	src, ok := ts.sources[kind]
	if !ok {
		return nil
	}
	return src.Track()
}

// SetEnabled toggles mute on the current source of a kind. Track identity is
// unchanged, so no renegotiation is implied.
func (ts *TrackSet) SetEnabled(kind domain.TrackKind, enabled bool) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	src, ok := ts.sources[kind]
	if !ok {
		return domain.ErrNoLiveTrack
	}
	src.SetEnabled(enabled)
	return nil
}

// Clear drops all source references. It does not stop capture: stopping
// hardware is the acquisition collaborator's call.
func (ts *TrackSet) Clear() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.sources = make(map[domain.TrackKind]ports.MediaSource)
}

// Kinds returns the kinds that currently have a live source.
func (ts *TrackSet) Kinds() []domain.TrackKind {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	kinds := make([]domain.TrackKind, 0, len(ts.sources))
	for k := range ts.sources {
		kinds = append(kinds, k)
	}
	return kinds
}
