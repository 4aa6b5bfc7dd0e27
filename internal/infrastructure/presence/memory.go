// Package presence implements the presence mirror: an observable copy of the
// relay's registry state kept for status endpoints and operators. The relay's
// in-memory registry stays authoritative; these stores never gate routing.
package presence

import (
	"context"
	"sync"

	"github.com/richardrhg/ocean-live/internal/core/domain"
	"github.com/richardrhg/ocean-live/internal/core/ports"
)

// MemoryStore is the default presence mirror.
type MemoryStore struct {
	mu          sync.RWMutex
	broadcaster domain.BroadcasterID
	live        bool
	viewers     map[domain.ViewerID]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{viewers: make(map[domain.ViewerID]struct{})}
}

func (s *MemoryStore) BroadcasterJoined(_ context.Context, id domain.BroadcasterID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcaster = id
	s.live = false
	return nil
}

func (s *MemoryStore) BroadcasterLeft(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcaster = ""
	s.live = false
	return nil
}

func (s *MemoryStore) ViewerJoined(_ context.Context, id domain.ViewerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewers[id] = struct{}{}
	return nil
}

func (s *MemoryStore) ViewerLeft(_ context.Context, id domain.ViewerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.viewers, id)
	return nil
}

func (s *MemoryStore) SetLive(_ context.Context, live bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = live
	return nil
}

func (s *MemoryStore) Snapshot(_ context.Context) (ports.PresenceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := ports.PresenceSnapshot{
		BroadcasterID: s.broadcaster,
		Live:          s.live,
		Viewers:       make([]domain.ViewerID, 0, len(s.viewers)),
	}
	for id := range s.viewers {
		snap.Viewers = append(snap.Viewers, id)
	}
	return snap, nil
}

func (s *MemoryStore) Close() error { return nil }
