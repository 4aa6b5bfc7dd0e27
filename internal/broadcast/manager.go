// Package broadcast manages the broadcaster's side of a live stream: one
// peer session per viewer, offers initiated here, and in-place track
// replacement with a single renegotiation per affected session.
package broadcast

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/richardrhg/ocean-live/internal/core/domain"
	"github.com/richardrhg/ocean-live/internal/core/ports"
	"github.com/richardrhg/ocean-live/internal/infrastructure/rtc"
	"github.com/richardrhg/ocean-live/internal/media"
	"github.com/richardrhg/ocean-live/pkg/config"
	"github.com/richardrhg/ocean-live/pkg/errors"
	"github.com/richardrhg/ocean-live/pkg/retry"
)

type Manager struct {
	engine  *rtc.Engine
	peerCfg config.PeerConfig
	signal  ports.SignalSender
	tracks  *media.TrackSet
	events  domain.EventHandler
	logger  *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	id       domain.BroadcasterID
	sessions map[domain.ViewerID]*peerSession
}

func NewManager(engine *rtc.Engine, peerCfg config.PeerConfig, signal ports.SignalSender, tracks *media.TrackSet, events domain.EventHandler, logger *zap.SugaredLogger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		engine:   engine,
		peerCfg:  peerCfg,
		signal:   signal,
		tracks:   tracks,
		events:   events,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[domain.ViewerID]*peerSession),
	}
}

func (m *Manager) emit(ev domain.Event) {
	if m.events == nil {
		return
	}
	ev.At = time.Now()
	m.events(ev)
}

// ID returns the identity assigned by the relay, empty before the first join
// acknowledgment.
func (m *Manager) ID() domain.BroadcasterID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// JoinMessage builds the join envelope. After a reconnect it carries the
// previously assigned identity so the relay re-registers the same session.
func (m *Manager) JoinMessage() *domain.Envelope {
	return &domain.Envelope{Type: domain.TypeBroadcasterJoin, BroadcasterID: m.ID()}
}

// HandleSignal dispatches one inbound envelope. Unknown types are logged and
// dropped; a malformed message must never take the session down.
func (m *Manager) HandleSignal(msg *domain.Envelope) {
	var err error
	switch msg.Type {
	case domain.TypeBroadcasterJoined:
		m.mu.Lock()
		m.id = msg.BroadcasterID
		m.mu.Unlock()
		m.logger.Infow("registered with relay", "id", msg.BroadcasterID)
		m.emit(domain.Event{Kind: domain.EventSignalingConnected})

	case domain.TypeViewersNeedConnection:
		for _, viewerID := range msg.Viewers {
			if err := m.ConnectViewer(viewerID); err != nil {
				m.logger.Errorw("connecting viewer failed", "viewer", viewerID, "error", err)
			}
		}

	case domain.TypeAnswer:
		err = m.handleAnswer(msg.ViewerID, msg.Answer)

	case domain.TypeICECandidate:
		err = m.handleCandidate(msg.ViewerID, msg.Candidate)

	case domain.TypeViewerCountUpdate:
		if msg.Count != nil {
			m.emit(domain.Event{Kind: domain.EventViewerCount, Count: *msg.Count})
		}

	case domain.TypeChatMessage:
		m.emit(domain.Event{Kind: domain.EventChatReceived, Title: msg.Username, Message: msg.Message})

	default:
		m.logger.Debugw("ignoring message", "type", msg.Type)
	}

	if err != nil {
		m.logger.Errorw("handling signal failed", "type", msg.Type, "viewer", msg.ViewerID, "error", err)
	}
}

// StartStream announces the stream. Peer sessions follow when the relay
// reports which viewers need connections.
func (m *Manager) StartStream(title string) error {
	return m.signal.Send(&domain.Envelope{
		Type:          domain.TypeStreamStart,
		BroadcasterID: m.ID(),
		Title:         title,
	})
}

// EndStream announces the end and tears down every peer session.
func (m *Manager) EndStream() error {
	err := m.signal.Send(&domain.Envelope{
		Type:          domain.TypeStreamEnd,
		BroadcasterID: m.ID(),
	})
	m.CloseAll()
	return err
}

// SendChat publishes a chat message through the relay.
func (m *Manager) SendChat(username, text string) error {
	return m.signal.Send(&domain.Envelope{
		Type:     domain.TypeChatMessage,
		Username: username,
		Message:  text,
	})
}

// ConnectViewer opens a peer session toward one viewer and sends the initial
// offer. Calling it for a viewer with a healthy session is a no-op, so
// duplicate connection requests from the relay are harmless.
func (m *Manager) ConnectViewer(viewerID domain.ViewerID) error {
	m.mu.Lock()
	existing, ok := m.sessions[viewerID]
	if ok {
		state := existing.pc.ConnectionState()
		if state != webrtc.PeerConnectionStateFailed && state != webrtc.PeerConnectionStateClosed {
			m.mu.Unlock()
			return nil
		}
		delete(m.sessions, viewerID)
	}
	m.mu.Unlock()
	if ok {
		existing.close()
	}

	session, err := m.newSession(viewerID, false)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.sessions[viewerID] = session
	m.mu.Unlock()

	m.emit(domain.Event{Kind: domain.EventPeerConnecting, ViewerID: viewerID})
	return m.sendOffer(session)
}

func (m *Manager) newSession(viewerID domain.ViewerID, retried bool) (*peerSession, error) {
	pc, err := m.engine.NewPeerConnection()
	if err != nil {
		return nil, errors.Wrap(err, errors.ClassConnectivity, "creating peer connection")
	}

	sessionCtx, cancel := context.WithCancel(m.runCtx())
	session := &peerSession{
		viewerID: viewerID,
		pc:       pc,
		guard:    domain.NewNegotiationGuard(),
		senders:  make(map[domain.TrackKind]*webrtc.RTPSender),
		retried:  retried,
		cancel:   cancel,
	}

	for _, kind := range []domain.TrackKind{domain.TrackKindAudio, domain.TrackKindVideo} {
		track := m.tracks.Track(kind)
		if track == nil {
			continue
		}
		sender, err := pc.AddTrack(track)
		if err != nil {
			session.close()
			return nil, errors.Wrap(err, errors.ClassNegotiation, fmt.Sprintf("adding %s track", kind))
		}
		session.setSender(kind, sender)
		go readRTCP(sessionCtx, sender, kind, m.onPLI)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		payload, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		env := &domain.Envelope{
			Type:          domain.TypeICECandidate,
			BroadcasterID: m.ID(),
			ViewerID:      viewerID,
			Candidate:     payload,
		}
		if err := m.signal.Send(env); err != nil {
			m.logger.Warnw("sending candidate failed", "viewer", viewerID, "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.logger.Infow("peer connection state", "viewer", viewerID, "state", state)
		switch state {
		case webrtc.PeerConnectionStateConnected:
			session.retried = false
			m.emit(domain.Event{Kind: domain.EventPeerConnected, ViewerID: viewerID})
		case webrtc.PeerConnectionStateDisconnected:
			m.emit(domain.Event{Kind: domain.EventPeerDisconnected, ViewerID: viewerID})
		case webrtc.PeerConnectionStateFailed:
			m.handleFailed(session)
		}
	})

	return session, nil
}

// sendOffer runs one complete offer round for a session. The negotiation
// guard rejects overlapping rounds; callers treat that as a skipped offer,
// not a failure.
func (m *Manager) sendOffer(session *peerSession) error {
	if err := session.guard.BeginLocalOffer(); err != nil {
		return err
	}

	rollback := func() { session.guard.Transition(domain.NegotiationStable) }

	offer, err := session.pc.CreateOffer(nil)
	if err != nil {
		rollback()
		return errors.Wrap(err, errors.ClassNegotiation, "creating offer")
	}
	if err := session.pc.SetLocalDescription(offer); err != nil {
		rollback()
		return errors.Wrap(err, errors.ClassNegotiation, "setting local offer")
	}

	payload, err := json.Marshal(session.pc.LocalDescription())
	if err != nil {
		rollback()
		return errors.Wrap(err, errors.ClassNegotiation, "encoding offer")
	}

	env := &domain.Envelope{
		Type:          domain.TypeOffer,
		BroadcasterID: m.ID(),
		ViewerID:      session.viewerID,
		Offer:         payload,
	}
	if err := m.signal.Send(env); err != nil {
		rollback()
		return errors.Wrap(err, errors.ClassSignaling, "sending offer")
	}

	m.logger.Infow("offer sent", "viewer", session.viewerID)
	return nil
}

func (m *Manager) handleAnswer(viewerID domain.ViewerID, raw json.RawMessage) error {
	session := m.session(viewerID)
	if session == nil {
		return fmt.Errorf("answer from %s: %w", viewerID, domain.ErrSessionNotFound)
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return errors.Wrap(err, errors.ClassProtocol, "parsing answer")
	}

	if err := session.setRemoteAnswer(answer); err != nil {
		return errors.Wrap(err, errors.ClassNegotiation, "applying answer")
	}
	if err := session.guard.Transition(domain.NegotiationStable); err != nil {
		return err
	}

	if session.takeRenegotiate() {
		return m.sendOffer(session)
	}
	return nil
}

func (m *Manager) handleCandidate(viewerID domain.ViewerID, raw json.RawMessage) error {
	session := m.session(viewerID)
	if session == nil {
		return fmt.Errorf("candidate from %s: %w", viewerID, domain.ErrSessionNotFound)
	}
	return session.addRemoteCandidate(raw)
}

// ReplaceMediaSource swaps the live source for its kind across every peer
// session. Sessions already carrying a sender of that kind get the new track
// in place; the other kind's sender is untouched. One renegotiation per
// session follows, never one per track.
func (m *Manager) ReplaceMediaSource(src ports.MediaSource) error {
	old := m.tracks.Replace(src)
	if old != nil && old != src {
		old.Stop()
	}

	kind := src.Kind()
	newTrack := src.Track()

	m.mu.Lock()
	sessions := make([]*peerSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, session := range sessions {
		if err := m.updateSessionTrack(session, kind, newTrack); err != nil {
			m.logger.Errorw("updating session track failed",
				"viewer", session.viewerID,
				"kind", kind,
				"error", err,
			)
		}
	}

	m.emit(domain.Event{Kind: domain.EventTrackChanged, Track: kind, Title: newTrack.ID()})
	return nil
}

func (m *Manager) updateSessionTrack(session *peerSession, kind domain.TrackKind, newTrack webrtc.TrackLocal) error {
	sender := session.sender(kind)
	if sender != nil {
		current := sender.Track()
		if current != nil && current.ID() == newTrack.ID() {
			return nil
		}
		if err := sender.ReplaceTrack(newTrack); err != nil {
			return errors.Wrap(err, errors.ClassNegotiation, "replacing track")
		}
	} else {
		added, err := session.pc.AddTrack(newTrack)
		if err != nil {
			return errors.Wrap(err, errors.ClassNegotiation, "adding track")
		}
		session.setSender(kind, added)
	}

	if err := m.sendOffer(session); err != nil {
		if stderrors.Is(err, domain.ErrNegotiationPending) {
			session.markRenegotiate()
			m.logger.Infow("renegotiation deferred until current offer completes", "viewer", session.viewerID)
			return nil
		}
		return err
	}
	return nil
}

// SetTrackEnabled toggles mute on the current source of a kind. The track
// keeps its identity, so the update pass over sessions stays a no-op unless
// a source swap raced the toggle; then it repairs the senders.
func (m *Manager) SetTrackEnabled(kind domain.TrackKind, enabled bool) error {
	if err := m.tracks.SetEnabled(kind, enabled); err != nil {
		return err
	}

	track := m.tracks.Track(kind)
	if track == nil {
		return nil
	}

	m.mu.Lock()
	sessions := make([]*peerSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, session := range sessions {
		if err := m.updateSessionTrack(session, kind, track); err != nil {
			m.logger.Errorw("track update after toggle failed", "viewer", session.viewerID, "kind", kind, "error", err)
		}
	}
	return nil
}

// handleFailed rebuilds a failed session once, after a fixed delay. The
// timer is bound to the manager context so teardown cancels pending
// rebuilds.
func (m *Manager) handleFailed(session *peerSession) {
	viewerID := session.viewerID
	m.emit(domain.Event{Kind: domain.EventPeerFailed, ViewerID: viewerID})

	if session.retried {
		m.logger.Warnw("peer session failed twice, giving up", "viewer", viewerID)
		m.removeSession(viewerID)
		return
	}

	m.emit(domain.Event{Kind: domain.EventPeerRetrying, ViewerID: viewerID})
	retry.Timer(m.runCtx(), m.peerCfg.FailedRetryDelay, func() {
		m.removeSession(viewerID)

		rebuilt, err := m.newSession(viewerID, true)
		if err != nil {
			m.logger.Errorw("rebuilding peer session failed", "viewer", viewerID, "error", err)
			return
		}
		m.mu.Lock()
		m.sessions[viewerID] = rebuilt
		m.mu.Unlock()

		if err := m.sendOffer(rebuilt); err != nil {
			m.logger.Errorw("offer after rebuild failed", "viewer", viewerID, "error", err)
		}
	})
}

func (m *Manager) onPLI(kind domain.TrackKind) {
	m.emit(domain.Event{Kind: domain.EventKeyframeRequested, Track: kind})
}

func (m *Manager) runCtx() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

func (m *Manager) session(viewerID domain.ViewerID) *peerSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[viewerID]
}

// DisconnectViewer tears down the session for one viewer.
func (m *Manager) DisconnectViewer(viewerID domain.ViewerID) {
	m.removeSession(viewerID)
	m.emit(domain.Event{Kind: domain.EventViewerLeft, ViewerID: viewerID})
}

func (m *Manager) removeSession(viewerID domain.ViewerID) {
	m.mu.Lock()
	session, ok := m.sessions[viewerID]
	if ok {
		delete(m.sessions, viewerID)
	}
	m.mu.Unlock()

	if ok {
		session.close()
	}
}

// SessionCount reports the number of open peer sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll tears down every peer session and cancels pending timers. The
// manager stays usable: a fresh context backs sessions of any later stream
// on the same process.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	cancel := m.cancel
	sessions := m.sessions
	m.sessions = make(map[domain.ViewerID]*peerSession)
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	cancel()
	for _, session := range sessions {
		session.close()
	}
}
