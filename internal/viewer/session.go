// Package viewer manages the watching side of a live stream: a single peer
// session fed by broadcaster offers, remote track consumption, and recovery
// by rejoining when the transport dies under it.
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/richardrhg/ocean-live/internal/core/domain"
	"github.com/richardrhg/ocean-live/internal/core/ports"
	"github.com/richardrhg/ocean-live/internal/infrastructure/rtc"
	"github.com/richardrhg/ocean-live/pkg/config"
	oerrors "github.com/richardrhg/ocean-live/pkg/errors"
)

type Session struct {
	engine  *rtc.Engine
	peerCfg config.PeerConfig
	signal  ports.SignalSender
	events  domain.EventHandler
	logger  *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	id            domain.ViewerID
	broadcasterID domain.BroadcasterID
	pc            *webrtc.PeerConnection
	guard         *domain.NegotiationGuard
	remoteSet     bool
	pending       []webrtc.ICECandidateInit
	live          bool
	hasVideo      bool

	// lastMediaNanos is the arrival time of the most recent video packet,
	// read by the self-check loop.
	lastMediaNanos int64
}

func NewSession(engine *rtc.Engine, peerCfg config.PeerConfig, signal ports.SignalSender, events domain.EventHandler, logger *zap.SugaredLogger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		engine:  engine,
		peerCfg: peerCfg,
		signal:  signal,
		events:  events,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Session) emit(ev domain.Event) {
	if s.events == nil {
		return
	}
	ev.At = time.Now()
	s.events(ev)
}

func (s *Session) ID() domain.ViewerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// JoinMessage builds the join envelope, carrying the assigned identity on
// reconnects so the broadcaster reuses the same addressing.
func (s *Session) JoinMessage() *domain.Envelope {
	return &domain.Envelope{Type: domain.TypeViewerJoin, ViewerID: s.ID()}
}

// HeartbeatMessage builds the periodic liveness envelope with the viewer's
// identity and send time.
func (s *Session) HeartbeatMessage() *domain.Envelope {
	return &domain.Envelope{
		Type:      domain.TypeHeartbeat,
		ViewerID:  s.ID(),
		Timestamp: time.Now().UnixMilli(),
	}
}

// HandleSignal dispatches one inbound envelope. Malformed messages are
// logged and dropped.
func (s *Session) HandleSignal(msg *domain.Envelope) {
	var err error
	switch msg.Type {
	case domain.TypeViewerJoined:
		s.mu.Lock()
		s.id = msg.ViewerID
		s.mu.Unlock()
		s.logger.Infow("registered with relay", "id", msg.ViewerID)
		s.emit(domain.Event{Kind: domain.EventSignalingConnected})

	case domain.TypeStreamStart:
		s.mu.Lock()
		s.live = true
		ready := s.pc != nil
		s.mu.Unlock()
		// The offer may be moments away; having the peer connection up
		// front lets candidates gather while it travels.
		if !ready {
			err = s.resetPeer()
		}
		s.emit(domain.Event{Kind: domain.EventStreamStarted, Title: msg.Title})

	case domain.TypeStreamEnd:
		s.mu.Lock()
		s.live = false
		s.mu.Unlock()
		s.closePeer()
		s.emit(domain.Event{Kind: domain.EventStreamEnded, Message: msg.Message})

	case domain.TypeOffer:
		err = s.handleOffer(msg.BroadcasterID, msg.Offer)

	case domain.TypeICECandidate:
		err = s.handleCandidate(msg.Candidate)

	case domain.TypeViewerCountUpdate:
		if msg.Count != nil {
			s.emit(domain.Event{Kind: domain.EventViewerCount, Count: *msg.Count})
		}

	case domain.TypeChatMessage:
		s.emit(domain.Event{Kind: domain.EventChatReceived, Title: msg.Username, Message: msg.Message})

	default:
		s.logger.Debugw("ignoring message", "type", msg.Type)
	}

	if err != nil {
		s.logger.Errorw("handling signal failed", "type", msg.Type, "error", err)
	}
}

// handleOffer answers an offer from the broadcaster. A stable session with a
// remote description already applied treats the offer as a renegotiation and
// keeps the existing transport; anything else gets a fresh peer connection.
func (s *Session) handleOffer(broadcasterID domain.BroadcasterID, raw json.RawMessage) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		return oerrors.Wrap(err, oerrors.ClassProtocol, "parsing offer")
	}

	s.mu.Lock()
	s.broadcasterID = broadcasterID

	usable := s.pc != nil &&
		s.guard.State() == domain.NegotiationStable &&
		s.pc.ConnectionState() != webrtc.PeerConnectionStateFailed &&
		s.pc.ConnectionState() != webrtc.PeerConnectionStateClosed
	// A described session renegotiates in place; a never-described one is a
	// pre-created connection from stream_start and takes this first offer.
	renegotiation := usable && s.remoteSet
	fresh := usable && !s.remoteSet && s.pc.RemoteDescription() == nil
	s.mu.Unlock()

	if !renegotiation && !fresh {
		if err := s.resetPeer(); err != nil {
			return err
		}
	}
	s.logger.Infow("answering offer", "renegotiation", renegotiation)

	s.mu.Lock()
	pc := s.pc
	guard := s.guard
	s.mu.Unlock()

	if err := guard.Transition(domain.NegotiationHaveRemoteOffer); err != nil {
		return err
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		guard.Transition(domain.NegotiationStable)
		return oerrors.Wrap(err, oerrors.ClassNegotiation, "setting remote offer")
	}
	s.flushCandidates(pc)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return oerrors.Wrap(err, oerrors.ClassNegotiation, "creating answer")
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return oerrors.Wrap(err, oerrors.ClassNegotiation, "setting local answer")
	}

	payload, err := json.Marshal(pc.LocalDescription())
	if err != nil {
		return oerrors.Wrap(err, oerrors.ClassNegotiation, "encoding answer")
	}
	if err := s.signal.Send(&domain.Envelope{
		Type:     domain.TypeAnswer,
		ViewerID: s.ID(),
		Answer:   payload,
	}); err != nil {
		return oerrors.Wrap(err, oerrors.ClassSignaling, "sending answer")
	}

	return guard.Transition(domain.NegotiationStable)
}

// resetPeer replaces the peer connection with a fresh one. Candidate state
// starts over; queued candidates from the previous transport are discarded.
func (s *Session) resetPeer() error {
	s.closePeer()

	pc, err := s.engine.NewPeerConnection()
	if err != nil {
		return oerrors.Wrap(err, oerrors.ClassConnectivity, "creating peer connection")
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		payload, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		if err := s.signal.Send(&domain.Envelope{
			Type:      domain.TypeICECandidate,
			ViewerID:  s.ID(),
			Candidate: payload,
		}); err != nil {
			s.logger.Warnw("sending candidate failed", "error", err)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		kind := domain.TrackKindAudio
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			kind = domain.TrackKindVideo
			s.mu.Lock()
			s.hasVideo = true
			s.mu.Unlock()
		}
		s.logger.Infow("remote track", "kind", kind, "id", track.ID())
		s.emit(domain.Event{Kind: domain.EventRemoteStream, Track: kind, Title: track.ID()})

		go s.consumeTrack(track, kind)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Infow("peer connection state", "state", state)
		switch state {
		case webrtc.PeerConnectionStateConnecting:
			s.emit(domain.Event{Kind: domain.EventPeerConnecting})
		case webrtc.PeerConnectionStateConnected:
			s.emit(domain.Event{Kind: domain.EventPeerConnected})
		case webrtc.PeerConnectionStateDisconnected:
			s.emit(domain.Event{Kind: domain.EventPeerDisconnected})
		case webrtc.PeerConnectionStateFailed:
			s.emit(domain.Event{Kind: domain.EventPeerFailed})
			s.scheduleRecovery()
		}
	})

	s.mu.Lock()
	s.pc = pc
	s.guard = domain.NewNegotiationGuard()
	s.remoteSet = false
	s.pending = nil
	s.hasVideo = false
	s.mu.Unlock()
	return nil
}

// consumeTrack drains one remote track until it ends. Every video packet
// refreshes the media clock the self-check loop watches.
func (s *Session) consumeTrack(track *webrtc.TrackRemote, kind domain.TrackKind) {
	for {
		_, _, err := track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.emit(domain.Event{Kind: domain.EventTrackEnded, Track: kind})
			}
			return
		}
		if kind == domain.TrackKindVideo {
			s.mu.Lock()
			s.lastMediaNanos = time.Now().UnixNano()
			s.mu.Unlock()
		}
	}
}

func (s *Session) flushCandidates(pc *webrtc.PeerConnection) {
	s.mu.Lock()
	s.remoteSet = true
	queued := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, cand := range queued {
		if err := pc.AddICECandidate(cand); err != nil {
			s.logger.Warnw("adding queued candidate failed", "error", err)
		}
	}
}

func (s *Session) handleCandidate(raw json.RawMessage) error {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &cand); err != nil {
		return oerrors.Wrap(err, oerrors.ClassProtocol, "parsing candidate")
	}

	s.mu.Lock()
	pc := s.pc
	if pc == nil || !s.remoteSet {
		s.pending = append(s.pending, cand)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	return pc.AddICECandidate(cand)
}

// scheduleRecovery rejoins after the retry delay. The viewer cannot rebuild
// the transport alone; rejoining makes the relay prompt the broadcaster to
// send a fresh offer.
func (s *Session) scheduleRecovery() {
	s.emit(domain.Event{Kind: domain.EventRecoveryNeeded})

	go func() {
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.peerCfg.FailedRetryDelay):
		}
		s.logger.Infow("rejoining after transport failure")
		if err := s.signal.Send(s.JoinMessage()); err != nil {
			s.logger.Errorw("rejoin failed", "error", err)
		}
	}()
}

// RunSelfCheck periodically verifies that a live stream with a video track
// is actually delivering packets, and triggers recovery when it stalls.
func (s *Session) RunSelfCheck(ctx context.Context) {
	if s.peerCfg.SelfCheckInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.peerCfg.SelfCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.stalled() {
				s.logger.Warnw("video stalled, requesting reconnection")
				s.scheduleRecovery()
			}
		}
	}
}

func (s *Session) stalled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.live || !s.hasVideo || s.pc == nil {
		return false
	}
	if s.pc.ConnectionState() != webrtc.PeerConnectionStateConnected {
		return false
	}
	if s.lastMediaNanos == 0 {
		return false
	}
	return time.Since(time.Unix(0, s.lastMediaNanos)) > s.peerCfg.SelfCheckInterval
}

// SendChat publishes a chat message through the relay.
func (s *Session) SendChat(username, text string) error {
	return s.signal.Send(&domain.Envelope{
		Type:     domain.TypeChatMessage,
		Username: username,
		Message:  text,
	})
}

func (s *Session) closePeer() {
	s.mu.Lock()
	pc := s.pc
	guard := s.guard
	s.pc = nil
	s.remoteSet = false
	s.pending = nil
	s.hasVideo = false
	s.lastMediaNanos = 0
	s.mu.Unlock()

	if guard != nil {
		guard.Transition(domain.NegotiationClosed)
	}
	if pc != nil {
		pc.Close()
	}
}

// Close tears the session down.
func (s *Session) Close() {
	s.cancel()
	s.closePeer()
}
