package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"

	"github.com/richardrhg/ocean-live/internal/core/domain"
)

// peerSession is one broadcaster-side peer connection serving one viewer.
type peerSession struct {
	viewerID domain.ViewerID
	pc       *webrtc.PeerConnection
	guard    *domain.NegotiationGuard

	// senders holds the RTP sender per media kind so a track of one kind
	// can be swapped without disturbing the other.
	sendersMu sync.Mutex
	senders   map[domain.TrackKind]*webrtc.RTPSender

	candMu    sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit

	// retried marks a session rebuilt after a transport failure. A second
	// failure is final.
	retried bool

	// renegotiate records a track change that landed while an offer was in
	// flight. The next answer completes that round and fires one follow-up
	// offer, so the change is signaled instead of dropped.
	negMu       sync.Mutex
	renegotiate bool

	cancel context.CancelFunc
}

func (s *peerSession) sender(kind domain.TrackKind) *webrtc.RTPSender {
	s.sendersMu.Lock()
	defer s.sendersMu.Unlock()
	return s.senders[kind]
}

func (s *peerSession) setSender(kind domain.TrackKind, sender *webrtc.RTPSender) {
	s.sendersMu.Lock()
	defer s.sendersMu.Unlock()
	s.senders[kind] = sender
}

// setRemoteAnswer applies the viewer's answer and releases any candidates
// that arrived before the remote description existed.
func (s *peerSession) setRemoteAnswer(answer webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("setting remote answer: %w", err)
	}

	s.candMu.Lock()
	s.remoteSet = true
	queued := s.pending
	s.pending = nil
	s.candMu.Unlock()

	for _, cand := range queued {
		if err := s.pc.AddICECandidate(cand); err != nil {
			return fmt.Errorf("adding queued candidate: %w", err)
		}
	}
	return nil
}

// addRemoteCandidate applies a candidate immediately or queues it until the
// remote description is set. Applying early is a hard error in the engine;
// queueing makes arrival order irrelevant.
func (s *peerSession) addRemoteCandidate(raw json.RawMessage) error {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &cand); err != nil {
		return fmt.Errorf("parsing candidate: %w", err)
	}

	s.candMu.Lock()
	if !s.remoteSet {
		s.pending = append(s.pending, cand)
		s.candMu.Unlock()
		return nil
	}
	s.candMu.Unlock()

	return s.pc.AddICECandidate(cand)
}

func (s *peerSession) markRenegotiate() {
	s.negMu.Lock()
	s.renegotiate = true
	s.negMu.Unlock()
}

func (s *peerSession) takeRenegotiate() bool {
	s.negMu.Lock()
	defer s.negMu.Unlock()
	pending := s.renegotiate
	s.renegotiate = false
	return pending
}

func (s *peerSession) close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.guard.Transition(domain.NegotiationClosed)
	s.pc.Close()
}

// readRTCP drains sender reports for one RTP sender. Viewers request
// keyframes through PLI packets; the manager surfaces those so a source
// that can produce keyframes on demand may react.
func readRTCP(ctx context.Context, sender *webrtc.RTPSender, kind domain.TrackKind, onPLI func(domain.TrackKind)) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}

		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, pkt := range packets {
			if _, ok := pkt.(*rtcp.PictureLossIndication); ok && onPLI != nil {
				onPLI(kind)
			}
		}
	}
}
