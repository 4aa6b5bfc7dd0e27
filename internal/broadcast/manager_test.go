package broadcast

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/richardrhg/ocean-live/internal/core/domain"
	"github.com/richardrhg/ocean-live/internal/infrastructure/rtc"
	"github.com/richardrhg/ocean-live/internal/media"
	"github.com/richardrhg/ocean-live/pkg/config"
)

type fakeSignal struct {
	mu   sync.Mutex
	msgs []*domain.Envelope
}

func (f *fakeSignal) Send(msg *domain.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeSignal) byType(t domain.MessageType) []*domain.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*domain.Envelope
	for _, m := range f.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func newTestManager(t *testing.T) (*Manager, *fakeSignal, *media.TrackSet) {
	t.Helper()

	engine, err := rtc.NewEngine(config.WebRTCConfig{})
	require.NoError(t, err)

	tracks := media.NewTrackSet()
	audio, err := media.NewSyntheticSource(domain.TrackKindAudio, "audio-1", "stream")
	require.NoError(t, err)
	video, err := media.NewSyntheticSource(domain.TrackKindVideo, "video-1", "stream")
	require.NoError(t, err)
	tracks.Replace(audio)
	tracks.Replace(video)

	signal := &fakeSignal{}
	cfg := config.PeerConfig{FailedRetryDelay: 20 * time.Millisecond, SelfCheckInterval: time.Second}
	m := NewManager(engine, cfg, signal, tracks, nil, zap.NewNop().Sugar())
	t.Cleanup(m.CloseAll)
	return m, signal, tracks
}

// answerOffer plays the viewer's half of negotiation against a raw offer
// payload and returns the encoded answer.
func answerOffer(t *testing.T, rawOffer json.RawMessage) json.RawMessage {
	t.Helper()

	var offer webrtc.SessionDescription
	require.NoError(t, json.Unmarshal(rawOffer, &offer))

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	require.NoError(t, pc.SetRemoteDescription(offer))
	answer, err := pc.CreateAnswer(nil)
	require.NoError(t, err)
	require.NoError(t, pc.SetLocalDescription(answer))

	raw, err := json.Marshal(pc.LocalDescription())
	require.NoError(t, err)
	return raw
}

func TestConnectViewerSendsOneOffer(t *testing.T) {
	m, signal, _ := newTestManager(t)

	require.NoError(t, m.ConnectViewer("viewer_a"))
	assert.Equal(t, 1, m.SessionCount())

	offers := signal.byType(domain.TypeOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, domain.ViewerID("viewer_a"), offers[0].ViewerID)

	var sdp webrtc.SessionDescription
	require.NoError(t, json.Unmarshal(offers[0].Offer, &sdp))
	assert.Equal(t, webrtc.SDPTypeOffer, sdp.Type)

	// A duplicate connection request for a healthy session is a no-op.
	require.NoError(t, m.ConnectViewer("viewer_a"))
	assert.Equal(t, 1, m.SessionCount())
	assert.Len(t, signal.byType(domain.TypeOffer), 1)
}

func TestSecondOfferBlockedUntilAnswer(t *testing.T) {
	m, signal, _ := newTestManager(t)

	require.NoError(t, m.ConnectViewer("viewer_a"))
	session := m.session("viewer_a")
	require.NotNil(t, session)

	// Renegotiating before the answer arrives must be refused.
	err := m.sendOffer(session)
	assert.ErrorIs(t, err, domain.ErrNegotiationPending)

	offers := signal.byType(domain.TypeOffer)
	answer := answerOffer(t, offers[0].Offer)
	require.NoError(t, m.handleAnswer("viewer_a", answer))
	assert.Equal(t, domain.NegotiationStable, session.guard.State())

	require.NoError(t, m.sendOffer(session))
	assert.Len(t, signal.byType(domain.TypeOffer), 2)
}

func TestReplaceVideoPreservesAudioSender(t *testing.T) {
	m, signal, _ := newTestManager(t)

	require.NoError(t, m.ConnectViewer("viewer_a"))
	session := m.session("viewer_a")
	require.NotNil(t, session)

	offers := signal.byType(domain.TypeOffer)
	require.NoError(t, m.handleAnswer("viewer_a", answerOffer(t, offers[0].Offer)))

	audioSender := session.sender(domain.TrackKindAudio)
	require.NotNil(t, audioSender)

	video2, err := media.NewSyntheticSource(domain.TrackKindVideo, "video-2", "stream")
	require.NoError(t, err)
	require.NoError(t, m.ReplaceMediaSource(video2))

	// The audio sender object and its track survive the video swap.
	assert.Same(t, audioSender, session.sender(domain.TrackKindAudio))
	assert.Equal(t, "audio-1", audioSender.Track().ID())
	assert.Equal(t, "video-2", session.sender(domain.TrackKindVideo).Track().ID())

	// Exactly one renegotiation offer follows the swap.
	assert.Len(t, signal.byType(domain.TypeOffer), 2)
}

func TestReplaceWithSameTrackSkipsRenegotiation(t *testing.T) {
	m, signal, tracks := newTestManager(t)

	require.NoError(t, m.ConnectViewer("viewer_a"))
	offers := signal.byType(domain.TypeOffer)
	require.NoError(t, m.handleAnswer("viewer_a", answerOffer(t, offers[0].Offer)))

	// Same identity, same sender: nothing to renegotiate.
	current := tracks.Get(domain.TrackKindVideo)
	require.NoError(t, m.ReplaceMediaSource(current))
	assert.Len(t, signal.byType(domain.TypeOffer), 1)
}

func TestReplaceDuringNegotiationDefersOneOffer(t *testing.T) {
	m, signal, _ := newTestManager(t)

	require.NoError(t, m.ConnectViewer("viewer_a"))
	session := m.session("viewer_a")
	require.NotNil(t, session)

	// The initial offer is still unanswered, so the swap cannot renegotiate
	// yet. The track changes in place and the follow-up offer is deferred.
	video2, err := media.NewSyntheticSource(domain.TrackKindVideo, "video-2", "stream")
	require.NoError(t, err)
	require.NoError(t, m.ReplaceMediaSource(video2))
	assert.Len(t, signal.byType(domain.TypeOffer), 1)
	assert.Equal(t, "video-2", session.sender(domain.TrackKindVideo).Track().ID())

	// Completing the first round fires exactly one deferred offer.
	offers := signal.byType(domain.TypeOffer)
	require.NoError(t, m.handleAnswer("viewer_a", answerOffer(t, offers[0].Offer)))
	assert.Len(t, signal.byType(domain.TypeOffer), 2)
	assert.Equal(t, domain.NegotiationHaveLocalOffer, session.guard.State())
	assert.False(t, session.takeRenegotiate())
}

func TestToggleTrackDoesNotRenegotiate(t *testing.T) {
	m, signal, tracks := newTestManager(t)

	require.NoError(t, m.ConnectViewer("viewer_a"))
	offers := signal.byType(domain.TypeOffer)
	require.NoError(t, m.handleAnswer("viewer_a", answerOffer(t, offers[0].Offer)))

	// Muting runs the sender update pass, which finds the identity unchanged
	// and stays quiet on the wire.
	require.NoError(t, m.SetTrackEnabled(domain.TrackKindVideo, false))
	assert.False(t, tracks.Get(domain.TrackKindVideo).Enabled())
	assert.Len(t, signal.byType(domain.TypeOffer), 1)

	require.NoError(t, m.SetTrackEnabled(domain.TrackKindVideo, true))
	assert.True(t, tracks.Get(domain.TrackKindVideo).Enabled())
}

func TestCandidateQueuedUntilAnswer(t *testing.T) {
	m, _, _ := newTestManager(t)

	require.NoError(t, m.ConnectViewer("viewer_a"))
	session := m.session("viewer_a")
	require.NotNil(t, session)

	raw := json.RawMessage(`{"candidate":"candidate:1 1 udp 2122260223 192.0.2.1 50000 typ host","sdpMid":"0","sdpMLineNumber":0}`)
	require.NoError(t, m.handleCandidate("viewer_a", raw))

	session.candMu.Lock()
	queued := len(session.pending)
	session.candMu.Unlock()
	assert.Equal(t, 1, queued)
}

func TestAnswerForUnknownSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	err := m.handleAnswer("viewer_missing", json.RawMessage(`{"type":"answer","sdp":"v=0"}`))
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestFailedSessionRebuiltOnce(t *testing.T) {
	m, signal, _ := newTestManager(t)

	require.NoError(t, m.ConnectViewer("viewer_a"))
	session := m.session("viewer_a")
	require.NotNil(t, session)

	m.handleFailed(session)

	// The rebuild fires after the retry delay with a fresh offer.
	assert.Eventually(t, func() bool {
		return len(signal.byType(domain.TypeOffer)) == 2
	}, 2*time.Second, 10*time.Millisecond)

	rebuilt := m.session("viewer_a")
	require.NotNil(t, rebuilt)
	assert.NotSame(t, session, rebuilt)
	assert.True(t, rebuilt.retried)

	// A second failure is final.
	m.handleFailed(rebuilt)
	assert.Eventually(t, func() bool {
		return m.SessionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManagerReusableAfterCloseAll(t *testing.T) {
	m, signal, _ := newTestManager(t)

	require.NoError(t, m.ConnectViewer("viewer_a"))
	m.CloseAll()
	assert.Equal(t, 0, m.SessionCount())

	// Sessions of a later stream run on a live context: the failed-state
	// rebuild timer must still fire.
	require.NoError(t, m.ConnectViewer("viewer_b"))
	session := m.session("viewer_b")
	require.NotNil(t, session)

	m.handleFailed(session)
	assert.Eventually(t, func() bool {
		return len(signal.byType(domain.TypeOffer)) == 3
	}, 2*time.Second, 10*time.Millisecond)

	rebuilt := m.session("viewer_b")
	require.NotNil(t, rebuilt)
	assert.True(t, rebuilt.retried)
}

func TestViewersNeedConnectionSignal(t *testing.T) {
	m, signal, _ := newTestManager(t)

	m.HandleSignal(&domain.Envelope{Type: domain.TypeBroadcasterJoined, BroadcasterID: "broadcaster_x"})
	assert.Equal(t, domain.BroadcasterID("broadcaster_x"), m.ID())

	m.HandleSignal(domain.NewViewersNeedConnection([]domain.ViewerID{"viewer_a", "viewer_b"}, ""))
	assert.Equal(t, 2, m.SessionCount())
	assert.Len(t, signal.byType(domain.TypeOffer), 2)
}
