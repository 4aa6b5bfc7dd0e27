package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/richardrhg/ocean-live/internal/core/domain"
	"github.com/richardrhg/ocean-live/internal/infrastructure/presence"
	"github.com/richardrhg/ocean-live/pkg/config"
)

func newTestRelay() *Relay {
	cfg := config.DefaultConfig()
	return New(cfg.Relay, cfg.Chat, presence.NewMemoryStore(), nil, zap.NewNop().Sugar())
}

func startTestServer(t *testing.T, r *Relay) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.HandleWebSocket(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + srv.URL[4:] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) domain.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg domain.Envelope
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func joinBroadcaster(t *testing.T, conn *websocket.Conn) domain.BroadcasterID {
	t.Helper()
	require.NoError(t, conn.WriteJSON(domain.Envelope{Type: domain.TypeBroadcasterJoin}))
	ack := readEnvelope(t, conn)
	require.Equal(t, domain.TypeBroadcasterJoined, ack.Type)
	require.NotEmpty(t, ack.BroadcasterID)
	return ack.BroadcasterID
}

func joinViewer(t *testing.T, conn *websocket.Conn) domain.ViewerID {
	t.Helper()
	require.NoError(t, conn.WriteJSON(domain.Envelope{Type: domain.TypeViewerJoin}))
	ack := readEnvelope(t, conn)
	require.Equal(t, domain.TypeViewerJoined, ack.Type)
	require.NotEmpty(t, ack.ViewerID)
	return ack.ViewerID
}

func TestBroadcasterJoinBeforeViewers(t *testing.T) {
	r := newTestRelay()
	srv := startTestServer(t, r)

	bc := dial(t, srv)
	joinBroadcaster(t, bc)

	viewer := dial(t, srv)
	viewerID := joinViewer(t, viewer)

	// Viewer sees its own count; broadcaster is told the new total.
	count := readEnvelope(t, viewer)
	assert.Equal(t, domain.TypeViewerCountUpdate, count.Type)
	require.NotNil(t, count.Count)
	assert.Equal(t, 1, *count.Count)

	bcCount := readEnvelope(t, bc)
	assert.Equal(t, domain.TypeViewerCountUpdate, bcCount.Type)
	require.NotNil(t, bcCount.Count)
	assert.Equal(t, 1, *bcCount.Count)

	st := r.Status()
	assert.False(t, st.Live)
	assert.Equal(t, []domain.ViewerID{viewerID}, st.Viewers)
}

func TestWaitingViewersAnnouncedOnlyAtStreamStart(t *testing.T) {
	r := newTestRelay()
	srv := startTestServer(t, r)

	viewer := dial(t, srv)
	viewerID := joinViewer(t, viewer)
	readEnvelope(t, viewer) // viewer_count_update

	bc := dial(t, srv)
	joinBroadcaster(t, bc)

	// The broadcast is idle, so joining sends no connection requests. The
	// waiting viewer list arrives exactly once, with stream_start: the next
	// message the broadcaster sees is that list and nothing before it.
	require.NoError(t, bc.WriteJSON(domain.Envelope{Type: domain.TypeStreamStart, Title: "warmup"}))

	need := readEnvelope(t, bc)
	require.Equal(t, domain.TypeViewersNeedConnection, need.Type)
	assert.Equal(t, []domain.ViewerID{viewerID}, need.Viewers)
}

func TestStreamStartReachesViewersAndListsThem(t *testing.T) {
	r := newTestRelay()
	srv := startTestServer(t, r)

	bc := dial(t, srv)
	joinBroadcaster(t, bc)

	viewer := dial(t, srv)
	viewerID := joinViewer(t, viewer)
	readEnvelope(t, viewer) // viewer_count_update
	readEnvelope(t, bc)     // viewer_count_update

	require.NoError(t, bc.WriteJSON(domain.Envelope{Type: domain.TypeStreamStart, Title: "morning show"}))

	start := readEnvelope(t, viewer)
	assert.Equal(t, domain.TypeStreamStart, start.Type)
	assert.Equal(t, "morning show", start.Title)

	need := readEnvelope(t, bc)
	require.Equal(t, domain.TypeViewersNeedConnection, need.Type)
	assert.Equal(t, []domain.ViewerID{viewerID}, need.Viewers)

	assert.True(t, r.Status().Live)
	assert.Equal(t, "morning show", r.Status().Title)
}

func TestMidStreamViewerJoin(t *testing.T) {
	r := newTestRelay()
	srv := startTestServer(t, r)

	bc := dial(t, srv)
	joinBroadcaster(t, bc)
	require.NoError(t, bc.WriteJSON(domain.Envelope{Type: domain.TypeStreamStart, Title: "live now"}))

	viewer := dial(t, srv)
	viewerID := joinViewer(t, viewer)

	// The late viewer learns the stream is already live.
	start := readEnvelope(t, viewer)
	assert.Equal(t, domain.TypeStreamStart, start.Type)
	assert.Equal(t, "live now", start.Title)

	// The broadcaster is asked to connect to exactly this viewer.
	need := readEnvelope(t, bc)
	require.Equal(t, domain.TypeViewersNeedConnection, need.Type)
	assert.Equal(t, []domain.ViewerID{viewerID}, need.Viewers)
}

func TestOfferAnswerRouting(t *testing.T) {
	r := newTestRelay()
	srv := startTestServer(t, r)

	bc := dial(t, srv)
	bcID := joinBroadcaster(t, bc)

	viewer := dial(t, srv)
	viewerID := joinViewer(t, viewer)
	readEnvelope(t, viewer) // viewer_count_update
	readEnvelope(t, bc)     // viewer_count_update

	sdpOffer := json.RawMessage(`{"type":"offer","sdp":"v=0 offer"}`)
	require.NoError(t, bc.WriteJSON(domain.Envelope{
		Type:     domain.TypeOffer,
		ViewerID: viewerID,
		Offer:    sdpOffer,
	}))

	got := readEnvelope(t, viewer)
	require.Equal(t, domain.TypeOffer, got.Type)
	assert.Equal(t, bcID, got.BroadcasterID)
	assert.JSONEq(t, string(sdpOffer), string(got.Offer))

	sdpAnswer := json.RawMessage(`{"type":"answer","sdp":"v=0 answer"}`)
	require.NoError(t, viewer.WriteJSON(domain.Envelope{
		Type:     domain.TypeAnswer,
		ViewerID: viewerID,
		Answer:   sdpAnswer,
	}))

	got = readEnvelope(t, bc)
	require.Equal(t, domain.TypeAnswer, got.Type)
	assert.Equal(t, viewerID, got.ViewerID)
	assert.JSONEq(t, string(sdpAnswer), string(got.Answer))
}

func TestICECandidateDirectionRouting(t *testing.T) {
	r := newTestRelay()
	srv := startTestServer(t, r)

	bc := dial(t, srv)
	bcID := joinBroadcaster(t, bc)

	viewer := dial(t, srv)
	viewerID := joinViewer(t, viewer)
	readEnvelope(t, viewer)
	readEnvelope(t, bc)

	candidate := json.RawMessage(`{"candidate":"candidate:1 1 udp 2122260223 10.0.0.1 50000 typ host"}`)

	// Both identifiers present: from the broadcaster, to the viewer.
	require.NoError(t, bc.WriteJSON(domain.Envelope{
		Type:          domain.TypeICECandidate,
		BroadcasterID: bcID,
		ViewerID:      viewerID,
		Candidate:     candidate,
	}))
	got := readEnvelope(t, viewer)
	require.Equal(t, domain.TypeICECandidate, got.Type)
	assert.Equal(t, bcID, got.BroadcasterID)
	assert.JSONEq(t, string(candidate), string(got.Candidate))

	// Only viewerId: from the viewer, to the broadcaster.
	require.NoError(t, viewer.WriteJSON(domain.Envelope{
		Type:      domain.TypeICECandidate,
		ViewerID:  viewerID,
		Candidate: candidate,
	}))
	got = readEnvelope(t, bc)
	require.Equal(t, domain.TypeICECandidate, got.Type)
	assert.Equal(t, viewerID, got.ViewerID)
	assert.Empty(t, got.BroadcasterID)
}

func TestBroadcasterDisconnectEndsStream(t *testing.T) {
	r := newTestRelay()
	srv := startTestServer(t, r)

	bc := dial(t, srv)
	joinBroadcaster(t, bc)
	require.NoError(t, bc.WriteJSON(domain.Envelope{Type: domain.TypeStreamStart, Title: "short-lived"}))

	viewer := dial(t, srv)
	joinViewer(t, viewer)
	readEnvelope(t, viewer) // stream_start
	readEnvelope(t, bc)     // viewers_need_connection
	readEnvelope(t, viewer) // viewer_count_update
	readEnvelope(t, bc)     // viewer_count_update

	bc.Close()

	end := readEnvelope(t, viewer)
	assert.Equal(t, domain.TypeStreamEnd, end.Type)

	assert.Eventually(t, func() bool {
		return !r.Status().Live && r.Status().Broadcaster == ""
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChatFanOutSkipsSender(t *testing.T) {
	r := newTestRelay()
	srv := startTestServer(t, r)

	bc := dial(t, srv)
	joinBroadcaster(t, bc)

	v1 := dial(t, srv)
	joinViewer(t, v1)
	readEnvelope(t, v1)
	readEnvelope(t, bc)

	v2 := dial(t, srv)
	joinViewer(t, v2)
	readEnvelope(t, v1) // count 2
	readEnvelope(t, v2) // count 2
	readEnvelope(t, bc) // count 2

	require.NoError(t, v1.WriteJSON(domain.Envelope{
		Type:     domain.TypeChatMessage,
		Username: "alice",
		Message:  "hello",
	}))

	for _, conn := range []*websocket.Conn{bc, v2} {
		got := readEnvelope(t, conn)
		assert.Equal(t, domain.TypeChatMessage, got.Type)
		assert.Equal(t, "alice", got.Username)
		assert.Equal(t, "hello", got.Message)
		assert.NotZero(t, got.Timestamp)
	}

	// The sender gets nothing back; the next message it reads must not be
	// its own chat echo.
	require.NoError(t, v2.WriteJSON(domain.Envelope{
		Type:     domain.TypeChatMessage,
		Username: "bob",
		Message:  "hi alice",
	}))
	got := readEnvelope(t, v1)
	assert.Equal(t, "bob", got.Username)
}

func TestChatFloodLimiter(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Chat.MessagesPerSecond = 0.5
	cfg.Chat.Burst = 1
	r := New(cfg.Relay, cfg.Chat, presence.NewMemoryStore(), nil, zap.NewNop().Sugar())
	srv := startTestServer(t, r)

	bc := dial(t, srv)
	joinBroadcaster(t, bc)

	viewer := dial(t, srv)
	viewerID := joinViewer(t, viewer)
	readEnvelope(t, viewer)
	readEnvelope(t, bc)

	for i := 0; i < 3; i++ {
		require.NoError(t, viewer.WriteJSON(domain.Envelope{
			Type:     domain.TypeChatMessage,
			Username: "flooder",
			Message:  "spam",
		}))
	}
	// A signaling message after the burst proves the dropped chats never
	// reached the broadcaster.
	require.NoError(t, viewer.WriteJSON(domain.Envelope{
		Type:     domain.TypeAnswer,
		ViewerID: viewerID,
		Answer:   json.RawMessage(`{"type":"answer","sdp":"v=0"}`),
	}))

	first := readEnvelope(t, bc)
	assert.Equal(t, domain.TypeChatMessage, first.Type)
	second := readEnvelope(t, bc)
	assert.Equal(t, domain.TypeAnswer, second.Type)
}

func TestOfferToUnknownViewerFails(t *testing.T) {
	r := newTestRelay()
	srv := startTestServer(t, r)

	bc := dial(t, srv)
	joinBroadcaster(t, bc)

	err := r.handleOffer(r.broadcasterConn(), &domain.Envelope{
		Type:     domain.TypeOffer,
		ViewerID: "viewer_missing",
		Offer:    json.RawMessage(`{}`),
	})
	assert.ErrorIs(t, err, domain.ErrViewerNotFound)
}

func TestAnswerWithoutBroadcasterFails(t *testing.T) {
	r := newTestRelay()
	srv := startTestServer(t, r)

	viewer := dial(t, srv)
	viewerID := joinViewer(t, viewer)
	readEnvelope(t, viewer)

	err := r.handleAnswer(r.viewerConn(viewerID), &domain.Envelope{
		Type:     domain.TypeAnswer,
		ViewerID: viewerID,
		Answer:   json.RawMessage(`{}`),
	})
	assert.ErrorIs(t, err, domain.ErrNoBroadcaster)
}

func TestReaperRemovesSilentConnections(t *testing.T) {
	r := newTestRelay()
	srv := startTestServer(t, r)

	viewer := dial(t, srv)
	joinViewer(t, viewer)
	readEnvelope(t, viewer)

	require.Equal(t, 1, r.Status().ViewerCount)

	// First pass marks the connection suspect; the client runs no read
	// loop, so no pong ever comes back. Second pass reaps it.
	r.reapOnce()
	r.reapOnce()

	assert.Equal(t, 0, r.Status().ViewerCount)
}

func TestSecondBroadcasterReplacesFirst(t *testing.T) {
	r := newTestRelay()
	srv := startTestServer(t, r)

	first := dial(t, srv)
	joinBroadcaster(t, first)

	second := dial(t, srv)
	secondID := joinBroadcaster(t, second)

	assert.Eventually(t, func() bool {
		return r.Status().Broadcaster == string(secondID)
	}, 2*time.Second, 10*time.Millisecond)
}
