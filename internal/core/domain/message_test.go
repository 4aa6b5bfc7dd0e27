package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewerCountZeroIsSerialized(t *testing.T) {
	data, err := json.Marshal(NewViewerCountUpdate(0))
	require.NoError(t, err)

	// Zero must appear on the wire; an omitted count is not a count.
	assert.JSONEq(t, `{"type":"viewer_count_update","count":0}`, string(data))
}

func TestCandidateDirection(t *testing.T) {
	fromBroadcaster := Envelope{
		Type:          TypeICECandidate,
		BroadcasterID: "broadcaster_1",
		ViewerID:      "viewer_1",
	}
	assert.True(t, fromBroadcaster.FromBroadcaster())

	fromViewer := Envelope{
		Type:     TypeICECandidate,
		ViewerID: "viewer_1",
	}
	assert.False(t, fromViewer.FromBroadcaster())
}

func TestEnvelopePayloadsStayOpaque(t *testing.T) {
	raw := `{"type":"offer","broadcasterId":"broadcaster_1","viewerId":"viewer_1","offer":{"type":"offer","sdp":"v=0\r\n"}}`

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))
	assert.Equal(t, TypeOffer, env.Type)

	// The payload survives a routing round-trip byte-compatible.
	out, err := json.Marshal(&env)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}
