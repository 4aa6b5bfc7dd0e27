package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richardrhg/ocean-live/internal/core/domain"
)

func TestTrackSetReplacePreservesOtherKind(t *testing.T) {
	ts := NewTrackSet()

	audio, err := NewSyntheticSource(domain.TrackKindAudio, "audio-1", "stream")
	require.NoError(t, err)
	video, err := NewSyntheticSource(domain.TrackKindVideo, "video-1", "stream")
	require.NoError(t, err)

	assert.Nil(t, ts.Replace(audio))
	assert.Nil(t, ts.Replace(video))

	video2, err := NewSyntheticSource(domain.TrackKindVideo, "video-2", "stream")
	require.NoError(t, err)

	displaced := ts.Replace(video2)
	assert.Same(t, video, displaced)

	// Audio is untouched, video resolves to the new identity.
	assert.Same(t, audio, ts.Get(domain.TrackKindAudio))
	assert.Equal(t, "video-2", ts.Track(domain.TrackKindVideo).ID())
}

func TestTrackSetSetEnabled(t *testing.T) {
	ts := NewTrackSet()

	err := ts.SetEnabled(domain.TrackKindAudio, false)
	assert.ErrorIs(t, err, domain.ErrNoLiveTrack)

	audio, err := NewSyntheticSource(domain.TrackKindAudio, "audio-1", "stream")
	require.NoError(t, err)
	ts.Replace(audio)

	require.NoError(t, ts.SetEnabled(domain.TrackKindAudio, false))
	assert.False(t, audio.Enabled())

	require.NoError(t, ts.SetEnabled(domain.TrackKindAudio, true))
	assert.True(t, audio.Enabled())
}

func TestTrackSetClear(t *testing.T) {
	ts := NewTrackSet()

	audio, err := NewSyntheticSource(domain.TrackKindAudio, "audio-1", "stream")
	require.NoError(t, err)
	ts.Replace(audio)

	ts.Clear()
	assert.Nil(t, ts.Get(domain.TrackKindAudio))
	assert.Empty(t, ts.Kinds())
}
