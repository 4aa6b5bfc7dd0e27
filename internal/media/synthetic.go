package media

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	"github.com/richardrhg/ocean-live/internal/core/domain"
)

const (
	opusClockRate = 48000
	vp8ClockRate  = 90000

	audioFrameInterval = 20 * time.Millisecond
	videoFrameInterval = 33 * time.Millisecond
)

// SyntheticSource generates placeholder RTP packets on a local track.
// It stands in for camera/microphone capture in headless runs and tests;
// swapping one synthetic source for another exercises the same track
// replacement path a real device switch would.
type SyntheticSource struct {
	kind     domain.TrackKind
	track    *webrtc.TrackLocalStaticRTP
	interval time.Duration

	timestampStep uint32
	enabled       atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSyntheticSource builds a source of the given kind with its own track
// identity. Opus for audio, VP8 for video, matching browser defaults.
func NewSyntheticSource(kind domain.TrackKind, trackID, streamID string) (*SyntheticSource, error) {
	var codec webrtc.RTPCodecCapability
	var interval time.Duration
	var step uint32

	switch kind {
	case domain.TrackKindAudio:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2}
		interval = audioFrameInterval
		step = opusClockRate / 50
	case domain.TrackKindVideo:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: vp8ClockRate}
		interval = videoFrameInterval
		step = vp8ClockRate / 30
	default:
		return nil, domain.ErrNoLiveTrack
	}

	track, err := webrtc.NewTrackLocalStaticRTP(codec, trackID, streamID)
	if err != nil {
		return nil, err
	}

	s := &SyntheticSource{
		kind:          kind,
		track:         track,
		interval:      interval,
		timestampStep: step,
		done:          make(chan struct{}),
	}
	s.enabled.Store(true)
	return s, nil
}

func (s *SyntheticSource) Kind() domain.TrackKind   { return s.kind }
func (s *SyntheticSource) Track() webrtc.TrackLocal { return s.track }
func (s *SyntheticSource) Enabled() bool            { return s.enabled.Load() }
func (s *SyntheticSource) SetEnabled(enabled bool)  { s.enabled.Store(enabled) }

// Start launches the packet writer. While the source is disabled the writer
// keeps ticking but sends nothing, which is how muted media looks on the wire.
func (s *SyntheticSource) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    0, // rewritten by the sender
				SequenceNumber: 0,
				Timestamp:      0,
				SSRC:           0, // rewritten by the sender
			},
			Payload: make([]byte, 160),
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			pkt.Header.Timestamp += s.timestampStep
			if !s.enabled.Load() {
				continue
			}
			pkt.Header.SequenceNumber++

			if err := s.track.WriteRTP(&pkt); err != nil {
				// No bound sender yet. Keep generating so the clock
				// stays monotonic for when one attaches.
				if errors.Is(err, io.ErrClosedPipe) {
					continue
				}
				return
			}
		}
	}()
}

// Stop halts packet generation and waits for the writer to exit.
func (s *SyntheticSource) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	<-s.done
	return nil
}
