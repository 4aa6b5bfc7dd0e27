package domain

import "errors"

var (
	ErrNoBroadcaster      = errors.New("no broadcaster registered")
	ErrViewerNotFound     = errors.New("viewer not found")
	ErrSessionNotFound    = errors.New("peer session not found")
	ErrNoRemoteDesc       = errors.New("remote description not set")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrNegotiationPending = errors.New("negotiation already in flight")
	ErrChannelClosed      = errors.New("signaling channel closed")
	ErrNoLiveTrack        = errors.New("no live track of requested kind")
)
