package domain

import (
	"fmt"
	"sync"
	"time"
)

// BroadcastState is the lifecycle of the single broadcast session a relay
// process may hold.
type BroadcastState string

const (
	BroadcastIdle BroadcastState = "idle"
	BroadcastLive BroadcastState = "live"
)

// ViewerRegistration records one connected viewer on the relay.
type ViewerRegistration struct {
	ID       ViewerID
	JoinedAt time.Time
}

// NegotiationState mirrors the offer/answer signaling cycle of one peer
// session. States are explicit: transitions outside the table below are
// rejected rather than assumed impossible.
type NegotiationState string

const (
	NegotiationStable          NegotiationState = "stable"
	NegotiationHaveLocalOffer  NegotiationState = "have-local-offer"
	NegotiationHaveRemoteOffer NegotiationState = "have-remote-offer"
	NegotiationClosed          NegotiationState = "closed"
)

var negotiationTransitions = map[NegotiationState][]NegotiationState{
	NegotiationStable:          {NegotiationHaveLocalOffer, NegotiationHaveRemoteOffer, NegotiationClosed},
	NegotiationHaveLocalOffer:  {NegotiationStable, NegotiationClosed},
	NegotiationHaveRemoteOffer: {NegotiationStable, NegotiationClosed},
	NegotiationClosed:          {},
}

// NegotiationGuard serializes renegotiation on a single peer session: a new
// offer must not be initiated while one is in flight. All methods are safe
// for concurrent use.
type NegotiationGuard struct {
	mu    sync.Mutex
	state NegotiationState
}

func NewNegotiationGuard() *NegotiationGuard {
	return &NegotiationGuard{state: NegotiationStable}
}

func (g *NegotiationGuard) State() NegotiationState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Transition moves the guard to the target state, or reports
// ErrInvalidTransition when the table does not allow it.
func (g *NegotiationGuard) Transition(to NegotiationState) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, allowed := range negotiationTransitions[g.state] {
		if allowed == to {
			g.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: negotiation %s -> %s", ErrInvalidTransition, g.state, to)
}

// BeginLocalOffer reserves the right to send an offer. It fails with
// ErrNegotiationPending while a previous round has not returned to stable.
func (g *NegotiationGuard) BeginLocalOffer() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != NegotiationStable {
		return fmt.Errorf("%w: state %s", ErrNegotiationPending, g.state)
	}
	g.state = NegotiationHaveLocalOffer
	return nil
}

// ConnectivityState tracks one peer session's transport liveness, mirroring
// the underlying peer-connection state machine.
type ConnectivityState string

const (
	ConnectivityNew          ConnectivityState = "new"
	ConnectivityConnecting   ConnectivityState = "connecting"
	ConnectivityConnected    ConnectivityState = "connected"
	ConnectivityDisconnected ConnectivityState = "disconnected"
	ConnectivityFailed       ConnectivityState = "failed"
	ConnectivityClosed       ConnectivityState = "closed"
)
