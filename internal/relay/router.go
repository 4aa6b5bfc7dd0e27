package relay

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/richardrhg/ocean-live/internal/core/domain"
	"github.com/richardrhg/ocean-live/pkg/tracing"
	"github.com/richardrhg/ocean-live/pkg/validation"
)

func (r *Relay) handleMessage(ctx context.Context, conn *clientConn, msg *domain.Envelope) error {
	if msg.Type == "" {
		return fmt.Errorf("message type is required")
	}

	ctx, span := tracing.StartSpan(ctx, "relay.route",
		trace.WithAttributes(attribute.String("message.type", string(msg.Type))))
	err := r.route(ctx, conn, msg)
	tracing.EndSpan(span, err)

	if err == nil && r.metrics != nil {
		r.metrics.RecordMessageRouted(msg.Type)
	}
	return err
}

func (r *Relay) route(ctx context.Context, conn *clientConn, msg *domain.Envelope) error {
	switch msg.Type {
	case domain.TypeBroadcasterJoin:
		return r.handleBroadcasterJoin(ctx, conn, msg)
	case domain.TypeViewerJoin:
		return r.handleViewerJoin(ctx, conn, msg)
	case domain.TypeStreamStart:
		return r.handleStreamStart(ctx, conn, msg)
	case domain.TypeStreamEnd:
		return r.handleStreamEnd(ctx, conn)
	case domain.TypeOffer:
		return r.handleOffer(conn, msg)
	case domain.TypeAnswer:
		return r.handleAnswer(conn, msg)
	case domain.TypeICECandidate:
		return r.handleICECandidate(msg)
	case domain.TypeChatMessage:
		return r.handleChat(conn, msg)
	case domain.TypeHeartbeat:
		// Liveness already refreshed by the read loop.
		return nil
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

func (r *Relay) handleBroadcasterJoin(ctx context.Context, conn *clientConn, msg *domain.Envelope) error {
	if err := validation.ValidateClientID(string(msg.BroadcasterID)); err != nil {
		return fmt.Errorf("rejecting broadcaster join: %w", err)
	}
	id := r.registerBroadcaster(conn, msg.BroadcasterID)

	r.logger.Infow("broadcaster joined", "id", id)
	if r.presence != nil {
		r.reportPresence(r.presence.BroadcasterJoined(ctx, id))
	}

	if err := conn.send(&domain.Envelope{Type: domain.TypeBroadcasterJoined, BroadcasterID: id}); err != nil {
		return fmt.Errorf("acknowledging broadcaster join: %w", err)
	}

	// Waiting viewers are announced at stream_start, never at join: a
	// rejoining broadcaster of a live stream is the one case that needs the
	// list right away.
	r.mu.RLock()
	live := r.state == domain.BroadcastLive
	r.mu.RUnlock()

	if waiting := r.viewerIDs(); live && len(waiting) > 0 {
		return conn.send(domain.NewViewersNeedConnection(waiting, "Viewers are waiting for your stream"))
	}
	return nil
}

func (r *Relay) handleViewerJoin(ctx context.Context, conn *clientConn, msg *domain.Envelope) error {
	if err := validation.ValidateClientID(string(msg.ViewerID)); err != nil {
		return fmt.Errorf("rejecting viewer join: %w", err)
	}
	id := r.registerViewer(conn, msg.ViewerID)

	r.logger.Infow("viewer joined", "id", id)
	if r.presence != nil {
		r.reportPresence(r.presence.ViewerJoined(ctx, id))
	}

	if err := conn.send(&domain.Envelope{Type: domain.TypeViewerJoined, ViewerID: id}); err != nil {
		return fmt.Errorf("acknowledging viewer join: %w", err)
	}

	// A viewer joining mid-stream learns the stream is live and the
	// broadcaster is told to open a connection to exactly this viewer.
	r.mu.RLock()
	live := r.state == domain.BroadcastLive
	title := r.title
	r.mu.RUnlock()

	if live {
		if err := conn.send(domain.NewStreamStart(title, "Stream is live")); err != nil {
			r.removeViewer(id)
			return fmt.Errorf("notifying viewer of live stream: %w", err)
		}
		if bc := r.broadcasterConn(); bc != nil {
			if err := bc.send(domain.NewViewersNeedConnection([]domain.ViewerID{id}, "New viewer joined")); err != nil {
				r.dropBroadcaster()
				return fmt.Errorf("notifying broadcaster of new viewer: %w", err)
			}
		}
	}

	r.publishViewerCount()
	return nil
}

func (r *Relay) handleStreamStart(ctx context.Context, conn *clientConn, msg *domain.Envelope) error {
	if conn.role != domain.RoleBroadcaster {
		return fmt.Errorf("stream_start from non-broadcaster connection")
	}
	if err := validation.ValidateTitle(msg.Title); err != nil {
		return fmt.Errorf("rejecting stream start: %w", err)
	}

	r.mu.Lock()
	r.state = domain.BroadcastLive
	r.title = msg.Title
	r.mu.Unlock()

	r.logger.Infow("stream started", "broadcaster", conn.id, "title", msg.Title)
	if r.presence != nil {
		r.reportPresence(r.presence.SetLive(ctx, true))
	}
	if r.metrics != nil {
		r.metrics.RecordBroadcastLive(true)
	}

	r.broadcastToViewers(domain.NewStreamStart(msg.Title, msg.Message))

	// The broadcaster opens a peer session per already-connected viewer.
	if waiting := r.viewerIDs(); len(waiting) > 0 {
		return conn.send(domain.NewViewersNeedConnection(waiting, "Viewers are waiting for your stream"))
	}
	return nil
}

func (r *Relay) handleStreamEnd(ctx context.Context, conn *clientConn) error {
	if conn.role != domain.RoleBroadcaster {
		return fmt.Errorf("stream_end from non-broadcaster connection")
	}

	r.mu.Lock()
	r.state = domain.BroadcastIdle
	r.title = ""
	r.mu.Unlock()

	r.logger.Infow("stream ended", "broadcaster", conn.id)
	if r.presence != nil {
		r.reportPresence(r.presence.SetLive(ctx, false))
	}
	if r.metrics != nil {
		r.metrics.RecordBroadcastLive(false)
	}

	r.broadcastToViewers(domain.NewStreamEnd("Broadcast ended"))
	return nil
}

// handleOffer routes a broadcaster's offer to the addressed viewer. The
// broadcaster's identity is stamped on so the viewer can address candidates.
func (r *Relay) handleOffer(conn *clientConn, msg *domain.Envelope) error {
	if msg.ViewerID == "" {
		return fmt.Errorf("offer without viewerId")
	}

	target := r.viewerConn(msg.ViewerID)
	if target == nil {
		return fmt.Errorf("offer for %s: %w", msg.ViewerID, domain.ErrViewerNotFound)
	}

	out := &domain.Envelope{
		Type:          domain.TypeOffer,
		BroadcasterID: domain.BroadcasterID(conn.id),
		ViewerID:      msg.ViewerID,
		Offer:         msg.Offer,
	}
	if err := target.send(out); err != nil {
		r.removeViewer(msg.ViewerID)
		return fmt.Errorf("delivering offer to %s: %w", msg.ViewerID, err)
	}
	return nil
}

// handleAnswer routes a viewer's answer back to the broadcaster.
func (r *Relay) handleAnswer(conn *clientConn, msg *domain.Envelope) error {
	target := r.broadcasterConn()
	if target == nil {
		return domain.ErrNoBroadcaster
	}

	viewerID := msg.ViewerID
	if viewerID == "" {
		viewerID = domain.ViewerID(conn.id)
	}

	out := &domain.Envelope{
		Type:     domain.TypeAnswer,
		ViewerID: viewerID,
		Answer:   msg.Answer,
	}
	if err := target.send(out); err != nil {
		r.dropBroadcaster()
		return fmt.Errorf("delivering answer from %s: %w", viewerID, err)
	}
	return nil
}

// handleICECandidate routes a candidate by direction: an envelope carrying
// broadcasterId came from the broadcaster and goes to the addressed viewer,
// one carrying only viewerId came from that viewer and goes to the
// broadcaster.
func (r *Relay) handleICECandidate(msg *domain.Envelope) error {
	if msg.FromBroadcaster() {
		if msg.ViewerID == "" {
			return fmt.Errorf("broadcaster candidate without viewerId")
		}
		target := r.viewerConn(msg.ViewerID)
		if target == nil {
			return fmt.Errorf("candidate for %s: %w", msg.ViewerID, domain.ErrViewerNotFound)
		}
		out := &domain.Envelope{
			Type:          domain.TypeICECandidate,
			BroadcasterID: msg.BroadcasterID,
			Candidate:     msg.Candidate,
		}
		if err := target.send(out); err != nil {
			r.removeViewer(msg.ViewerID)
			return fmt.Errorf("delivering candidate to %s: %w", msg.ViewerID, err)
		}
		return nil
	}

	if msg.ViewerID == "" {
		return fmt.Errorf("candidate without any identity")
	}
	target := r.broadcasterConn()
	if target == nil {
		return domain.ErrNoBroadcaster
	}
	out := &domain.Envelope{
		Type:      domain.TypeICECandidate,
		ViewerID:  msg.ViewerID,
		Candidate: msg.Candidate,
	}
	if err := target.send(out); err != nil {
		r.dropBroadcaster()
		return fmt.Errorf("delivering candidate from %s: %w", msg.ViewerID, err)
	}
	return nil
}

// handleChat fans a chat message out to every other participant. Flooding
// connections have their messages dropped, not their sockets closed.
func (r *Relay) handleChat(conn *clientConn, msg *domain.Envelope) error {
	if err := validation.ValidateChatMessage(msg.Username, msg.Message); err != nil {
		return fmt.Errorf("rejecting chat message: %w", err)
	}
	if !conn.chatLimiter.Allow() {
		if r.metrics != nil {
			r.metrics.RecordChatDropped()
		}
		r.logger.Debugw("chat message dropped by flood limiter", "id", conn.id)
		return nil
	}

	out := &domain.Envelope{
		Type:      domain.TypeChatMessage,
		Username:  msg.Username,
		Message:   msg.Message,
		Timestamp: time.Now().UnixMilli(),
	}

	if bc := r.broadcasterConn(); bc != nil && bc != conn {
		if err := bc.send(out); err != nil {
			r.logger.Infow("send to broadcaster failed", "type", out.Type, "error", err)
			r.dropBroadcaster()
		}
	}

	r.mu.RLock()
	targets := make(map[domain.ViewerID]*clientConn, len(r.viewers))
	for id, vc := range r.viewers {
		if vc != conn {
			targets[id] = vc
		}
	}
	r.mu.RUnlock()

	for id, vc := range targets {
		if err := vc.send(out); err != nil {
			r.logger.Infow("send to viewer failed", "id", id, "type", out.Type, "error", err)
			r.removeViewer(id)
		}
	}
	return nil
}
