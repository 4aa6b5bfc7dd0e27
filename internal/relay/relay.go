// Package relay implements the signaling relay: a websocket hub that pairs
// one broadcaster with any number of viewers and routes negotiation traffic
// between them. The relay never parses SDP or ICE payloads; it only reads
// the addressing fields of each envelope.
package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/richardrhg/ocean-live/internal/core/domain"
	"github.com/richardrhg/ocean-live/internal/core/ports"
	"github.com/richardrhg/ocean-live/internal/infrastructure/monitoring"
	"github.com/richardrhg/ocean-live/pkg/config"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Relay holds the connection registry. The registry mutex is the single
// owner of broadcaster/viewer membership; everything else reads snapshots.
type Relay struct {
	cfg      config.RelayConfig
	chatCfg  config.ChatConfig
	logger   *zap.SugaredLogger
	presence ports.PresenceStore
	metrics  *monitoring.PrometheusCollector

	mu          sync.RWMutex
	broadcaster *clientConn
	title       string
	state       domain.BroadcastState
	viewers     map[domain.ViewerID]*clientConn
}

func New(cfg config.RelayConfig, chatCfg config.ChatConfig, presence ports.PresenceStore, metrics *monitoring.PrometheusCollector, logger *zap.SugaredLogger) *Relay {
	return &Relay{
		cfg:      cfg,
		chatCfg:  chatCfg,
		logger:   logger,
		presence: presence,
		metrics:  metrics,
		state:    domain.BroadcastIdle,
		viewers:  make(map[domain.ViewerID]*clientConn),
	}
}

// HandleWebSocket upgrades the request and serves the connection until it
// drops. The connection's role is unknown until its first join message.
func (r *Relay) HandleWebSocket(w http.ResponseWriter, req *http.Request) {
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	limiter := rate.NewLimiter(rate.Limit(r.chatCfg.MessagesPerSecond), r.chatCfg.Burst)
	conn := newClientConn(ws, r.cfg.WriteTimeout, limiter)
	defer conn.close()

	ws.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout))

	for {
		var msg domain.Envelope
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.logger.Infow("read error", "role", conn.role, "id", conn.id, "error", err)
			}
			break
		}
		ws.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout))
		conn.markAlive()

		if err := r.handleMessage(context.Background(), conn, &msg); err != nil {
			r.logger.Warnw("message handling failed",
				"type", msg.Type,
				"role", conn.role,
				"id", conn.id,
				"error", err,
			)
			if r.metrics != nil {
				r.metrics.RecordRoutingError(msg.Type)
			}
		}
	}

	r.disconnect(conn)
}

// registerBroadcaster installs the connection as the active broadcaster.
// A second broadcaster replaces the first; the displaced connection is
// closed so its serve loop unwinds through the normal disconnect path.
func (r *Relay) registerBroadcaster(conn *clientConn, id domain.BroadcasterID) domain.BroadcasterID {
	if id == "" {
		id = domain.NewBroadcasterID()
	}

	r.mu.Lock()
	displaced := r.broadcaster
	r.broadcaster = conn
	r.state = domain.BroadcastIdle
	r.title = ""
	r.mu.Unlock()

	conn.role = domain.RoleBroadcaster
	conn.id = string(id)

	if displaced != nil && displaced != conn {
		r.logger.Infow("replacing broadcaster", "old", displaced.id, "new", id)
		displaced.close()
	}
	return id
}

// registerViewer adds the connection to the viewer registry.
func (r *Relay) registerViewer(conn *clientConn, id domain.ViewerID) domain.ViewerID {
	if id == "" {
		id = domain.NewViewerID()
	}

	conn.role = domain.RoleViewer
	conn.id = string(id)

	r.mu.Lock()
	r.viewers[id] = conn
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordViewerJoined()
	}
	return id
}

// disconnect removes the connection from whichever registry holds it and
// notifies the remaining side. Safe to call for connections that never
// joined, and idempotent when the reaper already removed the entry.
func (r *Relay) disconnect(conn *clientConn) {
	switch conn.role {
	case domain.RoleBroadcaster:
		r.mu.Lock()
		if r.broadcaster != conn {
			r.mu.Unlock()
			return
		}
		r.broadcaster = nil
		wasLive := r.state == domain.BroadcastLive
		r.state = domain.BroadcastIdle
		r.title = ""
		r.mu.Unlock()

		r.logger.Infow("broadcaster disconnected", "id", conn.id, "was_live", wasLive)
		if wasLive {
			r.broadcastToViewers(domain.NewStreamEnd("Broadcast ended"))
		}
		if r.presence != nil {
			r.reportPresence(r.presence.BroadcasterLeft(context.Background()))
		}
		if r.metrics != nil {
			r.metrics.RecordBroadcastLive(false)
		}

	case domain.RoleViewer:
		id := domain.ViewerID(conn.id)
		r.mu.Lock()
		existing, ok := r.viewers[id]
		if !ok || existing != conn {
			r.mu.Unlock()
			return
		}
		delete(r.viewers, id)
		r.mu.Unlock()

		r.logger.Infow("viewer disconnected", "id", id)
		if r.presence != nil {
			r.reportPresence(r.presence.ViewerLeft(context.Background(), id))
		}
		if r.metrics != nil {
			r.metrics.RecordViewerLeft()
		}
		r.publishViewerCount()
	}
}

// removeViewer drops a registration after a failed delivery. The closed
// connection wakes the serve loop, which finds the entry already gone.
func (r *Relay) removeViewer(id domain.ViewerID) {
	r.mu.Lock()
	conn, ok := r.viewers[id]
	if ok {
		delete(r.viewers, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	conn.close()

	r.logger.Infow("removed unreachable viewer", "id", id)
	if r.presence != nil {
		r.reportPresence(r.presence.ViewerLeft(context.Background(), id))
	}
	if r.metrics != nil {
		r.metrics.RecordViewerLeft()
	}
	r.publishViewerCount()
}

// dropBroadcaster clears the broadcaster slot after a failed delivery.
func (r *Relay) dropBroadcaster() {
	r.mu.Lock()
	conn := r.broadcaster
	r.broadcaster = nil
	wasLive := r.state == domain.BroadcastLive
	r.state = domain.BroadcastIdle
	r.title = ""
	r.mu.Unlock()

	if conn == nil {
		return
	}
	conn.close()

	r.logger.Infow("removed unreachable broadcaster", "id", conn.id)
	if wasLive {
		r.broadcastToViewers(domain.NewStreamEnd("Broadcast ended"))
	}
	if r.presence != nil {
		r.reportPresence(r.presence.BroadcasterLeft(context.Background()))
	}
	if r.metrics != nil {
		r.metrics.RecordBroadcastLive(false)
	}
}

func (r *Relay) broadcasterConn() *clientConn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.broadcaster
}

func (r *Relay) viewerConn(id domain.ViewerID) *clientConn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.viewers[id]
}

func (r *Relay) viewerIDs() []domain.ViewerID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]domain.ViewerID, 0, len(r.viewers))
	for id := range r.viewers {
		ids = append(ids, id)
	}
	return ids
}

func (r *Relay) viewerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.viewers)
}

// broadcastToViewers delivers a message to every registered viewer,
// removing any viewer whose send fails.
func (r *Relay) broadcastToViewers(msg *domain.Envelope) {
	r.mu.RLock()
	targets := make(map[domain.ViewerID]*clientConn, len(r.viewers))
	for id, conn := range r.viewers {
		targets[id] = conn
	}
	r.mu.RUnlock()

	for id, conn := range targets {
		if err := conn.send(msg); err != nil {
			r.logger.Infow("send to viewer failed", "id", id, "type", msg.Type, "error", err)
			r.removeViewer(id)
		}
	}
}

// publishViewerCount pushes the current count to the broadcaster and all
// viewers. Count zero is still sent; absence of the field is not a count.
func (r *Relay) publishViewerCount() {
	count := r.viewerCount()
	msg := domain.NewViewerCountUpdate(count)

	if r.metrics != nil {
		r.metrics.SetViewerCount(count)
	}

	if bc := r.broadcasterConn(); bc != nil {
		if err := bc.send(msg); err != nil {
			r.logger.Infow("send to broadcaster failed", "type", msg.Type, "error", err)
			r.dropBroadcaster()
		}
	}
	r.broadcastToViewers(msg)
}

func (r *Relay) reportPresence(err error) {
	if err != nil {
		r.logger.Warnw("presence mirror update failed", "error", err)
	}
}

// Status is the observable relay state served by the HTTP status endpoint.
type Status struct {
	Live        bool              `json:"live"`
	Title       string            `json:"title,omitempty"`
	Broadcaster string            `json:"broadcaster,omitempty"`
	ViewerCount int               `json:"viewerCount"`
	Viewers     []domain.ViewerID `json:"viewers"`
}

func (r *Relay) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Status{
		Live:        r.state == domain.BroadcastLive,
		Title:       r.title,
		ViewerCount: len(r.viewers),
		Viewers:     make([]domain.ViewerID, 0, len(r.viewers)),
	}
	if r.broadcaster != nil {
		st.Broadcaster = r.broadcaster.id
	}
	for id := range r.viewers {
		st.Viewers = append(st.Viewers, id)
	}
	return st
}
