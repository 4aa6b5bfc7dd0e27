// Package signaling implements the client side of the relay's websocket
// protocol: a connection that redials forever, replays its join on every
// reconnect, and hands inbound envelopes to a single handler.
package signaling

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/richardrhg/ocean-live/internal/core/domain"
	"github.com/richardrhg/ocean-live/pkg/config"
	"github.com/richardrhg/ocean-live/pkg/errors"
	"github.com/richardrhg/ocean-live/pkg/retry"
)

// Handler receives every inbound envelope in arrival order, on the client's
// read goroutine. Blocking in the handler stalls the channel.
type Handler func(msg *domain.Envelope)

// HeartbeatFunc builds the periodic liveness envelope, carrying the sender's
// identity and a timestamp. A client without a heartbeat source sends none;
// in this protocol only viewers heartbeat.
type HeartbeatFunc func() *domain.Envelope

// Client maintains one signaling connection to the relay. Run owns the dial
// and read loop; Send may be called from any goroutine.
type Client struct {
	cfg    config.SignalingConfig
	logger *zap.SugaredLogger

	handler   Handler
	onConnect func() error
	heartbeat HeartbeatFunc

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewClient(cfg config.SignalingConfig, logger *zap.SugaredLogger) *Client {
	return &Client{cfg: cfg, logger: logger}
}

// OnMessage sets the inbound handler. Must be called before Run.
func (c *Client) OnMessage(h Handler) { c.handler = h }

// OnConnect sets the hook run after every successful dial, including
// redials. Session managers use it to replay their join message so the
// relay re-registers them under the same identity.
func (c *Client) OnConnect(f func() error) { c.onConnect = f }

// OnHeartbeat sets the heartbeat envelope source. Must be called before Run.
func (c *Client) OnHeartbeat(f HeartbeatFunc) { c.heartbeat = f }

// Run dials and serves until ctx is cancelled, redialing after the
// configured delay no matter how many times the connection drops.
func (c *Client) Run(ctx context.Context) error {
	return retry.Do(ctx, retry.Fixed(c.cfg.ReconnectDelay), func() error {
		return c.serveOnce(ctx)
	})
}

// serveOnce performs one dial-read-teardown cycle. It returns nil only on
// context cancellation, so Run's retry loop never gives up on its own.
func (c *Client) serveOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.URL, nil)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warnw("signaling dial failed", "url", c.cfg.URL, "error", err)
		return errors.Wrap(err, errors.ClassSignaling, "dial failed")
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.logger.Infow("signaling connected", "url", c.cfg.URL)

	connCtx, stop := context.WithCancel(ctx)
	defer func() {
		stop()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	if c.onConnect != nil {
		if err := c.onConnect(); err != nil {
			c.logger.Warnw("connect hook failed", "error", err)
			return err
		}
	}

	if c.cfg.HeartbeatInterval > 0 && c.heartbeat != nil {
		go c.heartbeatLoop(connCtx)
	}

	for {
		var msg domain.Envelope
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warnw("signaling connection lost", "error", err)
			return errors.Wrap(err, errors.ClassSignaling, "connection lost")
		}
		if c.handler != nil {
			c.handler(&msg)
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Send(c.heartbeat()); err != nil {
				return
			}
		}
	}
}

// Send writes one envelope. It fails with ErrChannelClosed while the client
// is between connections; callers treat that as a transient condition.
func (c *Client) Send(msg *domain.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return domain.ErrChannelClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteJSON(msg)
}

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}
