package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/richardrhg/ocean-live/internal/core/domain"
)

// clientConn wraps one websocket connection. Writes are serialized through a
// mutex because gorilla connections do not allow concurrent writers, and the
// reaper pings from a different goroutine than the router.
type clientConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex

	aliveMu sync.Mutex
	alive   bool

	chatLimiter *rate.Limiter

	role domain.ClientRole
	id   string
}

func newClientConn(ws *websocket.Conn, writeTimeout time.Duration, chatLimiter *rate.Limiter) *clientConn {
	c := &clientConn{
		ws:           ws,
		writeTimeout: writeTimeout,
		alive:        true,
		chatLimiter:  chatLimiter,
	}
	ws.SetPongHandler(func(string) error {
		c.markAlive()
		return nil
	})
	return c
}

func (c *clientConn) send(msg *domain.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteJSON(msg)
}

// ping sends a control ping and marks the connection suspect. A pong or any
// inbound message restores it before the next reaper pass.
func (c *clientConn) ping() error {
	c.aliveMu.Lock()
	c.alive = false
	c.aliveMu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *clientConn) markAlive() {
	c.aliveMu.Lock()
	c.alive = true
	c.aliveMu.Unlock()
}

func (c *clientConn) isAlive() bool {
	c.aliveMu.Lock()
	defer c.aliveMu.Unlock()
	return c.alive
}

func (c *clientConn) close() {
	c.ws.Close()
}
