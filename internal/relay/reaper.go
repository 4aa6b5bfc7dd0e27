package relay

import (
	"context"
	"time"

	"github.com/richardrhg/ocean-live/internal/core/domain"
)

// RunReaper pings every connection on a fixed interval and removes the ones
// that did not prove liveness since the previous pass. A removed entry that
// was already dropped by the router is a no-op, so overlapping removal paths
// stay safe.
func (r *Relay) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reapOnce()
		}
	}
}

func (r *Relay) reapOnce() {
	r.mu.RLock()
	bc := r.broadcaster
	viewers := make(map[domain.ViewerID]*clientConn, len(r.viewers))
	for id, conn := range r.viewers {
		viewers[id] = conn
	}
	r.mu.RUnlock()

	if bc != nil {
		if !bc.isAlive() {
			r.logger.Infow("reaping dead broadcaster", "id", bc.id)
			if r.metrics != nil {
				r.metrics.RecordReaped()
			}
			r.dropBroadcaster()
		} else if err := bc.ping(); err != nil {
			r.logger.Infow("ping to broadcaster failed", "id", bc.id, "error", err)
			if r.metrics != nil {
				r.metrics.RecordReaped()
			}
			r.dropBroadcaster()
		}
	}

	for id, conn := range viewers {
		if !conn.isAlive() {
			r.logger.Infow("reaping dead viewer", "id", id)
			if r.metrics != nil {
				r.metrics.RecordReaped()
			}
			r.removeViewer(id)
			continue
		}
		if err := conn.ping(); err != nil {
			r.logger.Infow("ping to viewer failed", "id", id, "error", err)
			if r.metrics != nil {
				r.metrics.RecordReaped()
			}
			r.removeViewer(id)
		}
	}
}
