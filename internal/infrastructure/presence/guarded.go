package presence

import (
	"context"

	"go.uber.org/zap"

	"github.com/richardrhg/ocean-live/internal/core/domain"
	"github.com/richardrhg/ocean-live/internal/core/ports"
	"github.com/richardrhg/ocean-live/pkg/circuitbreaker"
)

// GuardedStore wraps a presence store with a circuit breaker. When the
// backing store misbehaves repeatedly, writes are skipped for the cooldown
// instead of timing out one by one on the relay's routing path.
type GuardedStore struct {
	inner   ports.PresenceStore
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

func NewGuardedStore(inner ports.PresenceStore, cfg circuitbreaker.Config, logger *zap.SugaredLogger) *GuardedStore {
	return &GuardedStore{
		inner:   inner,
		breaker: circuitbreaker.New(cfg),
		logger:  logger,
	}
}

func (g *GuardedStore) execute(op string, fn func() error) error {
	err := g.breaker.Execute(fn)
	if err == circuitbreaker.ErrOpen {
		g.logger.Debugw("presence write skipped, breaker open", "op", op)
		return nil
	}
	return err
}

func (g *GuardedStore) BroadcasterJoined(ctx context.Context, id domain.BroadcasterID) error {
	return g.execute("broadcaster_joined", func() error { return g.inner.BroadcasterJoined(ctx, id) })
}

func (g *GuardedStore) BroadcasterLeft(ctx context.Context) error {
	return g.execute("broadcaster_left", func() error { return g.inner.BroadcasterLeft(ctx) })
}

func (g *GuardedStore) ViewerJoined(ctx context.Context, id domain.ViewerID) error {
	return g.execute("viewer_joined", func() error { return g.inner.ViewerJoined(ctx, id) })
}

func (g *GuardedStore) ViewerLeft(ctx context.Context, id domain.ViewerID) error {
	return g.execute("viewer_left", func() error { return g.inner.ViewerLeft(ctx, id) })
}

func (g *GuardedStore) SetLive(ctx context.Context, live bool) error {
	return g.execute("set_live", func() error { return g.inner.SetLive(ctx, live) })
}

func (g *GuardedStore) Snapshot(ctx context.Context) (ports.PresenceSnapshot, error) {
	var snap ports.PresenceSnapshot
	err := g.breaker.Execute(func() error {
		var err error
		snap, err = g.inner.Snapshot(ctx)
		return err
	})
	return snap, err
}

func (g *GuardedStore) Close() error {
	return g.inner.Close()
}
