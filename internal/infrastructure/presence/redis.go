package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/richardrhg/ocean-live/internal/core/domain"
	"github.com/richardrhg/ocean-live/internal/core/ports"
	"github.com/richardrhg/ocean-live/pkg/config"
)

const (
	keyBroadcaster = "ocean:presence:broadcaster"
	keyLive        = "ocean:presence:live"
	keyViewers     = "ocean:presence:viewers"
)

// RedisStore mirrors presence into Redis so external tooling can observe a
// relay without querying it. All writes are fire-and-forget from the relay's
// point of view; callers log failures and move on.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and verifies the connection before returning.
func NewRedisStore(cfg config.RedisConfig, logger *zap.SugaredLogger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if logger != nil {
		logger.Infow("presence mirror connected to Redis",
			"address", cfg.Address,
			"db", cfg.DB,
		)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) BroadcasterJoined(ctx context.Context, id domain.BroadcasterID) error {
	pipe := s.client.Pipeline()
	pipe.Set(ctx, keyBroadcaster, string(id), 0)
	pipe.Set(ctx, keyLive, "0", 0)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) BroadcasterLeft(ctx context.Context) error {
	return s.client.Del(ctx, keyBroadcaster, keyLive).Err()
}

func (s *RedisStore) ViewerJoined(ctx context.Context, id domain.ViewerID) error {
	return s.client.SAdd(ctx, keyViewers, string(id)).Err()
}

func (s *RedisStore) ViewerLeft(ctx context.Context, id domain.ViewerID) error {
	return s.client.SRem(ctx, keyViewers, string(id)).Err()
}

func (s *RedisStore) SetLive(ctx context.Context, live bool) error {
	val := "0"
	if live {
		val = "1"
	}
	return s.client.Set(ctx, keyLive, val, 0).Err()
}

func (s *RedisStore) Snapshot(ctx context.Context) (ports.PresenceSnapshot, error) {
	var snap ports.PresenceSnapshot

	id, err := s.client.Get(ctx, keyBroadcaster).Result()
	if err != nil && err != redis.Nil {
		return snap, fmt.Errorf("failed to read broadcaster key: %w", err)
	}
	snap.BroadcasterID = domain.BroadcasterID(id)

	live, err := s.client.Get(ctx, keyLive).Result()
	if err != nil && err != redis.Nil {
		return snap, fmt.Errorf("failed to read live key: %w", err)
	}
	snap.Live = live == "1"

	members, err := s.client.SMembers(ctx, keyViewers).Result()
	if err != nil {
		return snap, fmt.Errorf("failed to read viewer set: %w", err)
	}
	snap.Viewers = make([]domain.ViewerID, 0, len(members))
	for _, m := range members {
		snap.Viewers = append(snap.Viewers, domain.ViewerID(m))
	}
	return snap, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Client exposes the underlying connection for health checks.
func (s *RedisStore) Client() *redis.Client { return s.client }
