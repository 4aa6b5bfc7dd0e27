package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/richardrhg/ocean-live/internal/core/ports"
	"github.com/richardrhg/ocean-live/internal/infrastructure/monitoring"
	"github.com/richardrhg/ocean-live/internal/infrastructure/presence"
	"github.com/richardrhg/ocean-live/internal/relay"
	"github.com/richardrhg/ocean-live/pkg/circuitbreaker"
	"github.com/richardrhg/ocean-live/pkg/config"
	"github.com/richardrhg/ocean-live/pkg/logger"
	"github.com/richardrhg/ocean-live/pkg/tracing"
)

func main() {
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if cfg.Tracing.Enabled {
		provider, err := tracing.Init(tracing.Config{
			Enabled:     true,
			ServiceName: "ocean-relay",
			JaegerURL:   cfg.Tracing.JaegerURL,
			Environment: cfg.Tracing.Environment,
			SampleRate:  cfg.Tracing.SampleRate,
		})
		if err != nil {
			log.Warnw("tracing init failed, continuing without it", "error", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				provider.Shutdown(ctx)
			}()
		}
	}

	health := monitoring.NewHealthChecker()

	var presenceStore ports.PresenceStore = presence.NewMemoryStore()
	if cfg.Redis.Enabled {
		redisStore, err := presence.NewRedisStore(cfg.Redis, log)
		if err != nil {
			log.Warnw("redis presence mirror unavailable, falling back to memory", "error", err)
		} else {
			presenceStore = presence.NewGuardedStore(redisStore, circuitbreaker.DefaultConfig(), log)
			health.AddRedisCheck(redisStore.Client(), 2*time.Second)
		}
	}
	defer presenceStore.Close()

	var metrics *monitoring.PrometheusCollector
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector()
	}

	hub := relay.New(cfg.Relay, cfg.Chat, presenceStore, metrics, log)

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	defer stopReaper()
	go hub.RunReaper(reaperCtx)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/ws", func(c *gin.Context) {
		hub.HandleWebSocket(c.Writer, c.Request)
	})

	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, hub.Status())
	})

	router.GET("/health", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	srv := &http.Server{
		Addr:    cfg.Relay.Address,
		Handler: router,
		// No WriteTimeout: it would sever long-lived websocket
		// connections. The relay enforces per-write deadlines itself.
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting relay", "address", cfg.Relay.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("relay failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	stopReaper()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("shutdown error", "error", err)
		srv.Close()
	}
	log.Info("relay stopped")
}
