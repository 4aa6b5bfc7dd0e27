// Command viewer runs a headless watching client: it joins the relay,
// answers the broadcaster's offers, and logs stream and media events. Useful
// for soak-testing a relay with many concurrent viewers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/richardrhg/ocean-live/internal/core/domain"
	"github.com/richardrhg/ocean-live/internal/infrastructure/rtc"
	"github.com/richardrhg/ocean-live/internal/signaling"
	"github.com/richardrhg/ocean-live/internal/viewer"
	"github.com/richardrhg/ocean-live/pkg/config"
	"github.com/richardrhg/ocean-live/pkg/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file")
		relayURL   = flag.String("relay", "", "relay websocket URL (overrides config)")
	)
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *relayURL != "" {
		cfg.Signaling.URL = *relayURL
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	engine, err := rtc.NewEngine(cfg.WebRTC)
	if err != nil {
		log.Fatalw("webrtc engine init failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := signaling.NewClient(cfg.Signaling, log)

	events := func(ev domain.Event) {
		log.Infow("event",
			"kind", ev.Kind,
			"track", ev.Track,
			"title", ev.Title,
			"count", ev.Count,
		)
	}

	session := viewer.NewSession(engine, cfg.Peer, client, events, log)
	defer session.Close()

	client.OnMessage(session.HandleSignal)
	client.OnConnect(func() error {
		return client.Send(session.JoinMessage())
	})
	client.OnHeartbeat(session.HeartbeatMessage)

	go session.RunSelfCheck(ctx)

	log.Infow("viewer starting", "relay", cfg.Signaling.URL)
	if err := client.Run(ctx); err != nil {
		log.Errorw("signaling loop ended", "error", err)
	}
	log.Info("viewer stopped")
}
