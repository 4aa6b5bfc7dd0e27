// Command broadcaster runs a headless broadcasting client: it joins the
// relay, announces a stream, and serves every viewer the relay reports with
// synthetic audio and video tracks. A periodic source swap exercises live
// track replacement the way a camera or screen-share switch would.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardrhg/ocean-live/internal/broadcast"
	"github.com/richardrhg/ocean-live/internal/core/domain"
	"github.com/richardrhg/ocean-live/internal/infrastructure/rtc"
	"github.com/richardrhg/ocean-live/internal/media"
	"github.com/richardrhg/ocean-live/internal/signaling"
	"github.com/richardrhg/ocean-live/pkg/config"
	"github.com/richardrhg/ocean-live/pkg/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file")
		relayURL   = flag.String("relay", "", "relay websocket URL (overrides config)")
		title      = flag.String("title", "Untitled stream", "stream title")
		swapEvery  = flag.Duration("swap-every", 0, "swap the video source on this interval (0 disables)")
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

	tracks := media.NewTrackSet()
	audio, err := media.NewSyntheticSource(domain.TrackKindAudio, "audio-main", "ocean")
	if err != nil {
		log.Fatalw("creating audio source failed", "error", err)
	}
	video, err := media.NewSyntheticSource(domain.TrackKindVideo, "video-main", "ocean")
	if err != nil {
		log.Fatalw("creating video source failed", "error", err)
	}
	audio.Start(ctx)
	video.Start(ctx)
	tracks.Replace(audio)
	tracks.Replace(video)

	client := signaling.NewClient(cfg.Signaling, log)

	events := func(ev domain.Event) {
		log.Infow("event", "kind", ev.Kind, "viewer", ev.ViewerID, "count", ev.Count)
	}

	manager := broadcast.NewManager(engine, cfg.Peer, client, tracks, events, log)
	defer manager.CloseAll()

	started := false
	client.OnMessage(func(msg *domain.Envelope) {
		manager.HandleSignal(msg)
		if msg.Type == domain.TypeBroadcasterJoined && !started {
			started = true
			if err := manager.StartStream(*title); err != nil {
				log.Errorw("starting stream failed", "error", err)
			}
		}
	})
	client.OnConnect(func() error {
		return client.Send(manager.JoinMessage())
	})

	if *swapEvery > 0 {
		go func() {
			ticker := time.NewTicker(*swapEvery)
			defer ticker.Stop()
			n := 0
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					n++
					next, err := media.NewSyntheticSource(domain.TrackKindVideo, fmt.Sprintf("video-swap-%d", n), "ocean")
					if err != nil {
						log.Errorw("creating swap source failed", "error", err)
						continue
					}
					next.Start(ctx)
					if err := manager.ReplaceMediaSource(next); err != nil {
						log.Errorw("replacing video source failed", "error", err)
					}
				}
			}
		}()
	}

	log.Infow("broadcaster starting", "relay", cfg.Signaling.URL, "title", *title)
	if err := client.Run(ctx); err != nil {
		log.Errorw("signaling loop ended", "error", err)
	}

	if err := manager.EndStream(); err != nil {
		log.Debugw("end-of-stream notice not delivered", "error", err)
	}
	log.Info("broadcaster stopped")
}
