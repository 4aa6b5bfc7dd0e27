// Package rtc builds peer connections from a shared configuration. Both
// session managers create connections through one Engine so ICE servers and
// the ephemeral port range are set in exactly one place.
package rtc

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/richardrhg/ocean-live/pkg/config"
)

type Engine struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func NewEngine(cfg config.WebRTCConfig) (*Engine, error) {
	servers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	if len(servers) == 0 {
		servers = append(servers, webrtc.ICEServer{URLs: []string{"stun:stun.l.google.com:19302"}})
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.PortRange.Min > 0 && cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.PortRange.Min, cfg.PortRange.Max); err != nil {
			return nil, err
		}
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}

	return &Engine{
		api: webrtc.NewAPI(
			webrtc.WithSettingEngine(settingEngine),
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(registry),
		),
		config: webrtc.Configuration{
			ICEServers:   servers,
			SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
		},
	}, nil
}

func (e *Engine) NewPeerConnection() (*webrtc.PeerConnection, error) {
	return e.api.NewPeerConnection(e.config)
}
