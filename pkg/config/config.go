package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Relay      RelayConfig      `yaml:"relay"`
	Signaling  SignalingConfig  `yaml:"signaling"`
	WebRTC     WebRTCConfig     `yaml:"webrtc"`
	Peer       PeerConfig       `yaml:"peer"`
	Chat       ChatConfig       `yaml:"chat"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Logging    LoggingConfig    `yaml:"logging"`
	Redis      RedisConfig      `yaml:"redis"`
}

type RelayConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ReaperInterval  time.Duration `yaml:"reaper_interval"`
}

type SignalingConfig struct {
	URL               string        `yaml:"url"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

type ICEServerConfig struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type WebRTCConfig struct {
	ICEServers []ICEServerConfig `yaml:"ice_servers"`
	PortRange  struct {
		Min uint16 `yaml:"min"`
		Max uint16 `yaml:"max"`
	} `yaml:"port_range"`
}

type PeerConfig struct {
	FailedRetryDelay  time.Duration `yaml:"failed_retry_delay"`
	SelfCheckInterval time.Duration `yaml:"self_check_interval"`
}

type ChatConfig struct {
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	Burst             int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	JaegerURL   string  `yaml:"jaeger_url"`
	Environment string  `yaml:"environment"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// DefaultConfig returns the configuration used when no file is present.
// The fixed intervals match the protocol's contract: 30s reaper and
// heartbeat, 3s signaling reconnect, 5s failed-peer retry, 10s self-check.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Relay.Address = ":3000"
	cfg.Relay.ReadTimeout = 60 * time.Second
	cfg.Relay.WriteTimeout = 10 * time.Second
	cfg.Relay.ShutdownTimeout = 15 * time.Second
	cfg.Relay.ReaperInterval = 30 * time.Second

	cfg.Signaling.URL = "ws://localhost:3000/ws"
	cfg.Signaling.ReconnectDelay = 3 * time.Second
	cfg.Signaling.HeartbeatInterval = 30 * time.Second
	cfg.Signaling.WriteTimeout = 10 * time.Second

	cfg.Peer.FailedRetryDelay = 5 * time.Second
	cfg.Peer.SelfCheckInterval = 10 * time.Second

	cfg.Chat.MessagesPerSecond = 2
	cfg.Chat.Burst = 5

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10

	return cfg
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Relay.Address == "" {
		return fmt.Errorf("relay.address must not be empty")
	}
	if c.Relay.ReadTimeout <= 0 {
		return fmt.Errorf("relay.read_timeout must be > 0")
	}
	if c.Relay.WriteTimeout <= 0 {
		return fmt.Errorf("relay.write_timeout must be > 0")
	}
	if c.Relay.ReaperInterval <= 0 {
		return fmt.Errorf("relay.reaper_interval must be > 0")
	}

	if c.Signaling.URL == "" {
		return fmt.Errorf("signaling.url must not be empty")
	}
	if c.Signaling.ReconnectDelay <= 0 {
		return fmt.Errorf("signaling.reconnect_delay must be > 0")
	}
	if c.Signaling.HeartbeatInterval < 0 {
		return fmt.Errorf("signaling.heartbeat_interval must be >= 0")
	}

	if c.Peer.FailedRetryDelay <= 0 {
		return fmt.Errorf("peer.failed_retry_delay must be > 0")
	}
	if c.Peer.SelfCheckInterval < 0 {
		return fmt.Errorf("peer.self_check_interval must be >= 0")
	}

	if min, max := c.WebRTC.PortRange.Min, c.WebRTC.PortRange.Max; min > max {
		return fmt.Errorf("webrtc.port_range: min %d > max %d", min, max)
	}

	if c.Chat.MessagesPerSecond < 0 {
		return fmt.Errorf("chat.messages_per_second must be >= 0")
	}

	if c.Tracing.Enabled && c.Tracing.JaegerURL == "" {
		return fmt.Errorf("tracing.jaeger_url must be set when tracing is enabled")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis is enabled")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0")
		}
	}

	return nil
}
