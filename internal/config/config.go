package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the system-wide settings tree. Precedence: defaults, then
// an optional .env file, then the process environment.
type Config struct {
	HTTP      HTTPConfig
	WebSocket WebSocketConfig
	Broadcast BroadcastConfig
	Dedup     DedupConfig
	Session   SessionConfig
	Log       LogConfig
}

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type WebSocketConfig struct {
	PingInterval time.Duration
	BufferSize   int
	HubQueueSize int
}

type BroadcastConfig struct {
	MinInterval time.Duration
}

// DedupConfig is deliberately separate from BroadcastConfig: the time
// bucket and the broadcast window share a 1 s default but are tuned
// independently.
type DedupConfig struct {
	Capacity int
	TTL      time.Duration
	Bucket   time.Duration
}

type SessionConfig struct {
	Countdown time.Duration
	StorePath string
}

type LogConfig struct {
	Environment string
	Level       string
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         5001,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval: 30 * time.Second,
			BufferSize:   100,
			HubQueueSize: 1000,
		},
		Broadcast: BroadcastConfig{
			MinInterval: time.Second,
		},
		Dedup: DedupConfig{
			Capacity: 100,
			TTL:      5 * time.Second,
			Bucket:   time.Second,
		},
		Session: SessionConfig{
			Countdown: 10 * time.Second,
			StorePath: "./liveboard.db",
		},
		Log: LogConfig{
			Environment: "development",
			Level:       "info",
		},
	}
}

// Load builds the configuration: defaults overridden by LIVEBOARD_*
// environment variables, with an optional .env file read first.
func Load() *Config {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	setString(&cfg.HTTP.Host, "LIVEBOARD_HTTP_HOST")
	setInt(&cfg.HTTP.Port, "LIVEBOARD_HTTP_PORT")
	setDuration(&cfg.HTTP.ReadTimeout, "LIVEBOARD_HTTP_READ_TIMEOUT")
	setDuration(&cfg.HTTP.WriteTimeout, "LIVEBOARD_HTTP_WRITE_TIMEOUT")

	setDuration(&cfg.WebSocket.PingInterval, "LIVEBOARD_WS_PING_INTERVAL")
	setInt(&cfg.WebSocket.BufferSize, "LIVEBOARD_WS_BUFFER_SIZE")
	setInt(&cfg.WebSocket.HubQueueSize, "LIVEBOARD_WS_HUB_QUEUE_SIZE")

	setDuration(&cfg.Broadcast.MinInterval, "LIVEBOARD_BROADCAST_INTERVAL")

	setInt(&cfg.Dedup.Capacity, "LIVEBOARD_DEDUP_CAPACITY")
	setDuration(&cfg.Dedup.TTL, "LIVEBOARD_DEDUP_TTL")
	setDuration(&cfg.Dedup.Bucket, "LIVEBOARD_DEDUP_BUCKET")

	setDuration(&cfg.Session.Countdown, "LIVEBOARD_SESSION_COUNTDOWN")
	setString(&cfg.Session.StorePath, "LIVEBOARD_SESSION_STORE")

	setString(&cfg.Log.Environment, "LIVEBOARD_LOG_ENV")
	setString(&cfg.Log.Level, "LIVEBOARD_LOG_LEVEL")

	return cfg
}

// Validate rejects configurations that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("http host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("http timeouts must be positive")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("websocket ping interval must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("websocket buffer size must be positive")
	}
	if c.WebSocket.HubQueueSize <= 0 {
		return fmt.Errorf("hub queue size must be positive")
	}
	if c.Broadcast.MinInterval <= 0 {
		return fmt.Errorf("broadcast interval must be positive")
	}
	if c.Dedup.Capacity <= 0 {
		return fmt.Errorf("dedup capacity must be positive")
	}
	if c.Dedup.TTL <= 0 || c.Dedup.Bucket <= 0 {
		return fmt.Errorf("dedup ttl and bucket must be positive")
	}
	if c.Session.Countdown <= 0 {
		return fmt.Errorf("session countdown must be positive")
	}
	if c.Session.StorePath == "" {
		return fmt.Errorf("session store path cannot be empty")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
