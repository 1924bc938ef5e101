package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds server configuration. Zero values are filled from
// DefaultConfig by Load; flags may override afterwards.
type Config struct {
	Addr      string `yaml:"addr"`       // HTTP/websocket bind address (e.g. ":8080")
	DBPath    string `yaml:"db_path"`    // SQLite database path
	StaticDir string `yaml:"static_dir"` // directory of static assets to serve (empty = disabled)

	// HTTP surface rate limit, keyed by client IP.
	HTTPRateLimit  int           `yaml:"http_rate_limit"`
	HTTPRateWindow time.Duration `yaml:"http_rate_window"`

	// Websocket message rate limit, keyed by IP pre-auth and user post-auth.
	WSRateLimit  int           `yaml:"ws_rate_limit"`
	WSRateWindow time.Duration `yaml:"ws_rate_window"`

	// Heartbeat monitoring. A session with no liveness signal for
	// HeartbeatTimeout is evicted; the sweep runs every SweepInterval.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`

	// Idle rate limiter entries are purged every LimiterCleanupInterval.
	LimiterCleanupInterval time.Duration `yaml:"limiter_cleanup_interval"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:                   ":8080",
		DBPath:                 "wavelink.db",
		HTTPRateLimit:          100,
		HTTPRateWindow:         60 * time.Second,
		WSRateLimit:            50,
		WSRateWindow:           10 * time.Second,
		HeartbeatTimeout:       45 * time.Second,
		SweepInterval:          15 * time.Second,
		LimiterCleanupInterval: 5 * time.Minute,
		LogLevel:               "info",
		LogFormat:              "text",
	}
}

// Load reads a YAML config file and merges it over the defaults. An empty
// path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return cfg, fmt.Errorf("server: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("server: parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.HTTPRateLimit <= 0 || c.WSRateLimit <= 0 {
		return fmt.Errorf("server: rate limits must be positive")
	}
	if c.HTTPRateWindow <= 0 || c.WSRateWindow <= 0 {
		return fmt.Errorf("server: rate windows must be positive")
	}
	if c.HeartbeatTimeout <= c.SweepInterval {
		return fmt.Errorf("server: heartbeat timeout %v must exceed sweep interval %v",
			c.HeartbeatTimeout, c.SweepInterval)
	}
	return nil
}
