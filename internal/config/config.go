package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults applied when config.toml omits a value.
const (
	DefaultAPIBaseURL    = "http://localhost:8000/api"
	DefaultStreamBaseURL = "ws://localhost:8000"

	DefaultReconnectBaseMS  = 1000
	DefaultReconnectGrowth  = 2.0
	DefaultReconnectMaxMult = 30
	DefaultReconnectMax     = 5
)

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	// APIBaseURL is the base URL of the platform REST API, e.g.
	// "https://school.example.com/api".
	APIBaseURL string `toml:"api_base_url"`

	// StreamBaseURL is the base URL of the chat WebSocket endpoint,
	// e.g. "wss://school.example.com".
	StreamBaseURL string `toml:"stream_base_url"`

	// TokenPath overrides the default per-session token file location.
	TokenPath string `toml:"token_path"`

	Reconnect ReconnectConfig `toml:"reconnect"`
}

// ReconnectConfig tunes the stream reconnection backoff.
type ReconnectConfig struct {
	BaseDelayMS   int     `toml:"base_delay_ms"`
	GrowthFactor  float64 `toml:"growth_factor"`
	MaxMultiplier int     `toml:"max_multiplier"`
	MaxAttempts   int     `toml:"max_attempts"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Default returns a config with all defaults applied, used when no
// config.toml exists yet.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.APIBaseURL == "" {
		c.APIBaseURL = DefaultAPIBaseURL
	}
	if c.StreamBaseURL == "" {
		c.StreamBaseURL = DefaultStreamBaseURL
	}
	if c.Reconnect.BaseDelayMS <= 0 {
		c.Reconnect.BaseDelayMS = DefaultReconnectBaseMS
	}
	if c.Reconnect.GrowthFactor <= 1 {
		c.Reconnect.GrowthFactor = DefaultReconnectGrowth
	}
	if c.Reconnect.MaxMultiplier <= 0 {
		c.Reconnect.MaxMultiplier = DefaultReconnectMaxMult
	}
	if c.Reconnect.MaxAttempts <= 0 {
		c.Reconnect.MaxAttempts = DefaultReconnectMax
	}
}

// BaseDelay returns the reconnect base delay as a duration.
func (r ReconnectConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}
