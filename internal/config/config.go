package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.inboxd/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	Server ServerConfig `toml:"server"`
	Auth   AuthConfig   `toml:"auth"`
	Sync   SyncConfig   `toml:"sync"`
}

// ServerConfig points the engine at the inbox backend.
type ServerConfig struct {
	APIURL    string `toml:"api_url"`
	SocketURL string `toml:"socket_url"`
}

// AuthConfig carries the credentials scoping the transport session.
type AuthConfig struct {
	Token     string `toml:"token"`
	AccountID string `toml:"account_id"`
}

// SyncConfig tunes the engine's timers and windows.
type SyncConfig struct {
	AckTimeoutSecs        int `toml:"ack_timeout_secs"`
	SettleDelaySecs       int `toml:"settle_delay_secs"`
	ReconnectIntervalSecs int `toml:"reconnect_interval_secs"`
	MaxConnectRetries     int `toml:"max_connect_retries"`
	MatchWindowMins       int `toml:"match_window_mins"`
	RetentionHours        int `toml:"retention_hours"`
	PageSize              int `toml:"page_size"`
}

// Defaults applied by Load when a field is absent or non-positive.
const (
	defaultAckTimeoutSecs        = 10
	defaultSettleDelaySecs       = 2
	defaultReconnectIntervalSecs = 5
	defaultMaxConnectRetries     = 5
	defaultMatchWindowMins       = 10
	defaultRetentionHours        = 72
	defaultPageSize              = 50
)

// Load reads config from the given path and applies defaults.
// Returns nil config and error if the file is missing or malformed.
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

// Default returns a config with every tunable at its default value.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	s := &c.Sync
	if s.AckTimeoutSecs <= 0 {
		s.AckTimeoutSecs = defaultAckTimeoutSecs
	}
	if s.SettleDelaySecs <= 0 {
		s.SettleDelaySecs = defaultSettleDelaySecs
	}
	if s.ReconnectIntervalSecs <= 0 {
		s.ReconnectIntervalSecs = defaultReconnectIntervalSecs
	}
	if s.MaxConnectRetries <= 0 {
		s.MaxConnectRetries = defaultMaxConnectRetries
	}
	if s.MatchWindowMins <= 0 {
		s.MatchWindowMins = defaultMatchWindowMins
	}
	if s.RetentionHours <= 0 {
		s.RetentionHours = defaultRetentionHours
	}
	if s.PageSize <= 0 {
		s.PageSize = defaultPageSize
	}
}

// AckTimeout is the bounded wait for an outbound submission acknowledgment.
func (s SyncConfig) AckTimeout() time.Duration {
	return time.Duration(s.AckTimeoutSecs) * time.Second
}

// SettleDelay is the pause after connect before draining the sync queue.
func (s SyncConfig) SettleDelay() time.Duration {
	return time.Duration(s.SettleDelaySecs) * time.Second
}

// ReconnectInterval is the delay before retrying after a server-initiated drop.
func (s SyncConfig) ReconnectInterval() time.Duration {
	return time.Duration(s.ReconnectIntervalSecs) * time.Second
}

// MatchWindow bounds content-based optimistic message matching.
func (s SyncConfig) MatchWindow() time.Duration {
	return time.Duration(s.MatchWindowMins) * time.Minute
}

// Retention is how long failed queue operations are kept before cleanup.
func (s SyncConfig) Retention() time.Duration {
	return time.Duration(s.RetentionHours) * time.Hour
}
