// Package brokerconfig loads the broker daemon's runtime configuration,
// grounded on go-server-3/internal/config: viper defaults, an optional
// config file, and environment variable overrides.
package brokerconfig

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/0xPD33/hydra-tools/internal/hydraconst"
)

// Config holds all runtime configuration for the broker daemon.
type Config struct {
	Socket  SocketConfig  `mapstructure:"socket"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SocketConfig controls the Unix domain socket listener.
type SocketConfig struct {
	Path         string        `mapstructure:"path"`
	ShutdownWait time.Duration `mapstructure:"shutdown_wait"`
}

// LimitsConfig controls per-connection admission and channel table
// capacities, matching spec.md §4.2/§4.7's "Message limits" list.
type LimitsConfig struct {
	RateLimit            int `mapstructure:"rate_limit"`
	MaxMessageSize       int `mapstructure:"max_message_size"`
	MaxStdinSize         int `mapstructure:"max_stdin_size"`
	ReplayBufferCapacity int `mapstructure:"replay_buffer_capacity"`
	BroadcastCapacity    int `mapstructure:"broadcast_capacity"`
	MaxConnections       int `mapstructure:"max_connections"`
}

// MetricsConfig controls the Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Endpoint   string `mapstructure:"endpoint"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from environment variables (prefixed
// HYDRA_BROKER_) and an optional hydra-broker.{yaml,toml,json} file,
// falling back to spec.md's literal defaults.
func Load(socketPath string) (Config, error) {
	v := viper.New()

	v.SetDefault("socket.path", socketPath)
	v.SetDefault("socket.shutdown_wait", 5*time.Second)

	v.SetDefault("limits.rate_limit", 0)
	v.SetDefault("limits.max_message_size", hydraconst.MaxMessageSize)
	v.SetDefault("limits.max_stdin_size", hydraconst.MaxStdinSize)
	v.SetDefault("limits.replay_buffer_capacity", hydraconst.ReplayBufferCapacity)
	v.SetDefault("limits.broadcast_capacity", hydraconst.BroadcastChannelCapacity)
	v.SetDefault("limits.max_connections", 256)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9096")
	v.SetDefault("metrics.endpoint", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("hydra-broker")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("HYDRA_BROKER")
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("broker config unmarshal: %w", err)
	}

	if cfg.Limits.MaxMessageSize <= 0 {
		cfg.Limits.MaxMessageSize = hydraconst.MaxMessageSize
	}
	if cfg.Limits.ReplayBufferCapacity <= 0 {
		cfg.Limits.ReplayBufferCapacity = hydraconst.ReplayBufferCapacity
	}
	if cfg.Limits.BroadcastCapacity <= 0 {
		cfg.Limits.BroadcastCapacity = hydraconst.BroadcastChannelCapacity
	}

	return cfg, nil
}
