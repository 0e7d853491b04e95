// Package orchconfig loads the session orchestrator's runtime config
// from environment variables, grounded on ws/config.go's caarlos0/env +
// godotenv pattern and the field defaults of
// hydra-orchestrator/src/session.rs::SessionConfig and
// hydra-orchestrator/src/config.rs::HydralphConfig.
package orchconfig

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds orchestrator-wide defaults and limits. Per-session
// overrides (agent CLI, flags, PRD path) live on SessionConfig in
// internal/orchestrator; this is the process-level baseline.
type Config struct {
	DefaultMaxIterations int           `env:"HYDRA_ORCH_MAX_ITERATIONS" envDefault:"10"`
	DefaultMaxDuration   time.Duration `env:"HYDRA_ORCH_MAX_DURATION" envDefault:"4h"`
	DefaultAgentCLI      string        `env:"HYDRA_ORCH_AGENT_CLI" envDefault:"claude"`
	DefaultAgentFlags    string        `env:"HYDRA_ORCH_AGENT_FLAGS" envDefault:"--dangerously-skip-permissions"`
	DefaultPRDPath       string        `env:"HYDRA_ORCH_PRD_PATH" envDefault:".hydra/ralph/prd.json"`

	StuckThreshold     time.Duration `env:"HYDRA_ORCH_STUCK_THRESHOLD" envDefault:"15m"`
	HealthCheckPeriod  time.Duration `env:"HYDRA_ORCH_HEALTH_CHECK_PERIOD" envDefault:"30s"`
	MaxConcurrentSpawn int           `env:"HYDRA_ORCH_MAX_CONCURRENT_SPAWN" envDefault:"4"`

	LogLevel string `env:"HYDRA_ORCH_LOG_LEVEL" envDefault:"info"`
}

// Load reads a .env file (if present, ignored if not) and then
// environment variables, matching ws/config.go's LoadConfig precedence:
// env vars override .env file values, both override the struct
// defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil && logger != nil {
		logger.Info().Msg("no .env file found, using environment variables only")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse orchestrator config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for out-of-range or nonsensical values.
func (c *Config) Validate() error {
	if c.DefaultMaxIterations < 1 {
		return fmt.Errorf("HYDRA_ORCH_MAX_ITERATIONS must be > 0, got %d", c.DefaultMaxIterations)
	}
	if c.MaxConcurrentSpawn < 1 {
		return fmt.Errorf("HYDRA_ORCH_MAX_CONCURRENT_SPAWN must be > 0, got %d", c.MaxConcurrentSpawn)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("HYDRA_ORCH_LOG_LEVEL must be one of debug/info/warn/error, got %q", c.LogLevel)
	}
	return nil
}

// LogConfig emits the loaded configuration via structured logging.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Int("default_max_iterations", c.DefaultMaxIterations).
		Dur("default_max_duration", c.DefaultMaxDuration).
		Str("default_agent_cli", c.DefaultAgentCLI).
		Dur("stuck_threshold", c.StuckThreshold).
		Dur("health_check_period", c.HealthCheckPeriod).
		Int("max_concurrent_spawn", c.MaxConcurrentSpawn).
		Msg("orchestrator configuration loaded")
}
