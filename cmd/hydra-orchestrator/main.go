// Command hydra-orchestrator runs the session orchestrator's supervisory
// loop for one project: it loads persisted sessions, wires the broker
// client and worktree manager, and periodically reconciles state and
// enforces duration/stuck limits until signaled to stop. Grounded on
// cmd/hydra-broker's daemon lifecycle and ws/main.go's signal handling;
// spawning, listing, pausing, injecting into, and killing sessions are
// exposed as library operations on internal/orchestrator.Orchestrator
// for external callers (command-line front-ends are out of scope here).
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xPD33/hydra-tools/internal/orchconfig"
	"github.com/0xPD33/hydra-tools/internal/orchestrator"
	"github.com/0xPD33/hydra-tools/internal/worktree"
)

func main() {
	root, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve working directory: %v\n", err)
		os.Exit(1)
	}
	if len(os.Args) > 1 {
		root = os.Args[1]
	}

	logger := newLogger()

	cfg, err := orchconfig.Load(&logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load orchestrator configuration")
	}
	cfg.LogConfig(logger)

	o := orchestrator.New(root).WithMail(root).WithConfig(*cfg)

	if mgr, err := worktree.NewManager(root); err != nil {
		logger.Warn().Err(err).Msg("worktree manager unavailable, worktree-backed spawns will fail")
	} else {
		o.SetWorktreeFactory(
			func(branch string) (string, uint16, error) {
				path, port, warnings, err := mgr.Create(branch)
				for _, w := range warnings {
					logger.Warn().Str("branch", branch).Msg(w)
				}
				return path, port, err
			},
			mgr.Release,
		)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.HealthCheckPeriod)
	defer ticker.Stop()

	logger.Info().Str("project_root", root).Dur("period", cfg.HealthCheckPeriod).Msg("orchestrator supervisory loop starting")

	for {
		select {
		case <-sigCh:
			logger.Info().Msg("shutdown signal received, orchestrator stopping")
			return
		case <-ticker.C:
			report, err := o.HealthCheck()
			if err != nil {
				logger.Error().Err(err).Msg("health check failed")
				continue
			}
			event := logger.Info().
				Int("sessions_killed", len(report.Killed)).
				Float64("host_cpu_percent", report.HostCPUPercent).
				Uint64("host_mem_available_mb", report.HostMemAvailableMB)
			if len(report.Killed) > 0 {
				ids := make([]string, len(report.Killed))
				for i, id := range report.Killed {
					ids[i] = id.String()
				}
				event = event.Strs("killed_ids", ids)
			}
			event.Msg("health check completed")
		}
	}
}

// newLogger mirrors ws's monitoring.NewLogger: JSON to stdout, info
// level by default, RFC3339 timestamps.
func newLogger() zerolog.Logger {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "hydra-orchestrator").
		Logger()
}
