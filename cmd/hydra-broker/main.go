// Command hydra-broker runs the Mail Broker daemon for one project: a
// Unix-domain-socket pub/sub server with replay history, rate limiting
// and Prometheus metrics. Grounded on hydra-mail/src/main.rs's Start
// subcommand and go-server-3/cmd/odin-ws/main.go's daemon lifecycle.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/0xPD33/hydra-tools/internal/broker"
	"github.com/0xPD33/hydra-tools/internal/brokerconfig"
	"github.com/0xPD33/hydra-tools/internal/brokerlogging"
	"github.com/0xPD33/hydra-tools/internal/brokermetrics"
	"github.com/0xPD33/hydra-tools/internal/msglog"
	"github.com/0xPD33/hydra-tools/internal/project"
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

	if !project.Exists(root) {
		fmt.Fprintf(os.Stderr, "project at %s is not initialized (run hydra-mail init first)\n", root)
		os.Exit(1)
	}

	cfgHandle, err := project.Load(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load project config: %v\n", err)
		os.Exit(1)
	}

	cfg, err := brokerconfig.Load(cfgHandle.SocketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load broker config: %v\n", err)
		os.Exit(1)
	}

	logger, err := brokerlogging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // nolint:errcheck

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		logger.Sugar().Infof(format, args...)
	})); err != nil {
		logger.Warn("failed to set GOMAXPROCS from cgroup quota", zap.Error(err))
	}

	metricsRegistry := brokermetrics.NewRegistry()

	daemon := broker.New(cfg, cfgHandle.ProjectUUID, project.PidPath(root), metricsRegistry, logger)

	msgLog, err := msglog.Open(project.MessageLogPath(root))
	if err != nil {
		logger.Fatal("failed to open message log", zap.Error(err))
	}
	defer msgLog.Close()
	daemon.Table.SetAppender(msgLog)

	if err := msgLog.ReplayInto(func(projectUUID uuid.UUID, channel string, payload []byte) {
		daemon.Table.Emit(projectUUID, channel, payload)
	}); err != nil {
		logger.Warn("failed to replay message log", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	daemonErrCh := make(chan error, 1)
	go func() {
		daemonErrCh <- daemon.Start(ctx)
	}()

	var httpErrCh chan error
	if cfg.Metrics.Enabled {
		httpErrCh = make(chan error, 1)
		go func() {
			httpErrCh <- runMetricsServer(ctx, cfg, metricsRegistry, logger)
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-daemonErrCh:
		if err != nil {
			logger.Error("daemon exited with error", zap.Error(err))
		}
		stop()
	}

	daemon.Stop()
	if httpErrCh != nil {
		<-httpErrCh
	}
	logger.Info("broker stopped")
}

func runMetricsServer(ctx context.Context, cfg brokerconfig.Config, metricsRegistry *brokermetrics.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status": "healthy", "timestamp": time.Now().UTC().Format(time.RFC3339Nano)})
	})
	mux.Handle(cfg.Metrics.Endpoint, metricsRegistry.Handler())

	httpServer := &http.Server{
		Addr:         cfg.Metrics.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics http server starting", zap.String("addr", cfg.Metrics.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Socket.ShutdownWait)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics http server shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
