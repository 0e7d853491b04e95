package broker

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/0xPD33/hydra-tools/internal/brokerconfig"
	"github.com/0xPD33/hydra-tools/internal/brokermetrics"
	"github.com/0xPD33/hydra-tools/internal/channeltable"
	"github.com/0xPD33/hydra-tools/internal/hydraconst"
)

// Daemon owns the Unix domain socket listener, the channel table and the
// daemon's on-disk PID-file lifecycle. Grounded on the Start/Stop
// subcommands of hydra-mail/src/main.rs and the accept-loop shape of
// go-server-3/cmd/odin-ws/main.go.
type Daemon struct {
	Table   *channeltable.Table
	project uuid.UUID
	cfg     brokerconfig.Config
	metrics *brokermetrics.Registry
	logger  *zap.Logger

	pidPath    string
	socketPath string

	admitter *rate.Limiter

	mu          sync.Mutex
	listener    net.Listener
	activeConns int
}

// New builds a Daemon for project, bound to the socket and PID-file
// paths named by cfg and pidPath. A connection admission limiter is
// built from cfg.Limits.MaxConnections: a token bucket allowing that
// many new connections per second, burst MaxConnections, guarding
// against a connection-storm independently of the concurrent-connection
// cap Start enforces off the same field.
func New(cfg brokerconfig.Config, project uuid.UUID, pidPath string, metrics *brokermetrics.Registry, logger *zap.Logger) *Daemon {
	table := channeltable.New(cfg.Limits.ReplayBufferCapacity, cfg.Limits.BroadcastCapacity)

	var admitter *rate.Limiter
	if cfg.Limits.MaxConnections > 0 {
		admitter = rate.NewLimiter(rate.Limit(cfg.Limits.MaxConnections), cfg.Limits.MaxConnections)
	}

	return &Daemon{
		Table:      table,
		project:    project,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger,
		pidPath:    pidPath,
		socketPath: cfg.Socket.Path,
		admitter:   admitter,
	}
}

// checkStalePID inspects an existing daemon.pid file. It returns nil if
// there is no conflicting live daemon (the file is absent, belongs to
// this process, or names a PID that `ps -p` reports as gone — in which
// case the stale file and socket are removed), and an error if another
// live daemon already owns this project.
func checkStalePID(pidPath, socketPath string) error {
	b, err := os.ReadFile(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read daemon.pid: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		// Unreadable PID file; treat as stale.
		_ = os.Remove(pidPath)
		_ = os.Remove(socketPath)
		return nil
	}

	if pid == os.Getpid() {
		return nil
	}

	if processAlive(pid) {
		return fmt.Errorf("daemon already running with PID %d; stop it first", pid)
	}

	_ = os.Remove(pidPath)
	_ = os.Remove(socketPath)
	return nil
}

func processAlive(pid int) bool {
	cmd := exec.Command("ps", "-p", strconv.Itoa(pid))
	return cmd.Run() == nil
}

// Start binds the socket (mode 0600), writes daemon.pid, and runs the
// accept loop until ctx is canceled. Grounded on the Start subcommand's
// tokio::select accept-loop, adapted to a signal.NotifyContext caller in
// cmd/hydra-broker rather than handling SIGTERM/SIGINT internally.
func (d *Daemon) Start(ctx context.Context) error {
	if err := checkStalePID(d.pidPath, d.socketPath); err != nil {
		return err
	}

	_ = os.Remove(d.socketPath)

	listener, err := net.Listen("unix", d.socketPath)
	if err != nil {
		return fmt.Errorf("bind unix socket: %w", err)
	}
	if err := os.Chmod(d.socketPath, hydraconst.SocketPermissions); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	if err := os.WriteFile(d.pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		listener.Close()
		return fmt.Errorf("write daemon.pid: %w", err)
	}

	d.mu.Lock()
	d.listener = listener
	d.mu.Unlock()

	if d.logger != nil {
		d.logger.Info("daemon started", zap.Int("pid", os.Getpid()), zap.String("socket", d.socketPath))
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return d.cleanup()
			default:
				if d.logger != nil {
					d.logger.Error("accept error", zap.Error(err))
				}
				return d.cleanup()
			}
		}

		if reason, ok := d.admitConn(); !ok {
			if d.metrics != nil {
				d.metrics.ConnectionsRejected.WithLabelValues(reason).Inc()
			}
			if d.logger != nil {
				d.logger.Warn("connection rejected at admission", zap.String("reason", reason))
			}
			conn.Close()
			continue
		}

		if d.metrics != nil {
			d.metrics.ConnectionsActive.Inc()
		}
		handler := newConnHandler(d.Table, d.cfg.Limits, d.project, d.metrics, d.logger)
		go func() {
			defer func() {
				d.releaseConn()
				if d.metrics != nil {
					d.metrics.ConnectionsActive.Dec()
				}
			}()
			if err := handler.Serve(conn); err != nil && d.logger != nil {
				d.logger.Warn("connection handler error", zap.Error(err))
			}
		}()
	}
}

// admitConn enforces the concurrent-connection cap (cfg.Limits.
// MaxConnections, 0 meaning unlimited) and the token-bucket admission
// rate (d.admitter), in that order. A false result names the rejection
// reason for the caller's metric/log.
func (d *Daemon) admitConn() (reason string, ok bool) {
	d.mu.Lock()
	if d.cfg.Limits.MaxConnections > 0 && d.activeConns >= d.cfg.Limits.MaxConnections {
		d.mu.Unlock()
		return "max_connections", false
	}
	d.activeConns++
	d.mu.Unlock()

	if d.admitter != nil && !d.admitter.Allow() {
		d.mu.Lock()
		d.activeConns--
		d.mu.Unlock()
		return "rate_limited", false
	}
	return "", true
}

func (d *Daemon) releaseConn() {
	d.mu.Lock()
	d.activeConns--
	d.mu.Unlock()
}

func (d *Daemon) cleanup() error {
	_ = os.Remove(d.pidPath)
	_ = os.Remove(d.socketPath)
	if d.logger != nil {
		d.logger.Info("daemon stopped cleanly")
	}
	return nil
}

// Stop closes the listener, unblocking Start's accept loop.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener != nil {
		_ = d.listener.Close()
	}
}
