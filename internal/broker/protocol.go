// Package broker implements the broker daemon: the Unix-domain-socket
// server that exposes the Channel Table over the line-framed JSON wire
// protocol in spec.md §6, enforcing admission limits and owning the
// daemon's lifecycle. Grounded on hydra-mail/src/main.rs's handle_conn
// and the teacher's odin-ws daemon-lifecycle pattern
// (go-server-3/cmd/odin-ws/main.go).
package broker

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/0xPD33/hydra-tools/internal/brokerconfig"
	"github.com/0xPD33/hydra-tools/internal/brokermetrics"
	"github.com/0xPD33/hydra-tools/internal/channeltable"
	"github.com/0xPD33/hydra-tools/internal/toon"
)

type command struct {
	Cmd     string `json:"cmd"`
	Channel string `json:"channel"`
	Format  string `json:"format"`
	Data    string `json:"data"`
}

type okResponse struct {
	Status    string `json:"status"`
	Format    string `json:"format"`
	Size      int    `json:"size"`
	Receivers int    `json:"receivers"`
}

type errResponse struct {
	Status string `json:"status"`
	Msg    string `json:"msg"`
}

func writeJSONLine(w *bufio.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

func writeError(w *bufio.Writer, msg string) error {
	return writeJSONLine(w, errResponse{Status: "error", Msg: msg})
}

// connHandler serves one client connection for the lifetime of the
// socket, matching the wire protocol in spec.md §6 exactly: line-framed
// JSON commands in, one response (emit) or an unterminated stream of raw
// payload lines (subscribe) out.
type connHandler struct {
	table    *channeltable.Table
	limits   brokerconfig.LimitsConfig
	project  uuid.UUID
	metrics  *brokermetrics.Registry
	logger   *zap.Logger
	rate     *slidingWindowLimiter
}

func newConnHandler(table *channeltable.Table, limits brokerconfig.LimitsConfig, project uuid.UUID, metrics *brokermetrics.Registry, logger *zap.Logger) *connHandler {
	return &connHandler{
		table:   table,
		limits:  limits,
		project: project,
		metrics: metrics,
		logger:  logger,
		rate:    newSlidingWindowLimiter(limits.RateLimit),
	}
}

// Serve reads commands from conn until the client closes the stream or an
// unrecoverable I/O error occurs. Admission failures are reported as
// graceful error responses; see DESIGN.md decision #5.
func (h *connHandler) Serve(conn net.Conn) error {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read command: %w", err)
		}

		var cmd command
		if jsonErr := json.Unmarshal([]byte(line), &cmd); jsonErr != nil {
			if err := writeError(writer, "Invalid JSON command"); err != nil {
				return err
			}
			continue
		}

		switch cmd.Cmd {
		case "emit":
			if err := h.handleEmit(writer, cmd); err != nil {
				return err
			}
		case "subscribe":
			return h.handleSubscribe(writer, cmd)
		default:
			if err := writeError(writer, "Unknown command"); err != nil {
				return err
			}
		}
	}
}

func (h *connHandler) handleEmit(writer *bufio.Writer, cmd command) error {
	if !h.rate.Allow(time.Now()) {
		h.metricReject("rate_limited")
		return writeError(writer, fmt.Sprintf("Rate limit exceeded: %d msgs/sec", h.limits.RateLimit))
	}

	if cmd.Channel == "" {
		h.metricReject("missing_channel")
		return writeError(writer, "Missing channel")
	}
	if cmd.Data == "" {
		h.metricReject("missing_data")
		return writeError(writer, "Missing data")
	}

	format := toon.FormatToon
	if cmd.Format != "" {
		parsed, err := toon.ParseFormat(cmd.Format)
		if err != nil {
			h.metricReject("invalid_format")
			return writeError(writer, err.Error())
		}
		format = parsed
	}

	decoded, err := base64.StdEncoding.DecodeString(cmd.Data)
	if err != nil {
		h.metricReject("bad_base64")
		return writeError(writer, "Failed to decode base64 data")
	}

	maxSize := h.limits.MaxMessageSize
	if len(decoded) > maxSize {
		h.metricReject("oversize")
		return writeError(writer, fmt.Sprintf("Message too large: %d bytes (max %d)", len(decoded), maxSize))
	}

	if !utf8.Valid(decoded) {
		h.metricReject("invalid_utf8")
		return writeError(writer, "Invalid UTF-8 in data")
	}

	receivers := h.table.Emit(h.project, cmd.Channel, decoded)
	if h.metrics != nil {
		h.metrics.EmitsAccepted.Inc()
		h.metrics.MessagesDelivered.Add(float64(receivers))
	}

	return writeJSONLine(writer, okResponse{
		Status:    "ok",
		Format:    format.String(),
		Size:      len(decoded),
		Receivers: receivers,
	})
}

func (h *connHandler) metricReject(reason string) {
	if h.metrics != nil {
		h.metrics.EmitsRejected.WithLabelValues(reason).Inc()
	}
}

// handleSubscribe streams history then live messages with no control
// envelope, per spec.md §6, until the client disconnects.
func (h *connHandler) handleSubscribe(writer *bufio.Writer, cmd command) error {
	if cmd.Channel == "" {
		return writeError(writer, "Missing channel")
	}

	sub, history := h.table.Subscribe(h.project, cmd.Channel)
	defer sub.Close()

	if h.metrics != nil {
		h.metrics.Subscriptions.Inc()
		defer h.metrics.Subscriptions.Dec()
	}

	for _, msg := range history {
		if _, err := writer.Write(msg); err != nil {
			return err
		}
		if err := writer.WriteByte('\n'); err != nil {
			return err
		}
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	for msg := range sub.Messages {
		if _, err := writer.Write(msg); err != nil {
			return err
		}
		if err := writer.WriteByte('\n'); err != nil {
			return err
		}
		if err := writer.Flush(); err != nil {
			return err
		}
	}
	return nil
}
