// Package brokerclient is the Mail Broker client: connect, emit (one
// request, one response) and subscribe (a stream of raw payload lines).
// Grounded on hydra-orchestrator/src/mail.rs's HydraMailClient and the
// Emit/Subscribe subcommands of hydra-mail/src/main.rs.
package brokerclient

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/0xPD33/hydra-tools/internal/herr"
	"github.com/0xPD33/hydra-tools/internal/hydraconst"
	"github.com/0xPD33/hydra-tools/internal/project"
)

// Client is a connection to one project's broker daemon.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
}

// Connect loads the project config at root and dials its broker socket.
// It surfaces ConfigMissing if the project was never initialized and
// DaemonUnreachable if the socket is absent or refuses the connection,
// matching spec.md §7's taxonomy.
func Connect(root string) (*Client, error) {
	if !project.Exists(root) {
		return nil, herr.New(herr.ConfigMissing, fmt.Sprintf("project %s is not initialized (run init first)", root))
	}
	cfg, err := project.Load(root)
	if err != nil {
		return nil, herr.Wrap(herr.ConfigMissing, "load project config", err)
	}

	conn, err := net.Dial("unix", cfg.SocketPath)
	if err != nil {
		return nil, herr.Wrap(herr.DaemonUnreachable, fmt.Sprintf("connect to broker socket at %s (is the daemon running?)", cfg.SocketPath), err)
	}

	return &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

type emitCommand struct {
	Cmd     string `json:"cmd"`
	Channel string `json:"channel"`
	Format  string `json:"format"`
	Data    string `json:"data"`
}

type subscribeCommand struct {
	Cmd     string `json:"cmd"`
	Channel string `json:"channel"`
}

type emitResponse struct {
	Status    string `json:"status"`
	Format    string `json:"format"`
	Size      int    `json:"size"`
	Receivers int    `json:"receivers"`
	Msg       string `json:"msg"`
}

// Emit sends one toon-formatted payload to channel and waits for the
// broker's single response line.
func (c *Client) Emit(channel string, payload []byte) (receivers int, err error) {
	cmd := emitCommand{
		Cmd:     "emit",
		Channel: channel,
		Format:  "toon",
		Data:    base64.StdEncoding.EncodeToString(payload),
	}
	b, err := json.Marshal(cmd)
	if err != nil {
		return 0, herr.Wrap(herr.ProtocolError, "marshal emit command", err)
	}
	if _, err := c.writer.Write(append(b, '\n')); err != nil {
		return 0, herr.Wrap(herr.DaemonUnreachable, "write emit command", err)
	}
	if err := c.writer.Flush(); err != nil {
		return 0, herr.Wrap(herr.DaemonUnreachable, "flush emit command", err)
	}

	line, err := c.reader.ReadString('\n')
	if err != nil {
		return 0, herr.Wrap(herr.DaemonUnreachable, "read emit response", err)
	}
	var resp emitResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return 0, herr.Wrap(herr.ProtocolError, "parse emit response", err)
	}
	if resp.Status == "error" {
		return 0, herr.New(herr.ProtocolError, resp.Msg)
	}
	return resp.Receivers, nil
}

// EmitBestEffort sends a payload without waiting for or checking the
// response, matching HydraMailClient::emit's fire-and-forget contract
// (used by lifecycle pulses the orchestrator must not block on).
func (c *Client) EmitBestEffort(channel string, payload []byte) {
	cmd := emitCommand{
		Cmd:     "emit",
		Channel: channel,
		Format:  "toon",
		Data:    base64.StdEncoding.EncodeToString(payload),
	}
	b, err := json.Marshal(cmd)
	if err != nil {
		return
	}
	b = append(b, '\n')
	_, _ = c.writer.Write(b)
	_ = c.writer.Flush()
}

// Subscription streams raw payload lines for one channel.
type Subscription struct {
	reader *bufio.Reader
}

// Subscribe sends the subscribe command and returns a stream that yields
// one decoded payload per call to Next, in history-then-live order, until
// the broker closes the connection.
func (c *Client) Subscribe(channel string) (*Subscription, error) {
	cmd := subscribeCommand{Cmd: "subscribe", Channel: channel}
	b, err := json.Marshal(cmd)
	if err != nil {
		return nil, herr.Wrap(herr.ProtocolError, "marshal subscribe command", err)
	}
	if _, err := c.writer.Write(append(b, '\n')); err != nil {
		return nil, herr.Wrap(herr.DaemonUnreachable, "write subscribe command", err)
	}
	if err := c.writer.Flush(); err != nil {
		return nil, herr.Wrap(herr.DaemonUnreachable, "flush subscribe command", err)
	}
	return &Subscription{reader: c.reader}, nil
}

// Next blocks for the next payload line. It returns io.EOF-wrapped as a
// DaemonUnreachable error when the broker closes the stream.
func (s *Subscription) Next() ([]byte, error) {
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return nil, herr.Wrap(herr.DaemonUnreachable, "read subscribe stream", err)
	}
	return []byte(line[:len(line)-1]), nil
}

// ReadStdin reads up to MaxStdinSize bytes from stdin, matching the CLI's
// `--data @-` convention; exactly MaxStdinSize bytes read is treated as
// truncation and reported as an error, mirroring the original's
// take(MAX_STDIN_SIZE).read_to_end exact-equality check.
func ReadStdin() ([]byte, error) {
	limited := io.LimitReader(os.Stdin, int64(hydraconst.MaxStdinSize))
	buf, err := io.ReadAll(limited)
	if err != nil {
		return nil, herr.Wrap(herr.ProtocolError, "read stdin", err)
	}
	if len(buf) == hydraconst.MaxStdinSize {
		return nil, herr.New(herr.Oversize, fmt.Sprintf("stdin data too large (max %d bytes)", hydraconst.MaxStdinSize))
	}
	return buf, nil
}
