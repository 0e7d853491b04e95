package broker

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xPD33/hydra-tools/internal/brokerconfig"
	"github.com/0xPD33/hydra-tools/internal/channeltable"
)

func newTestHandler(t *testing.T, limits brokerconfig.LimitsConfig) (*connHandler, *channeltable.Table, uuid.UUID) {
	t.Helper()
	table := channeltable.New(100, 1024)
	project := uuid.New()
	return newConnHandler(table, limits, project, nil, nil), table, project
}

func serveOnPipe(h *connHandler) (client net.Conn) {
	server, client := net.Pipe()
	go h.Serve(server)
	return client
}

func testLimits() brokerconfig.LimitsConfig {
	return brokerconfig.LimitsConfig{
		MaxMessageSize: 10240,
		RateLimit:      0,
	}
}

func sendLine(t *testing.T, conn net.Conn, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	b = append(b, '\n')
	_, err = conn.Write(b)
	require.NoError(t, err)
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return line
}

func TestEmitUnknownCommandReturnsGracefulError(t *testing.T) {
	h, _, _ := newTestHandler(t, testLimits())
	conn := serveOnPipe(h)
	defer conn.Close()

	sendLine(t, conn, map[string]string{"cmd": "bogus"})

	r := bufio.NewReader(conn)
	line := readLine(t, r)
	var resp errResponse
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "Unknown command", resp.Msg)
}

func TestEmitAcceptsValidPayload(t *testing.T) {
	h, _, _ := newTestHandler(t, testLimits())
	conn := serveOnPipe(h)
	defer conn.Close()

	data := base64.StdEncoding.EncodeToString([]byte("hello world"))
	sendLine(t, conn, command{Cmd: "emit", Channel: "repo:delta", Format: "toon", Data: data})

	r := bufio.NewReader(conn)
	line := readLine(t, r)
	var resp okResponse
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "toon", resp.Format)
	assert.Equal(t, len("hello world"), resp.Size)
	assert.Equal(t, 0, resp.Receivers)
}

func TestEmitRejectsOversizePayload(t *testing.T) {
	limits := testLimits()
	limits.MaxMessageSize = 4
	h, _, _ := newTestHandler(t, limits)
	conn := serveOnPipe(h)
	defer conn.Close()

	data := base64.StdEncoding.EncodeToString([]byte("too big"))
	sendLine(t, conn, command{Cmd: "emit", Channel: "x", Format: "toon", Data: data})

	r := bufio.NewReader(conn)
	line := readLine(t, r)
	var resp errResponse
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Msg, "too large")
}

func TestEmitRejectsInvalidBase64(t *testing.T) {
	h, _, _ := newTestHandler(t, testLimits())
	conn := serveOnPipe(h)
	defer conn.Close()

	sendLine(t, conn, command{Cmd: "emit", Channel: "x", Format: "toon", Data: "!!!not-base64!!!"})

	r := bufio.NewReader(conn)
	line := readLine(t, r)
	var resp errResponse
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	assert.Equal(t, "error", resp.Status)
}

func TestEmitRejectsInvalidUTF8(t *testing.T) {
	h, _, _ := newTestHandler(t, testLimits())
	conn := serveOnPipe(h)
	defer conn.Close()

	invalid := []byte{0xff, 0xfe, 0xfd}
	sendLine(t, conn, command{Cmd: "emit", Channel: "x", Format: "toon", Data: base64.StdEncoding.EncodeToString(invalid)})

	r := bufio.NewReader(conn)
	line := readLine(t, r)
	var resp errResponse
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Msg, "UTF-8")
}

func TestRateLimitRejectsBurstAboveThreshold(t *testing.T) {
	limits := testLimits()
	limits.RateLimit = 2
	h, _, _ := newTestHandler(t, limits)
	conn := serveOnPipe(h)
	defer conn.Close()
	r := bufio.NewReader(conn)

	data := base64.StdEncoding.EncodeToString([]byte("x"))
	for i := 0; i < 2; i++ {
		sendLine(t, conn, command{Cmd: "emit", Channel: "x", Format: "toon", Data: data})
		line := readLine(t, r)
		var resp okResponse
		require.NoError(t, json.Unmarshal([]byte(line), &resp))
		assert.Equal(t, "ok", resp.Status)
	}

	sendLine(t, conn, command{Cmd: "emit", Channel: "x", Format: "toon", Data: data})
	line := readLine(t, r)
	var resp errResponse
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "Rate limit exceeded: 2 msgs/sec", resp.Msg)
}

func TestSubscribeStreamsHistoryThenLive(t *testing.T) {
	h, table, project := newTestHandler(t, testLimits())
	table.Emit(project, "repo:delta", []byte("stored-1"))

	conn := serveOnPipe(h)
	defer conn.Close()

	sendLine(t, conn, command{Cmd: "subscribe", Channel: "repo:delta"})
	r := bufio.NewReader(conn)

	line := readLine(t, r)
	assert.Equal(t, "stored-1\n", line)

	go func() {
		time.Sleep(20 * time.Millisecond)
		table.Emit(project, "repo:delta", []byte("live-1"))
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line = readLine(t, r)
	assert.Equal(t, "live-1\n", line)
}
