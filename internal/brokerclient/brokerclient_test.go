package brokerclient

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xPD33/hydra-tools/internal/project"
)

// startFakeBroker runs a minimal echo server on a Unix socket that
// answers emit with a canned ok response and subscribe with two lines,
// enough to exercise the client's framing without the real daemon.
func startFakeBroker(t *testing.T, socketPath string) {
	t.Helper()
	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		w := bufio.NewWriter(conn)

		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		var cmd map[string]any
		_ = json.Unmarshal([]byte(line), &cmd)

		switch cmd["cmd"] {
		case "emit":
			resp, _ := json.Marshal(map[string]any{"status": "ok", "format": "toon", "size": 5, "receivers": 1})
			w.Write(append(resp, '\n'))
			w.Flush()
		case "subscribe":
			w.WriteString("history-1\n")
			w.WriteString("history-2\n")
			w.Flush()
		}
	}()
}

func setupProject(t *testing.T) (root, socketPath string) {
	t.Helper()
	root = t.TempDir()
	cfg, err := project.Init(root)
	require.NoError(t, err)
	return root, cfg.SocketPath
}

func TestConnectFailsWithoutInit(t *testing.T) {
	_, err := Connect(t.TempDir())
	require.Error(t, err)
}

func TestConnectFailsWhenDaemonNotListening(t *testing.T) {
	root, _ := setupProject(t)
	_, err := Connect(root)
	require.Error(t, err)
}

func TestEmitParsesOkResponse(t *testing.T) {
	root, socketPath := setupProject(t)
	startFakeBroker(t, socketPath)

	c, err := Connect(root)
	require.NoError(t, err)
	defer c.Close()

	receivers, err := c.Emit("repo:delta", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 1, receivers)
}

func TestSubscribeYieldsHistoryLines(t *testing.T) {
	root, socketPath := setupProject(t)
	startFakeBroker(t, socketPath)

	c, err := Connect(root)
	require.NoError(t, err)
	defer c.Close()

	sub, err := c.Subscribe("repo:delta")
	require.NoError(t, err)

	first, err := sub.Next()
	require.NoError(t, err)
	assert.Equal(t, "history-1", string(first))

	second, err := sub.Next()
	require.NoError(t, err)
	assert.Equal(t, "history-2", string(second))
}

func TestEmitEncodesPayloadAsBase64(t *testing.T) {
	root, socketPath := setupProject(t)

	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		w := bufio.NewWriter(conn)
		line, _ := r.ReadString('\n')
		var cmd map[string]any
		_ = json.Unmarshal([]byte(line), &cmd)
		received <- cmd["data"].(string)
		resp, _ := json.Marshal(map[string]any{"status": "ok", "format": "toon", "size": 2, "receivers": 0})
		w.Write(append(resp, '\n'))
		w.Flush()
	}()

	c, err := Connect(root)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Emit("x", []byte("hi"))
	require.NoError(t, err)

	got := <-received
	decoded, err := base64.StdEncoding.DecodeString(got)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(decoded))
}
