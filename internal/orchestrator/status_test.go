package orchestrator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadStatusMissingFileReturnsNil(t *testing.T) {
	dir := t.TempDir()
	status, err := readStatus(dir)
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestReadStatusParsesValidJSON(t *testing.T) {
	dir := t.TempDir()
	content := `{"status":"running","iteration":3,"max":10,"stories":"2/5 done"}`
	require.NoError(t, os.WriteFile(statusPath(dir), []byte(content), 0o644))

	status, err := readStatus(dir)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "running", status.Status)
	assert.Equal(t, uint32(3), status.Iteration)
	assert.Equal(t, "2/5 done", status.Stories)
}

func TestMapStatusTable(t *testing.T) {
	cases := []struct {
		status string
		kind   StateKind
	}{
		{"running", StateRunning},
		{"complete", StateCompleted},
		{"blocked", StateBlocked},
		{"max-iterations", StateMaxIterations},
		{"started", StateStarting},
		{"gibberish", StateStarting},
	}
	for _, c := range cases {
		got := mapStatus(&ralphStatus{Status: c.status, Iteration: 7})
		assert.Equal(t, c.kind, got.Kind, "status=%s", c.status)
	}
}

func TestMapStatusCarriesIterationFields(t *testing.T) {
	running := mapStatus(&ralphStatus{Status: "running", Iteration: 4, Stories: "x"})
	assert.Equal(t, uint32(4), running.Iteration)
	assert.Equal(t, "x", running.Stories)

	blocked := mapStatus(&ralphStatus{Status: "blocked", Iteration: 2, Stories: "waiting on review"})
	assert.Equal(t, uint32(2), blocked.Iteration)
	assert.Equal(t, "Agent signaled blocked", blocked.BlockedReason)

	completed := mapStatus(&ralphStatus{Status: "complete", Iteration: 9})
	assert.Equal(t, uint32(9), completed.TotalIterations)
}

func TestPauseMarkerExists(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, pauseMarkerExists(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".pause"), nil, 0o644))
	assert.True(t, pauseMarkerExists(dir))
}
