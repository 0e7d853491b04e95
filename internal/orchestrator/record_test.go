package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToRecordFromRecordRoundTrip(t *testing.T) {
	id := NewSessionID()
	session := &Session{
		ID:          id,
		TmuxSession: tmuxSessionName(id),
		Config: SessionConfig{
			MaxIterations: 10,
			MaxDuration:   4 * time.Hour,
			AgentCLI:      "claude",
			AgentFlags:    "--dangerously-skip-permissions",
			PRDPath:       ".hydra/ralph/prd.json",
			WorkingDir:    "/repo",
			UseWorktree:   true,
			BranchName:    "feature-a",
		},
		State:         State{Kind: StateRunning, Iteration: 3},
		StartedAt:     time.Now().UTC().Truncate(time.Second),
		WorktreePath:  "/repo/../feature-a",
		AllocatedPort: 3005,
	}

	record := toRecord(session)
	assert.Equal(t, id.String(), record.ID)
	assert.Equal(t, uint64(14400), record.MaxDurationSecs)
	assert.Equal(t, "feature-a", record.BranchName)

	restored := fromRecord(record)
	require.Equal(t, id, restored.ID)
	assert.Equal(t, session.Config.MaxDuration, restored.Config.MaxDuration)
	assert.Equal(t, session.WorktreePath, restored.WorktreePath)
	assert.Equal(t, session.AllocatedPort, restored.AllocatedPort)

	// fromRecord always resets to Starting regardless of the persisted state.
	assert.Equal(t, StateStarting, restored.State.Kind)
}
