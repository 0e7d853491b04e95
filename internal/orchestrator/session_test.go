package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewSessionIDIsEightHexChars(t *testing.T) {
	id := NewSessionID()
	assert.Len(t, id.String(), 8)
	for _, r := range id.String() {
		assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'))
	}
}

func TestNewSessionIDIsUnique(t *testing.T) {
	seen := make(map[SessionID]bool)
	for i := 0; i < 100; i++ {
		id := NewSessionID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestDefaultSessionConfigMatchesOriginalDefaults(t *testing.T) {
	cfg := DefaultSessionConfig("/tmp/project")
	assert.Equal(t, uint32(10), cfg.MaxIterations)
	assert.Equal(t, 4*time.Hour, cfg.MaxDuration)
	assert.Equal(t, "claude", cfg.AgentCLI)
	assert.Equal(t, "--dangerously-skip-permissions", cfg.AgentFlags)
	assert.Equal(t, ".hydra/ralph/prd.json", cfg.PRDPath)
	assert.False(t, cfg.UseWorktree)
}

func TestTmuxSessionNameHasExpectedPrefix(t *testing.T) {
	id := NewSessionID()
	assert.Equal(t, "hydralph-"+id.String(), tmuxSessionName(id))
}
