// Package orchestrator manages agent-loop sessions: spawning them into
// multiplexer sessions, tracking their state machine, reconciling that
// state against on-disk status files, and running periodic health
// checks. Grounded on hydra-orchestrator/src/{lib,session}.rs.
package orchestrator

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionID is a short, human-typeable session identifier: the first 8
// hex characters of a fresh UUIDv4, matching session.rs::SessionId::new.
type SessionID string

// NewSessionID generates a fresh session id.
func NewSessionID() SessionID {
	return SessionID(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func (id SessionID) String() string { return string(id) }

// SessionConfig describes how to spawn one agent-loop session, with
// defaults matching session.rs::SessionConfig's #[serde(default)] fields.
type SessionConfig struct {
	MaxIterations uint32
	MaxDuration   time.Duration
	AgentCLI      string
	AgentFlags    string
	PRDPath       string
	WorkingDir    string
	UseWorktree   bool
	BranchName    string
}

// DefaultSessionConfig returns the field defaults from session.rs.
func DefaultSessionConfig(workingDir string) SessionConfig {
	return SessionConfig{
		MaxIterations: 10,
		MaxDuration:   4 * time.Hour,
		AgentCLI:      "claude",
		AgentFlags:    "--dangerously-skip-permissions",
		PRDPath:       ".hydra/ralph/prd.json",
		WorkingDir:    workingDir,
		UseWorktree:   false,
	}
}

// StateKind names which variant of the §4.5 state machine a Session is
// currently in.
type StateKind string

const (
	StateStarting      StateKind = "Starting"
	StateRunning       StateKind = "Running"
	StatePaused        StateKind = "Paused"
	StateCompleted     StateKind = "Completed"
	StateBlocked       StateKind = "Blocked"
	StateMaxIterations StateKind = "MaxIterations"
	StateFailed        StateKind = "Failed"
	StateStuck         StateKind = "Stuck"
)

// State is the session state machine's current value, matching the
// table in spec.md §4.5. Only the fields relevant to Kind are
// meaningful; the rest are zero.
type State struct {
	Kind StateKind

	// Running
	Iteration uint32
	Stories   string

	// Completed
	TotalIterations uint32

	// Blocked
	BlockedReason string

	// MaxIterations reuses TotalIterations.

	// Failed
	FailedReason string

	// Stuck
	Since         time.Time
	LastIteration uint32
}

// Session is one in-memory tracked agent-loop session.
type Session struct {
	ID            SessionID
	Config        SessionConfig
	TmuxSession   string
	State         State
	StartedAt     time.Time
	LastActivity  time.Time
	WorktreePath  string
	AllocatedPort uint16
}

func tmuxSessionName(id SessionID) string {
	return "hydralph-" + id.String()
}
