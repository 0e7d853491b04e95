package orchestrator

import "time"

// SessionRecord is the on-disk shape of a Session, matching
// session.rs::SessionRecord's field list exactly.
type SessionRecord struct {
	ID              string    `json:"id"`
	TmuxSession     string    `json:"tmux_session"`
	PRDPath         string    `json:"prd_path"`
	MaxIterations   uint32    `json:"max_iterations"`
	MaxDurationSecs uint64    `json:"max_duration_secs"`
	AgentCLI        string    `json:"agent_cli"`
	AgentFlags      string    `json:"agent_flags"`
	WorkingDir      string    `json:"working_dir"`
	UseWorktree     bool      `json:"use_worktree"`
	BranchName      string    `json:"branch_name,omitempty"`
	WorktreePath    string    `json:"worktree_path,omitempty"`
	AllocatedPort   uint16    `json:"allocated_port,omitempty"`
	CreatedAt       int64     `json:"created_at"`
}

// toRecord converts a live Session into its persisted form.
func toRecord(s *Session) SessionRecord {
	return SessionRecord{
		ID:              s.ID.String(),
		TmuxSession:     s.TmuxSession,
		PRDPath:         s.Config.PRDPath,
		MaxIterations:   s.Config.MaxIterations,
		MaxDurationSecs: uint64(s.Config.MaxDuration.Seconds()),
		AgentCLI:        s.Config.AgentCLI,
		AgentFlags:      s.Config.AgentFlags,
		WorkingDir:      s.Config.WorkingDir,
		UseWorktree:     s.Config.UseWorktree,
		BranchName:      s.Config.BranchName,
		WorktreePath:    s.WorktreePath,
		AllocatedPort:   s.AllocatedPort,
		CreatedAt:       s.StartedAt.Unix(),
	}
}

// fromRecord rebuilds a Session from a persisted record. Like
// session.rs::into_session, the restored session always starts in
// Starting regardless of whatever state was last persisted: only
// reconciliation against the live multiplexer session and status file
// can re-derive the true current state.
func fromRecord(r SessionRecord) *Session {
	return &Session{
		ID:          SessionID(r.ID),
		TmuxSession: r.TmuxSession,
		Config: SessionConfig{
			MaxIterations: r.MaxIterations,
			MaxDuration:   time.Duration(r.MaxDurationSecs) * time.Second,
			AgentCLI:      r.AgentCLI,
			AgentFlags:    r.AgentFlags,
			PRDPath:       r.PRDPath,
			WorkingDir:    r.WorkingDir,
			UseWorktree:   r.UseWorktree,
			BranchName:    r.BranchName,
		},
		State:         State{Kind: StateStarting},
		StartedAt:     time.Unix(r.CreatedAt, 0).UTC(),
		LastActivity:  time.Unix(r.CreatedAt, 0).UTC(),
		WorktreePath:  r.WorktreePath,
		AllocatedPort: r.AllocatedPort,
	}
}
