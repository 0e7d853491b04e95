package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/time/rate"

	"github.com/0xPD33/hydra-tools/internal/brokerclient"
	"github.com/0xPD33/hydra-tools/internal/herr"
	"github.com/0xPD33/hydra-tools/internal/hydraconst"
	"github.com/0xPD33/hydra-tools/internal/orchconfig"
	"github.com/0xPD33/hydra-tools/internal/pulse"
	"github.com/0xPD33/hydra-tools/internal/sessionstore"
	"github.com/0xPD33/hydra-tools/internal/tmuxctl"
)

// WorktreeFactory creates a worktree for a spawn that requested one,
// returning the worktree's path and allocated port. Wired to
// internal/worktree by the caller; kept as a function value here so this
// package doesn't import worktree (which itself has no reason to know
// about sessions).
type WorktreeFactory func(branchName string) (path string, port uint16, err error)

// WorktreeReleaser tears down a worktree and frees its port on kill.
type WorktreeReleaser func(path string, branchName string) error

// Orchestrator tracks every live session for one project and reconciles
// their state against the file system and the multiplexer. Grounded on
// hydra-orchestrator/src/lib.rs::Orchestrator.
type Orchestrator struct {
	mu       sync.Mutex
	sessions map[SessionID]*Session
	store    *sessionstore.Store
	root     string
	mail     *brokerclient.Client

	createWorktree  WorktreeFactory
	releaseWorktree WorktreeReleaser

	cfg          orchconfig.Config
	spawnLimiter *rate.Limiter
}

// New loads persisted session records for projectRoot. Records that can't
// be read or parsed are skipped silently: no warning or error is reported.
func New(projectRoot string) *Orchestrator {
	store := sessionstore.New(projectRoot)
	records, _ := sessionstore.LoadAll[SessionRecord](store)

	sessions := make(map[SessionID]*Session, len(records))
	for _, r := range records {
		s := fromRecord(r)
		sessions[s.ID] = s
	}

	return &Orchestrator{
		sessions: sessions,
		store:    store,
		root:     projectRoot,
	}
}

// WithMail attempts to connect a Mail Broker client for lifecycle
// pulses. Connection failure is non-fatal: the orchestrator degrades to
// operating without pulses, matching lib.rs::with_mail's graceful
// degradation.
func (o *Orchestrator) WithMail(projectRoot string) *Orchestrator {
	client, err := brokerclient.Connect(projectRoot)
	if err == nil {
		o.mail = client
	}
	return o
}

// SetWorktreeFactory wires the worktree manager's create/release
// functions used by Spawn/Kill when a session requests UseWorktree.
func (o *Orchestrator) SetWorktreeFactory(create WorktreeFactory, release WorktreeReleaser) {
	o.createWorktree = create
	o.releaseWorktree = release
}

// WithConfig applies orchestrator-wide tunables loaded by orchconfig:
// the stuck-session threshold HealthCheck enforces, and a token-bucket
// throttle (golang.org/x/time/rate) on how fast Spawn calls may proceed:
// MaxConcurrentSpawn spawns per second, with a burst of the same size.
// It does not count spawns in flight. Callers that skip this — including every test in this
// package — get the package defaults: a 15-minute stuck threshold and
// no spawn throttle.
func (o *Orchestrator) WithConfig(cfg orchconfig.Config) *Orchestrator {
	o.cfg = cfg
	if cfg.MaxConcurrentSpawn > 0 {
		o.spawnLimiter = rate.NewLimiter(rate.Limit(cfg.MaxConcurrentSpawn), cfg.MaxConcurrentSpawn)
	}
	return o
}

// stuckAfter is the inactivity duration HealthCheck treats as Stuck,
// falling back to defaultStuckThreshold when no orchconfig.Config was
// applied via WithConfig.
func (o *Orchestrator) stuckAfter() time.Duration {
	if o.cfg.StuckThreshold > 0 {
		return o.cfg.StuckThreshold
	}
	return defaultStuckThreshold
}

func (o *Orchestrator) emit(eventType string, data any) {
	if o.mail == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	p := pulse.New(eventType, "orchestrator:events", raw)
	b, err := p.Marshal()
	if err != nil {
		return
	}
	o.mail.EmitBestEffort("orchestrator:events", b)
}

func ralphDir(workingDir string) string { return filepath.Join(workingDir, ".hydra", "ralph") }

// initRalphFiles materializes prd.json, hydralph.sh and prompt.md into
// ralphDir if they aren't already there: prd.json is copied from
// cfg.PRDPath, the script and prompt are copied from
// <projectRoot>/hydralph/. Any of the three sources may legitimately be
// absent (a caller-supplied PRD path that doesn't exist yet, a project
// with no hydralph/ template directory), in which case that file is
// silently skipped rather than treated as a spawn failure, matching
// lib.rs::init_ralph_files.
func (o *Orchestrator) initRalphFiles(ralphDir string, cfg SessionConfig) error {
	prdDest := filepath.Join(ralphDir, "prd.json")
	if !fileExists(prdDest) && fileExists(cfg.PRDPath) {
		if err := copyFile(cfg.PRDPath, prdDest, 0o644); err != nil {
			return herr.Wrap(herr.SubprocessFailed, "copy prd.json", err)
		}
	}

	scriptDest := filepath.Join(ralphDir, "hydralph.sh")
	if !fileExists(scriptDest) {
		scriptSrc := filepath.Join(o.root, "hydralph", "hydralph.sh")
		if fileExists(scriptSrc) {
			if err := copyFile(scriptSrc, scriptDest, 0o755); err != nil {
				return herr.Wrap(herr.SubprocessFailed, "copy hydralph.sh", err)
			}
		}
	}

	promptDest := filepath.Join(ralphDir, "prompt.md")
	if !fileExists(promptDest) {
		promptSrc := filepath.Join(o.root, "hydralph", "prompt.md")
		if fileExists(promptSrc) {
			if err := copyFile(promptSrc, promptDest, 0o644); err != nil {
				return herr.Wrap(herr.SubprocessFailed, "copy prompt.md", err)
			}
		}
	}

	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func copyFile(src, dest string, mode os.FileMode) error {
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, b, mode)
}

// Spawn creates a new session: optionally a worktree, always the
// .hydra/ralph scratch directory, a tmux session named hydralph-<id>,
// and the two startup commands (an export line for the agent's
// environment, then the agent script invocation). Grounded on
// lib.rs::Orchestrator::spawn.
func (o *Orchestrator) Spawn(cfg SessionConfig) (SessionID, error) {
	if o.spawnLimiter != nil && !o.spawnLimiter.Allow() {
		return "", herr.New(herr.RateLimited, "spawn throttled: too many concurrent spawns")
	}

	id := NewSessionID()
	workingDir := cfg.WorkingDir

	var worktreePath string
	var port uint16
	if cfg.UseWorktree && o.createWorktree != nil {
		branch := cfg.BranchName
		if branch == "" {
			branch = "hydralph-" + id.String()
		}
		wtPath, wtPort, err := o.createWorktree(branch)
		if err != nil {
			// Fall back to the session's configured working directory
			// with a warning, matching lib.rs::spawn's
			// try_create_worktree failure handling.
			worktreePath = ""
			o.emit("session:warning", map[string]any{"id": id.String(), "msg": err.Error()})
		} else {
			worktreePath = wtPath
			port = wtPort
			workingDir = wtPath
		}
	}

	dir := ralphDir(workingDir)
	if err := os.MkdirAll(dir, hydraconst.HydraDirPermissions); err != nil {
		return "", herr.Wrap(herr.SubprocessFailed, "create ralph scratch directory", err)
	}
	if err := o.initRalphFiles(dir, cfg); err != nil {
		return "", err
	}

	session := &Session{
		ID:            id,
		Config:        cfg,
		TmuxSession:   tmuxSessionName(id),
		State:         State{Kind: StateStarting},
		StartedAt:     time.Now().UTC(),
		LastActivity:  time.Now().UTC(),
		WorktreePath:  worktreePath,
		AllocatedPort: port,
	}

	if err := tmuxctl.NewSession(session.TmuxSession, workingDir); err != nil {
		return "", herr.Wrap(herr.SubprocessFailed, "create multiplexer session", err)
	}

	exportLine := fmt.Sprintf(
		"export HYDRALPH_SESSION_ID=%s HYDRALPH_AGENT=%s HYDRALPH_FLAGS=%q HYDRALPH_MAX_ITERATIONS=%d HYDRALPH_PRD=%s",
		id, cfg.AgentCLI, cfg.AgentFlags, cfg.MaxIterations, filepath.Join(dir, "prd.json"),
	)
	if port != 0 {
		exportLine += fmt.Sprintf(" HYDRALPH_PORT=%d", port)
	}
	if err := tmuxctl.SendKeys(session.TmuxSession, exportLine); err != nil {
		return "", herr.Wrap(herr.SubprocessFailed, "export session environment", err)
	}
	if err := tmuxctl.SendKeys(session.TmuxSession, filepath.Join(dir, "hydralph.sh")); err != nil {
		return "", herr.Wrap(herr.SubprocessFailed, "launch agent script", err)
	}

	o.mu.Lock()
	o.sessions[id] = session
	o.mu.Unlock()

	if err := sessionstore.Save(o.store, id.String(), toRecord(session)); err != nil {
		return "", herr.Wrap(herr.SubprocessFailed, "persist session record", err)
	}

	o.emit("session:spawned", map[string]any{"session": id.String()})

	return id, nil
}

// Kill terminates a session's multiplexer session, releases any
// worktree/port, removes the record, and emits session:killed.
func (o *Orchestrator) Kill(id SessionID, reason string) error {
	o.mu.Lock()
	session, ok := o.sessions[id]
	if ok {
		delete(o.sessions, id)
	}
	o.mu.Unlock()

	if !ok {
		return herr.New(herr.SessionNotFound, fmt.Sprintf("session %s not found", id))
	}

	_ = tmuxctl.KillSession(session.TmuxSession)

	if session.WorktreePath != "" && o.releaseWorktree != nil {
		branch := session.Config.BranchName
		if branch == "" {
			branch = "hydralph-" + id.String()
		}
		if err := o.releaseWorktree(session.WorktreePath, branch); err != nil {
			o.emit("session:warning", map[string]any{"id": id.String(), "msg": err.Error()})
		}
	}

	_ = o.store.Remove(id.String())
	o.emit("session:killed", map[string]any{"session": id.String()})
	return nil
}

// Pause writes the .pause marker for a session, causing reconciliation
// to report it as Paused until Resume removes the marker.
func (o *Orchestrator) Pause(id SessionID) error {
	session, err := o.get(id)
	if err != nil {
		return err
	}
	dir := ralphDir(session.WorkingDirOrRoot())
	if err := os.WriteFile(pauseMarkerPath(dir), []byte("1"), 0o644); err != nil {
		return herr.Wrap(herr.SubprocessFailed, "write pause marker", err)
	}

	o.mu.Lock()
	session.State = State{Kind: StatePaused}
	o.mu.Unlock()

	o.emit("session:paused", map[string]any{"session": id.String()})
	return nil
}

// Resume removes the .pause marker and sends a wake keystroke, then
// optimistically marks the session Running{0,"unknown"} until the next
// reconciliation reads a fresher status.json.
func (o *Orchestrator) Resume(id SessionID) error {
	session, err := o.get(id)
	if err != nil {
		return err
	}
	dir := ralphDir(session.WorkingDirOrRoot())
	if err := os.Remove(pauseMarkerPath(dir)); err != nil && !os.IsNotExist(err) {
		return herr.Wrap(herr.SubprocessFailed, "remove pause marker", err)
	}
	if err := tmuxctl.SendKeys(session.TmuxSession, "echo 'Resumed...'"); err != nil {
		return herr.Wrap(herr.SubprocessFailed, "send wake keystroke", err)
	}

	o.mu.Lock()
	session.State = State{Kind: StateRunning, Iteration: 0, Stories: "unknown"}
	o.mu.Unlock()

	o.emit("session:resumed", map[string]any{"session": id.String()})
	return nil
}

// Inject writes content to inject.md for the agent loop to pick up.
func (o *Orchestrator) Inject(id SessionID, content string) error {
	session, err := o.get(id)
	if err != nil {
		return err
	}
	dir := ralphDir(session.WorkingDirOrRoot())
	if err := os.WriteFile(injectPath(dir), []byte(content), 0o644); err != nil {
		return herr.Wrap(herr.SubprocessFailed, "write inject.md", err)
	}
	o.emit("session:injected", map[string]any{"session": id.String()})
	return nil
}

// Attach execs `tmux attach` for the session's multiplexer session and
// never returns on success.
func (o *Orchestrator) Attach(id SessionID) error {
	session, err := o.get(id)
	if err != nil {
		return err
	}
	return tmuxctl.Attach(session.TmuxSession)
}

// SessionStatus is the summary List/GetStatus return for one session.
type SessionStatus struct {
	ID          SessionID
	TmuxSession string
	State       State
	StartedAt   time.Time
}

// List reconciles every tracked session's state, drops any that went
// stale, and returns the survivors sorted by id.
func (o *Orchestrator) List() []SessionStatus {
	o.refreshAll()

	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]SessionStatus, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, SessionStatus{ID: s.ID, TmuxSession: s.TmuxSession, State: s.State, StartedAt: s.StartedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetStatus reconciles and returns one session's status, or
// SessionNotFound if the session went stale and was removed.
func (o *Orchestrator) GetStatus(id SessionID) (SessionStatus, error) {
	live, err := o.refreshState(id)
	if err != nil {
		return SessionStatus{}, err
	}
	if !live {
		return SessionStatus{}, herr.New(herr.SessionNotFound, fmt.Sprintf("session %s not found", id))
	}
	session, err := o.get(id)
	if err != nil {
		return SessionStatus{}, err
	}
	return SessionStatus{ID: session.ID, TmuxSession: session.TmuxSession, State: session.State, StartedAt: session.StartedAt}, nil
}

func (o *Orchestrator) get(id SessionID) (*Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[id]
	if !ok {
		return nil, herr.New(herr.SessionNotFound, fmt.Sprintf("session %s not found", id))
	}
	return s, nil
}

func (o *Orchestrator) refreshAll() {
	o.mu.Lock()
	ids := make([]SessionID, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		_, _ = o.refreshState(id)
	}
}

// refreshState is the reconciliation procedure: if the multiplexer
// session is gone, the session is Failed (unless already Completed) and
// dropped; otherwise a .pause marker forces Paused; otherwise
// status.json (if present) is mapped to a state; otherwise a Starting
// session with no status file yet is upgraded to Running{0,"unknown"}.
// Grounded on lib.rs::refresh_state. It returns false if the session no
// longer exists after reconciliation (stale, removed).
func (o *Orchestrator) refreshState(id SessionID) (bool, error) {
	session, err := o.get(id)
	if err != nil {
		return false, err
	}

	if !tmuxctl.SessionExists(session.TmuxSession) {
		o.mu.Lock()
		wasCompleted := session.State.Kind == StateCompleted
		delete(o.sessions, id)
		o.mu.Unlock()
		_ = o.store.Remove(id.String())
		if !wasCompleted {
			o.emit("session:failed", map[string]any{"id": id.String(), "reason": "multiplexer session not found"})
		}
		return false, nil
	}

	dir := ralphDir(session.WorkingDirOrRoot())

	if pauseMarkerExists(dir) {
		o.mu.Lock()
		session.State = State{Kind: StatePaused}
		o.mu.Unlock()
		return true, nil
	}

	status, err := readStatus(dir)
	if err != nil {
		return true, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if status != nil {
		newState := mapStatus(status)
		if info, statErr := os.Stat(statusPath(dir)); statErr == nil && info.ModTime().After(session.LastActivity) {
			session.LastActivity = info.ModTime()
		}
		session.State = newState
	} else if session.State.Kind == StateStarting {
		session.State = State{Kind: StateRunning, Iteration: 0, Stories: "unknown"}
	}

	return true, nil
}

// defaultStuckThreshold is used when no orchconfig.Config was applied
// via WithConfig; see stuckAfter.
const defaultStuckThreshold = 15 * time.Minute

// HealthReport is HealthCheck's result: which sessions were killed for
// exceeding their duration limit, plus a host resource snapshot callers
// can use to correlate stuck sessions with host pressure. The snapshot
// never gates any kill/stuck decision — those follow the per-session
// rules exactly as lib.rs::health_check specifies.
type HealthReport struct {
	Killed             []SessionID
	HostCPUPercent     float64
	HostMemAvailableMB uint64
}

// HealthCheck enforces each session's duration limit, detects sessions
// whose multiplexer session ended unexpectedly, and flags sessions past
// stuckAfter (15 minutes, or orchconfig.Config.StuckThreshold if
// WithConfig was called) of inactivity as Stuck. Sessions that exceeded
// their duration limit are killed and reported. Grounded on
// lib.rs::Orchestrator::health_check, with a gopsutil host snapshot
// folded into the result.
func (o *Orchestrator) HealthCheck() (HealthReport, error) {
	now := time.Now().UTC()

	type killCandidate struct {
		id     SessionID
		reason string
	}
	var toKill []killCandidate
	var stuckToEmit []SessionID

	o.mu.Lock()
	for id, session := range o.sessions {
		if now.Sub(session.StartedAt) > session.Config.MaxDuration {
			toKill = append(toKill, killCandidate{id, fmt.Sprintf("duration limit exceeded (%s)", session.Config.MaxDuration)})
			continue
		}

		if !tmuxctl.SessionExists(session.TmuxSession) {
			if session.State.Kind != StateCompleted {
				session.State = State{Kind: StateFailed, FailedReason: "multiplexer session ended unexpectedly"}
			}
			continue
		}

		if now.Sub(session.LastActivity) > o.stuckAfter() {
			wasStuck := session.State.Kind == StateStuck
			if !wasStuck {
				lastIter := session.State.Iteration
				session.State = State{Kind: StateStuck, Since: now, LastIteration: lastIter}
				stuckToEmit = append(stuckToEmit, id)
			}
		}
	}
	o.mu.Unlock()

	for _, id := range stuckToEmit {
		o.emit("session:stuck", map[string]any{"session": id.String()})
	}

	var killed []SessionID
	for _, c := range toKill {
		if err := o.Kill(c.id, c.reason); err == nil {
			killed = append(killed, c.id)
		}
	}

	report := HealthReport{Killed: killed}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		report.HostCPUPercent = percents[0]
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		report.HostMemAvailableMB = vmem.Available / 1024 / 1024
	}

	return report, nil
}

// WorkingDirOrRoot returns the session's effective working directory:
// its worktree path if one was allocated, otherwise its configured
// working directory.
func (s *Session) WorkingDirOrRoot() string {
	if s.WorktreePath != "" {
		return s.WorktreePath
	}
	return s.Config.WorkingDir
}
