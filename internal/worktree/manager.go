// Package worktree manages per-branch git worktrees: port allocation,
// worktree creation/removal, artifact and post-create hook
// materialization, env template rendering, and the go-git-backed merge
// helpers used before folding a worktree's branch back in. Grounded on
// hydra-wt/src/{ports,config,worktree,artifacts,hooks,template,hydra}.rs.
package worktree

import (
	"encoding/json"
	"fmt"

	"github.com/0xPD33/hydra-tools/internal/brokerclient"
	"github.com/0xPD33/hydra-tools/internal/herr"
)

// Manager creates and tears down worktrees for a single project,
// keeping the port registry in sync and emitting lifecycle pulses.
type Manager struct {
	ProjectRoot string
	Config      Config
	Mail        *brokerclient.Client // optional; nil degrades to no pulses
}

// NewManager loads wt.toml for projectRoot, connecting to the broker
// for lifecycle pulses if one is reachable (graceful degradation
// otherwise, matching hydra.rs's which-hydra-mail check). The
// artifacts.symlink/artifacts.copy/hooks.post_create lists that Create
// acts on come from the loaded wt.toml itself, matching
// hydra-wt/src/main.rs's cmd_create.
func NewManager(projectRoot string) (*Manager, error) {
	cfg, err := LoadConfig(projectRoot)
	if err != nil {
		return nil, err
	}
	client, _ := brokerclient.Connect(projectRoot)
	return &Manager{ProjectRoot: projectRoot, Config: cfg, Mail: client}, nil
}

type worktreeCreatedEvent struct {
	Type     string `json:"type"`
	Worktree string `json:"worktree"`
	Port     uint16 `json:"port"`
	Path     string `json:"path"`
}

type worktreeRemovedEvent struct {
	Type     string `json:"type"`
	Worktree string `json:"worktree"`
}

func (m *Manager) emit(data any) {
	if m.Mail == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	m.Mail.EmitBestEffort("sys:registry", raw)
}

// Create allocates a port, adds a git worktree for branch, renders the
// env template, symlinks/copies the configured artifacts, runs
// post-create hooks, and emits worktree_created. Only port allocation
// and `git worktree add` roll the create back on failure; template
// rendering, artifact, and hook failures are collected as warnings and
// otherwise leave the worktree in place, matching the rollback policy
// in hydra-wt/src/main.rs::cmd_create (none of those three steps ever
// return early out of cmd_create on error). Callers that need the
// orchestrator.WorktreeFactory three-return shape (path, port, err)
// should wrap Create and log or discard the warnings slice.
func (m *Manager) Create(branch string) (path string, port uint16, warnings []string, err error) {
	registry, err := LoadPortRegistry(m.ProjectRoot)
	if err != nil {
		return "", 0, nil, err
	}

	port, err = registry.Allocate(branch, m.Config.Ports.RangeStart, m.Config.Ports.RangeEnd)
	if err != nil {
		return "", 0, nil, err
	}
	if err := registry.Save(); err != nil {
		return "", 0, nil, err
	}

	path = m.Config.WorktreePath(m.ProjectRoot, branch)
	if err := Add(m.ProjectRoot, path, branch); err != nil {
		_, _ = registry.Free(branch)
		_ = registry.Save()
		return "", 0, nil, err
	}

	projectUUID, _ := ProjectUUID(m.ProjectRoot)
	ctx := TemplateContext{Port: port, Worktree: branch, ProjectUUID: projectUUID, RepoRoot: m.ProjectRoot}
	templatePath := m.Config.Env.Template
	outputPath := path + "/" + m.Config.Env.Output
	if w, err := RenderEnv(templatePath, outputPath, ctx); err != nil {
		warnings = append(warnings, err.Error())
	} else if w != "" {
		warnings = append(warnings, w)
	}

	for _, artifact := range m.Config.Artifacts.Symlink {
		if w, err := SymlinkArtifact(m.ProjectRoot, path, artifact); err != nil {
			warnings = append(warnings, err.Error())
		} else if w != "" {
			warnings = append(warnings, w)
		}
	}
	for _, artifact := range m.Config.Artifacts.Copy {
		if w, err := CopyArtifact(m.ProjectRoot, path, artifact); err != nil {
			warnings = append(warnings, err.Error())
		} else if w != "" {
			warnings = append(warnings, w)
		}
	}

	for _, hookResult := range RunPostCreate(path, m.Config.Hooks.PostCreate) {
		if hookResult.Warning != "" {
			warnings = append(warnings, hookResult.Warning)
		}
	}

	m.emit(worktreeCreatedEvent{Type: "worktree_created", Worktree: branch, Port: port, Path: path})

	return path, port, warnings, nil
}

// Release removes branch's worktree and frees its port, emitting
// worktree_removed. Matches the orchestrator.WorktreeReleaser signature.
func (m *Manager) Release(path, branch string) error {
	if err := Remove(m.ProjectRoot, path, true); err != nil {
		return err
	}

	registry, err := LoadPortRegistry(m.ProjectRoot)
	if err != nil {
		return err
	}
	if _, err := registry.Free(branch); err != nil {
		if herrErr, ok := err.(*herr.Error); !ok || herrErr.Kind != herr.SubprocessFailed {
			return err
		}
	}
	if err := registry.Save(); err != nil {
		return err
	}

	m.emit(worktreeRemovedEvent{Type: "worktree_removed", Worktree: branch})
	return nil
}

// MergeCheck summarizes whether branch can be safely folded back into
// target: it must have no uncommitted changes and must be ahead of
// target by at least one commit.
type MergeCheck struct {
	Clean        bool
	CommitsAhead int
}

// CheckMerge runs the pre-merge checks for a worktree at path whose
// branch is `source`, against `target`. It returns an error if the
// worktree has uncommitted changes; callers should also inspect
// CommitsAhead before deciding whether there's anything to merge.
func CheckMerge(path, target, source string) (MergeCheck, error) {
	dirty, err := HasUncommittedChanges(path)
	if err != nil {
		return MergeCheck{}, err
	}
	if dirty {
		return MergeCheck{Clean: false}, fmt.Errorf("worktree has uncommitted changes")
	}

	ahead, err := CommitsAhead(path, target, source)
	if err != nil {
		return MergeCheck{}, err
	}
	return MergeCheck{Clean: true, CommitsAhead: ahead}, nil
}
