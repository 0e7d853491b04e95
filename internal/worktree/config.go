package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/0xPD33/hydra-tools/internal/herr"
	"github.com/0xPD33/hydra-tools/internal/project"
)

// Config is the contents of <project_root>/.hydra/wt.toml. Grounded on
// hydra-wt/src/config.rs::WtConfig, with Artifacts/Hooks added to match
// how hydra-wt/src/main.rs's cmd_create actually reads cfg.artifacts and
// cfg.hooks.post_create — fields config.rs's own struct omits.
type Config struct {
	Ports     PortsConfig     `toml:"ports"`
	Env       EnvConfig       `toml:"env"`
	Worktrees WorktreesConfig `toml:"worktrees"`
	Artifacts ArtifactsConfig `toml:"artifacts"`
	Hooks     HooksConfig     `toml:"hooks"`
}

type ArtifactsConfig struct {
	Symlink []string `toml:"symlink"`
	Copy    []string `toml:"copy"`
}

type HooksConfig struct {
	PostCreate []string `toml:"post_create"`
}

type PortsConfig struct {
	RangeStart uint16 `toml:"range_start"`
	RangeEnd   uint16 `toml:"range_end"`
}

type EnvConfig struct {
	Template string `toml:"template"`
	Output   string `toml:"output"`
}

type WorktreesConfig struct {
	Directory string `toml:"directory"`
}

// DefaultConfig matches config.rs's Default impl.
func DefaultConfig() Config {
	return Config{
		Ports:     PortsConfig{RangeStart: 3001, RangeEnd: 3099},
		Env:       EnvConfig{Template: ".env.template", Output: ".env.local"},
		Worktrees: WorktreesConfig{Directory: "../"},
		Artifacts: ArtifactsConfig{},
		Hooks:     HooksConfig{},
	}
}

func configPath(projectRoot string) string { return filepath.Join(projectRoot, ".hydra", "wt.toml") }

// LoadConfig reads wt.toml from projectRoot.
func LoadConfig(projectRoot string) (Config, error) {
	path := configPath(projectRoot)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, herr.New(herr.ConfigMissing, fmt.Sprintf("config not found at %s, run init first", path))
		}
		return Config{}, herr.Wrap(herr.SubprocessFailed, "read wt.toml", err)
	}
	var cfg Config
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return Config{}, herr.Wrap(herr.SubprocessFailed, "parse wt.toml", err)
	}
	return cfg, nil
}

// Save writes cfg to wt.toml under projectRoot.
func (c Config) Save(projectRoot string) error {
	b, err := toml.Marshal(c)
	if err != nil {
		return herr.Wrap(herr.SubprocessFailed, "serialize wt.toml", err)
	}
	if err := os.WriteFile(configPath(projectRoot), b, 0o644); err != nil {
		return herr.Wrap(herr.SubprocessFailed, "write wt.toml", err)
	}
	return nil
}

// InitConfig writes a default wt.toml under projectRoot's .hydra
// directory, failing if .hydra doesn't exist yet or wt.toml already
// does, matching config.rs::WtConfig::init.
func InitConfig(projectRoot string) error {
	if !project.Exists(projectRoot) {
		return herr.New(herr.ConfigMissing, ".hydra directory not found, run project init first")
	}
	path := configPath(projectRoot)
	if _, err := os.Stat(path); err == nil {
		return herr.New(herr.SubprocessFailed, fmt.Sprintf("config already exists at %s", path))
	}
	return DefaultConfig().Save(projectRoot)
}

// WorktreeDir returns the configured worktree parent directory, resolved
// against projectRoot.
func (c Config) WorktreeDir(projectRoot string) string {
	return filepath.Join(projectRoot, c.Worktrees.Directory)
}

// WorktreePath returns the path a given branch's worktree should live at.
func (c Config) WorktreePath(projectRoot, branch string) string {
	return filepath.Join(c.WorktreeDir(projectRoot), branch)
}

// ProjectUUID reads the project_uuid field out of .hydra/config.toml,
// matching config.rs::get_project_uuid.
func ProjectUUID(projectRoot string) (string, error) {
	cfg, err := project.Load(projectRoot)
	if err != nil {
		return "", herr.Wrap(herr.ConfigMissing, "read .hydra/config.toml", err)
	}
	return cfg.ProjectUUID.String(), nil
}

// RepoRoot runs `git rev-parse --show-toplevel` from the current
// directory, matching config.rs::get_repo_root.
func RepoRoot() (string, error) {
	out, err := exec.Command("git", "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return "", herr.Wrap(herr.SubprocessFailed, "not in a git repository", err)
	}
	return strings.TrimSpace(string(out)), nil
}
