// Package project manages the per-project config.toml that anchors every
// other component: the 128-bit project identifier, the broker socket
// path, and the default topic list. Grounded on hydra-mail/src/config.rs.
package project

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"

	"github.com/0xPD33/hydra-tools/internal/hydraconst"
)

// Config is the contents of <project_root>/.hydra/config.toml.
type Config struct {
	ProjectUUID   uuid.UUID `toml:"project_uuid"`
	SocketPath    string    `toml:"socket_path"`
	DefaultTopics []string  `toml:"default_topics"`
}

func hydraDir(root string) string   { return filepath.Join(root, ".hydra") }
func configPath(root string) string { return filepath.Join(hydraDir(root), "config.toml") }

// Init creates .hydra/ under root (mode 0700) and writes a fresh
// config.toml with a new project id, matching hydra-mail's init.
func Init(root string) (Config, error) {
	dir := hydraDir(root)
	if err := os.MkdirAll(dir, hydraconst.HydraDirPermissions); err != nil {
		return Config{}, fmt.Errorf("create .hydra directory: %w", err)
	}
	if err := os.Chmod(dir, hydraconst.HydraDirPermissions); err != nil {
		return Config{}, fmt.Errorf("set .hydra permissions: %w", err)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		absDir = dir
	}

	cfg := Config{
		ProjectUUID: uuid.New(),
		SocketPath:  filepath.Join(absDir, "hydra.sock"),
		DefaultTopics: []string{
			"repo:delta",
			"agent:presence",
		},
	}

	b, err := toml.Marshal(cfg)
	if err != nil {
		return Config{}, fmt.Errorf("marshal config.toml: %w", err)
	}
	if err := os.WriteFile(configPath(root), b, 0o644); err != nil {
		return Config{}, fmt.Errorf("write config.toml: %w", err)
	}
	return cfg, nil
}

// Load reads .hydra/config.toml from root.
func Load(root string) (Config, error) {
	b, err := os.ReadFile(configPath(root))
	if err != nil {
		return Config{}, fmt.Errorf("read config.toml: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config.toml: %w", err)
	}
	return cfg, nil
}

// Exists reports whether root has already been initialized.
func Exists(root string) bool {
	_, err := os.Stat(configPath(root))
	return err == nil
}

// PidPath returns the daemon PID file path for root.
func PidPath(root string) string { return filepath.Join(hydraDir(root), "daemon.pid") }

// ErrPath returns the daemon stderr log path for root.
func ErrPath(root string) string { return filepath.Join(hydraDir(root), "daemon.err") }

// MessageLogPath returns the replay-log path for root.
func MessageLogPath(root string) string { return filepath.Join(hydraDir(root), "messages.log") }
