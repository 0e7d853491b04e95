// Package hydraconst holds the fixed size and permission constants shared
// across the broker, orchestrator and worktree manager.
package hydraconst

import "os"

const (
	// MaxMessageSize is the largest decoded pulse payload the broker admits.
	MaxMessageSize = 10_240

	// MaxStdinSize is the largest stdin blob a broker-client CLI caller may read
	// when building an emit command from standard input.
	MaxStdinSize = 102_400

	// ReplayBufferCapacity is the default number of payloads retained per channel.
	ReplayBufferCapacity = 100

	// BroadcastChannelCapacity is the default fan-out in-flight capacity per channel.
	BroadcastChannelCapacity = 1024

	// StuckThresholdSeconds is the default orchestrator inactivity threshold.
	StuckThresholdSeconds = 15 * 60
)

const (
	// SocketPermissions is the mode applied to the broker's Unix socket.
	SocketPermissions os.FileMode = 0o600

	// HydraDirPermissions is the mode applied to the per-project .hydra directory.
	HydraDirPermissions os.FileMode = 0o700

	// DaemonBinaryPermissions is the mode applied to a copied daemon binary.
	DaemonBinaryPermissions os.FileMode = 0o700

	// RalphScriptPermissions is the mode applied to the materialized hydralph.sh.
	RalphScriptPermissions os.FileMode = 0o755
)
