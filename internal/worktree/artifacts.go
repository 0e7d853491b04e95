package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/0xPD33/hydra-tools/internal/herr"
)

// SymlinkArtifact creates a symlink at wtPath/artifact pointing at
// repoRoot/artifact. A missing source or an already-existing target is
// a warning, not a failure, matching hydra-wt/src/artifacts.rs::
// symlink_artifact.
func SymlinkArtifact(repoRoot, wtPath, artifact string) (warning string, err error) {
	source := filepath.Join(repoRoot, artifact)
	target := filepath.Join(wtPath, artifact)

	if _, statErr := os.Lstat(source); statErr != nil {
		return fmt.Sprintf("artifact source %q not found, skipping symlink", source), nil
	}
	if _, statErr := os.Lstat(target); statErr == nil {
		return fmt.Sprintf("artifact target %q already exists, skipping symlink", target), nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", herr.Wrap(herr.SubprocessFailed, "create parent directories for "+target, err)
	}
	if err := os.Symlink(source, target); err != nil {
		return "", herr.Wrap(herr.SubprocessFailed, fmt.Sprintf("symlink %s -> %s", target, source), err)
	}
	return "", nil
}

// CopyArtifact copies repoRoot/artifact to wtPath/artifact using `cp -a
// --reflink=auto` for copy-on-write where the filesystem supports it.
// Matches hydra-wt/src/artifacts.rs::copy_artifact.
func CopyArtifact(repoRoot, wtPath, artifact string) (warning string, err error) {
	source := filepath.Join(repoRoot, artifact)
	target := filepath.Join(wtPath, artifact)

	if _, statErr := os.Stat(source); statErr != nil {
		return fmt.Sprintf("artifact source %q not found, skipping copy", source), nil
	}
	if _, statErr := os.Stat(target); statErr == nil {
		return fmt.Sprintf("artifact target %q already exists, skipping copy", target), nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", herr.Wrap(herr.SubprocessFailed, "create parent directories for "+target, err)
	}

	out, err := exec.Command("cp", "-a", "--reflink=auto", source, target).CombinedOutput()
	if err != nil {
		return "", herr.Wrap(herr.SubprocessFailed, fmt.Sprintf("cp failed for %s: %s", artifact, strings.TrimSpace(string(out))), err)
	}
	return "", nil
}
