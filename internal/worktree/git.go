package worktree

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/0xPD33/hydra-tools/internal/herr"
)

// Add creates a git worktree at path for branch, checking out branch if
// it already exists or creating it fresh otherwise, run from repoDir.
// Grounded on hydra-wt/src/worktree.rs::add. go-git has no
// linked-worktree model, so this stays a shell-out to the git binary.
func Add(repoDir, path, branch string) error {
	verify := exec.Command("git", "rev-parse", "--verify", branch)
	verify.Dir = repoDir
	branchExists := verify.Run() == nil

	var cmd *exec.Cmd
	if branchExists {
		cmd = exec.Command("git", "worktree", "add", path, branch)
	} else {
		cmd = exec.Command("git", "worktree", "add", "-b", branch, path)
	}
	cmd.Dir = repoDir

	out, err := cmd.CombinedOutput()
	if err != nil {
		return herr.Wrap(herr.SubprocessFailed, "git worktree add failed: "+strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Remove detaches a git worktree at path, run from repoDir.
func Remove(repoDir, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)

	cmd := exec.Command("git", args...)
	cmd.Dir = repoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return herr.Wrap(herr.SubprocessFailed, "git worktree remove failed: "+strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Exists reports whether path both exists and is a git worktree.
func Exists(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil
}

// Info describes one entry from `git worktree list --porcelain`.
type Info struct {
	Path   string
	Branch string
	Head   string
}

// List parses `git worktree list --porcelain`, run from repoDir, into a
// slice of Info.
func List(repoDir string) ([]Info, error) {
	cmd := exec.Command("git", "worktree", "list", "--porcelain")
	cmd.Dir = repoDir
	out, err := cmd.Output()
	if err != nil {
		return nil, herr.Wrap(herr.SubprocessFailed, "git worktree list failed", err)
	}

	var worktrees []Info
	var cur Info
	have := false

	flush := func() {
		if have && cur.Path != "" && cur.Head != "" {
			worktrees = append(worktrees, cur)
		}
		cur = Info{}
		have = false
	}

	for _, line := range strings.Split(string(out), "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			flush()
			cur.Path = strings.TrimPrefix(line, "worktree ")
			have = true
		case strings.HasPrefix(line, "HEAD "):
			cur.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch refs/heads/"):
			cur.Branch = strings.TrimPrefix(line, "branch refs/heads/")
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(line, "branch ")
		}
	}
	flush()

	return worktrees, nil
}
