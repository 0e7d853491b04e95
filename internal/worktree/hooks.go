package worktree

import (
	"fmt"
	"os/exec"
	"strings"
)

// HookResult records one post-create hook's outcome for the caller to
// log or surface, matching hooks.rs's warn-not-fail policy: a failing
// hook never aborts the remaining hooks or the worktree creation.
type HookResult struct {
	Command string
	Warning string
}

// RunPostCreate runs each command via `sh -c` in wtPath, collecting a
// warning for any command that fails rather than stopping early.
// Grounded on hydra-wt/src/hooks.rs::run_post_create.
func RunPostCreate(wtPath string, commands []string) []HookResult {
	results := make([]HookResult, 0, len(commands))
	for _, c := range commands {
		cmd := exec.Command("sh", "-c", c)
		cmd.Dir = wtPath
		out, err := cmd.CombinedOutput()
		if err != nil {
			results = append(results, HookResult{Command: c, Warning: fmt.Sprintf("post-create hook %q failed: %v: %s", c, err, strings.TrimSpace(string(out)))})
		} else {
			results = append(results, HookResult{Command: c})
		}
	}
	return results
}
