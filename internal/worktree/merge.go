package worktree

import (
	"fmt"
	"io"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/0xPD33/hydra-tools/internal/herr"
)

// HasUncommittedChanges reports whether the worktree at path has any
// staged or unstaged changes, via go-git's typed Status rather than
// scraping `git status --porcelain` text.
func HasUncommittedChanges(path string) (bool, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return false, herr.Wrap(herr.SubprocessFailed, "open worktree repository", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return false, herr.Wrap(herr.SubprocessFailed, "open worktree", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, herr.Wrap(herr.SubprocessFailed, "read worktree status", err)
	}
	return !status.IsClean(), nil
}

// CommitsAhead returns how many commits source has that target (a
// branch or ref name) does not, the go-git equivalent of
// `git log target..source --oneline | wc -l`.
func CommitsAhead(path, target, source string) (int, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return 0, herr.Wrap(herr.SubprocessFailed, "open worktree repository", err)
	}

	sourceRef, err := resolveRef(repo, source)
	if err != nil {
		return 0, err
	}
	targetRef, err := resolveRef(repo, target)
	if err != nil {
		return 0, err
	}

	commits, err := repo.Log(&git.LogOptions{From: targetRef})
	if err != nil {
		return 0, herr.Wrap(herr.SubprocessFailed, "walk target history", err)
	}
	defer commits.Close()
	seen := make(map[plumbing.Hash]struct{})
	for {
		c, err := commits.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, herr.Wrap(herr.SubprocessFailed, "walk target history", err)
		}
		seen[c.Hash] = struct{}{}
	}

	sourceLog, err := repo.Log(&git.LogOptions{From: sourceRef})
	if err != nil {
		return 0, herr.Wrap(herr.SubprocessFailed, "walk source history", err)
	}
	defer sourceLog.Close()

	ahead := 0
	for {
		c, err := sourceLog.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, herr.Wrap(herr.SubprocessFailed, "walk source history", err)
		}
		if _, inTarget := seen[c.Hash]; !inTarget {
			ahead++
		}
	}

	return ahead, nil
}

func resolveRef(repo *git.Repository, name string) (plumbing.Hash, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(name), true)
	if err == nil {
		return ref.Hash(), nil
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(name))
	if err != nil {
		return plumbing.ZeroHash, herr.Wrap(herr.SubprocessFailed, fmt.Sprintf("resolve ref %q", name), err)
	}
	return *hash, nil
}
