// Package git wraps the git CLI for workspace lifecycle operations:
// worktree management, branch discovery, and safety checks before
// destructive operations.
package git

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// GitError carries the raw stderr of a failed git invocation so callers can
// surface it verbatim instead of guessing at causes.
type GitError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *GitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), strings.TrimSpace(e.Stderr))
	}
	return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
}

func (e *GitError) Unwrap() error {
	return e.Err
}

// Git runs git commands in a working directory.
type Git struct {
	dir    string
	gitDir string
}

// NewGit returns a Git that runs commands in dir.
func NewGit(dir string) *Git {
	return &Git{dir: dir}
}

// NewGitWithDir returns a Git addressing an explicit git directory, for bare
// repos. workDir may be empty.
func NewGitWithDir(gitDir, workDir string) *Git {
	return &Git{dir: workDir, gitDir: gitDir}
}

func (g *Git) run(args ...string) (string, error) {
	full := args
	if g.gitDir != "" {
		full = append([]string{"--git-dir", g.gitDir}, args...)
	}
	cmd := exec.Command("git", full...)
	if g.dir != "" {
		cmd.Dir = g.dir
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", &GitError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return strings.TrimSpace(string(out)), nil
}

// IsRepo reports whether the directory is inside a git work tree.
func (g *Git) IsRepo() bool {
	out, err := g.run("rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// Root returns the top-level directory of the work tree.
func (g *Git) Root() (string, error) {
	return g.run("rev-parse", "--show-toplevel")
}

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch() (string, error) {
	return g.run("branch", "--show-current")
}

// Rev resolves a ref to its full commit hash.
func (g *Git) Rev(ref string) (string, error) {
	return g.run("rev-parse", ref)
}

// Head returns the current commit hash.
func (g *Git) Head() (string, error) {
	return g.Rev("HEAD")
}

// LocalBranches lists local branch names.
func (g *Git) LocalBranches() ([]string, error) {
	out, err := g.run("for-each-ref", "--format=%(refname:short)", "refs/heads/")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// HasLocalBranch reports whether a local branch with the exact name exists.
func (g *Git) HasLocalBranch(name string) (bool, error) {
	_, err := g.run("show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err != nil {
		var gitErr *GitError
		// show-ref exits 1 for a missing ref with no stderr.
		if errors.As(err, &gitErr) && gitErr.Stderr == "" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DefaultBranch returns the repository's default branch. It asks the origin
// remote first and falls back to scanning for conventional trunk names.
func (g *Git) DefaultBranch() (string, error) {
	if out, err := g.run("symbolic-ref", "--short", "refs/remotes/origin/HEAD"); err == nil {
		return strings.TrimPrefix(out, "origin/"), nil
	}
	for _, candidate := range []string{"main", "master", "trunk", "develop"} {
		if ok, err := g.HasLocalBranch(candidate); err == nil && ok {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no default branch found")
}

// CreateBranch creates a branch at HEAD without checking it out.
func (g *Git) CreateBranch(name string) error {
	_, err := g.run("branch", name)
	return err
}

// DeleteBranch force-deletes a local branch.
func (g *Git) DeleteBranch(name string) error {
	_, err := g.run("branch", "-D", name)
	return err
}

// Checkout switches to a branch.
func (g *Git) Checkout(ref string) error {
	_, err := g.run("checkout", ref)
	return err
}

// Add stages paths.
func (g *Git) Add(paths ...string) error {
	_, err := g.run(append([]string{"add"}, paths...)...)
	return err
}

// Commit records staged changes.
func (g *Git) Commit(message string) error {
	_, err := g.run("commit", "-m", message)
	return err
}

// Fetch updates a remote.
func (g *Git) Fetch(remote string) error {
	_, err := g.run("fetch", remote)
	return err
}

// WorktreeAdd creates a worktree at path on a new branch starting from ref.
func (g *Git) WorktreeAdd(path, branch, ref string) error {
	_, err := g.run("worktree", "add", "-b", branch, path, ref)
	return err
}

// WorktreeRemove removes a worktree. force discards uncommitted changes.
func (g *Git) WorktreeRemove(path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := g.run(args...)
	return err
}

// WorktreeMove relocates a worktree directory, keeping git's bookkeeping
// consistent.
func (g *Git) WorktreeMove(oldPath, newPath string) error {
	_, err := g.run("worktree", "move", oldPath, newPath)
	return err
}

// WorktreePrune cleans up records of deleted worktrees.
func (g *Git) WorktreePrune() error {
	_, err := g.run("worktree", "prune")
	return err
}

// InitSubmodules initializes and updates submodules recursively. A repo
// without submodules is a no-op.
func InitSubmodules(dir string) error {
	_, err := NewGit(dir).run("submodule", "update", "--init", "--recursive")
	return err
}

// UncommittedWorkStatus describes work in a worktree that would be lost by
// deleting it.
type UncommittedWorkStatus struct {
	HasUncommittedChanges bool
	StashCount            int
	UnpushedCommits       int
}

// Clean reports whether nothing would be lost.
func (s UncommittedWorkStatus) Clean() bool {
	return !s.HasUncommittedChanges && s.StashCount == 0 && s.UnpushedCommits == 0
}

func (s UncommittedWorkStatus) String() string {
	var parts []string
	if s.HasUncommittedChanges {
		parts = append(parts, "uncommitted changes")
	}
	if s.StashCount > 0 {
		parts = append(parts, fmt.Sprintf("%d stash(es)", s.StashCount))
	}
	if s.UnpushedCommits > 0 {
		parts = append(parts, fmt.Sprintf("%d unpushed commit(s)", s.UnpushedCommits))
	}
	if len(parts) == 0 {
		return "clean"
	}
	return strings.Join(parts, ", ")
}

// HasUncommittedChanges reports whether the worktree has staged, unstaged, or
// untracked changes.
func (g *Git) HasUncommittedChanges() (bool, error) {
	out, err := g.run("status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// CheckUncommittedWork inspects the worktree for anything a deletion would
// destroy. Unpushed commits are counted against the upstream; a branch with
// no upstream counts commits not on any other local branch.
func (g *Git) CheckUncommittedWork() (UncommittedWorkStatus, error) {
	var status UncommittedWorkStatus

	dirty, err := g.HasUncommittedChanges()
	if err != nil {
		return status, err
	}
	status.HasUncommittedChanges = dirty

	if out, err := g.run("stash", "list"); err == nil && out != "" {
		status.StashCount = len(strings.Split(out, "\n"))
	}

	if out, err := g.run("rev-list", "--count", "@{upstream}..HEAD"); err == nil {
		fmt.Sscanf(out, "%d", &status.UnpushedCommits)
	} else {
		// No upstream: count commits unreachable from every other ref.
		branch, berr := g.CurrentBranch()
		if berr == nil && branch != "" {
			if out, cerr := g.run("rev-list", "--count", branch, "--not", "--exclude=refs/heads/"+branch, "--all"); cerr == nil {
				fmt.Sscanf(out, "%d", &status.UnpushedCommits)
			}
		}
	}

	return status, nil
}
