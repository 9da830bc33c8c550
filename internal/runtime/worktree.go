package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/minionworks/minion/internal/config"
	"github.com/minionworks/minion/internal/git"
	"github.com/minionworks/minion/internal/util"
)

// UncommittedWorkError reports work that deleting a workspace would destroy.
// Force deletion discards uncommitted changes but never stashes or unpushed
// commits; those must be dealt with by hand.
type UncommittedWorkError struct {
	Name   string
	Status git.UncommittedWorkStatus
}

func (e *UncommittedWorkError) Error() string {
	return fmt.Sprintf("workspace %q has %s", e.Name, e.Status)
}

// Worktree executes in a dedicated git worktree next to the project, one
// branch per workspace.
type Worktree struct {
	projectPath string
	cfg         config.WorktreeConfig
}

var _ Runtime = (*Worktree)(nil)

// NewWorktree returns a Worktree runtime for the project.
func NewWorktree(projectPath string, cfg *config.WorktreeConfig) *Worktree {
	w := &Worktree{projectPath: projectPath}
	if cfg != nil {
		w.cfg = *cfg
	}
	return w
}

func (w *Worktree) Type() config.Type {
	return config.TypeWorktree
}

// root is the directory worktrees live under: the configured override or a
// sibling of the project named <project>-minions.
func (w *Worktree) root(projectPath string) string {
	if w.cfg.Root != "" {
		return w.cfg.Root
	}
	return filepath.Join(filepath.Dir(projectPath), filepath.Base(projectPath)+"-minions")
}

func (w *Worktree) WorkspacePath(projectPath, name string) string {
	return filepath.Join(w.root(projectPath), util.Slug(name))
}

// branchFor produces a fresh branch name for a workspace. The timestamp
// suffix keeps recreated workspaces from colliding with leftover branches.
func branchFor(name string) string {
	return "minion/" + util.Slug(name) + "-" + strconv.FormatInt(time.Now().UnixMilli(), 36)
}

func (w *Worktree) Exec(ctx context.Context, command []string, opts ExecOptions) (*Handle, error) {
	cwd := opts.Cwd
	if cwd == "" {
		cwd = w.projectPath
	}
	return hostExec(ctx, command, cwd, opts)
}

func (w *Worktree) ReadFile(ctx context.Context, path string) (io.ReadCloser, error) {
	return hostReadFile(path)
}

func (w *Worktree) WriteFile(ctx context.Context, path string) (io.WriteCloser, error) {
	return hostWriteFile(path)
}

func (w *Worktree) Stat(ctx context.Context, path string) (FileInfo, error) {
	return hostStat(path)
}

func (w *Worktree) EnsureDir(ctx context.Context, path string) error {
	return os.MkdirAll(path, 0o755)
}

func (w *Worktree) ResolvePath(ctx context.Context, path string) (string, error) {
	return hostResolvePath(path)
}

func (w *Worktree) NormalizePath(target, base string) string {
	return hostNormalizePath(target, base)
}

func (w *Worktree) TempDir(ctx context.Context) (string, error) {
	return os.TempDir(), nil
}

func (w *Worktree) HomeDir(ctx context.Context) (string, error) {
	return os.UserHomeDir()
}

func (w *Worktree) CreateWorkspace(ctx context.Context, params CreateParams) (string, error) {
	g := git.NewGit(params.ProjectPath)
	if !g.IsRepo() {
		return "", fmt.Errorf("%s is not a git repository", params.ProjectPath)
	}

	path := w.WorkspacePath(params.ProjectPath, params.Name)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("workspace path already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating worktree root: %w", err)
	}

	ref := params.TrunkBranch
	if ref == "" {
		ref = "HEAD"
	}
	if err := g.WorktreeAdd(path, branchFor(params.Name), ref); err != nil {
		return "", fmt.Errorf("creating worktree: %w", err)
	}
	return path, nil
}

func (w *Worktree) InitWorkspace(ctx context.Context, params InitParams) error {
	params.Log.emit("initializing worktree")
	if err := git.InitSubmodules(params.Path); err != nil {
		return fmt.Errorf("initializing submodules: %w", err)
	}
	return runInitCommand(ctx, params.Path, params.InitCommand, params.Log)
}

func (w *Worktree) RenameWorkspace(ctx context.Context, params RenameParams) (RenameResult, error) {
	oldPath := w.WorkspacePath(params.ProjectPath, params.OldName)
	newPath := w.WorkspacePath(params.ProjectPath, params.NewName)
	if oldPath == newPath {
		return RenameResult{Path: newPath}, nil
	}
	if err := git.NewGit(params.ProjectPath).WorktreeMove(oldPath, newPath); err != nil {
		return RenameResult{}, fmt.Errorf("moving worktree: %w", err)
	}
	return RenameResult{Path: newPath}, nil
}

func (w *Worktree) DeleteWorkspace(ctx context.Context, params DeleteParams) error {
	path := w.WorkspacePath(params.ProjectPath, params.Name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Already gone; clean up stale bookkeeping and succeed.
		_ = git.NewGit(params.ProjectPath).WorktreePrune()
		return nil
	}

	wtGit := git.NewGit(path)
	status, err := wtGit.CheckUncommittedWork()
	if err != nil {
		return fmt.Errorf("checking for uncommitted work: %w", err)
	}
	if !status.Clean() {
		blocked := !params.Force
		if params.Force {
			// Force discards dirty files only. Stashes and unpushed commits
			// have no other copy anywhere.
			blocked = status.StashCount > 0 || status.UnpushedCommits > 0
		}
		if blocked {
			return &UncommittedWorkError{Name: params.Name, Status: status}
		}
	}

	branch, branchErr := wtGit.CurrentBranch()

	g := git.NewGit(params.ProjectPath)
	if err := g.WorktreeRemove(path, params.Force); err != nil {
		return fmt.Errorf("removing worktree: %w", err)
	}
	if err := g.WorktreePrune(); err != nil {
		fmt.Printf("Warning: pruning worktrees: %v\n", err)
	}
	if branchErr == nil && branch != "" {
		if err := g.DeleteBranch(branch); err != nil {
			fmt.Printf("Warning: deleting branch %s: %v\n", branch, err)
		}
	}
	return nil
}

func (w *Worktree) ForkWorkspace(ctx context.Context, params ForkParams) ForkResult {
	sourcePath := w.WorkspacePath(params.ProjectPath, params.SourceName)
	srcGit := git.NewGit(sourcePath)
	if !srcGit.IsRepo() {
		return ForkResult{Err: fmt.Errorf("source workspace not found at %s", sourcePath)}
	}

	sourceBranch, err := srcGit.CurrentBranch()
	if err != nil {
		return ForkResult{Err: fmt.Errorf("reading source branch: %w", err)}
	}

	params.Log.emit(fmt.Sprintf("forking from branch %s", sourceBranch))
	path, err := w.CreateWorkspace(ctx, CreateParams{
		ProjectPath: params.ProjectPath,
		Name:        params.NewName,
		TrunkBranch: sourceBranch,
	})
	if err != nil {
		return ForkResult{SourceBranch: sourceBranch, Err: err}
	}
	return ForkResult{Path: path, SourceBranch: sourceBranch}
}

func (w *Worktree) EnsureReady(ctx context.Context, opts ReadyOptions) ReadyResult {
	if !git.NewGit(w.projectPath).IsRepo() {
		return notReady(util.MarkPermanent(fmt.Errorf("%s is not a git repository", w.projectPath)))
	}
	return ready()
}
