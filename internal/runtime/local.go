package runtime

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/minionworks/minion/internal/config"
)

// Local executes directly in the project directory with no isolation. The
// workspace is the project; create and delete are no-ops and fork is
// unsupported.
type Local struct {
	projectPath string
}

var _ Runtime = (*Local)(nil)

// NewLocal returns a Local runtime for the project.
func NewLocal(projectPath string) *Local {
	return &Local{projectPath: projectPath}
}

func (l *Local) Type() config.Type {
	return config.TypeLocal
}

func (l *Local) WorkspacePath(projectPath, name string) string {
	return projectPath
}

func (l *Local) Exec(ctx context.Context, command []string, opts ExecOptions) (*Handle, error) {
	cwd := opts.Cwd
	if cwd == "" {
		cwd = l.projectPath
	}
	return hostExec(ctx, command, cwd, opts)
}

func (l *Local) ReadFile(ctx context.Context, path string) (io.ReadCloser, error) {
	return hostReadFile(path)
}

func (l *Local) WriteFile(ctx context.Context, path string) (io.WriteCloser, error) {
	return hostWriteFile(path)
}

func (l *Local) Stat(ctx context.Context, path string) (FileInfo, error) {
	return hostStat(path)
}

func (l *Local) EnsureDir(ctx context.Context, path string) error {
	return os.MkdirAll(path, 0o755)
}

func (l *Local) ResolvePath(ctx context.Context, path string) (string, error) {
	return hostResolvePath(path)
}

func (l *Local) NormalizePath(target, base string) string {
	return hostNormalizePath(target, base)
}

func (l *Local) TempDir(ctx context.Context) (string, error) {
	return os.TempDir(), nil
}

func (l *Local) HomeDir(ctx context.Context) (string, error) {
	return os.UserHomeDir()
}

func (l *Local) CreateWorkspace(ctx context.Context, params CreateParams) (string, error) {
	// In-place execution: the project directory is the workspace.
	return params.ProjectPath, nil
}

func (l *Local) InitWorkspace(ctx context.Context, params InitParams) error {
	return runInitCommand(ctx, params.ProjectPath, params.InitCommand, params.Log)
}

func (l *Local) RenameWorkspace(ctx context.Context, params RenameParams) (RenameResult, error) {
	return RenameResult{Path: params.ProjectPath}, nil
}

func (l *Local) DeleteWorkspace(ctx context.Context, params DeleteParams) error {
	// Nothing to remove; the project directory is not ours to delete.
	return nil
}

func (l *Local) ForkWorkspace(ctx context.Context, params ForkParams) ForkResult {
	return ForkResult{
		Err: fmt.Errorf("local runtime cannot fork an in-place workspace"),
	}
}

func (l *Local) EnsureReady(ctx context.Context, opts ReadyOptions) ReadyResult {
	return ready()
}
