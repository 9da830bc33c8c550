package runtime

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/minionworks/minion/internal/config"
	"github.com/minionworks/minion/internal/util"
)

// SSH executes on a remote host through the ssh CLI. Workspaces are
// directories under the configured base dir; files reach the host via scp.
type SSH struct {
	projectPath string
	cfg         config.SSHConfig

	mu    sync.Mutex
	paths RemotePaths
}

var _ Runtime = (*SSH)(nil)

// NewSSH returns an SSH runtime for the project.
func NewSSH(projectPath string, cfg *config.SSHConfig) *SSH {
	s := &SSH{projectPath: projectPath}
	if cfg != nil {
		s.cfg = *cfg
	}
	s.paths.User = s.cfg.User
	return s
}

func (s *SSH) Type() config.Type {
	return config.TypeSSH
}

func (s *SSH) destination() string {
	if s.cfg.User != "" {
		return s.cfg.User + "@" + s.cfg.Host
	}
	return s.cfg.Host
}

// WorkspacePath keeps ~-relative base dirs unexpanded; remote comparison
// treats them as valid.
func (s *SSH) WorkspacePath(projectPath, name string) string {
	base := s.cfg.BaseDir
	if base == "" {
		base = "~/minions"
	}
	return base + "/" + util.Slug(name)
}

// remote runs a shell command on the host and collects its output.
func (s *SSH) remote(ctx context.Context, script string) (string, error) {
	return runAndCollect(ctx, "ssh", "-o", "BatchMode=yes", s.destination(), script)
}

func (s *SSH) Exec(ctx context.Context, command []string, opts ExecOptions) (*Handle, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	script := shellJoin(command)
	if wd := s.workingDir(ctx, opts.Cwd); wd != "" {
		script = fmt.Sprintf("cd %s && %s", shellQuote(wd), script)
	}
	for _, kv := range opts.Env {
		script = "export " + shellQuote(kv) + "; " + script
	}

	args := []string{"-o", "BatchMode=yes"}
	if opts.ForcePty {
		args = append(args, "-tt")
	}
	args = append(args, s.destination(), script)

	cmd := exec.Command("ssh", args...)
	remoteOpts := opts
	remoteOpts.Env = nil // already carried inside the script
	return startCommand(ctx, cmd, remoteOpts)
}

// workingDir resolves the directory an exec runs in. Resolution goes through
// ResolvePath so ~-relative workspace paths work on a fresh instance, where
// the remote home has not been fetched yet.
func (s *SSH) workingDir(ctx context.Context, cwd string) string {
	if cwd == "" || IsWindowsPath(cwd) {
		return s.snapshotPaths().WorkspaceFolder
	}
	resolved, err := s.ResolvePath(ctx, cwd)
	if err != nil {
		return s.snapshotPaths().WorkspaceFolder
	}
	return resolved
}

func (s *SSH) snapshotPaths() RemotePaths {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paths
}

func (s *SSH) ReadFile(ctx context.Context, p string) (io.ReadCloser, error) {
	resolved, err := s.ResolvePath(ctx, p)
	if err != nil {
		return nil, err
	}
	h, err := s.Exec(ctx, []string{"cat", resolved}, ExecOptions{})
	if err != nil {
		return nil, err
	}
	return &execReadCloser{Reader: h.Stdout, handle: h}, nil
}

func (s *SSH) WriteFile(ctx context.Context, p string) (io.WriteCloser, error) {
	resolved, err := s.ResolvePath(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureDir(ctx, path.Dir(resolved)); err != nil {
		return nil, err
	}
	h, err := s.Exec(ctx, []string{"sh", "-c", "cat > " + shellQuote(resolved)}, ExecOptions{})
	if err != nil {
		return nil, err
	}
	return &execWriteCloser{handle: h}, nil
}

func (s *SSH) Stat(ctx context.Context, p string) (FileInfo, error) {
	resolved, err := s.ResolvePath(ctx, p)
	if err != nil {
		return FileInfo{}, err
	}
	out, err := s.remote(ctx, "stat -c '%s %Y %F' "+shellQuote(resolved))
	if err != nil {
		return FileInfo{}, fmt.Errorf("stat %s: %w", p, err)
	}
	return parseStatLine(out)
}

func (s *SSH) EnsureDir(ctx context.Context, p string) error {
	_, err := s.remote(ctx, "mkdir -p "+shellQuote(p))
	return err
}

func (s *SSH) ResolvePath(ctx context.Context, p string) (string, error) {
	paths := s.snapshotPaths()
	if paths.Home == "" && (p == "~" || strings.HasPrefix(p, "~/") || p == "") {
		if home, err := s.fetchHome(ctx); err == nil {
			paths.Home = home
		}
	}
	return paths.Resolve(p)
}

func (s *SSH) NormalizePath(target, base string) string {
	if target == "" {
		return base
	}
	if strings.HasPrefix(target, "~") || strings.HasPrefix(target, "/") {
		return path.Clean(target)
	}
	if base == "" {
		return path.Clean(target)
	}
	return path.Join(base, target)
}

func (s *SSH) TempDir(ctx context.Context) (string, error) {
	return s.remote(ctx, "mktemp -d")
}

// fetchHome resolves and caches the remote home directory.
func (s *SSH) fetchHome(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.paths.Home != "" {
		home := s.paths.Home
		s.mu.Unlock()
		return home, nil
	}
	s.mu.Unlock()

	home, err := s.remote(ctx, "echo $HOME")
	if err != nil {
		return "", fmt.Errorf("resolving remote home: %w", err)
	}
	s.mu.Lock()
	s.paths.Home = home
	s.mu.Unlock()
	return home, nil
}

func (s *SSH) HomeDir(ctx context.Context) (string, error) {
	return s.fetchHome(ctx)
}

func (s *SSH) CreateWorkspace(ctx context.Context, params CreateParams) (string, error) {
	wsPath := s.WorkspacePath(params.ProjectPath, params.Name)
	resolved, err := s.ResolvePath(ctx, wsPath)
	if err != nil {
		return "", err
	}
	if _, err := s.remote(ctx, "test ! -e "+shellQuote(resolved)); err != nil {
		return "", fmt.Errorf("workspace path already exists on %s: %s", s.cfg.Host, wsPath)
	}
	if err := s.EnsureDir(ctx, resolved); err != nil {
		return "", fmt.Errorf("creating remote workspace: %w", err)
	}

	s.mu.Lock()
	s.paths.WorkspaceFolder = resolved
	s.mu.Unlock()
	return wsPath, nil
}

func (s *SSH) InitWorkspace(ctx context.Context, params InitParams) error {
	resolved, err := s.ResolvePath(ctx, params.Path)
	if err != nil {
		return err
	}

	params.Log.emit(fmt.Sprintf("syncing project to %s", s.cfg.Host))
	// Trailing /. copies directory contents rather than the directory.
	_, err = runAndCollect(ctx, "scp", "-q", "-r",
		params.ProjectPath+"/.", s.destination()+":"+resolved)
	if err != nil {
		return fmt.Errorf("syncing project files: %w", err)
	}

	if params.InitCommand != "" {
		params.Log.emit("running init command: " + params.InitCommand)
		script := fmt.Sprintf("cd %s && %s", shellQuote(resolved), params.InitCommand)
		if out, err := s.remote(ctx, script); err != nil {
			return fmt.Errorf("init command failed: %w\n%s", err, out)
		}
	}
	return nil
}

func (s *SSH) RenameWorkspace(ctx context.Context, params RenameParams) (RenameResult, error) {
	oldPath, err := s.ResolvePath(ctx, s.WorkspacePath(params.ProjectPath, params.OldName))
	if err != nil {
		return RenameResult{}, err
	}
	newWs := s.WorkspacePath(params.ProjectPath, params.NewName)
	newPath, err := s.ResolvePath(ctx, newWs)
	if err != nil {
		return RenameResult{}, err
	}
	if oldPath == newPath {
		return RenameResult{Path: newWs}, nil
	}
	script := fmt.Sprintf("mv %s %s", shellQuote(oldPath), shellQuote(newPath))
	if _, err := s.remote(ctx, script); err != nil {
		return RenameResult{}, fmt.Errorf("renaming remote workspace: %w", err)
	}

	s.mu.Lock()
	s.paths.WorkspaceFolder = newPath
	s.mu.Unlock()
	return RenameResult{Path: newWs}, nil
}

func (s *SSH) DeleteWorkspace(ctx context.Context, params DeleteParams) error {
	resolved, err := s.ResolvePath(ctx, s.WorkspacePath(params.ProjectPath, params.Name))
	if err != nil {
		return err
	}
	if _, err := s.remote(ctx, "test -e "+shellQuote(resolved)); err != nil {
		return nil
	}

	if !params.Force {
		script := fmt.Sprintf(
			"if [ -d %s/.git ]; then cd %s && git status --porcelain; fi",
			shellQuote(resolved), shellQuote(resolved))
		out, err := s.remote(ctx, script)
		if err != nil {
			return fmt.Errorf("checking remote workspace state: %w", err)
		}
		if out != "" {
			return fmt.Errorf("remote workspace %q has uncommitted changes", params.Name)
		}
	}

	if _, err := s.remote(ctx, "rm -rf "+shellQuote(resolved)); err != nil {
		return fmt.Errorf("deleting remote workspace: %w", err)
	}
	return nil
}

func (s *SSH) ForkWorkspace(ctx context.Context, params ForkParams) ForkResult {
	srcResolved, err := s.ResolvePath(ctx, s.WorkspacePath(params.ProjectPath, params.SourceName))
	if err != nil {
		return ForkResult{Err: err}
	}
	dstResolved, err := s.ResolvePath(ctx, s.WorkspacePath(params.ProjectPath, params.NewName))
	if err != nil {
		return ForkResult{Err: err}
	}

	sourceBranch, _ := s.remote(ctx,
		fmt.Sprintf("cd %s && git branch --show-current", shellQuote(srcResolved)))

	params.Log.emit("copying remote workspace")
	script := fmt.Sprintf("cp -a %s %s", shellQuote(srcResolved), shellQuote(dstResolved))
	if _, err := s.remote(ctx, script); err != nil {
		return ForkResult{SourceBranch: sourceBranch, Err: fmt.Errorf("copying workspace: %w", err)}
	}
	return ForkResult{
		Path:         s.WorkspacePath(params.ProjectPath, params.NewName),
		SourceBranch: sourceBranch,
	}
}

func (s *SSH) EnsureReady(ctx context.Context, opts ReadyOptions) ReadyResult {
	if s.cfg.Host == "" {
		return notReady(util.MarkPermanent(fmt.Errorf("ssh runtime has no host configured")))
	}
	opts.Status.emit("checking connection to " + s.cfg.Host)
	if _, err := s.remote(ctx, "true"); err != nil {
		return startFailed(fmt.Errorf("connecting to %s: %w", s.cfg.Host, err))
	}
	return ready()
}

// execReadCloser ties stream lifetime to the underlying remote process.
type execReadCloser struct {
	io.Reader
	handle *Handle
}

func (r *execReadCloser) Close() error {
	_ = r.handle.Stdin.Close()
	_, err := r.handle.Wait(context.Background())
	return err
}

type execWriteCloser struct {
	handle *Handle
}

func (w *execWriteCloser) Write(p []byte) (int, error) {
	return w.handle.Stdin.Write(p)
}

func (w *execWriteCloser) Close() error {
	if err := w.handle.Stdin.Close(); err != nil {
		return err
	}
	status, err := w.handle.Wait(context.Background())
	if err != nil {
		return err
	}
	if status.Code != 0 {
		return fmt.Errorf("remote write exited with code %d", status.Code)
	}
	return nil
}

func parseStatLine(out string) (FileInfo, error) {
	fields := strings.SplitN(out, " ", 3)
	if len(fields) < 3 {
		return FileInfo{}, fmt.Errorf("unexpected stat output: %q", out)
	}
	size, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return FileInfo{}, fmt.Errorf("parsing size from stat output: %w", err)
	}
	mtime, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return FileInfo{}, fmt.Errorf("parsing mtime from stat output: %w", err)
	}
	return FileInfo{
		Size:    size,
		ModTime: time.Unix(mtime, 0),
		IsDir:   strings.Contains(fields[2], "directory"),
	}, nil
}
