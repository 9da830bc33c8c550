package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minionworks/minion/internal/cloudbox"
	"github.com/minionworks/minion/internal/config"
	"github.com/minionworks/minion/internal/util"
)

const cloudWorkspaceRoot = "/workspace"

// Cloud executes inside a managed provider sandbox. The sandbox id is
// assigned at creation and carried in the runtime configuration from then
// on; FinalizeConfig hands it back for persistence.
type Cloud struct {
	projectPath string
	name        string
	cfg         config.CloudConfig
	client      *cloudbox.Client
	paths       RemotePaths
}

var (
	_ Runtime          = (*Cloud)(nil)
	_ ConfigFinalizer  = (*Cloud)(nil)
	_ PersistValidator = (*Cloud)(nil)
	_ PostCreateHook   = (*Cloud)(nil)
)

// NewCloud returns a Cloud runtime for one workspace.
func NewCloud(projectPath, name string, cfg *config.CloudConfig, client *cloudbox.Client) *Cloud {
	c := &Cloud{projectPath: projectPath, name: name, client: client}
	if cfg != nil {
		c.cfg = *cfg
	}
	c.paths = RemotePaths{WorkspaceFolder: cloudWorkspaceRoot}
	return c
}

func (c *Cloud) Type() config.Type {
	return config.TypeCloud
}

func (c *Cloud) WorkspacePath(projectPath, name string) string {
	return cloudWorkspaceRoot
}

func (c *Cloud) sandboxID() (string, error) {
	if c.cfg.SandboxID == "" {
		return "", fmt.Errorf("no sandbox provisioned for workspace %q", c.name)
	}
	return c.cfg.SandboxID, nil
}

// Exec runs through the provider's buffered execution API; the Handle
// resolves immediately once the provider responds.
func (c *Cloud) Exec(ctx context.Context, command []string, opts ExecOptions) (*Handle, error) {
	id, err := c.sandboxID()
	if err != nil {
		return nil, err
	}

	cmd := shellJoin(command)
	for _, kv := range opts.Env {
		cmd = "export " + shellQuote(kv) + "; " + cmd
	}

	req := cloudbox.ExecRequest{
		Command: cmd,
		Cwd:     c.paths.WorkingDir(opts.Cwd),
	}
	if opts.Timeout > 0 {
		req.Timeout = int(opts.Timeout.Seconds())
	}

	res, err := c.client.Execute(ctx, id, req)
	if err != nil {
		return nil, fmt.Errorf("executing in sandbox: %w", err)
	}
	return finishedHandle(res.Result, "", ExitStatus{Code: res.ExitCode}), nil
}

func (c *Cloud) ReadFile(ctx context.Context, p string) (io.ReadCloser, error) {
	id, err := c.sandboxID()
	if err != nil {
		return nil, err
	}
	resolved, err := c.ResolvePath(ctx, p)
	if err != nil {
		return nil, err
	}
	return c.client.DownloadFile(ctx, id, resolved)
}

// WriteFile buffers through a pipe into the provider's upload API; the
// upload completes when the returned writer is closed.
func (c *Cloud) WriteFile(ctx context.Context, p string) (io.WriteCloser, error) {
	id, err := c.sandboxID()
	if err != nil {
		return nil, err
	}
	resolved, err := c.ResolvePath(ctx, p)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- c.client.UploadFile(ctx, id, resolved, pr)
	}()
	return &pipeUploadCloser{pw: pw, done: done}, nil
}

type pipeUploadCloser struct {
	pw   *io.PipeWriter
	done chan error
}

func (u *pipeUploadCloser) Write(p []byte) (int, error) {
	return u.pw.Write(p)
}

func (u *pipeUploadCloser) Close() error {
	if err := u.pw.Close(); err != nil {
		return err
	}
	return <-u.done
}

func (c *Cloud) Stat(ctx context.Context, p string) (FileInfo, error) {
	id, err := c.sandboxID()
	if err != nil {
		return FileInfo{}, err
	}
	resolved, err := c.ResolvePath(ctx, p)
	if err != nil {
		return FileInfo{}, err
	}
	info, err := c.client.StatFile(ctx, id, resolved)
	if err != nil {
		return FileInfo{}, fmt.Errorf("stat %s: %w", p, err)
	}
	return FileInfo{Size: info.Size, ModTime: info.ModTime, IsDir: info.IsDir}, nil
}

func (c *Cloud) EnsureDir(ctx context.Context, p string) error {
	id, err := c.sandboxID()
	if err != nil {
		return err
	}
	return c.client.CreateFolder(ctx, id, p)
}

func (c *Cloud) ResolvePath(ctx context.Context, p string) (string, error) {
	paths := c.paths
	if paths.Home == "" {
		paths.User = "root"
	}
	return paths.Resolve(p)
}

func (c *Cloud) NormalizePath(target, base string) string {
	if target == "" {
		return base
	}
	if strings.HasPrefix(target, "/") {
		return path.Clean(target)
	}
	if base == "" {
		base = cloudWorkspaceRoot
	}
	return path.Join(base, target)
}

func (c *Cloud) TempDir(ctx context.Context) (string, error) {
	return "/tmp", nil
}

func (c *Cloud) HomeDir(ctx context.Context) (string, error) {
	if home, err := c.paths.ResolveHome(); err == nil {
		return home, nil
	}
	return "/root", nil
}

func (c *Cloud) CreateWorkspace(ctx context.Context, params CreateParams) (string, error) {
	if c.cfg.SandboxID != "" {
		return "", fmt.Errorf("workspace %q already has sandbox %s", params.Name, c.cfg.SandboxID)
	}

	sb, err := c.client.CreateSandbox(ctx, cloudbox.CreateRequest{
		Snapshot: c.cfg.Snapshot,
		Target:   c.cfg.Target,
		Labels: map[string]string{
			"minion.project": filepath.Base(params.ProjectPath),
			"minion.name":    util.Slug(params.Name),
		},
	})
	if err != nil {
		return "", fmt.Errorf("creating sandbox: %w", err)
	}
	c.cfg.SandboxID = sb.ID
	return cloudWorkspaceRoot, nil
}

// FinalizeConfig carries the provider-assigned sandbox id into the
// configuration the caller persists.
func (c *Cloud) FinalizeConfig(ctx context.Context, cfg config.RuntimeConfig) (config.RuntimeConfig, error) {
	if c.cfg.SandboxID == "" {
		return cfg, fmt.Errorf("no sandbox id to finalize")
	}
	return cfg.WithSandboxID(c.cfg.SandboxID), nil
}

// ValidateBeforePersist refuses to persist a configuration whose API key
// environment variable is unset; every later operation would fail opaquely.
func (c *Cloud) ValidateBeforePersist(cfg config.RuntimeConfig) error {
	env := c.cfg.APIKeyEnv
	if env == "" {
		env = "CLOUDBOX_API_KEY"
	}
	if os.Getenv(env) == "" {
		return fmt.Errorf("environment variable %s is not set", env)
	}
	return nil
}

// PostCreateSetup uploads the project tree into the fresh sandbox.
func (c *Cloud) PostCreateSetup(ctx context.Context, wsPath string, log StatusSink) error {
	if res := c.EnsureReady(ctx, ReadyOptions{Status: log}); !res.Ready {
		return res.Err
	}

	log.emit("uploading project files")
	return filepath.WalkDir(c.projectPath, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(c.projectPath, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()

		id, err := c.sandboxID()
		if err != nil {
			return err
		}
		dest := path.Join(wsPath, filepath.ToSlash(rel))
		if err := c.client.UploadFile(ctx, id, dest, f); err != nil {
			return fmt.Errorf("uploading %s: %w", rel, err)
		}
		return nil
	})
}

func (c *Cloud) InitWorkspace(ctx context.Context, params InitParams) error {
	if params.InitCommand == "" {
		return nil
	}
	params.Log.emit("running init command: " + params.InitCommand)
	h, err := c.Exec(ctx, []string{"sh", "-c", params.InitCommand}, ExecOptions{Cwd: cloudWorkspaceRoot})
	if err != nil {
		return err
	}
	status, err := h.Wait(ctx)
	if err != nil {
		return err
	}
	if status.Code != 0 {
		out, _ := io.ReadAll(h.Stdout)
		return fmt.Errorf("init command exited with code %d\n%s", status.Code, strings.TrimSpace(string(out)))
	}
	return nil
}

func (c *Cloud) RenameWorkspace(ctx context.Context, params RenameParams) (RenameResult, error) {
	// The sandbox is addressed by id; a rename changes nothing provider-side.
	return RenameResult{Path: cloudWorkspaceRoot}, nil
}

func (c *Cloud) DeleteWorkspace(ctx context.Context, params DeleteParams) error {
	if c.cfg.SandboxID == "" {
		return nil
	}

	sb, err := c.client.GetSandbox(ctx, c.cfg.SandboxID)
	if err != nil {
		if cloudbox.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("inspecting sandbox: %w", err)
	}
	if sb.State.IsRunning() && !params.Force {
		return fmt.Errorf("sandbox %s is running; stop it or force delete", c.cfg.SandboxID)
	}

	if err := c.client.DeleteSandbox(ctx, c.cfg.SandboxID, params.Force); err != nil {
		return fmt.Errorf("deleting sandbox: %w", err)
	}
	return nil
}

func (c *Cloud) ForkWorkspace(ctx context.Context, params ForkParams) ForkResult {
	// The provider has no sandbox clone; the orchestrator falls back to a
	// plain create, which provisions a fresh sandbox.
	var sourceBranch string
	if c.cfg.SandboxID != "" {
		if res, err := c.client.Execute(ctx, c.cfg.SandboxID, cloudbox.ExecRequest{
			Command: "git branch --show-current",
			Cwd:     cloudWorkspaceRoot,
		}); err == nil && res.ExitCode == 0 {
			sourceBranch = strings.TrimSpace(res.Result)
		}
	}
	return ForkResult{
		SourceBranch: sourceBranch,
		Err:          fmt.Errorf("cloud runtime does not support sandbox forking"),
	}
}

// EnsureReady walks provisioning states to started, streaming each state to
// the sink. Cancellation stops the poll promptly.
func (c *Cloud) EnsureReady(ctx context.Context, opts ReadyOptions) ReadyResult {
	id, err := c.sandboxID()
	if err != nil {
		return notReady(util.MarkPermanent(err))
	}

	sb, err := c.client.GetSandbox(ctx, id)
	if err != nil {
		if cloudbox.IsNotFound(err) {
			return notReady(util.MarkPermanent(fmt.Errorf("sandbox %s no longer exists", id)))
		}
		return startFailed(fmt.Errorf("inspecting sandbox: %w", err))
	}

	switch {
	case sb.State.IsRunning():
		return ready()
	case sb.State.IsTerminal():
		return notReady(util.MarkPermanent(
			fmt.Errorf("sandbox %s in terminal state %s", id, sb.State)))
	case sb.State == cloudbox.StateStopped:
		opts.Status.emit("starting sandbox")
		if err := c.client.StartSandbox(ctx, id); err != nil {
			return startFailed(fmt.Errorf("starting sandbox: %w", err))
		}
	}

	err = c.client.WaitForState(ctx, id, cloudbox.StateStarted, func(s cloudbox.State) {
		opts.Status.emit("sandbox " + string(s))
	})
	if err != nil {
		return startFailed(fmt.Errorf("waiting for sandbox: %w", err))
	}
	return ready()
}
