package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/minionworks/minion/internal/config"
	"github.com/minionworks/minion/internal/util"
)

// Devcontainer executes inside a container managed by the devcontainer CLI,
// configured by the project's devcontainer.json.
type Devcontainer struct {
	projectPath string
	name        string
	cfg         config.DevcontainerConfig
	paths       RemotePaths
}

var _ Runtime = (*Devcontainer)(nil)

// NewDevcontainer returns a Devcontainer runtime for one workspace.
func NewDevcontainer(projectPath, name string, cfg *config.DevcontainerConfig) *Devcontainer {
	d := &Devcontainer{projectPath: projectPath, name: name}
	if cfg != nil {
		d.cfg = *cfg
	}
	if d.cfg.ConfigPath == "" {
		d.cfg.ConfigPath = filepath.Join(".devcontainer", "devcontainer.json")
	}
	d.paths = RemotePaths{WorkspaceFolder: d.workspaceFolder()}
	return d
}

func (d *Devcontainer) Type() config.Type {
	return config.TypeDevcontainer
}

func (d *Devcontainer) configFile() string {
	return filepath.Join(d.projectPath, d.cfg.ConfigPath)
}

// devcontainerSpec is the subset of devcontainer.json this runtime reads.
// The file allows comments and trailing commas, hence the jsonc pass.
type devcontainerSpec struct {
	Name            string `json:"name"`
	WorkspaceFolder string `json:"workspaceFolder"`
	RemoteUser      string `json:"remoteUser"`
}

func (d *Devcontainer) readSpec() (devcontainerSpec, error) {
	var spec devcontainerSpec
	data, err := os.ReadFile(d.configFile())
	if err != nil {
		return spec, fmt.Errorf("reading devcontainer config: %w", err)
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), &spec); err != nil {
		return spec, fmt.Errorf("parsing %s: %w", d.cfg.ConfigPath, err)
	}
	return spec, nil
}

// workspaceFolder is the configured workspaceFolder, or the devcontainer
// CLI's conventional default.
func (d *Devcontainer) workspaceFolder() string {
	if spec, err := d.readSpec(); err == nil && spec.WorkspaceFolder != "" {
		return spec.WorkspaceFolder
	}
	return "/workspaces/" + filepath.Base(d.projectPath)
}

func (d *Devcontainer) WorkspacePath(projectPath, name string) string {
	return d.workspaceFolder()
}

func (d *Devcontainer) cli(ctx context.Context, subcommand string, args ...string) (string, error) {
	full := append([]string{subcommand, "--workspace-folder", d.projectPath, "--config", d.configFile()}, args...)
	return runAndCollect(ctx, "devcontainer", full...)
}

func (d *Devcontainer) Exec(ctx context.Context, command []string, opts ExecOptions) (*Handle, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	script := shellJoin(command)
	mapping := HostMapping{HostRoot: d.projectPath, ContainerRoot: d.workspaceFolder()}
	cwd := opts.Cwd
	if mapped, ok := mapping.ToContainer(cwd); ok {
		cwd = mapped
	}
	if wd := d.paths.WorkingDir(cwd); wd != "" {
		script = fmt.Sprintf("cd %s && %s", shellQuote(wd), script)
	}
	for _, kv := range opts.Env {
		script = "export " + shellQuote(kv) + "; " + script
	}

	args := []string{
		"exec",
		"--workspace-folder", d.projectPath,
		"--config", d.configFile(),
		"sh", "-c", script,
	}

	remoteOpts := opts
	remoteOpts.Env = nil
	return startCommand(ctx, exec.Command("devcontainer", args...), remoteOpts)
}

func (d *Devcontainer) collect(ctx context.Context, command ...string) (string, error) {
	args := append([]string{"exec", "--workspace-folder", d.projectPath, "--config", d.configFile()}, command...)
	return runAndCollect(ctx, "devcontainer", args...)
}

func (d *Devcontainer) ReadFile(ctx context.Context, p string) (io.ReadCloser, error) {
	resolved, err := d.ResolvePath(ctx, p)
	if err != nil {
		return nil, err
	}
	h, err := d.Exec(ctx, []string{"cat", resolved}, ExecOptions{})
	if err != nil {
		return nil, err
	}
	return &execReadCloser{Reader: h.Stdout, handle: h}, nil
}

func (d *Devcontainer) WriteFile(ctx context.Context, p string) (io.WriteCloser, error) {
	resolved, err := d.ResolvePath(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := d.EnsureDir(ctx, path.Dir(resolved)); err != nil {
		return nil, err
	}
	h, err := d.Exec(ctx, []string{"sh", "-c", "cat > " + shellQuote(resolved)}, ExecOptions{})
	if err != nil {
		return nil, err
	}
	return &execWriteCloser{handle: h}, nil
}

func (d *Devcontainer) Stat(ctx context.Context, p string) (FileInfo, error) {
	resolved, err := d.ResolvePath(ctx, p)
	if err != nil {
		return FileInfo{}, err
	}
	out, err := d.collect(ctx, "stat", "-c", "%s %Y %F", resolved)
	if err != nil {
		return FileInfo{}, fmt.Errorf("stat %s: %w", p, err)
	}
	return parseStatLine(out)
}

func (d *Devcontainer) EnsureDir(ctx context.Context, p string) error {
	_, err := d.collect(ctx, "mkdir", "-p", p)
	return err
}

func (d *Devcontainer) ResolvePath(ctx context.Context, p string) (string, error) {
	mapping := HostMapping{HostRoot: d.projectPath, ContainerRoot: d.workspaceFolder()}
	if mapped, ok := mapping.ToContainer(p); ok {
		return mapped, nil
	}
	paths := d.paths
	if paths.Home == "" {
		if spec, err := d.readSpec(); err == nil {
			paths.User = spec.RemoteUser
		}
	}
	return paths.Resolve(p)
}

func (d *Devcontainer) NormalizePath(target, base string) string {
	if target == "" {
		return base
	}
	if strings.HasPrefix(target, "/") {
		return path.Clean(target)
	}
	if base == "" {
		base = d.workspaceFolder()
	}
	return path.Join(base, target)
}

func (d *Devcontainer) TempDir(ctx context.Context) (string, error) {
	return d.collect(ctx, "mktemp", "-d")
}

func (d *Devcontainer) HomeDir(ctx context.Context) (string, error) {
	out, err := d.collect(ctx, "sh", "-c", "echo $HOME")
	if err != nil {
		return "", fmt.Errorf("resolving container home: %w", err)
	}
	d.paths.Home = out
	return out, nil
}

func (d *Devcontainer) CreateWorkspace(ctx context.Context, params CreateParams) (string, error) {
	if _, err := os.Stat(d.configFile()); err != nil {
		return "", fmt.Errorf("no devcontainer config at %s", d.cfg.ConfigPath)
	}
	// The devcontainer CLI owns provisioning; creation is just the readiness
	// bring-up.
	if res := d.EnsureReady(ctx, ReadyOptions{}); !res.Ready {
		return "", res.Err
	}
	return d.workspaceFolder(), nil
}

func (d *Devcontainer) InitWorkspace(ctx context.Context, params InitParams) error {
	if params.InitCommand != "" {
		params.Log.emit("running init command: " + params.InitCommand)
		out, err := d.collect(ctx, "sh", "-c",
			"cd "+shellQuote(d.workspaceFolder())+" && "+params.InitCommand)
		if err != nil {
			return fmt.Errorf("init command failed: %w\n%s", err, out)
		}
	}
	return nil
}

func (d *Devcontainer) RenameWorkspace(ctx context.Context, params RenameParams) (RenameResult, error) {
	// The CLI addresses the container by workspace folder, not by name; only
	// the persisted identity needs rederiving.
	newName := config.ContainerNameFor(params.ProjectPath, params.NewName)
	d.name = params.NewName

	cfg := d.cfg
	update := config.RuntimeConfig{Type: config.TypeDevcontainer, Devcontainer: &cfg}.WithContainerName(newName)
	return RenameResult{Path: d.workspaceFolder(), ConfigUpdate: &update}, nil
}

func (d *Devcontainer) DeleteWorkspace(ctx context.Context, params DeleteParams) error {
	container := d.cfg.ContainerName
	if container == "" {
		// Find the container the CLI labelled for this workspace folder.
		out, err := runAndCollect(ctx, "docker", "ps", "-aq",
			"--filter", "label=devcontainer.local_folder="+d.projectPath)
		if err != nil || out == "" {
			return nil
		}
		container = strings.Fields(out)[0]
	}

	state, err := runAndCollect(ctx, "docker", "inspect", "-f", "{{.State.Status}}", container)
	if err != nil {
		return nil
	}
	if state == "running" && !params.Force {
		return fmt.Errorf("devcontainer for %q is running; stop it or force delete", params.Name)
	}

	args := []string{"rm"}
	if params.Force {
		args = append(args, "-f")
	}
	args = append(args, container)
	if _, err := runAndCollect(ctx, "docker", args...); err != nil {
		return fmt.Errorf("removing devcontainer: %w", err)
	}
	return nil
}

func (d *Devcontainer) ForkWorkspace(ctx context.Context, params ForkParams) ForkResult {
	sourceBranch, _ := d.collect(ctx, "git", "-C", d.workspaceFolder(), "branch", "--show-current")
	return ForkResult{
		SourceBranch: sourceBranch,
		Err:          fmt.Errorf("devcontainer runtime does not support forking"),
	}
}

// EnsureReady brings the devcontainer up. A missing config file can never
// succeed without user action; a failed up is worth retrying.
func (d *Devcontainer) EnsureReady(ctx context.Context, opts ReadyOptions) ReadyResult {
	if _, err := os.Stat(d.configFile()); err != nil {
		return notReady(util.MarkPermanent(
			fmt.Errorf("no devcontainer config at %s", d.cfg.ConfigPath)))
	}

	opts.Status.emit("bringing up devcontainer")
	if _, err := d.cli(ctx, "up"); err != nil {
		return startFailed(fmt.Errorf("devcontainer up: %w", err))
	}
	return ready()
}
