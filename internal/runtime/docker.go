package runtime

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"path"
	"strings"

	"github.com/minionworks/minion/internal/config"
	"github.com/minionworks/minion/internal/util"
)

// containerWorkspaceRoot is where the project is mounted inside docker
// containers.
const containerWorkspaceRoot = "/workspace"

// Docker executes inside a long-lived container, one per workspace. The
// container identity is derived from (projectPath, name); the project is
// bind-mounted at a fixed workspace root.
type Docker struct {
	projectPath string
	name        string
	cfg         config.DockerConfig
	paths       RemotePaths
	mapping     HostMapping
}

var _ Runtime = (*Docker)(nil)

// NewDocker returns a Docker runtime for one workspace.
func NewDocker(projectPath, name string, cfg *config.DockerConfig) *Docker {
	d := &Docker{projectPath: projectPath, name: name}
	if cfg != nil {
		d.cfg = *cfg
	}
	d.paths = RemotePaths{User: d.cfg.User, WorkspaceFolder: containerWorkspaceRoot}
	d.mapping = HostMapping{HostRoot: projectPath, ContainerRoot: containerWorkspaceRoot}
	return d
}

func (d *Docker) Type() config.Type {
	return config.TypeDocker
}

// container returns the container identity for this workspace: the persisted
// name when present, otherwise the derived one.
func (d *Docker) container() string {
	if d.cfg.ContainerName != "" {
		return d.cfg.ContainerName
	}
	return config.ContainerNameFor(d.projectPath, d.name)
}

func (d *Docker) WorkspacePath(projectPath, name string) string {
	return containerWorkspaceRoot
}

// MapHostPath translates a host path into the container, when it falls under
// the mounted project root.
func (d *Docker) MapHostPath(hostPath string) (string, bool) {
	return d.mapping.ToContainer(hostPath)
}

func (d *Docker) Exec(ctx context.Context, command []string, opts ExecOptions) (*Handle, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	args := []string{"exec", "-i"}
	if opts.ForcePty {
		args = append(args, "-t")
	}
	cwd := opts.Cwd
	if mapped, ok := d.MapHostPath(cwd); ok {
		cwd = mapped
	}
	if wd := d.paths.WorkingDir(cwd); wd != "" {
		args = append(args, "-w", wd)
	}
	for _, kv := range opts.Env {
		args = append(args, "-e", kv)
	}
	if d.cfg.User != "" {
		args = append(args, "-u", d.cfg.User)
	}
	args = append(args, d.container())
	args = append(args, command...)

	remoteOpts := opts
	remoteOpts.Env = nil
	return startCommand(ctx, exec.Command("docker", args...), remoteOpts)
}

func (d *Docker) ReadFile(ctx context.Context, p string) (io.ReadCloser, error) {
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

func (d *Docker) WriteFile(ctx context.Context, p string) (io.WriteCloser, error) {
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

func (d *Docker) Stat(ctx context.Context, p string) (FileInfo, error) {
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

// collect runs a command in the container and gathers its stdout.
func (d *Docker) collect(ctx context.Context, command ...string) (string, error) {
	args := append([]string{"exec", d.container()}, command...)
	return runAndCollect(ctx, "docker", args...)
}

func (d *Docker) EnsureDir(ctx context.Context, p string) error {
	_, err := d.collect(ctx, "mkdir", "-p", p)
	return err
}

func (d *Docker) ResolvePath(ctx context.Context, p string) (string, error) {
	if mapped, ok := d.MapHostPath(p); ok {
		return mapped, nil
	}
	return d.paths.Resolve(p)
}

func (d *Docker) NormalizePath(target, base string) string {
	if target == "" {
		return base
	}
	if strings.HasPrefix(target, "/") {
		return path.Clean(target)
	}
	if base == "" {
		base = containerWorkspaceRoot
	}
	return path.Join(base, target)
}

func (d *Docker) TempDir(ctx context.Context) (string, error) {
	return d.collect(ctx, "mktemp", "-d")
}

func (d *Docker) HomeDir(ctx context.Context) (string, error) {
	if home, err := d.paths.ResolveHome(); err == nil {
		return home, nil
	}
	out, err := d.collect(ctx, "sh", "-c", "echo $HOME")
	if err != nil {
		return "", fmt.Errorf("resolving container home: %w", err)
	}
	d.paths.Home = out
	return out, nil
}

// forkImageFor names the snapshot image a fork container is created from.
func forkImageFor(container string) string {
	return container + "-base"
}

// inspectState returns the container's state string, or "" when the
// container does not exist.
func (d *Docker) inspectState(ctx context.Context) (string, error) {
	out, err := runAndCollect(ctx, "docker", "inspect", "-f", "{{.State.Status}}", d.container())
	if err != nil {
		if strings.Contains(err.Error(), "No such") {
			return "", nil
		}
		return "", err
	}
	return out, nil
}

func (d *Docker) CreateWorkspace(ctx context.Context, params CreateParams) (string, error) {
	state, err := d.inspectState(ctx)
	if err != nil {
		return "", fmt.Errorf("inspecting container: %w", err)
	}
	if state != "" {
		return "", fmt.Errorf("container %s already exists", d.container())
	}

	args := []string{
		"create",
		"--name", d.container(),
		"-v", params.ProjectPath + ":" + containerWorkspaceRoot,
		"-w", containerWorkspaceRoot,
	}
	if d.cfg.User != "" {
		args = append(args, "-u", d.cfg.User)
	}
	args = append(args, d.cfg.Image, "sleep", "infinity")

	if _, err := runAndCollect(ctx, "docker", args...); err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}
	return containerWorkspaceRoot, nil
}

func (d *Docker) InitWorkspace(ctx context.Context, params InitParams) error {
	if res := d.EnsureReady(ctx, ReadyOptions{Status: params.Log}); !res.Ready {
		return res.Err
	}
	if params.InitCommand != "" {
		params.Log.emit("running init command: " + params.InitCommand)
		out, err := d.collect(ctx, "sh", "-c",
			"cd "+shellQuote(containerWorkspaceRoot)+" && "+params.InitCommand)
		if err != nil {
			return fmt.Errorf("init command failed: %w\n%s", err, out)
		}
	}
	return nil
}

func (d *Docker) RenameWorkspace(ctx context.Context, params RenameParams) (RenameResult, error) {
	newName := config.ContainerNameFor(params.ProjectPath, params.NewName)
	if newName == d.container() {
		return RenameResult{Path: containerWorkspaceRoot}, nil
	}
	if _, err := runAndCollect(ctx, "docker", "rename", d.container(), newName); err != nil {
		return RenameResult{}, fmt.Errorf("renaming container: %w", err)
	}
	d.cfg.ContainerName = newName
	d.name = params.NewName

	update := config.RuntimeConfig{Type: config.TypeDocker, Docker: &d.cfg}.WithContainerName(newName)
	return RenameResult{Path: containerWorkspaceRoot, ConfigUpdate: &update}, nil
}

func (d *Docker) DeleteWorkspace(ctx context.Context, params DeleteParams) error {
	state, err := d.inspectState(ctx)
	if err != nil {
		return fmt.Errorf("inspecting container: %w", err)
	}
	if state == "" {
		return nil
	}
	if state == "running" && !params.Force {
		return fmt.Errorf("container %s is running; stop it or force delete", d.container())
	}

	args := []string{"rm"}
	if params.Force {
		args = append(args, "-f")
	}
	args = append(args, d.container())
	if _, err := runAndCollect(ctx, "docker", args...); err != nil {
		return fmt.Errorf("removing container: %w", err)
	}

	// A fork container runs from a snapshot image named after it; the image
	// has no other consumer once the container is gone.
	if d.cfg.Image == forkImageFor(d.container()) {
		if _, err := runAndCollect(ctx, "docker", "rmi", d.cfg.Image); err != nil {
			fmt.Printf("Warning: removing fork snapshot image %s: %v\n", d.cfg.Image, err)
		}
	}
	return nil
}

// ForkWorkspace snapshots the source container with docker commit and starts
// a sibling from the snapshot. A failure after the commit is fatal: the image
// exists and a fallback create could end up sharing it.
func (d *Docker) ForkWorkspace(ctx context.Context, params ForkParams) ForkResult {
	sourceContainer := d.container()
	forkContainer := config.ContainerNameFor(params.ProjectPath, params.NewName)
	forkImage := forkImageFor(forkContainer)

	sourceBranch, _ := d.collect(ctx, "git", "-C", containerWorkspaceRoot, "branch", "--show-current")

	params.Log.emit("snapshotting container " + sourceContainer)
	if _, err := runAndCollect(ctx, "docker", "commit", sourceContainer, forkImage); err != nil {
		return ForkResult{
			SourceBranch: sourceBranch,
			Err:          fmt.Errorf("snapshotting container: %w", err),
		}
	}

	params.Log.emit("creating container " + forkContainer)
	args := []string{
		"create",
		"--name", forkContainer,
		"-v", params.ProjectPath + ":" + containerWorkspaceRoot,
		"-w", containerWorkspaceRoot,
		forkImage, "sleep", "infinity",
	}
	if _, err := runAndCollect(ctx, "docker", args...); err != nil {
		// The snapshot image exists; a fallback plain create would race it.
		return ForkResult{
			SourceBranch: sourceBranch,
			Fatal:        true,
			Err:          fmt.Errorf("creating fork container from snapshot: %w", err),
		}
	}

	forkCfg := d.cfg
	forkCfg.Image = forkImage
	forkCfg.ContainerName = forkContainer
	update := config.RuntimeConfig{Type: config.TypeDocker, Docker: &forkCfg}

	return ForkResult{
		Path:          containerWorkspaceRoot,
		SourceBranch:  sourceBranch,
		ConfigForFork: &update,
	}
}

// EnsureReady walks the container through stopped -> starting -> ready. A
// missing container is permanent; a failed start is retryable.
func (d *Docker) EnsureReady(ctx context.Context, opts ReadyOptions) ReadyResult {
	state, err := d.inspectState(ctx)
	if err != nil {
		return startFailed(fmt.Errorf("inspecting container: %w", err))
	}

	switch state {
	case "":
		return notReady(util.MarkPermanent(fmt.Errorf("container %s does not exist", d.container())))
	case "running":
		return ready()
	case "created", "exited", "paused":
		opts.Status.emit("starting container " + d.container())
		if _, err := runAndCollect(ctx, "docker", "start", d.container()); err != nil {
			return startFailed(fmt.Errorf("starting container: %w", err))
		}
		return ready()
	default:
		return startFailed(fmt.Errorf("container %s in unexpected state %q", d.container(), state))
	}
}
