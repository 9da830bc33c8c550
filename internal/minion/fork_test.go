package minion

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minionworks/minion/internal/config"
	"github.com/minionworks/minion/internal/runtime"
)

// stubRuntime scripts fork and create outcomes and records what was called.
type stubRuntime struct {
	typ        config.Type
	forkResult runtime.ForkResult

	createCalled bool
	createTrunk  string
	createErr    error
}

func (s *stubRuntime) Type() config.Type                        { return s.typ }
func (s *stubRuntime) WorkspacePath(p, n string) string         { return "/ws/" + n }
func (s *stubRuntime) NormalizePath(target, base string) string { return target }

func (s *stubRuntime) Exec(context.Context, []string, runtime.ExecOptions) (*runtime.Handle, error) {
	return nil, errors.New("not scripted")
}
func (s *stubRuntime) ReadFile(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("not scripted")
}
func (s *stubRuntime) WriteFile(context.Context, string) (io.WriteCloser, error) {
	return nil, errors.New("not scripted")
}
func (s *stubRuntime) Stat(context.Context, string) (runtime.FileInfo, error) {
	return runtime.FileInfo{}, errors.New("not scripted")
}
func (s *stubRuntime) EnsureDir(context.Context, string) error { return nil }
func (s *stubRuntime) ResolvePath(_ context.Context, p string) (string, error) {
	return p, nil
}
func (s *stubRuntime) TempDir(context.Context) (string, error) { return "/tmp", nil }
func (s *stubRuntime) HomeDir(context.Context) (string, error) { return "/root", nil }

func (s *stubRuntime) CreateWorkspace(_ context.Context, params runtime.CreateParams) (string, error) {
	s.createCalled = true
	s.createTrunk = params.TrunkBranch
	if s.createErr != nil {
		return "", s.createErr
	}
	return "/ws/" + params.Name, nil
}
func (s *stubRuntime) InitWorkspace(context.Context, runtime.InitParams) error { return nil }
func (s *stubRuntime) RenameWorkspace(context.Context, runtime.RenameParams) (runtime.RenameResult, error) {
	return runtime.RenameResult{}, nil
}
func (s *stubRuntime) DeleteWorkspace(context.Context, runtime.DeleteParams) error { return nil }
func (s *stubRuntime) ForkWorkspace(context.Context, runtime.ForkParams) runtime.ForkResult {
	return s.forkResult
}
func (s *stubRuntime) EnsureReady(context.Context, runtime.ReadyOptions) runtime.ReadyResult {
	return runtime.ReadyResult{Ready: true}
}

// stubBranches scripts git inspection and records whether it ran.
type stubBranches struct {
	branches []string
	listErr  error
	def      string
	defErr   error

	listCalled bool
	defCalled  bool
}

func (s *stubBranches) LocalBranches() ([]string, error) {
	s.listCalled = true
	return s.branches, s.listErr
}

func (s *stubBranches) DefaultBranch() (string, error) {
	s.defCalled = true
	return s.def, s.defErr
}

func newForker(rt *stubRuntime, branches *stubBranches) *Forker {
	return &Forker{
		Updater:    defaultUpdater{},
		NewRuntime: func(config.RuntimeConfig, string, string) (runtime.Runtime, error) { return rt, nil },
		Branches:   func(string) BranchSource { return branches },
	}
}

func sourceMinion(name string, cfg config.RuntimeConfig) *Minion {
	return &Minion{
		Name:        name,
		ProjectPath: "/home/dev/webapp",
		Runtime:     cfg,
	}
}

func TestForkFatalShortCircuits(t *testing.T) {
	rt := &stubRuntime{
		typ:        config.TypeDocker,
		forkResult: runtime.ForkResult{Fatal: true, Err: errors.New("snapshot half done")},
	}
	forker := newForker(rt, &stubBranches{})
	src := sourceMinion("src", config.RuntimeConfig{Type: config.TypeDocker, Docker: &config.DockerConfig{Image: "ubuntu"}})

	_, err := forker.Fork(context.Background(), src, "child", ForkOptions{AllowFallback: true})
	require.Error(t, err)
	assert.False(t, rt.createCalled, "fatal failure must never fall back to plain creation")
}

func TestForkFailureWithoutFallbackReturnsError(t *testing.T) {
	rt := &stubRuntime{
		typ:        config.TypeWorktree,
		forkResult: runtime.ForkResult{Err: errors.New("no source worktree")},
	}
	forker := newForker(rt, &stubBranches{})
	src := sourceMinion("src", config.RuntimeConfig{Type: config.TypeWorktree})

	_, err := forker.Fork(context.Background(), src, "child", ForkOptions{AllowFallback: false})
	require.Error(t, err)
	assert.False(t, rt.createCalled)
}

func TestForkSuccessUsesForkPath(t *testing.T) {
	rt := &stubRuntime{
		typ:        config.TypeWorktree,
		forkResult: runtime.ForkResult{Path: "/ws/child", SourceBranch: "feature-x"},
	}
	forker := newForker(rt, &stubBranches{})
	src := sourceMinion("src", config.RuntimeConfig{Type: config.TypeWorktree})

	outcome, err := forker.Fork(context.Background(), src, "child", ForkOptions{})
	require.NoError(t, err)
	assert.True(t, outcome.UsedForkPath)
	assert.Equal(t, "/ws/child", outcome.Path)
	assert.Equal(t, "feature-x", outcome.TrunkBranch)
	assert.False(t, rt.createCalled)
}

func TestForkFallbackPrefersBranchNamedAfterSource(t *testing.T) {
	rt := &stubRuntime{
		typ:        config.TypeWorktree,
		forkResult: runtime.ForkResult{Err: errors.New("fork unsupported")},
	}
	branches := &stubBranches{branches: []string{"main", "src", "other"}, def: "main"}
	forker := newForker(rt, branches)
	src := sourceMinion("src", config.RuntimeConfig{Type: config.TypeWorktree})

	outcome, err := forker.Fork(context.Background(), src, "child", ForkOptions{AllowFallback: true})
	require.NoError(t, err)
	assert.False(t, outcome.UsedForkPath)
	assert.Equal(t, "src", outcome.TrunkBranch)
	assert.Equal(t, "src", rt.createTrunk)
	assert.False(t, branches.defCalled, "exact-name match must skip auto-detection")
}

func TestForkFallbackPreferredTrunkSkipsEnumeration(t *testing.T) {
	rt := &stubRuntime{
		typ:        config.TypeWorktree,
		forkResult: runtime.ForkResult{Err: errors.New("fork unsupported")},
	}
	branches := &stubBranches{listErr: errors.New("no git access")}
	forker := newForker(rt, branches)
	src := sourceMinion("src", config.RuntimeConfig{Type: config.TypeWorktree})

	outcome, err := forker.Fork(context.Background(), src, "child", ForkOptions{
		AllowFallback:  true,
		PreferredTrunk: "develop",
	})
	require.NoError(t, err)
	assert.Equal(t, "develop", outcome.TrunkBranch)
	assert.False(t, branches.listCalled, "preferred trunk must skip enumeration entirely")
}

func TestForkFallbackForkReportedBranchWinsOverPreferred(t *testing.T) {
	rt := &stubRuntime{
		typ:        config.TypeWorktree,
		forkResult: runtime.ForkResult{Err: errors.New("copy failed"), SourceBranch: "reported"},
	}
	forker := newForker(rt, &stubBranches{})
	src := sourceMinion("src", config.RuntimeConfig{Type: config.TypeWorktree})

	outcome, err := forker.Fork(context.Background(), src, "child", ForkOptions{
		AllowFallback:  true,
		PreferredTrunk: "develop",
	})
	require.NoError(t, err)
	assert.Equal(t, "reported", outcome.TrunkBranch)
}

func TestForkFallbackAutoDetectsDefaultBranch(t *testing.T) {
	rt := &stubRuntime{
		typ:        config.TypeWorktree,
		forkResult: runtime.ForkResult{Err: errors.New("fork unsupported")},
	}
	branches := &stubBranches{branches: []string{"master", "other"}, def: "master"}
	forker := newForker(rt, branches)
	src := sourceMinion("src", config.RuntimeConfig{Type: config.TypeWorktree})

	outcome, err := forker.Fork(context.Background(), src, "child", ForkOptions{AllowFallback: true})
	require.NoError(t, err)
	assert.Equal(t, "master", outcome.TrunkBranch)
	assert.True(t, branches.defCalled)
}

func TestForkFallbackDegradesToMainOnGitErrors(t *testing.T) {
	rt := &stubRuntime{
		typ:        config.TypeWorktree,
		forkResult: runtime.ForkResult{Err: errors.New("fork unsupported")},
	}

	branches := &stubBranches{listErr: errors.New("not a repo")}
	forker := newForker(rt, branches)
	src := sourceMinion("src", config.RuntimeConfig{Type: config.TypeWorktree})

	outcome, err := forker.Fork(context.Background(), src, "child", ForkOptions{AllowFallback: true})
	require.NoError(t, err)
	assert.Equal(t, "main", outcome.TrunkBranch)

	branches = &stubBranches{branches: []string{"dev"}, defErr: errors.New("no default")}
	forker = newForker(rt, branches)
	outcome, err = forker.Fork(context.Background(), src, "child", ForkOptions{AllowFallback: true})
	require.NoError(t, err)
	assert.Equal(t, "main", outcome.TrunkBranch)
}

func TestForkForcesContainerIdentityFromNewName(t *testing.T) {
	srcCfg := config.RuntimeConfig{
		Type:   config.TypeDocker,
		Docker: &config.DockerConfig{Image: "ubuntu", ContainerName: "source-container"},
	}
	// The update collaborator echoes the source's identity back unchanged.
	rt := &stubRuntime{
		typ: config.TypeDocker,
		forkResult: runtime.ForkResult{
			Path:          "/workspace",
			SourceBranch:  "main",
			ConfigForFork: &srcCfg,
		},
	}
	forker := newForker(rt, &stubBranches{})
	src := sourceMinion("src", srcCfg)

	outcome, err := forker.Fork(context.Background(), src, "Fresh Child", ForkOptions{})
	require.NoError(t, err)

	want := config.ContainerNameFor(src.ProjectPath, "Fresh Child")
	assert.Equal(t, want, outcome.Config.ContainerName())
	assert.NotEqual(t, "source-container", outcome.Config.ContainerName())
}

func TestForkReturnsSourceConfigUpdate(t *testing.T) {
	sourceUpdate := config.RuntimeConfig{Type: config.TypeWorktree}
	rt := &stubRuntime{
		typ: config.TypeWorktree,
		forkResult: runtime.ForkResult{
			Path:            "/ws/child",
			SourceBranch:    "main",
			ConfigForSource: &sourceUpdate,
		},
	}
	forker := newForker(rt, &stubBranches{})
	src := sourceMinion("src", config.RuntimeConfig{Type: config.TypeWorktree})

	outcome, err := forker.Fork(context.Background(), src, "child", ForkOptions{})
	require.NoError(t, err)
	require.NotNil(t, outcome.SourceConfigUpdate)
	assert.Equal(t, config.TypeWorktree, outcome.SourceConfigUpdate.Type)
}
