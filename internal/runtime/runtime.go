// Package runtime defines the execution-environment contract every backend
// implements, and the local, worktree, ssh, docker, devcontainer, and cloud
// variants. The rest of the system depends only on the Runtime interface;
// adding a backend means implementing it and teaching the factory about it.
package runtime

import (
	"context"
	"io"
	"time"

	"github.com/minionworks/minion/internal/config"
)

// StatusSink receives human-readable progress lines from long-running
// operations. Nil sinks are allowed everywhere.
type StatusSink func(msg string)

func (s StatusSink) emit(msg string) {
	if s != nil {
		s(msg)
	}
}

// FileInfo is the subset of file metadata the contract exposes.
type FileInfo struct {
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// CreateParams describes a fast workspace creation: make the addressable
// location, nothing more. No init hook runs and no files are synced.
type CreateParams struct {
	ProjectPath string
	Name        string

	// TrunkBranch is the branch the workspace starts from, where the
	// backend has a notion of branches. Empty means the current HEAD.
	TrunkBranch string
}

// InitParams describes the slower initialization step that follows creation:
// file sync, submodules, and the project init hook.
type InitParams struct {
	ProjectPath string
	Name        string
	Path        string

	// InitCommand is the project hook to run inside the workspace. Empty
	// skips it.
	InitCommand string

	Log StatusSink
}

// RenameParams renames a workspace. The physical location and, for container
// backends, the container identity follow the name.
type RenameParams struct {
	ProjectPath string
	OldName     string
	NewName     string
}

// RenameResult reports the new path and, when the rename changed the runtime
// configuration, the value the caller must persist.
type RenameResult struct {
	Path         string
	ConfigUpdate *config.RuntimeConfig
}

// DeleteParams deletes a workspace. Force is the only way past blocking
// conditions such as uncommitted work; no variant forces silently.
type DeleteParams struct {
	ProjectPath string
	Name        string
	Force       bool
}

// ForkParams asks a backend to clone a workspace's current state into a new
// workspace.
type ForkParams struct {
	ProjectPath string
	SourceName  string
	NewName     string
	Log         StatusSink
}

// ForkResult is the discriminated outcome of a backend fork. Err set means
// the fork failed; Fatal then tells the orchestrator whether falling back to
// plain creation is safe. A fatal failure means the attempt may have left
// shared infrastructure half-provisioned and must not be papered over.
type ForkResult struct {
	Path         string
	SourceBranch string

	// ConfigForFork and ConfigForSource are configuration deltas the caller
	// must persist, when the fork changed either side.
	ConfigForFork   *config.RuntimeConfig
	ConfigForSource *config.RuntimeConfig

	Fatal bool
	Err   error
}

// FailureKind classifies readiness failures.
type FailureKind string

const (
	// FailureNotReady is permanent: the backend cannot become ready without
	// outside intervention (missing container, missing config file).
	FailureNotReady FailureKind = "not-ready"

	// FailureStartFailed is transient: a retry may succeed.
	FailureStartFailed FailureKind = "start-failed"
)

// ReadyOptions configures EnsureReady. Status receives live provisioning
// progress where the backend has any to report.
type ReadyOptions struct {
	Status StatusSink
}

// ReadyResult is the outcome of the readiness state machine.
type ReadyResult struct {
	Ready bool
	Kind  FailureKind
	Err   error
}

func ready() ReadyResult {
	return ReadyResult{Ready: true}
}

func notReady(err error) ReadyResult {
	return ReadyResult{Kind: FailureNotReady, Err: err}
}

func startFailed(err error) ReadyResult {
	return ReadyResult{Kind: FailureStartFailed, Err: err}
}

// Runtime is the uniform contract over execution substrates. Implementations
// own their instance state (cached remote home, workspace folder); one
// instance serves one project+workspace pairing.
type Runtime interface {
	Type() config.Type

	// WorkspacePath is the single source of truth for where a workspace
	// lives. It is a pure function of its inputs for a given variant; every
	// other operation agrees with it.
	WorkspacePath(projectPath, name string) string

	Exec(ctx context.Context, command []string, opts ExecOptions) (*Handle, error)

	ReadFile(ctx context.Context, path string) (io.ReadCloser, error)
	WriteFile(ctx context.Context, path string) (io.WriteCloser, error)
	Stat(ctx context.Context, path string) (FileInfo, error)
	EnsureDir(ctx context.Context, path string) error

	// ResolvePath expands ~ and produces an absolute canonical path.
	ResolvePath(ctx context.Context, path string) (string, error)

	// NormalizePath produces a comparable path string. Remote variants may
	// keep ~-relative forms valid for comparison.
	NormalizePath(target, base string) string

	TempDir(ctx context.Context) (string, error)
	HomeDir(ctx context.Context) (string, error)

	CreateWorkspace(ctx context.Context, params CreateParams) (string, error)
	InitWorkspace(ctx context.Context, params InitParams) error
	RenameWorkspace(ctx context.Context, params RenameParams) (RenameResult, error)
	DeleteWorkspace(ctx context.Context, params DeleteParams) error
	ForkWorkspace(ctx context.Context, params ForkParams) ForkResult

	EnsureReady(ctx context.Context, opts ReadyOptions) ReadyResult
}

// ConfigFinalizer is an optional hook for variants that learn configuration
// during creation, such as a provider-assigned sandbox id.
type ConfigFinalizer interface {
	FinalizeConfig(ctx context.Context, cfg config.RuntimeConfig) (config.RuntimeConfig, error)
}

// PersistValidator is an optional hook run before a configuration is handed
// back for persistence.
type PersistValidator interface {
	ValidateBeforePersist(cfg config.RuntimeConfig) error
}

// PostCreateHook is an optional provisioning step between creation and
// persistence.
type PostCreateHook interface {
	PostCreateSetup(ctx context.Context, path string, log StatusSink) error
}
