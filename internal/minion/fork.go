package minion

import (
	"context"
	"fmt"

	"github.com/minionworks/minion/internal/config"
	"github.com/minionworks/minion/internal/runtime"
)

// ConfigUpdater computes the runtime configurations resulting from a fork:
// the new workspace's configuration and, optionally, an update to the
// source's own configuration the caller must persist later. It never
// persists anything itself.
type ConfigUpdater interface {
	UpdatedConfigs(source config.RuntimeConfig, res runtime.ForkResult) (fork config.RuntimeConfig, sourceUpdate *config.RuntimeConfig, err error)
}

// BranchSource inspects the source project's git state during trunk-branch
// fallback.
type BranchSource interface {
	LocalBranches() ([]string, error)
	DefaultBranch() (string, error)
}

// RuntimeFactory builds a Runtime for a workspace from its configuration.
type RuntimeFactory func(cfg config.RuntimeConfig, projectPath, name string) (runtime.Runtime, error)

// ForkOptions controls orchestrator policy.
type ForkOptions struct {
	// AllowFallback permits falling back to plain creation when the
	// runtime-level fork fails non-fatally. Strict interactive creation
	// disables it.
	AllowFallback bool

	// PreferredTrunk is the caller's trunk branch, consulted before any git
	// inspection.
	PreferredTrunk string

	Log runtime.StatusSink
}

// ForkOutcome is the result of a successful fork orchestration.
type ForkOutcome struct {
	Path        string
	TrunkBranch string

	// Config is the finalized configuration for the new workspace.
	Config config.RuntimeConfig

	// Runtime is a fresh instance built from Config for the destination.
	Runtime runtime.Runtime

	// UsedForkPath is true when the runtime-level fork succeeded; false when
	// the fallback create path ran.
	UsedForkPath bool

	// SourceConfigUpdate, when set, is a pending change to the source
	// workspace's configuration the caller must persist.
	SourceConfigUpdate *config.RuntimeConfig
}

// Forker drives the multi-step workspace clone workflow over a source
// runtime, a config-update collaborator, and the factory.
type Forker struct {
	Updater    ConfigUpdater
	NewRuntime RuntimeFactory

	// Branches builds the git inspector for a project. Overridable in tests.
	Branches func(projectPath string) BranchSource
}

// Fork clones source into a new workspace named newName.
func (f *Forker) Fork(ctx context.Context, source *Minion, newName string, opts ForkOptions) (ForkOutcome, error) {
	srcRuntime, err := f.NewRuntime(source.Runtime, source.ProjectPath, source.Name)
	if err != nil {
		return ForkOutcome{}, fmt.Errorf("building source runtime: %w", err)
	}

	res := srcRuntime.ForkWorkspace(ctx, runtime.ForkParams{
		ProjectPath: source.ProjectPath,
		SourceName:  source.Name,
		NewName:     newName,
		Log:         opts.Log,
	})

	forkCfg, sourceUpdate, err := f.Updater.UpdatedConfigs(source.Runtime, res)
	if err != nil {
		return ForkOutcome{}, fmt.Errorf("computing fork configuration: %w", err)
	}

	// A fork must own its container. Rederive the identity from the new name
	// even when the update collaborator echoed the source's back.
	if forkCfg.IsContainer() {
		forkCfg = forkCfg.WithContainerName(
			config.ContainerNameFor(source.ProjectPath, newName))
	}

	if res.Err != nil {
		if res.Fatal {
			return ForkOutcome{}, fmt.Errorf("fork failed fatally: %w", res.Err)
		}
		if !opts.AllowFallback {
			return ForkOutcome{}, fmt.Errorf("fork failed: %w", res.Err)
		}
	}

	outcome := ForkOutcome{
		Config:             forkCfg,
		SourceConfigUpdate: sourceUpdate,
	}

	if res.Err == nil {
		outcome.Path = res.Path
		outcome.TrunkBranch = res.SourceBranch
		outcome.UsedForkPath = true
	} else {
		trunk := f.resolveTrunk(source, res, opts)
		path, err := srcRuntime.CreateWorkspace(ctx, runtime.CreateParams{
			ProjectPath: source.ProjectPath,
			Name:        newName,
			TrunkBranch: trunk,
		})
		if err != nil {
			return ForkOutcome{}, fmt.Errorf("fallback creation: %w", err)
		}
		outcome.Path = path
		outcome.TrunkBranch = trunk
	}

	dst, err := f.NewRuntime(outcome.Config, source.ProjectPath, newName)
	if err != nil {
		return ForkOutcome{}, fmt.Errorf("building destination runtime: %w", err)
	}
	outcome.Runtime = dst
	return outcome, nil
}

// resolveTrunk picks the branch fallback creation starts from. Git-discovery
// failures degrade to "main" rather than failing the fork.
func (f *Forker) resolveTrunk(source *Minion, res runtime.ForkResult, opts ForkOptions) string {
	if res.SourceBranch != "" {
		return res.SourceBranch
	}
	if opts.PreferredTrunk != "" {
		return opts.PreferredTrunk
	}

	branches := f.Branches(source.ProjectPath)
	names, err := branches.LocalBranches()
	if err != nil {
		return "main"
	}
	for _, name := range names {
		if name == source.Name {
			return name
		}
	}
	trunk, err := branches.DefaultBranch()
	if err != nil {
		return "main"
	}
	return trunk
}
