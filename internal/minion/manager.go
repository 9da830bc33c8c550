package minion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/minionworks/minion/internal/config"
	"github.com/minionworks/minion/internal/dedup"
	"github.com/minionworks/minion/internal/git"
	"github.com/minionworks/minion/internal/lock"
	"github.com/minionworks/minion/internal/parallel"
	"github.com/minionworks/minion/internal/runtime"
	"github.com/minionworks/minion/internal/util"
)

// Manager orchestrates minion lifecycle over a Store and the runtime layer.
// Concurrent operations on the same minion are serialized by a per-minion
// advisory lock, not by the runtimes themselves.
type Manager struct {
	store    Store
	stateDir string
	factory  RuntimeFactory

	// readiness dedups concurrent probes per minion: a second caller
	// attaches to the in-flight probe instead of racing a container start.
	readiness *dedup.Group[runtime.ReadyResult]
}

// NewManager returns a Manager. factory builds runtime instances; pass the
// production factory or a test double.
func NewManager(store Store, stateDir string, factory RuntimeFactory) *Manager {
	return &Manager{
		store:     store,
		stateDir:  stateDir,
		factory:   factory,
		readiness: dedup.NewGroup[runtime.ReadyResult](),
	}
}

// CreateOptions configures Create.
type CreateOptions struct {
	ProjectPath string
	Name        string

	// Runtime overrides the project's configured runtime. Nil reads
	// minion.toml, falling back to the worktree default.
	Runtime *config.RuntimeConfig

	TrunkBranch string
	AgentID     string
	Log         runtime.StatusSink
}

// Create provisions a new minion: workspace creation, the optional
// provisioning hooks, and persistence. Initialization is separate; call
// Init afterwards.
func (mg *Manager) Create(ctx context.Context, opts CreateOptions) (*Minion, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("minion name is required")
	}

	settings, err := config.LoadSettings(opts.ProjectPath)
	if err != nil {
		return nil, err
	}

	cfg := settings.RuntimeConfig()
	if opts.Runtime != nil {
		cfg = opts.Runtime.Normalize()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	trunk := opts.TrunkBranch
	if trunk == "" {
		trunk = settings.TrunkBranch
	}
	agentID := opts.AgentID
	if agentID == "" {
		agentID = settings.DefaultAgent
	}

	m := &Minion{
		ID:          uuid.New(),
		Name:        opts.Name,
		ProjectPath: opts.ProjectPath,
		AgentID:     agentID,
		AISettings: AISettings{
			Model:         settings.Model,
			ThinkingLevel: settings.ThinkingLevel,
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	err = lock.ForMinion(mg.stateDir, m.ID.String()).WithLock(func() error {
		rt, err := mg.factory(cfg, opts.ProjectPath, opts.Name)
		if err != nil {
			return err
		}

		path, err := rt.CreateWorkspace(ctx, runtime.CreateParams{
			ProjectPath: opts.ProjectPath,
			Name:        opts.Name,
			TrunkBranch: trunk,
		})
		if err != nil {
			return fmt.Errorf("creating workspace: %w", err)
		}

		if hook, ok := rt.(runtime.PostCreateHook); ok {
			if err := hook.PostCreateSetup(ctx, path, opts.Log); err != nil {
				return fmt.Errorf("post-create setup: %w", err)
			}
		}
		if fin, ok := rt.(runtime.ConfigFinalizer); ok {
			cfg, err = fin.FinalizeConfig(ctx, cfg)
			if err != nil {
				return fmt.Errorf("finalizing config: %w", err)
			}
		}
		if val, ok := rt.(runtime.PersistValidator); ok {
			if err := val.ValidateBeforePersist(cfg); err != nil {
				return err
			}
		}

		if head, err := git.NewGit(path).Head(); err == nil {
			m.BaseCommit = head
		}

		m.Runtime = cfg
		return mg.store.Put(m)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Init runs the slower initialization step for an existing minion: file
// sync, submodules, and the project init hook.
func (mg *Manager) Init(ctx context.Context, m *Minion, log runtime.StatusSink) error {
	settings, err := config.LoadSettings(m.ProjectPath)
	if err != nil {
		return err
	}
	rt, err := mg.factory(m.Runtime, m.ProjectPath, m.Name)
	if err != nil {
		return err
	}
	return rt.InitWorkspace(ctx, runtime.InitParams{
		ProjectPath: m.ProjectPath,
		Name:        m.Name,
		Path:        rt.WorkspacePath(m.ProjectPath, m.Name),
		InitCommand: settings.InitCommand,
		Log:         log,
	})
}

// Rename changes a minion's name, moving the physical workspace and
// rederiving any name-bound identity. The updated configuration is persisted
// along with the name.
func (mg *Manager) Rename(ctx context.Context, id uuid.UUID, newName string) (*Minion, error) {
	if newName == "" {
		return nil, fmt.Errorf("new name is required")
	}

	var renamed *Minion
	err := lock.ForMinion(mg.stateDir, id.String()).WithLock(func() error {
		m, err := mg.store.Get(id)
		if err != nil {
			return err
		}
		rt, err := mg.factory(m.Runtime, m.ProjectPath, m.Name)
		if err != nil {
			return err
		}

		res, err := rt.RenameWorkspace(ctx, runtime.RenameParams{
			ProjectPath: m.ProjectPath,
			OldName:     m.Name,
			NewName:     newName,
		})
		if err != nil {
			return fmt.Errorf("renaming workspace: %w", err)
		}

		m.Name = newName
		if res.ConfigUpdate != nil {
			m.Runtime = *res.ConfigUpdate
		}
		m.UpdatedAt = time.Now()
		renamed = m
		return mg.store.Put(m)
	})
	if err != nil {
		return nil, err
	}
	return renamed, nil
}

// Delete removes the runtime-side workspace and the persisted entry. Without
// force, blocking conditions such as uncommitted work abort the delete.
func (mg *Manager) Delete(ctx context.Context, id uuid.UUID, force bool) error {
	return lock.ForMinion(mg.stateDir, id.String()).WithLock(func() error {
		m, err := mg.store.Get(id)
		if err != nil {
			return err
		}
		rt, err := mg.factory(m.Runtime, m.ProjectPath, m.Name)
		if err != nil {
			return err
		}
		if err := rt.DeleteWorkspace(ctx, runtime.DeleteParams{
			ProjectPath: m.ProjectPath,
			Name:        m.Name,
			Force:       force,
		}); err != nil {
			return err
		}
		return mg.store.Delete(id)
	})
}

// Fork clones a minion through the fork orchestrator and persists the
// result, including any pending source-side configuration update.
func (mg *Manager) Fork(ctx context.Context, sourceID uuid.UUID, newName string, opts ForkOptions) (*Minion, error) {
	source, err := mg.store.Get(sourceID)
	if err != nil {
		return nil, err
	}

	forker := &Forker{
		Updater:    defaultUpdater{},
		NewRuntime: mg.factory,
		Branches: func(projectPath string) BranchSource {
			return git.NewGit(projectPath)
		},
	}

	outcome, err := forker.Fork(ctx, source, newName, opts)
	if err != nil {
		return nil, err
	}

	parentID := source.ID
	child := &Minion{
		ID:             uuid.New(),
		Name:           newName,
		ProjectPath:    source.ProjectPath,
		Runtime:        outcome.Config,
		AgentID:        source.AgentID,
		AISettings:     source.AISettings,
		AgentOverrides: source.AgentOverrides,
		ParentID:       &parentID,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if head, err := git.NewGit(outcome.Path).Head(); err == nil {
		child.BaseCommit = head
	}

	if err := lock.ForMinion(mg.stateDir, child.ID.String()).WithLock(func() error {
		return mg.store.Put(child)
	}); err != nil {
		return nil, err
	}

	if outcome.SourceConfigUpdate != nil {
		err := lock.ForMinion(mg.stateDir, source.ID.String()).WithLock(func() error {
			m, err := mg.store.Get(source.ID)
			if err != nil {
				return err
			}
			m.Runtime = *outcome.SourceConfigUpdate
			m.UpdatedAt = time.Now()
			return mg.store.Put(m)
		})
		if err != nil {
			return nil, fmt.Errorf("persisting source config update: %w", err)
		}
	}

	return child, nil
}

// defaultUpdater takes the fork-reported configuration when present and the
// source's otherwise.
type defaultUpdater struct{}

func (defaultUpdater) UpdatedConfigs(source config.RuntimeConfig, res runtime.ForkResult) (config.RuntimeConfig, *config.RuntimeConfig, error) {
	cfg := source.Normalize()
	if res.ConfigForFork != nil {
		cfg = res.ConfigForFork.Normalize()
	}
	return cfg, res.ConfigForSource, nil
}

// EnsureReady brings one minion's runtime to a ready state. Start-failed
// results are retried with backoff; not-ready results are permanent and
// returned as-is. Concurrent calls for the same minion share one probe.
func (mg *Manager) EnsureReady(ctx context.Context, m *Minion, status runtime.StatusSink) runtime.ReadyResult {
	res, err := mg.readiness.Do(m.ID.String(), func() (runtime.ReadyResult, error) {
		rt, err := mg.factory(m.Runtime, m.ProjectPath, m.Name)
		if err != nil {
			return runtime.ReadyResult{}, err
		}
		return util.Retry(ctx, util.DefaultRetryConfig(), func() (runtime.ReadyResult, error) {
			res := rt.EnsureReady(ctx, runtime.ReadyOptions{Status: status})
			if res.Ready {
				return res, nil
			}
			return res, res.Err
		})
	})
	if err != nil && !res.Ready {
		kind := runtime.FailureStartFailed
		if util.IsPermanent(err) {
			kind = runtime.FailureNotReady
		}
		return runtime.ReadyResult{Kind: kind, Err: err}
	}
	return res
}

// ReadyReport pairs a minion with its readiness outcome.
type ReadyReport struct {
	Minion *Minion
	Result runtime.ReadyResult
}

// EnsureReadyAll probes readiness of every stored minion with bounded
// parallelism.
func (mg *Manager) EnsureReadyAll(ctx context.Context, status runtime.StatusSink) ([]ReadyReport, error) {
	minions, err := mg.store.List()
	if err != nil {
		return nil, err
	}

	results := parallel.Map(ctx, 4, minions, func(ctx context.Context, m *Minion) (runtime.ReadyResult, error) {
		return mg.EnsureReady(ctx, m, status), nil
	})

	reports := make([]ReadyReport, len(results))
	for i, r := range results {
		res := r.Value
		if r.Err != nil {
			res = runtime.ReadyResult{Kind: runtime.FailureStartFailed, Err: r.Err}
		}
		reports[i] = ReadyReport{Minion: r.Item, Result: res}
	}
	return reports, nil
}
