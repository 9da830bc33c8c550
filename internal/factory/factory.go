// Package factory constructs Runtime instances from persisted runtime
// configuration.
package factory

import (
	"fmt"
	"os"

	"github.com/minionworks/minion/internal/cloudbox"
	"github.com/minionworks/minion/internal/config"
	"github.com/minionworks/minion/internal/runtime"
)

// CloudAPIURLEnv overrides the sandbox provider endpoint.
const CloudAPIURLEnv = "CLOUDBOX_API_URL"

// New builds the Runtime variant implied by cfg for one project+workspace
// pairing. Every lifecycle call for the workspace must go through the
// variant built from its current configuration.
func New(cfg config.RuntimeConfig, projectPath, name string) (runtime.Runtime, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid runtime config: %w", err)
	}

	switch cfg.Type {
	case config.TypeLocal:
		return runtime.NewLocal(projectPath), nil
	case config.TypeWorktree:
		return runtime.NewWorktree(projectPath, cfg.Worktree), nil
	case config.TypeSSH:
		return runtime.NewSSH(projectPath, cfg.SSH), nil
	case config.TypeDocker:
		return runtime.NewDocker(projectPath, name, cfg.Docker), nil
	case config.TypeDevcontainer:
		return runtime.NewDevcontainer(projectPath, name, cfg.Devcontainer), nil
	case config.TypeCloud:
		client := cloudbox.NewClient(os.Getenv(CloudAPIURLEnv), os.Getenv(cfg.Cloud.APIKeyEnv))
		return runtime.NewCloud(projectPath, name, cfg.Cloud, client), nil
	default:
		return nil, fmt.Errorf("unknown runtime type %q", cfg.Type)
	}
}
