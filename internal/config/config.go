// Package config defines the persisted runtime configuration for minions.
//
// A RuntimeConfig is a tagged union: the Type field selects the execution
// backend and exactly one of the variant pointers carries its settings. The
// value is treated as immutable: lifecycle operations that change it return
// a new value for the caller to persist, never mutate in place.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/minionworks/minion/internal/util"
)

// Type identifies an execution backend.
type Type string

const (
	TypeLocal        Type = "local"
	TypeWorktree     Type = "worktree"
	TypeSSH          Type = "ssh"
	TypeDocker       Type = "docker"
	TypeDevcontainer Type = "devcontainer"
	TypeCloud        Type = "cloud"
)

// RuntimeConfig selects and configures the execution backend for one minion.
// It is persisted as JSON by an external configuration store; this package
// only defines the shape and the normalization rules.
type RuntimeConfig struct {
	Type Type `json:"type"`

	Worktree     *WorktreeConfig     `json:"worktree,omitempty"`
	SSH          *SSHConfig          `json:"ssh,omitempty"`
	Docker       *DockerConfig       `json:"docker,omitempty"`
	Devcontainer *DevcontainerConfig `json:"devcontainer,omitempty"`
	Cloud        *CloudConfig        `json:"cloud,omitempty"`
}

// WorktreeConfig configures the git-worktree backend.
type WorktreeConfig struct {
	// Root overrides the directory worktrees are created under.
	// Empty means the default sibling directory next to the project.
	Root string `json:"root,omitempty"`
}

// SSHConfig configures the SSH backend.
type SSHConfig struct {
	Host string `json:"host"`
	User string `json:"user,omitempty"`

	// BaseDir is the remote directory workspaces live under.
	// May be ~-relative; remote variants keep ~ forms valid for comparison.
	BaseDir string `json:"base_dir,omitempty"`
}

// DockerConfig configures the Docker backend.
type DockerConfig struct {
	Image string `json:"image"`

	// ContainerName is derived from (projectPath, minion name); see
	// ContainerNameFor. Persisted so a restart can find the container again.
	ContainerName string `json:"container_name,omitempty"`

	User string `json:"user,omitempty"`
}

// DevcontainerConfig configures the devcontainer backend.
type DevcontainerConfig struct {
	// ConfigPath is the devcontainer.json location relative to the project.
	// Empty means .devcontainer/devcontainer.json.
	ConfigPath string `json:"config_path,omitempty"`

	ContainerName string `json:"container_name,omitempty"`
}

// CloudConfig configures the managed cloud sandbox backend.
type CloudConfig struct {
	// APIKeyEnv names the environment variable holding the provider API key.
	// Default: "CLOUDBOX_API_KEY".
	APIKeyEnv string `json:"api_key_env,omitempty"`

	// Snapshot is a pre-built provider snapshot to create sandboxes from.
	Snapshot string `json:"snapshot,omitempty"`

	// Target is the provider region ("us", "eu").
	Target string `json:"target,omitempty"`

	// SandboxID is assigned by the provider at creation time and persisted so
	// later operations address the same sandbox.
	SandboxID string `json:"sandbox_id,omitempty"`
}

// Default returns the configuration used when a project specifies nothing:
// isolated git worktrees on the local machine.
func Default() RuntimeConfig {
	return RuntimeConfig{Type: TypeWorktree, Worktree: &WorktreeConfig{}}
}

// IsContainer reports whether this configuration addresses a container whose
// identity is derived from the minion name.
func (c RuntimeConfig) IsContainer() bool {
	return c.Type == TypeDocker || c.Type == TypeDevcontainer
}

// ContainerName returns the container identity for container-typed configs,
// or empty.
func (c RuntimeConfig) ContainerName() string {
	switch c.Type {
	case TypeDocker:
		if c.Docker != nil {
			return c.Docker.ContainerName
		}
	case TypeDevcontainer:
		if c.Devcontainer != nil {
			return c.Devcontainer.ContainerName
		}
	}
	return ""
}

// Normalize fills defaults and drops variant payloads that do not match the
// selected type, returning the normalized copy.
func (c RuntimeConfig) Normalize() RuntimeConfig {
	n := RuntimeConfig{Type: c.Type}
	if n.Type == "" {
		n.Type = TypeLocal
	}

	switch n.Type {
	case TypeWorktree:
		w := WorktreeConfig{}
		if c.Worktree != nil {
			w = *c.Worktree
		}
		n.Worktree = &w
	case TypeSSH:
		s := SSHConfig{}
		if c.SSH != nil {
			s = *c.SSH
		}
		if s.BaseDir == "" {
			s.BaseDir = "~/minions"
		}
		n.SSH = &s
	case TypeDocker:
		d := DockerConfig{}
		if c.Docker != nil {
			d = *c.Docker
		}
		n.Docker = &d
	case TypeDevcontainer:
		d := DevcontainerConfig{}
		if c.Devcontainer != nil {
			d = *c.Devcontainer
		}
		if d.ConfigPath == "" {
			d.ConfigPath = filepath.Join(".devcontainer", "devcontainer.json")
		}
		n.Devcontainer = &d
	case TypeCloud:
		cl := CloudConfig{}
		if c.Cloud != nil {
			cl = *c.Cloud
		}
		if cl.APIKeyEnv == "" {
			cl.APIKeyEnv = "CLOUDBOX_API_KEY"
		}
		n.Cloud = &cl
	}

	return n
}

// Validate checks that the selected variant carries what its backend needs.
func (c RuntimeConfig) Validate() error {
	switch c.Type {
	case TypeLocal, TypeWorktree, TypeDevcontainer, TypeCloud:
		return nil
	case TypeSSH:
		if c.SSH == nil || c.SSH.Host == "" {
			return fmt.Errorf("ssh runtime requires a host")
		}
		return nil
	case TypeDocker:
		if c.Docker == nil || c.Docker.Image == "" {
			return fmt.Errorf("docker runtime requires an image")
		}
		return nil
	default:
		return fmt.Errorf("unknown runtime type %q", c.Type)
	}
}

// WithContainerName returns a copy with the container identity replaced.
// No-op for non-container types.
func (c RuntimeConfig) WithContainerName(name string) RuntimeConfig {
	n := c.Normalize()
	switch n.Type {
	case TypeDocker:
		d := *n.Docker
		d.ContainerName = name
		n.Docker = &d
	case TypeDevcontainer:
		d := *n.Devcontainer
		d.ContainerName = name
		n.Devcontainer = &d
	}
	return n
}

// WithSandboxID returns a copy with the provider sandbox id replaced.
// No-op for non-cloud types.
func (c RuntimeConfig) WithSandboxID(id string) RuntimeConfig {
	n := c.Normalize()
	if n.Type == TypeCloud {
		cl := *n.Cloud
		cl.SandboxID = id
		n.Cloud = &cl
	}
	return n
}

// ContainerNameFor derives the container identity for a minion. This is the
// single source of truth: forks must rederive identity from the new name and
// never inherit the source's container, which would silently point two
// minions at one container.
func ContainerNameFor(projectPath, name string) string {
	return fmt.Sprintf("minion-%s-%s-%s",
		util.Slug(filepath.Base(projectPath)),
		util.Slug(name),
		util.ShortHash(projectPath))
}
