package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// SettingsFile is the per-project settings file name, looked up in the
// project root.
const SettingsFile = "minion.toml"

// Settings holds per-project defaults loaded from minion.toml. Everything is
// optional; zero values mean "use built-in behavior".
type Settings struct {
	// InitCommand runs inside every freshly created workspace.
	InitCommand string `toml:"init_command"`

	// TrunkBranch is the preferred trunk for fallback workspace creation.
	TrunkBranch string `toml:"trunk_branch"`

	// DefaultAgent is the agent used when a minion has no stored selection.
	DefaultAgent string `toml:"default_agent"`

	// Model and ThinkingLevel are workspace-wide defaults that individual
	// agents may override.
	Model         string `toml:"model"`
	ThinkingLevel string `toml:"thinking_level"`

	Runtime RuntimeSettings `toml:"runtime"`
}

// RuntimeSettings mirrors the RuntimeConfig variants in TOML form.
type RuntimeSettings struct {
	Type string `toml:"type"`

	WorktreeRoot string `toml:"worktree_root"`

	SSHHost    string `toml:"ssh_host"`
	SSHUser    string `toml:"ssh_user"`
	SSHBaseDir string `toml:"ssh_base_dir"`

	DockerImage string `toml:"docker_image"`
	DockerUser  string `toml:"docker_user"`

	DevcontainerConfig string `toml:"devcontainer_config"`

	CloudSnapshot  string `toml:"cloud_snapshot"`
	CloudTarget    string `toml:"cloud_target"`
	CloudAPIKeyEnv string `toml:"cloud_api_key_env"`
}

// LoadSettings reads minion.toml from the project root. A missing file is not
// an error; it returns zero settings.
func LoadSettings(projectPath string) (Settings, error) {
	var s Settings
	path := filepath.Join(projectPath, SettingsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("reading %s: %w", SettingsFile, err)
	}
	if err := toml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parsing %s: %w", SettingsFile, err)
	}
	return s, nil
}

// RuntimeConfig converts the TOML runtime section into a normalized
// RuntimeConfig. An empty type yields the project default.
func (s Settings) RuntimeConfig() RuntimeConfig {
	r := s.Runtime
	if r.Type == "" {
		return Default()
	}

	cfg := RuntimeConfig{Type: Type(r.Type)}
	switch cfg.Type {
	case TypeWorktree:
		cfg.Worktree = &WorktreeConfig{Root: r.WorktreeRoot}
	case TypeSSH:
		cfg.SSH = &SSHConfig{Host: r.SSHHost, User: r.SSHUser, BaseDir: r.SSHBaseDir}
	case TypeDocker:
		cfg.Docker = &DockerConfig{Image: r.DockerImage, User: r.DockerUser}
	case TypeDevcontainer:
		cfg.Devcontainer = &DevcontainerConfig{ConfigPath: r.DevcontainerConfig}
	case TypeCloud:
		cfg.Cloud = &CloudConfig{
			Snapshot:  r.CloudSnapshot,
			Target:    r.CloudTarget,
			APIKeyEnv: r.CloudAPIKeyEnv,
		}
	}
	return cfg.Normalize()
}
