package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minionworks/minion/internal/config"
)

func TestNewBuildsMatchingVariant(t *testing.T) {
	tests := []struct {
		cfg  config.RuntimeConfig
		want config.Type
	}{
		{config.RuntimeConfig{Type: config.TypeLocal}, config.TypeLocal},
		{config.RuntimeConfig{Type: config.TypeWorktree}, config.TypeWorktree},
		{config.RuntimeConfig{Type: config.TypeSSH, SSH: &config.SSHConfig{Host: "h"}}, config.TypeSSH},
		{config.RuntimeConfig{Type: config.TypeDocker, Docker: &config.DockerConfig{Image: "ubuntu"}}, config.TypeDocker},
		{config.RuntimeConfig{Type: config.TypeDevcontainer}, config.TypeDevcontainer},
		{config.RuntimeConfig{Type: config.TypeCloud}, config.TypeCloud},
	}
	for _, tt := range tests {
		rt, err := New(tt.cfg, "/tmp/project", "ws")
		require.NoError(t, err, "type %s", tt.want)
		assert.Equal(t, tt.want, rt.Type())
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(config.RuntimeConfig{Type: config.TypeSSH}, "/tmp/project", "ws")
	assert.Error(t, err)

	_, err = New(config.RuntimeConfig{Type: config.Type("vm")}, "/tmp/project", "ws")
	assert.Error(t, err)
}

func TestNewEmptyTypeDefaultsToLocal(t *testing.T) {
	rt, err := New(config.RuntimeConfig{}, "/tmp/project", "ws")
	require.NoError(t, err)
	assert.Equal(t, config.TypeLocal, rt.Type())
}
