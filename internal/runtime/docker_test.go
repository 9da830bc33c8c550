package runtime

import (
	"testing"

	"github.com/minionworks/minion/internal/config"
)

func TestDockerForkSnapshotImageCleanedOnDelete(t *testing.T) {
	project := "/home/dev/webapp"
	forkContainer := config.ContainerNameFor(project, "child")

	// A fork runtime is built from the config ForkWorkspace reports: the
	// snapshot image named after the fork container.
	fork := NewDocker(project, "child", &config.DockerConfig{
		Image:         forkImageFor(forkContainer),
		ContainerName: forkContainer,
	})
	if fork.cfg.Image != forkImageFor(fork.container()) {
		t.Error("fork runtime must recognize its image as the snapshot delete removes")
	}

	plain := NewDocker(project, "child", &config.DockerConfig{
		Image:         "ubuntu",
		ContainerName: forkContainer,
	})
	if plain.cfg.Image == forkImageFor(plain.container()) {
		t.Error("a shared base image must never be removed on delete")
	}
}
