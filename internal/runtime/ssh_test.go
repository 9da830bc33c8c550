package runtime

import (
	"context"
	"testing"

	"github.com/minionworks/minion/internal/config"
	"github.com/minionworks/minion/internal/util"
)

func TestSSHWorkingDirResolvesTildeWorkspace(t *testing.T) {
	s := NewSSH("/home/dev/webapp", &config.SSHConfig{Host: "build.example.com"})
	s.paths.Home = "/home/dev"

	ws := s.WorkspacePath("/home/dev/webapp", "fix-login")
	if ws != "~/minions/fix-login" {
		t.Fatalf("WorkspacePath = %q, want ~/minions/fix-login", ws)
	}

	wd := s.workingDir(context.Background(), ws)
	if wd != "/home/dev/minions/fix-login" {
		t.Errorf("workingDir(%q) = %q, want /home/dev/minions/fix-login", ws, wd)
	}
}

func TestSSHWorkingDirResolvesRelativeAgainstWorkspace(t *testing.T) {
	s := NewSSH("/home/dev/webapp", &config.SSHConfig{Host: "build.example.com"})
	s.paths.WorkspaceFolder = "/home/dev/minions/fix-login"

	wd := s.workingDir(context.Background(), "src/server")
	if wd != "/home/dev/minions/fix-login/src/server" {
		t.Errorf("workingDir = %q, want /home/dev/minions/fix-login/src/server", wd)
	}
}

func TestSSHWorkingDirRejectsWindowsCwd(t *testing.T) {
	s := NewSSH("/home/dev/webapp", &config.SSHConfig{Host: "build.example.com"})
	s.paths.Home = "/home/dev"
	s.paths.WorkspaceFolder = "/home/dev/minions/fix-login"

	if wd := s.workingDir(context.Background(), `C:\Users\dev`); wd != "/home/dev/minions/fix-login" {
		t.Errorf("windows cwd resolved to %q, want workspace folder", wd)
	}
}

func TestSSHEnsureReadyNoHostIsPermanent(t *testing.T) {
	s := NewSSH("/home/dev/webapp", &config.SSHConfig{})

	res := s.EnsureReady(context.Background(), ReadyOptions{})
	if res.Ready {
		t.Fatal("expected not ready without a host")
	}
	if res.Kind != FailureNotReady {
		t.Errorf("kind = %q, want %q", res.Kind, FailureNotReady)
	}
	if !util.IsPermanent(res.Err) {
		t.Error("missing host must be a permanent failure")
	}
}
