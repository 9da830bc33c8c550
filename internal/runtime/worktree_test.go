package runtime

import (
	"context"
	"testing"

	"github.com/minionworks/minion/internal/util"
)

func TestWorktreeEnsureReadyOutsideRepoIsPermanent(t *testing.T) {
	w := NewWorktree(t.TempDir(), nil)

	res := w.EnsureReady(context.Background(), ReadyOptions{})
	if res.Ready {
		t.Fatal("expected not ready outside a git repository")
	}
	if res.Kind != FailureNotReady {
		t.Errorf("kind = %q, want %q", res.Kind, FailureNotReady)
	}
	if !util.IsPermanent(res.Err) {
		t.Error("missing repository must be a permanent failure")
	}
}
