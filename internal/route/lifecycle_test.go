package route

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minionworks/minion/internal/config"
	"github.com/minionworks/minion/internal/minion"
)

type fakeSource struct {
	bySession map[string]*minion.Minion
}

func (f *fakeSource) BySessionID(id string) (*minion.Minion, error) {
	m, ok := f.bySession[id]
	if !ok {
		return nil, minion.ErrNotFound
	}
	return m, nil
}

func (f *fakeSource) Get(id uuid.UUID) (*minion.Minion, error) {
	for _, m := range f.bySession {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, minion.ErrNotFound
}

type fakeCatalog struct{}

func (fakeCatalog) Agents() []Option {
	return []Option{{ID: "claude", Label: "Claude"}, {ID: "codex", Label: "Codex"}}
}
func (fakeCatalog) DefaultAgentID() string { return "claude" }
func (fakeCatalog) Models(agentID string) []Option {
	return []Option{{ID: "fast", Label: "Fast"}, {ID: "smart", Label: "Smart"}}
}
func (fakeCatalog) DefaultModel(agentID string) string { return "fast" }
func (fakeCatalog) ThinkingLevels(agentID string) []Option {
	return []Option{{ID: "low", Label: "Low"}, {ID: "high", Label: "High"}}
}
func (fakeCatalog) DefaultThinkingLevel(agentID string) string { return "low" }

type fakeCloner struct {
	clone     *minion.Minion
	gotAgent  string
	gotSource uuid.UUID
}

func (f *fakeCloner) Clone(_ context.Context, sourceID uuid.UUID, agentID string) (*minion.Minion, error) {
	f.gotSource = sourceID
	f.gotAgent = agentID
	return f.clone, nil
}

func testMinion(t *testing.T) *minion.Minion {
	t.Helper()
	return &minion.Minion{
		ID:          uuid.New(),
		Name:        "ws",
		ProjectPath: t.TempDir(),
		Runtime:     config.RuntimeConfig{Type: config.TypeLocal},
	}
}

func newHandlers(src *fakeSource, cloner Cloner) *Handlers {
	return &Handlers{
		Router:  NewRouter(8),
		Minions: src,
		Catalog: fakeCatalog{},
		Cloner:  cloner,
	}
}

func TestResumeRegistersAndReturnsOptions(t *testing.T) {
	m := testMinion(t)
	h := newHandlers(&fakeSource{bySession: map[string]*minion.Minion{"s1": m}}, nil)

	opts, err := h.Resume(context.Background(), ResumeRequest{
		SessionID:    "s1",
		Cwd:          m.ProjectPath,
		Capabilities: Capabilities{Filesystem: true},
	})
	require.NoError(t, err)

	assert.Equal(t, "claude", opts.AgentMode.Current)
	assert.Equal(t, "fast", opts.Model.Current)
	assert.Equal(t, "low", opts.ThinkingLevel.Current)

	routing, err := h.Router.BySession("s1")
	require.NoError(t, err)
	assert.Equal(t, m.ID, routing.MinionID)
	assert.True(t, routing.EditorHandlesFilesystem)
}

func TestResumeRejectsMismatchedCwd(t *testing.T) {
	m := testMinion(t)
	h := newHandlers(&fakeSource{bySession: map[string]*minion.Minion{"s1": m}}, nil)

	_, err := h.Resume(context.Background(), ResumeRequest{
		SessionID: "s1",
		Cwd:       t.TempDir(),
	})
	require.Error(t, err)

	_, err = h.Router.BySession("s1")
	assert.ErrorIs(t, err, ErrNotRouted, "rejected resume must not register")
}

func TestResumeAcceptsWorkspacePath(t *testing.T) {
	m := testMinion(t)
	wsPath := t.TempDir()
	h := newHandlers(&fakeSource{bySession: map[string]*minion.Minion{"s1": m}}, nil)
	h.PathFor = func(*minion.Minion) string { return wsPath }

	_, err := h.Resume(context.Background(), ResumeRequest{SessionID: "s1", Cwd: wsPath})
	assert.NoError(t, err)
}

func TestResumeCanonicalizesCwd(t *testing.T) {
	m := testMinion(t)
	h := newHandlers(&fakeSource{bySession: map[string]*minion.Minion{"s1": m}}, nil)

	// Trailing separator and a symlink both resolve to the project path.
	_, err := h.Resume(context.Background(), ResumeRequest{
		SessionID: "s1",
		Cwd:       m.ProjectPath + string(filepath.Separator),
	})
	assert.NoError(t, err)

	link := filepath.Join(t.TempDir(), "link")
	if err := os.Symlink(m.ProjectPath, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	_, err = h.Resume(context.Background(), ResumeRequest{SessionID: "s1", Cwd: link})
	assert.NoError(t, err)
}

func TestResumeAgentPrecedence(t *testing.T) {
	m := testMinion(t)
	m.AgentID = "codex"
	h := newHandlers(&fakeSource{bySession: map[string]*minion.Minion{"s1": m}}, nil)

	// Persisted workspace agent beats the catalog default.
	opts, err := h.Resume(context.Background(), ResumeRequest{SessionID: "s1", Cwd: m.ProjectPath})
	require.NoError(t, err)
	assert.Equal(t, "codex", opts.AgentMode.Current)

	// A live session selection beats the persisted agent.
	h.SetAgent("s1", "claude")
	opts, err = h.Resume(context.Background(), ResumeRequest{SessionID: "s1", Cwd: m.ProjectPath})
	require.NoError(t, err)
	assert.Equal(t, "claude", opts.AgentMode.Current)
}

func TestResumeModelPrecedence(t *testing.T) {
	m := testMinion(t)
	m.AgentID = "claude"
	m.AISettings = minion.AISettings{Model: "workspace-model"}
	src := &fakeSource{bySession: map[string]*minion.Minion{"s1": m}}
	h := newHandlers(src, nil)

	// Workspace default beats the computed default.
	opts, err := h.Resume(context.Background(), ResumeRequest{SessionID: "s1", Cwd: m.ProjectPath})
	require.NoError(t, err)
	assert.Equal(t, "workspace-model", opts.Model.Current)

	// Per-agent override beats the workspace default.
	m.AgentOverrides = map[string]minion.AISettings{"claude": {Model: "override-model"}}
	opts, err = h.Resume(context.Background(), ResumeRequest{SessionID: "s1", Cwd: m.ProjectPath})
	require.NoError(t, err)
	assert.Equal(t, "override-model", opts.Model.Current)
}

func TestForkSessionPrefersLiveAgent(t *testing.T) {
	src := testMinion(t)
	src.AgentID = "codex"
	clone := testMinion(t)
	cloner := &fakeCloner{clone: clone}
	h := newHandlers(&fakeSource{bySession: map[string]*minion.Minion{"s1": src}}, cloner)

	h.SetAgent("s1", "claude")
	newID, opts, err := h.ForkSession(context.Background(), ForkSessionRequest{SessionID: "s1"})
	require.NoError(t, err)

	assert.Equal(t, "claude", cloner.gotAgent, "live selection must beat persisted agent")
	assert.Equal(t, src.ID, cloner.gotSource)
	assert.NotEmpty(t, newID)
	assert.Equal(t, "claude", opts.AgentMode.Current)

	routing, err := h.Router.BySession(newID)
	require.NoError(t, err)
	assert.Equal(t, clone.ID, routing.MinionID)
}

func TestForkSessionFallsBackToPersistedAgent(t *testing.T) {
	src := testMinion(t)
	src.AgentID = "codex"
	cloner := &fakeCloner{clone: testMinion(t)}
	h := newHandlers(&fakeSource{bySession: map[string]*minion.Minion{"s1": src}}, cloner)

	_, _, err := h.ForkSession(context.Background(), ForkSessionRequest{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "codex", cloner.gotAgent)
}

func TestLiveAgentDroppedWithRouting(t *testing.T) {
	m := testMinion(t)
	h := newHandlers(&fakeSource{bySession: map[string]*minion.Minion{"s1": m}}, nil)
	h.BindRouter()

	_, err := h.Resume(context.Background(), ResumeRequest{SessionID: "s1", Cwd: m.ProjectPath})
	require.NoError(t, err)
	h.SetAgent("s1", "codex")

	h.Router.Remove("s1")

	h.mu.Lock()
	_, stale := h.liveAgents["s1"]
	h.mu.Unlock()
	assert.False(t, stale, "removed session must not keep a live agent selection")

	// A recycled session id resolves from persisted state, not the old pick.
	opts, err := h.Resume(context.Background(), ResumeRequest{SessionID: "s1", Cwd: m.ProjectPath})
	require.NoError(t, err)
	assert.Equal(t, "claude", opts.AgentMode.Current)
}

func TestResumeUnknownSession(t *testing.T) {
	h := newHandlers(&fakeSource{bySession: map[string]*minion.Minion{}}, nil)
	_, err := h.Resume(context.Background(), ResumeRequest{SessionID: "ghost", Cwd: "/tmp"})
	assert.Error(t, err)
}
