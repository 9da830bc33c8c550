package route

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/minionworks/minion/internal/minion"
)

// Option is one selectable value in the protocol-facing configuration
// surface.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// OptionGroup is a selectable set with its current value.
type OptionGroup struct {
	Current string   `json:"current"`
	Options []Option `json:"options"`
}

// ConfigOptions is the configuration surface returned to the protocol
// client on resume and fork.
type ConfigOptions struct {
	AgentMode     OptionGroup `json:"agent_mode"`
	Model         OptionGroup `json:"model"`
	ThinkingLevel OptionGroup `json:"thinking_level"`
}

// MinionSource resolves minions for lifecycle requests. Session-to-minion
// persistence lives outside this core.
type MinionSource interface {
	BySessionID(sessionID string) (*minion.Minion, error)
	Get(id uuid.UUID) (*minion.Minion, error)
}

// AgentCatalog describes the known agents and their model surfaces.
type AgentCatalog interface {
	Agents() []Option
	DefaultAgentID() string
	Models(agentID string) []Option
	DefaultModel(agentID string) string
	ThinkingLevels(agentID string) []Option
	DefaultThinkingLevel(agentID string) string
}

// Cloner performs the higher-level workspace clone a session fork rides on,
// carrying transcript and settings along.
type Cloner interface {
	Clone(ctx context.Context, sourceID uuid.UUID, agentID string) (*minion.Minion, error)
}

// Handlers implements the session lifecycle operations: resume and fork.
type Handlers struct {
	Router  *Router
	Minions MinionSource
	Catalog AgentCatalog
	Cloner  Cloner

	// PathFor returns the workspace-specific path for a minion, used for cwd
	// validation alongside the project path.
	PathFor func(m *minion.Minion) string

	mu         sync.Mutex
	liveAgents map[string]string
}

// BindRouter subscribes to router removals so a live agent selection never
// outlives its session's routing, and a recycled session id cannot inherit a
// stale one.
func (h *Handlers) BindRouter() {
	h.Router.NotifyRemoved(func(sessionID string) {
		h.mu.Lock()
		delete(h.liveAgents, sessionID)
		h.mu.Unlock()
	})
}

// ResumeRequest asks to reattach a protocol session to its workspace.
type ResumeRequest struct {
	SessionID    string
	Cwd          string
	Capabilities Capabilities
}

// Resume validates the working directory against the workspace, registers
// the session, and returns the configuration surface.
func (h *Handlers) Resume(ctx context.Context, req ResumeRequest) (ConfigOptions, error) {
	if req.SessionID == "" {
		return ConfigOptions{}, fmt.Errorf("empty session id")
	}

	m, err := h.Minions.BySessionID(req.SessionID)
	if err != nil {
		return ConfigOptions{}, fmt.Errorf("resolving session workspace: %w", err)
	}

	cwd := canonicalizePath(req.Cwd)
	projectPath := canonicalizePath(m.ProjectPath)
	workspacePath := ""
	if h.PathFor != nil {
		workspacePath = canonicalizePath(h.PathFor(m))
	}
	if cwd != projectPath && (workspacePath == "" || cwd != workspacePath) {
		return ConfigOptions{}, fmt.Errorf(
			"cwd %s matches neither project path nor workspace path", req.Cwd)
	}

	if err := h.Router.Register(req.SessionID, m.ID, m.Runtime.Type, req.Capabilities); err != nil {
		return ConfigOptions{}, err
	}

	return h.configOptions(req.SessionID, m), nil
}

// ForkSessionRequest clones the workspace behind a session.
type ForkSessionRequest struct {
	SessionID    string
	Capabilities Capabilities
}

// ForkSession clones the workspace behind the session, preferring the
// session's live agent selection over the workspace's persisted one, then
// registers a session for the clone.
func (h *Handlers) ForkSession(ctx context.Context, req ForkSessionRequest) (string, ConfigOptions, error) {
	source, err := h.Minions.BySessionID(req.SessionID)
	if err != nil {
		return "", ConfigOptions{}, fmt.Errorf("resolving session workspace: %w", err)
	}

	agentID := h.effectiveAgent(req.SessionID, source)
	clone, err := h.Cloner.Clone(ctx, source.ID, agentID)
	if err != nil {
		return "", ConfigOptions{}, fmt.Errorf("cloning workspace: %w", err)
	}

	newSessionID := uuid.NewString()
	if err := h.Router.Register(newSessionID, clone.ID, clone.Runtime.Type, req.Capabilities); err != nil {
		return "", ConfigOptions{}, err
	}

	h.mu.Lock()
	if h.liveAgents == nil {
		h.liveAgents = make(map[string]string)
	}
	h.liveAgents[newSessionID] = agentID
	h.mu.Unlock()

	return newSessionID, h.configOptions(newSessionID, clone), nil
}

// SetAgent records a session's live agent selection. Live selections beat
// the workspace's persisted agent on subsequent resolution.
func (h *Handlers) SetAgent(sessionID, agentID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.liveAgents == nil {
		h.liveAgents = make(map[string]string)
	}
	h.liveAgents[sessionID] = agentID
}

// effectiveAgent resolves the agent for a session: live session selection,
// then the persisted workspace agent, then the catalog default.
func (h *Handlers) effectiveAgent(sessionID string, m *minion.Minion) string {
	h.mu.Lock()
	live := h.liveAgents[sessionID]
	h.mu.Unlock()

	if live != "" {
		return live
	}
	if m.AgentID != "" {
		return m.AgentID
	}
	return h.Catalog.DefaultAgentID()
}

func (h *Handlers) configOptions(sessionID string, m *minion.Minion) ConfigOptions {
	agentID := h.effectiveAgent(sessionID, m)
	settings := m.EffectiveSettings(agentID)

	model := settings.Model
	if model == "" {
		model = h.Catalog.DefaultModel(agentID)
	}
	thinking := settings.ThinkingLevel
	if thinking == "" {
		thinking = h.Catalog.DefaultThinkingLevel(agentID)
	}

	return ConfigOptions{
		AgentMode:     OptionGroup{Current: agentID, Options: h.Catalog.Agents()},
		Model:         OptionGroup{Current: model, Options: h.Catalog.Models(agentID)},
		ThinkingLevel: OptionGroup{Current: thinking, Options: h.Catalog.ThinkingLevels(agentID)},
	}
}

// canonicalizePath produces a comparable path: symlinks resolved, trailing
// separators stripped, case folded on case-insensitive platforms.
func canonicalizePath(p string) string {
	if p == "" {
		return ""
	}
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		resolved, err = filepath.Abs(p)
		if err != nil {
			resolved = p
		}
	}
	resolved = strings.TrimRight(resolved, string(filepath.Separator))
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		resolved = strings.ToLower(resolved)
	}
	return resolved
}
