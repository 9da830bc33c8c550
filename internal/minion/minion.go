// Package minion holds the workspace model and the lifecycle orchestration
// on top of the runtime layer: create, init, rename, delete, fork, and bulk
// readiness.
package minion

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/minionworks/minion/internal/config"
)

// ErrNotFound is returned by stores for unknown minion ids.
var ErrNotFound = errors.New("minion not found")

// AISettings are the model parameters an agent runs with.
type AISettings struct {
	Model         string `json:"model,omitempty"`
	ThinkingLevel string `json:"thinking_level,omitempty"`
}

// Minion is one unit of work: a named workspace bound to a project and
// executed inside exactly one runtime.
type Minion struct {
	// ID is assigned once at creation and never reused.
	ID uuid.UUID `json:"id"`

	// Name is human-facing and mutable; the physical path and container
	// identity follow it.
	Name string `json:"name"`

	ProjectPath string               `json:"project_path"`
	Runtime     config.RuntimeConfig `json:"runtime"`

	// AgentID is the persisted agent selection; empty means the catalog
	// default.
	AgentID string `json:"agent_id,omitempty"`

	// AISettings is the workspace-level default; AgentOverrides beats it for
	// the named agent.
	AISettings     AISettings            `json:"ai_settings,omitempty"`
	AgentOverrides map[string]AISettings `json:"agent_overrides,omitempty"`

	// ParentID is set on forks.
	ParentID *uuid.UUID `json:"parent_id,omitempty"`

	// BaseCommit is the commit the workspace branched from, when known.
	BaseCommit string `json:"base_commit,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
}

// EffectiveSettings resolves model settings for an agent: the per-agent
// override beats the workspace default; empty fields fall through.
func (m *Minion) EffectiveSettings(agentID string) AISettings {
	settings := m.AISettings
	if override, ok := m.AgentOverrides[agentID]; ok {
		if override.Model != "" {
			settings.Model = override.Model
		}
		if override.ThinkingLevel != "" {
			settings.ThinkingLevel = override.ThinkingLevel
		}
	}
	return settings
}

// Store persists minions. Implementations must make Put atomic; the manager
// layers a per-minion advisory lock on top for read-modify-write sequences.
type Store interface {
	Put(m *Minion) error
	Get(id uuid.UUID) (*Minion, error)
	Delete(id uuid.UUID) error
	List() ([]*Minion, error)
}
