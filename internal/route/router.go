package route

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/minionworks/minion/internal/config"
)

// ErrNotRouted means a lookup hit a session or minion with no routing. For
// requests that should already be registered this is a programming error on
// the caller's side, not a recoverable state.
var ErrNotRouted = errors.New("session not routed")

// Capabilities are the editor-integration capabilities negotiated at session
// start.
type Capabilities struct {
	Filesystem bool
	Terminal   bool
}

// Routing is the per-session correlation record.
type Routing struct {
	MinionID uuid.UUID
	Mode     config.Type

	// EditorHandlesFilesystem and EditorHandlesTerminal are true only for
	// local-mode sessions that negotiated the capability. Remote and
	// container runtimes always route through the backend.
	EditorHandlesFilesystem bool
	EditorHandlesTerminal   bool
}

type entry struct {
	routing    Routing
	lastUsed   time.Time
	subscribed bool
}

// Router is the bounded in-process session table. The session/minion mapping
// is a bijection at every instant.
type Router struct {
	mu          sync.Mutex
	sessions    *Bimap[string, uuid.UUID]
	entries     map[string]*entry
	maxSessions int
	onRemoved   func(sessionID string)
}

// DefaultMaxSessions bounds the table when NewRouter is given zero.
const DefaultMaxSessions = 64

// NewRouter returns a Router tracking at most maxSessions sessions.
func NewRouter(maxSessions int) *Router {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Router{
		sessions:    NewBimap[string, uuid.UUID](),
		entries:     make(map[string]*entry),
		maxSessions: maxSessions,
	}
}

// Register binds a session to a minion. Idempotent: re-registering the same
// pair refreshes the entry. If either side currently points elsewhere, the
// stale binding is evicted first. Registering a new session beyond the bound
// evicts the least-recently-used idle session; a subscribed session is never
// evicted while an idle one remains.
func (r *Router) Register(sessionID string, minionID uuid.UUID, mode config.Type, caps Capabilities) error {
	if sessionID == "" {
		return fmt.Errorf("empty session id")
	}
	if minionID == uuid.Nil {
		return fmt.Errorf("nil minion id")
	}

	r.mu.Lock()
	var removed []string
	if _, exists := r.entries[sessionID]; !exists && len(r.entries) >= r.maxSessions {
		if victim := r.evictLRU(); victim != "" {
			removed = append(removed, victim)
		}
	}

	for _, displaced := range r.sessions.Put(sessionID, minionID) {
		delete(r.entries, displaced)
		removed = append(removed, displaced)
	}

	local := mode == config.TypeLocal
	r.entries[sessionID] = &entry{
		routing: Routing{
			MinionID:                minionID,
			Mode:                    mode,
			EditorHandlesFilesystem: local && caps.Filesystem,
			EditorHandlesTerminal:   local && caps.Terminal,
		},
		lastUsed: time.Now(),
	}
	fn := r.onRemoved
	r.mu.Unlock()

	if fn != nil {
		for _, id := range removed {
			fn(id)
		}
	}
	return nil
}

// NotifyRemoved sets a callback invoked after a session's routing is dropped,
// whether by Remove, a displacing rebind, or LRU eviction. The callback runs
// outside the router lock.
func (r *Router) NotifyRemoved(fn func(sessionID string)) {
	r.mu.Lock()
	r.onRemoved = fn
	r.mu.Unlock()
}

// evictLRU removes the least-recently-used idle session, falling back to the
// least-recently-used subscribed one when every session is subscribed. It
// returns the evicted session id. Caller holds the lock.
func (r *Router) evictLRU() string {
	victim := ""
	victimSubscribed := true
	var victimTime time.Time

	for id, e := range r.entries {
		better := false
		switch {
		case victim == "":
			better = true
		case !e.subscribed && victimSubscribed:
			better = true
		case e.subscribed == victimSubscribed && e.lastUsed.Before(victimTime):
			better = true
		}
		if better {
			victim = id
			victimSubscribed = e.subscribed
			victimTime = e.lastUsed
		}
	}
	if victim != "" {
		r.sessions.Delete(victim)
		delete(r.entries, victim)
	}
	return victim
}

// BySession resolves a session's routing.
func (r *Router) BySession(sessionID string) (Routing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return Routing{}, fmt.Errorf("%w: session %s", ErrNotRouted, sessionID)
	}
	e.lastUsed = time.Now()
	return e.routing, nil
}

// ByMinion resolves the active session for a minion.
func (r *Router) ByMinion(minionID uuid.UUID) (string, Routing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessionID, ok := r.sessions.GetReverse(minionID)
	if !ok {
		return "", Routing{}, fmt.Errorf("%w: minion %s", ErrNotRouted, minionID)
	}
	e := r.entries[sessionID]
	e.lastUsed = time.Now()
	return sessionID, e.routing, nil
}

// Subscribe marks a session as actively subscribed, shielding it from LRU
// eviction while idle sessions remain.
func (r *Router) Subscribe(sessionID string, subscribed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return fmt.Errorf("%w: session %s", ErrNotRouted, sessionID)
	}
	e.subscribed = subscribed
	e.lastUsed = time.Now()
	return nil
}

// Remove drops a session's routing. Removing an unknown session is a no-op.
func (r *Router) Remove(sessionID string) {
	r.mu.Lock()
	_, existed := r.entries[sessionID]
	r.sessions.Delete(sessionID)
	delete(r.entries, sessionID)
	fn := r.onRemoved
	r.mu.Unlock()

	if existed && fn != nil {
		fn(sessionID)
	}
}

// Len reports the number of tracked sessions.
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
