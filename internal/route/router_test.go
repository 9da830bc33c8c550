package route

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minionworks/minion/internal/config"
)

func TestBimapMaintainsBijection(t *testing.T) {
	b := NewBimap[string, int]()
	b.Put("a", 1)
	b.Put("b", 2)

	// Rebinding value 1 to "c" must evict "a".
	displaced := b.Put("c", 1)
	assert.Equal(t, []string{"a"}, displaced)

	_, ok := b.Get("a")
	assert.False(t, ok)
	k, ok := b.GetReverse(1)
	assert.True(t, ok)
	assert.Equal(t, "c", k)
	assert.Equal(t, 2, b.Len())
}

func TestBimapRebindKeyEvictsOldValue(t *testing.T) {
	b := NewBimap[string, int]()
	b.Put("a", 1)
	b.Put("a", 2)

	_, ok := b.GetReverse(1)
	assert.False(t, ok, "old value must not dangle")
	v, _ := b.Get("a")
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, b.Len())
}

func TestRegisterIdempotent(t *testing.T) {
	r := NewRouter(8)
	id := uuid.New()

	require.NoError(t, r.Register("s1", id, config.TypeLocal, Capabilities{}))
	require.NoError(t, r.Register("s1", id, config.TypeLocal, Capabilities{}))

	assert.Equal(t, 1, r.Len())
	routing, err := r.BySession("s1")
	require.NoError(t, err)
	assert.Equal(t, id, routing.MinionID)
}

func TestRegisterRebindsMinionEvictingStaleSession(t *testing.T) {
	r := NewRouter(8)
	id := uuid.New()

	require.NoError(t, r.Register("a", id, config.TypeLocal, Capabilities{}))
	require.NoError(t, r.Register("b", id, config.TypeLocal, Capabilities{}))

	_, err := r.BySession("a")
	assert.ErrorIs(t, err, ErrNotRouted, "session a must no longer resolve")

	sessionID, _, err := r.ByMinion(id)
	require.NoError(t, err)
	assert.Equal(t, "b", sessionID)
}

func TestCapabilityGating(t *testing.T) {
	r := NewRouter(8)
	caps := Capabilities{Filesystem: true, Terminal: true}

	require.NoError(t, r.Register("local", uuid.New(), config.TypeLocal, caps))
	routing, _ := r.BySession("local")
	assert.True(t, routing.EditorHandlesFilesystem)
	assert.True(t, routing.EditorHandlesTerminal)

	require.NoError(t, r.Register("docker", uuid.New(), config.TypeDocker, caps))
	routing, _ = r.BySession("docker")
	assert.False(t, routing.EditorHandlesFilesystem,
		"container runtime routes filesystem through the backend regardless of capabilities")
	assert.False(t, routing.EditorHandlesTerminal)

	require.NoError(t, r.Register("nocaps", uuid.New(), config.TypeLocal, Capabilities{}))
	routing, _ = r.BySession("nocaps")
	assert.False(t, routing.EditorHandlesFilesystem)
}

func TestLookupsRejectUnknown(t *testing.T) {
	r := NewRouter(8)
	_, err := r.BySession("ghost")
	assert.ErrorIs(t, err, ErrNotRouted)
	_, _, err = r.ByMinion(uuid.New())
	assert.ErrorIs(t, err, ErrNotRouted)
}

func TestRegisterRejectsEmptyIdentifiers(t *testing.T) {
	r := NewRouter(8)
	assert.Error(t, r.Register("", uuid.New(), config.TypeLocal, Capabilities{}))
	assert.Error(t, r.Register("s", uuid.Nil, config.TypeLocal, Capabilities{}))
}

func TestLRUEvictionSkipsSubscribed(t *testing.T) {
	r := NewRouter(3)

	require.NoError(t, r.Register("oldest", uuid.New(), config.TypeLocal, Capabilities{}))
	require.NoError(t, r.Register("middle", uuid.New(), config.TypeLocal, Capabilities{}))
	require.NoError(t, r.Register("newest", uuid.New(), config.TypeLocal, Capabilities{}))

	// The oldest session is subscribed, so the idle "middle" goes first.
	require.NoError(t, r.Subscribe("oldest", true))

	require.NoError(t, r.Register("extra", uuid.New(), config.TypeLocal, Capabilities{}))
	assert.Equal(t, 3, r.Len())

	_, err := r.BySession("middle")
	assert.ErrorIs(t, err, ErrNotRouted, "idle LRU session must be evicted")
	_, err = r.BySession("oldest")
	assert.NoError(t, err, "subscribed session must survive while idle ones remain")
}

func TestLRUEvictionOrdersByUse(t *testing.T) {
	r := NewRouter(2)

	require.NoError(t, r.Register("a", uuid.New(), config.TypeLocal, Capabilities{}))
	require.NoError(t, r.Register("b", uuid.New(), config.TypeLocal, Capabilities{}))

	// Touch "a" so "b" becomes least recently used.
	_, err := r.BySession("a")
	require.NoError(t, err)

	require.NoError(t, r.Register("c", uuid.New(), config.TypeLocal, Capabilities{}))

	_, err = r.BySession("b")
	assert.ErrorIs(t, err, ErrNotRouted)
	_, err = r.BySession("a")
	assert.NoError(t, err)
}

func TestRemove(t *testing.T) {
	r := NewRouter(8)
	id := uuid.New()
	require.NoError(t, r.Register("s", id, config.TypeLocal, Capabilities{}))

	r.Remove("s")
	_, err := r.BySession("s")
	assert.ErrorIs(t, err, ErrNotRouted)
	_, _, err = r.ByMinion(id)
	assert.ErrorIs(t, err, ErrNotRouted)

	r.Remove("s") // no-op
}

func TestRouterBoundHolds(t *testing.T) {
	r := NewRouter(4)
	for i := 0; i < 20; i++ {
		require.NoError(t, r.Register(fmt.Sprintf("s%d", i), uuid.New(), config.TypeLocal, Capabilities{}))
	}
	assert.Equal(t, 4, r.Len())
}

func TestNotifyRemovedFiresOnEveryDropPath(t *testing.T) {
	r := NewRouter(2)
	var dropped []string
	r.NotifyRemoved(func(sessionID string) { dropped = append(dropped, sessionID) })

	id := uuid.New()
	require.NoError(t, r.Register("a", id, config.TypeLocal, Capabilities{}))

	// Explicit removal.
	r.Remove("a")
	assert.Equal(t, []string{"a"}, dropped)
	r.Remove("a") // unknown sessions do not notify
	assert.Equal(t, []string{"a"}, dropped)

	// Rebinding the minion displaces the stale session.
	require.NoError(t, r.Register("b", id, config.TypeLocal, Capabilities{}))
	require.NoError(t, r.Register("c", id, config.TypeLocal, Capabilities{}))
	assert.Equal(t, []string{"a", "b"}, dropped)

	// LRU eviction past the bound.
	require.NoError(t, r.Register("d", uuid.New(), config.TypeLocal, Capabilities{}))
	require.NoError(t, r.Register("e", uuid.New(), config.TypeLocal, Capabilities{}))
	assert.Contains(t, dropped, "c")
}
