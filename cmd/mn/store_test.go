package main

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minionworks/minion/internal/config"
	"github.com/minionworks/minion/internal/minion"
)

func testStore(t *testing.T) *fileStore {
	t.Helper()
	s, err := newFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func sample(name string, created time.Time) *minion.Minion {
	return &minion.Minion{
		ID:          uuid.New(),
		Name:        name,
		ProjectPath: "/home/dev/webapp",
		Runtime:     config.RuntimeConfig{Type: config.TypeWorktree},
		CreatedAt:   created,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	s := testStore(t)
	m := sample("one", time.Now())

	require.NoError(t, s.Put(m))
	got, err := s.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Name, got.Name)
	assert.Equal(t, config.TypeWorktree, got.Runtime.Type)
}

func TestStoreGetUnknown(t *testing.T) {
	s := testStore(t)
	_, err := s.Get(uuid.New())
	assert.ErrorIs(t, err, minion.ErrNotFound)
}

func TestStoreDelete(t *testing.T) {
	s := testStore(t)
	m := sample("doomed", time.Now())
	require.NoError(t, s.Put(m))
	require.NoError(t, s.Delete(m.ID))

	_, err := s.Get(m.ID)
	assert.ErrorIs(t, err, minion.ErrNotFound)
}

func TestStoreListSortedByCreation(t *testing.T) {
	s := testStore(t)
	base := time.Now()
	require.NoError(t, s.Put(sample("second", base.Add(time.Hour))))
	require.NoError(t, s.Put(sample("first", base)))

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].Name)
	assert.Equal(t, "second", list[1].Name)
}

func TestStoreByName(t *testing.T) {
	s := testStore(t)
	m := sample("findme", time.Now())
	require.NoError(t, s.Put(m))

	got, err := s.byName("findme")
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	_, err = s.byName("ghost")
	assert.Error(t, err)
}

func TestStorePutUpdatesExisting(t *testing.T) {
	s := testStore(t)
	m := sample("rename-me", time.Now())
	require.NoError(t, s.Put(m))

	m.Name = "renamed"
	require.NoError(t, s.Put(m))

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "renamed", list[0].Name)
}
