package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/minionworks/minion/internal/lock"
	"github.com/minionworks/minion/internal/minion"
)

// fileStore persists minions as a single JSON file under the state dir.
// Writes are atomic (temp file + rename) and guarded by a cross-process
// advisory lock so concurrent CLI invocations do not clobber each other.
type fileStore struct {
	path string
	lk   *lock.Lock
}

func newFileStore(stateDir string) (*fileStore, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	path := filepath.Join(stateDir, "minions.json")
	return &fileStore{path: path, lk: lock.New(path + ".lock")}, nil
}

func (s *fileStore) load() (map[uuid.UUID]*minion.Minion, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[uuid.UUID]*minion.Minion{}, nil
		}
		return nil, fmt.Errorf("reading store: %w", err)
	}

	var list []*minion.Minion
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing store: %w", err)
	}
	out := make(map[uuid.UUID]*minion.Minion, len(list))
	for _, m := range list {
		out[m.ID] = m
	}
	return out, nil
}

func (s *fileStore) save(minions map[uuid.UUID]*minion.Minion) error {
	list := make([]*minion.Minion, 0, len(minions))
	for _, m := range minions {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing store: %w", err)
	}
	return nil
}

func (s *fileStore) Put(m *minion.Minion) error {
	return s.lk.WithLock(func() error {
		minions, err := s.load()
		if err != nil {
			return err
		}
		minions[m.ID] = m
		return s.save(minions)
	})
}

func (s *fileStore) Get(id uuid.UUID) (*minion.Minion, error) {
	minions, err := s.load()
	if err != nil {
		return nil, err
	}
	m, ok := minions[id]
	if !ok {
		return nil, minion.ErrNotFound
	}
	return m, nil
}

func (s *fileStore) Delete(id uuid.UUID) error {
	return s.lk.WithLock(func() error {
		minions, err := s.load()
		if err != nil {
			return err
		}
		delete(minions, id)
		return s.save(minions)
	})
}

func (s *fileStore) List() ([]*minion.Minion, error) {
	minions, err := s.load()
	if err != nil {
		return nil, err
	}
	list := make([]*minion.Minion, 0, len(minions))
	for _, m := range minions {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

// byName finds a minion by exact name, for commands that address minions
// the human way.
func (s *fileStore) byName(name string) (*minion.Minion, error) {
	list, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, m := range list {
		if m.Name == name {
			return m, nil
		}
	}
	return nil, fmt.Errorf("no minion named %q", name)
}
