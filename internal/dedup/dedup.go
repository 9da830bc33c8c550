// Package dedup de-duplicates in-flight background jobs by key. A second
// request for a key already being worked attaches to the pending job instead
// of starting another.
package dedup

import "sync"

type job[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Group tracks pending jobs by string key.
type Group[T any] struct {
	mu   sync.Mutex
	jobs map[string]*job[T]
}

// NewGroup returns an empty Group.
func NewGroup[T any]() *Group[T] {
	return &Group[T]{jobs: make(map[string]*job[T])}
}

// Do runs fn for key unless a call for the same key is already in flight, in
// which case it waits for that call's result. The pending entry is removed
// unconditionally when fn returns, panics included, so a failed job never
// wedges the key.
func (g *Group[T]) Do(key string, fn func() (T, error)) (T, error) {
	g.mu.Lock()
	if existing, ok := g.jobs[key]; ok {
		g.mu.Unlock()
		<-existing.done
		return existing.value, existing.err
	}

	j := &job[T]{done: make(chan struct{})}
	g.jobs[key] = j
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.jobs, key)
		g.mu.Unlock()
		close(j.done)
	}()

	j.value, j.err = fn()
	return j.value, j.err
}

// Pending reports whether a job for key is in flight.
func (g *Group[T]) Pending(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.jobs[key]
	return ok
}
