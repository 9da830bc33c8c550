// Package route correlates live agent-protocol sessions with minions: a
// bounded in-memory table plus the session lifecycle handlers built on it.
// Nothing here persists; a process restart drops all correlations and
// clients re-resume.
package route

// Bimap is a bidirectional map holding a bijection between keys and values.
// Putting a pair evicts whatever either side previously pointed at, so
// neither direction ever holds a dangling cross-reference.
type Bimap[K comparable, V comparable] struct {
	fwd map[K]V
	rev map[V]K
}

// NewBimap returns an empty Bimap.
func NewBimap[K comparable, V comparable]() *Bimap[K, V] {
	return &Bimap[K, V]{fwd: make(map[K]V), rev: make(map[V]K)}
}

// Put binds k and v, evicting the stale side of any existing binding.
// It returns the displaced keys, when bindings were evicted.
func (b *Bimap[K, V]) Put(k K, v V) (displaced []K) {
	if old, ok := b.fwd[k]; ok {
		if old == v {
			return nil
		}
		delete(b.rev, old)
	}
	if oldK, ok := b.rev[v]; ok && oldK != k {
		delete(b.fwd, oldK)
		displaced = append(displaced, oldK)
	}
	b.fwd[k] = v
	b.rev[v] = k
	return displaced
}

// Get looks up the value for k.
func (b *Bimap[K, V]) Get(k K) (V, bool) {
	v, ok := b.fwd[k]
	return v, ok
}

// GetReverse looks up the key for v.
func (b *Bimap[K, V]) GetReverse(v V) (K, bool) {
	k, ok := b.rev[v]
	return k, ok
}

// Delete removes the binding for k.
func (b *Bimap[K, V]) Delete(k K) {
	if v, ok := b.fwd[k]; ok {
		delete(b.rev, v)
		delete(b.fwd, k)
	}
}

// Len returns the number of bindings.
func (b *Bimap[K, V]) Len() int {
	return len(b.fwd)
}
