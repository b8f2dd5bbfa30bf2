// Package keymap provides a sharded, string-keyed concurrent map.
//
// Each strategy in the engine owns exactly one Map per algorithm. Sharding
// keeps contention proportional to the number of keys hot at once instead
// of serializing every key behind one mutex, per the engine's concurrency
// discipline: no single lock may serialize unrelated keys.
package keymap

import "sync"

const (
	defaultShards = 32
	offset32      = 2166136261
	prime32       = 16777619
)

// Map is a sharded map from string key to *V, safe for concurrent use.
// Construct-if-absent (WithLock) is atomic per key.
type Map[V any] struct {
	shards []*shard[V]
	mask   uint32
}

type shard[V any] struct {
	mu   sync.Mutex
	data map[string]*V
}

// New creates a Map with the default shard count.
func New[V any]() *Map[V] {
	return NewShards[V](defaultShards)
}

// NewShards creates a Map with n shards, rounded up to a power of two.
func NewShards[V any](n int) *Map[V] {
	if n <= 0 {
		n = defaultShards
	}
	count := uint32(1)
	for int(count) < n {
		count <<= 1
	}
	m := &Map[V]{
		shards: make([]*shard[V], count),
		mask:   count - 1,
	}
	for i := range m.shards {
		m.shards[i] = &shard[V]{data: make(map[string]*V)}
	}
	return m
}

func fnv1a(key string) uint32 {
	hash := uint32(offset32)
	for i := 0; i < len(key); i++ {
		hash ^= uint32(key[i])
		hash *= prime32
	}
	return hash
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	return m.shards[fnv1a(key)&m.mask]
}

// WithLock runs fn while holding the shard lock for key, passing the
// current entry for key (nil if absent) and a setter that installs a new
// entry. This is the construct-if-absent + read-modify-write primitive
// every strategy uses for its critical section.
func (m *Map[V]) WithLock(key string, fn func(existing *V, set func(*V))) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.data[key]
	fn(existing, func(v *V) { s.data[key] = v })
}

// Delete removes key's entry, if any.
func (m *Map[V]) Delete(key string) {
	s := m.shardFor(key)
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
}

// Len returns the total number of entries across all shards. For
// diagnostics only; not used on any hot path.
func (m *Map[V]) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.data)
		s.mu.Unlock()
	}
	return n
}

// Sweep removes every entry for which shouldEvict returns true. Used by
// the engine's optional idle-eviction extension.
func (m *Map[V]) Sweep(shouldEvict func(*V) bool) {
	for _, s := range m.shards {
		s.mu.Lock()
		for k, v := range s.data {
			if shouldEvict(v) {
				delete(s.data, k)
			}
		}
		s.mu.Unlock()
	}
}
