// Package registry provides a process-wide keyed cache of shared, lazily
// constructed values with reference-counted lifetimes.
package registry

import "sync"

// Entry represents a live key-value pair in the registry.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
	Refs  int
}

// RefCounted maps comparable keys to shared values. The first Acquire of a key
// constructs the value; later Acquires of an equal key return the identical
// value. Each Acquire hands back a release func; when the last holder
// releases, the value is destroyed and the key evicted, so the next Acquire
// constructs a fresh value.
//
// Construction runs under the registry lock, so at most one value is ever
// built per live key even under concurrent first use. Constructors must not
// call back into the same registry.
type RefCounted[K comparable, V any] struct {
	mu      sync.Mutex
	items   map[K]*slot[V]
	destroy func(K, V)
}

type slot[V any] struct {
	value  V
	refs   int
	pinned bool
}

// NewRefCounted creates a registry. destroy, if non-nil, runs (outside the
// lock) for each value whose last reference is released.
func NewRefCounted[K comparable, V any](destroy func(K, V)) *RefCounted[K, V] {
	return &RefCounted[K, V]{
		items:   make(map[K]*slot[V]),
		destroy: destroy,
	}
}

// Acquire returns the value for key, constructing it with create if absent,
// and a release func that is safe to call more than once.
func (r *RefCounted[K, V]) Acquire(key K, create func(K) V) (V, func()) {
	r.mu.Lock()
	s := r.lookupOrCreate(key, create)
	s.refs++
	value := s.value
	r.mu.Unlock()

	var once sync.Once
	return value, func() {
		once.Do(func() { r.release(key, s) })
	}
}

// Pin returns the value for key, constructing it if absent, and keeps it
// alive for the life of the registry.
func (r *RefCounted[K, V]) Pin(key K, create func(K) V) V {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.lookupOrCreate(key, create)
	s.pinned = true
	return s.value
}

// Peek returns the live value for key without taking a reference.
func (r *RefCounted[K, V]) Peek(key K) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return s.value, true
}

// Refs returns the number of outstanding references for key.
func (r *RefCounted[K, V]) Refs(key K) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.items[key]; ok {
		return s.refs
	}
	return 0
}

// Len returns the number of live keys.
func (r *RefCounted[K, V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// List returns all live entries.
func (r *RefCounted[K, V]) List() []Entry[K, V] {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]Entry[K, V], 0, len(r.items))
	for key, s := range r.items {
		entries = append(entries, Entry[K, V]{Key: key, Value: s.value, Refs: s.refs})
	}
	return entries
}

// Clear evicts every key, destroying values regardless of outstanding
// references. Release funcs handed out earlier become no-ops.
func (r *RefCounted[K, V]) Clear() {
	r.mu.Lock()
	items := r.items
	r.items = make(map[K]*slot[V])
	r.mu.Unlock()

	if r.destroy == nil {
		return
	}
	for key, s := range items {
		r.destroy(key, s.value)
	}
}

// lookupOrCreate must be called with the lock held.
func (r *RefCounted[K, V]) lookupOrCreate(key K, create func(K) V) *slot[V] {
	if s, ok := r.items[key]; ok {
		return s
	}
	s := &slot[V]{value: create(key)}
	r.items[key] = s
	return s
}

func (r *RefCounted[K, V]) release(key K, s *slot[V]) {
	r.mu.Lock()
	// The slot may have been evicted by Clear and replaced by a newer one
	if current, ok := r.items[key]; !ok || current != s {
		r.mu.Unlock()
		return
	}

	s.refs--
	if s.refs > 0 || s.pinned {
		r.mu.Unlock()
		return
	}
	delete(r.items, key)
	r.mu.Unlock()

	if r.destroy != nil {
		r.destroy(key, s.value)
	}
}
