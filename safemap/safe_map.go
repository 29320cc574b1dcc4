// Package safemap provides a generic map guarded by a read-write mutex:
// writers are exclusive, readers share. It offers the operations a connection
// table needs: swap, conditional delete, drain and snapshots.
package safemap

import "sync"

// SafeMap is a concurrent map that is safe for use by multiple goroutines.
// The zero value is ready to use. SafeMap must not be copied after first use.
type SafeMap[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// NewSafeMap returns a new empty SafeMap.
func NewSafeMap[K comparable, V any]() *SafeMap[K, V] {
	return &SafeMap[K, V]{m: make(map[K]V)}
}

// Swap stores v under k and returns the value it replaced.
//
// Parameters:
//   - k: The key to store
//   - v: The new value
//
// Returns:
//   - The previous value, or the zero value of V if k was absent
//   - true if k was present before the call
func (m *SafeMap[K, V]) Swap(k K, v V) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	prev, loaded := m.m[k]
	m.m[k] = v
	return prev, loaded
}

// Load returns the value stored for k.
//
// Parameters:
//   - k: The key to look up
//
// Returns:
//   - The value associated with k, or the zero value of V if not found
//   - true if the key was present, false otherwise
func (m *SafeMap[K, V]) Load(k K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.m[k]
	return v, ok
}

// Has reports whether key k is present in the map.
func (m *SafeMap[K, V]) Has(k K) bool {
	_, ok := m.Load(k)
	return ok
}

// DeleteIf removes the entry for k only when match reports true for its
// current value. The check and the removal happen under one write lock.
//
// Parameters:
//   - k: The key to delete
//   - match: Predicate over the stored value
//
// Returns:
//   - true if an entry was removed
func (m *SafeMap[K, V]) DeleteIf(k K, match func(v V) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.m[k]
	if !ok || !match(v) {
		return false
	}

	delete(m.m, k)
	return true
}

// Drain removes every entry and returns the removed values.
//
// Returns:
//   - The values that were stored, in unspecified order
func (m *SafeMap[K, V]) Drain() []V {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]V, 0, len(m.m))
	for _, v := range m.m {
		out = append(out, v)
	}

	m.m = make(map[K]V)
	return out
}

// Keys returns a snapshot of the keys, in unspecified order.
func (m *SafeMap[K, V]) Keys() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]K, 0, len(m.m))
	for k := range m.m {
		out = append(out, k)
	}

	return out
}

// Values returns a snapshot of the values, in unspecified order. Callers may
// act on the snapshot without holding the map's lock.
func (m *SafeMap[K, V]) Values() []V {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]V, 0, len(m.m))
	for _, v := range m.m {
		out = append(out, v)
	}

	return out
}

// Range calls f for each entry while holding the read lock. If f returns
// false, iteration stops. f must not modify the map.
//
// Parameters:
//   - f: Function called for each entry; return false to stop iteration
func (m *SafeMap[K, V]) Range(f func(k K, v V) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, v := range m.m {
		if !f(k, v) {
			return
		}
	}
}

// Len returns the number of entries in the map.
func (m *SafeMap[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.m)
}

// init allocates the backing map for a zero-value SafeMap; caller must hold
// the write lock.
func (m *SafeMap[K, V]) init() {
	if m.m == nil {
		m.m = make(map[K]V)
	}
}
