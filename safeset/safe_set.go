// Package safeset provides a generic set guarded by a read-write mutex.
package safeset

import "sync"

// SafeSet is a set of unique comparable elements that is safe for concurrent
// use by multiple goroutines.
type SafeSet[T comparable] struct {
	mu sync.RWMutex
	m  map[T]struct{}
}

// NewSafeSet creates and returns a new empty SafeSet.
func NewSafeSet[T comparable]() *SafeSet[T] {
	return &SafeSet[T]{m: make(map[T]struct{})}
}

// Add adds an element to the set.
//
// Returns:
//   - true if value was not already present
func (s *SafeSet[T]) Add(value T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[value]; ok {
		return false
	}

	s.m[value] = struct{}{}
	return true
}

// Remove removes an element from the set.
//
// Returns:
//   - true if value was present
func (s *SafeSet[T]) Remove(value T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[value]; !ok {
		return false
	}

	delete(s.m, value)
	return true
}

// Contains reports whether the set contains the given element.
func (s *SafeSet[T]) Contains(value T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.m[value]
	return ok
}

// Size returns the number of elements in the set.
func (s *SafeSet[T]) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Values returns a snapshot of the elements, in unspecified order.
func (s *SafeSet[T]) Values() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.m))
	for k := range s.m {
		out = append(out, k)
	}

	return out
}

// Drain empties the set and returns the elements it held.
func (s *SafeSet[T]) Drain() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, 0, len(s.m))
	for k := range s.m {
		out = append(out, k)
	}

	s.m = make(map[T]struct{})
	return out
}
