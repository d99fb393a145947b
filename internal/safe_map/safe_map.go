package safe_map

import (
	"sync"
)

// SafeMap is a map guarded by a RWMutex.
type SafeMap[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

func NewSafeMap[K comparable, V any]() *SafeMap[K, V] {
	return &SafeMap[K, V]{m: make(map[K]V)}
}

func (s *SafeMap[K, V]) Load(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

func (s *SafeMap[K, V]) Store(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

// LoadOrStore returns the existing value for key if present, otherwise stores value.
// loaded reports whether the value was already present.
func (s *SafeMap[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.m[key]; ok {
		return existing, true
	}
	s.m[key] = value
	return value, false
}

func (s *SafeMap[K, V]) Delete(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
}

// Range calls fn for each entry of a snapshot; fn returning false stops the iteration.
func (s *SafeMap[K, V]) Range(fn func(key K, value V) bool) {
	for _, kv := range s.snapshot() {
		if !fn(kv.key, kv.value) {
			return
		}
	}
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

func (s *SafeMap[K, V]) snapshot() []entry[K, V] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]entry[K, V], 0, len(s.m))
	for k, v := range s.m {
		entries = append(entries, entry[K, V]{k, v})
	}
	return entries
}
