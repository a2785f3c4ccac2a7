package engine

import (
	"errors"
	"maps"
	"sync"
)

// ErrNotFound is an engine-layer sentinel for missing store entries. The
// resolvgo package translates it into the public NotFoundError contract.
var ErrNotFound = errors.New("not found")

// MapStore is an in-memory key/value store backed by a Go map.
// Suitable for datasets that fit in memory; O(1) access, safe for
// concurrent use.
type MapStore[K comparable, T any] struct {
	mu   sync.RWMutex
	data map[K]T
}

// NewMapStore creates a new in-memory map-based store.
func NewMapStore[K comparable, T any]() *MapStore[K, T] {
	return &MapStore[K, T]{
		data: make(map[K]T),
	}
}

// Get retrieves the value for the given key.
func (m *MapStore[K, T]) Get(key K) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	return v, ok
}

// Set stores a value under the given key.
func (m *MapStore[K, T]) Set(key K, value T) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = value
	return nil
}

// Delete removes the value for the given key.
func (m *MapStore[K, T]) Delete(key K) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[key]; !ok {
		return ErrNotFound
	}

	delete(m.data, key)
	return nil
}

// BatchGet retrieves values for multiple keys in one operation.
func (m *MapStore[K, T]) BatchGet(keys []K) (map[K]T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[K]T, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			result[k] = v
		}
	}
	return result, nil
}

// Len returns the number of stored entries.
func (m *MapStore[K, T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.data)
}

// ToMap returns a copy of all data (for serialization).
func (m *MapStore[K, T]) ToMap() map[K]T {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[K]T, len(m.data))
	maps.Copy(result, m.data)
	return result
}
