// Package store implements a synchronized in-memory key-value store for run state.
package store

import (
	"errors"
	"sync"
)

var (
	// ErrKeyExists indicates Set was called for a key that already holds a value.
	ErrKeyExists = errors.New("store: key already exists")
	// ErrKeyDoesntExist indicates the key has no value.
	ErrKeyDoesntExist = errors.New("store: key does not exist")
)

// MemStore is a mutex-guarded keyed store with write-once Set semantics. Each
// pipeline run owns its own instance.
type MemStore[V any] struct {
	lock  sync.Mutex
	store map[string]V
}

// NewMemStore constructs an empty MemStore.
func NewMemStore[V any]() *MemStore[V] {
	return &MemStore[V]{store: make(map[string]V)}
}

// Set stores a value for a key that has none.
func (memoryStore *MemStore[V]) Set(key string, value V) error {
	memoryStore.lock.Lock()
	defer memoryStore.lock.Unlock()

	if _, exists := memoryStore.store[key]; exists {
		return ErrKeyExists
	}
	memoryStore.store[key] = value
	return nil
}

// Get returns the value for a key.
func (memoryStore *MemStore[V]) Get(key string) (V, error) {
	memoryStore.lock.Lock()
	defer memoryStore.lock.Unlock()

	value, exists := memoryStore.store[key]
	if !exists {
		var zero V
		return zero, ErrKeyDoesntExist
	}
	return value, nil
}

// Update replaces the value of an existing key.
func (memoryStore *MemStore[V]) Update(key string, value V) error {
	memoryStore.lock.Lock()
	defer memoryStore.lock.Unlock()

	if _, exists := memoryStore.store[key]; !exists {
		return ErrKeyDoesntExist
	}
	memoryStore.store[key] = value
	return nil
}

// Snapshot returns a copy of every stored entry.
func (memoryStore *MemStore[V]) Snapshot() map[string]V {
	memoryStore.lock.Lock()
	defer memoryStore.lock.Unlock()

	snapshot := make(map[string]V, len(memoryStore.store))
	for key, value := range memoryStore.store {
		snapshot[key] = value
	}
	return snapshot
}
