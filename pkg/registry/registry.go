// Package registry is a concurrency-safe keyed store used for per-entity
// state such as coordinators and dependent accumulators.
package registry

import (
	"slices"
	"sync"
)

// Entry is a key-value pair.
type Entry[T any] struct {
	Key   string
	Value T
}

// Registry maps string keys to values of type T.
type Registry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{items: make(map[string]T)}
}

func (r *Registry[T]) Set(key string, value T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[key] = value
}

func (r *Registry[T]) Get(key string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	value, ok := r.items[key]
	return value, ok
}

// Update replaces the value at key with fn applied to the current value. ok
// reports whether key was present.
func (r *Registry[T]) Update(key string, fn func(current T, ok bool) T) T {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.items[key]
	next := fn(current, ok)
	r.items[key] = next
	return next
}

func (r *Registry[T]) Delete(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, key)
}

func (r *Registry[T]) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[key]
	return ok
}

func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Keys returns the keys in sorted order.
func (r *Registry[T]) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.items))
	for key := range r.items {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// List returns all entries sorted by key.
func (r *Registry[T]) List() []Entry[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry[T], 0, len(r.items))
	for key, value := range r.items {
		entries = append(entries, Entry[T]{Key: key, Value: value})
	}
	slices.SortFunc(entries, func(a, b Entry[T]) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
	return entries
}

func (r *Registry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make(map[string]T)
}
