package scheduler

import (
	"sort"
	"sync"
)

// AtomicMap is a map guarded by a RWMutex.
type AtomicMap[U comparable, V any] struct {
	mu    sync.RWMutex
	value map[U]V
}

func NewAtomicMap[U comparable, V any]() *AtomicMap[U, V] {
	return &AtomicMap[U, V]{
		value: make(map[U]V),
	}
}

// Add stores value under key unless the key is already present.
func (a *AtomicMap[U, V]) Add(key U, value V) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.value[key]; ok {
		return false
	}

	a.value[key] = value

	return true
}

func (a *AtomicMap[U, V]) Get(key U) (val V, found bool) {
	a.mu.RLock()
	val, found = a.value[key]
	a.mu.RUnlock()

	return
}

// SortedKeys returns the keys ordered by less.
func SortedKeys[U comparable, V any](a *AtomicMap[U, V], less func(a, b U) bool) []U {
	a.mu.RLock()
	keys := make([]U, 0, len(a.value))
	for k := range a.value {
		keys = append(keys, k)
	}
	a.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		return less(keys[i], keys[j])
	})

	return keys
}
