package storage

import "sync"

// Repository is the keyed entity store used by the goal and journey managers.
type Repository[T any] interface {
	Get(id string) (T, bool)
	Put(id string, item T)
	Delete(id string) bool
	List() []T
	Len() int
}

// MemoryRepository keeps entities in insertion order in process memory.
type MemoryRepository[T any] struct {
	mu    sync.RWMutex
	items map[string]T
	order []string
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository[T any]() *MemoryRepository[T] {
	return &MemoryRepository[T]{items: make(map[string]T)}
}

// Get returns the entity stored under id.
func (r *MemoryRepository[T]) Get(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[id]
	return item, ok
}

// Put inserts or replaces the entity stored under id.
func (r *MemoryRepository[T]) Put(id string, item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[id]; !exists {
		r.order = append(r.order, id)
	}
	r.items[id] = item
}

// Delete removes id and reports whether it existed.
func (r *MemoryRepository[T]) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[id]; !exists {
		return false
	}
	delete(r.items, id)
	for i, key := range r.order {
		if key == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns all entities in insertion order.
func (r *MemoryRepository[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.items[id])
	}
	return out
}

// Len reports the number of stored entities.
func (r *MemoryRepository[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Reset drops every entity.
func (r *MemoryRepository[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make(map[string]T)
	r.order = nil
}

var _ Repository[int] = (*MemoryRepository[int])(nil)
