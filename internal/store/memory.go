package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"enricher/internal/domain"
)

// MemoryStore is the default in-process entity collection.
type MemoryStore struct {
	mu        sync.RWMutex
	entities  map[string]domain.Entity
	listeners []Listener
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entities: make(map[string]domain.Entity)}
}

// Subscribe registers a listener for entity snapshots. Listeners run outside
// the store lock and must not call back into the store synchronously.
func (s *MemoryStore) Subscribe(fn Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Get returns the entity snapshot for id.
func (s *MemoryStore) Get(ctx context.Context, id string) (domain.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entity, ok := s.entities[id]
	if !ok {
		return domain.Entity{}, domain.ErrEntityNotFound
	}
	return entity, nil
}

// List returns all entities ordered by ID.
func (s *MemoryStore) List(ctx context.Context) ([]domain.Entity, error) {
	s.mu.RLock()
	out := make([]domain.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put inserts or replaces an entity wholesale.
func (s *MemoryStore) Put(ctx context.Context, entity domain.Entity) error {
	entity.UpdatedAt = time.Now()
	s.mu.Lock()
	s.entities[entity.ID] = entity
	listeners := s.listeners
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(entity)
	}
	return nil
}

// Apply replaces the entity with mutate's result under the lock, then
// notifies listeners with the new snapshot.
func (s *MemoryStore) Apply(ctx context.Context, id string, mutate func(domain.Entity) domain.Entity) (domain.Entity, error) {
	s.mu.Lock()
	current, ok := s.entities[id]
	if !ok {
		s.mu.Unlock()
		return domain.Entity{}, domain.ErrEntityNotFound
	}
	next := mutate(current)
	next.ID = id
	next.UpdatedAt = time.Now()
	s.entities[id] = next
	listeners := s.listeners
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(next)
	}
	return next, nil
}

var _ Store = (*MemoryStore)(nil)
