// Package store holds LocalStateStore implementations.
package store

import (
	"context"
	"sync"

	"changegate/internal/change/models"
	"changegate/pkg/platform/sentinel"
)

// InMemoryStore keeps entity states in a map. Absent states are not stored.
type InMemoryStore struct {
	mu     sync.RWMutex
	states map[string]models.EntityState
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{states: make(map[string]models.EntityState)}
}

func key(kind models.EntityKind, entityID string) string {
	return string(kind) + "/" + entityID
}

func (s *InMemoryStore) Get(_ context.Context, kind models.EntityKind, entityID string) (models.EntityState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[key(kind, entityID)]
	if !ok {
		return models.EntityState{}, sentinel.ErrNotFound
	}
	return state.Clone(), nil
}

func (s *InMemoryStore) Apply(_ context.Context, state models.EntityState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(state.Kind, state.EntityID)
	if !state.Exists {
		delete(s.states, k)
		return nil
	}
	s.states[k] = state.Clone()
	return nil
}

// Len reports the number of existing entities.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}
