package persistence

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps snapshots in process memory. It backs tests and serves
// as the degraded target when FallbackStore trips its breaker.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]AgentSnapshot
	tasks  map[string]TaskSnapshot
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents: make(map[string]AgentSnapshot),
		tasks:  make(map[string]TaskSnapshot),
	}
}

func (s *MemoryStore) SaveAgent(_ context.Context, snap AgentSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[snap.ID] = snap
	return nil
}

func (s *MemoryStore) DeleteAgent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, id)
	return nil
}

func (s *MemoryStore) SaveTask(_ context.Context, snap TaskSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[snap.ID] = snap
	return nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) LoadAgents(_ context.Context) ([]AgentSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AgentSnapshot, 0, len(s.agents))
	for _, snap := range s.agents {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) LoadTasks(_ context.Context) ([]TaskSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TaskSnapshot, 0, len(s.tasks))
	for _, snap := range s.tasks {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
