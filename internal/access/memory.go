package access

import (
	"context"
	"sync"
)

// MemoryStore backs tests and local single-node deployments where the
// main application database is not reachable.
type MemoryStore struct {
	mu     sync.RWMutex
	grants map[string]map[string]Role // documentID -> userID -> role
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{grants: make(map[string]map[string]Role)}
}

// Grant shares the canvas with editor rights.
func (s *MemoryStore) Grant(userID, documentID string) {
	s.GrantRole(userID, documentID, RoleEditor)
}

func (s *MemoryStore) GrantRole(userID, documentID string, role Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants[documentID] == nil {
		s.grants[documentID] = make(map[string]Role)
	}
	s.grants[documentID][userID] = role
}

func (s *MemoryStore) Revoke(userID, documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants[documentID], userID)
}

func (s *MemoryStore) CanAccess(_ context.Context, userID, documentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.grants[documentID][userID]
	return ok && role.CanSync(), nil
}
