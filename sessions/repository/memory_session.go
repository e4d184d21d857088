package repository

import (
	"context"
	"sync"
	"time"

	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
)

// MemorySessionStore keeps snapshots in process memory. Selected with
// SESSION_STORE=memory and used when the database store cannot start.
type MemorySessionStore struct {
	mu    sync.RWMutex
	items map[string]session.Snapshot
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{items: make(map[string]session.Snapshot)}
}

func memoryKey(id, owner string) string {
	return owner + "|" + id
}

func (s *MemorySessionStore) Get(_ context.Context, id, owner string) (*session.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.items[memoryKey(id, owner)]
	if !ok {
		return nil, nil
	}
	snap.Groups = session.CloneGroups(snap.Groups)
	return &snap, nil
}

func (s *MemorySessionStore) OwnerOf(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, snap := range s.items {
		if snap.ID == id {
			return snap.Owner, nil
		}
	}
	return "", nil
}

func (s *MemorySessionStore) Upsert(_ context.Context, snap session.Snapshot) error {
	snap.Groups = session.CloneGroups(snap.Groups)
	snap.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	s.items[memoryKey(snap.ID, snap.Owner)] = snap
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id, owner string) error {
	s.mu.Lock()
	delete(s.items, memoryKey(id, owner))
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored snapshots.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
