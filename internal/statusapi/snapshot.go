package statusapi

import "sync"

// SnapshotStore holds the current Status behind a reader/writer lock,
// per spec.md §5: readers (the HTTP handler) never block writers for
// more than one update. It implements StatusProvider directly so the
// root controller can swap in a fresh snapshot after each
// reconciliation without the HTTP server needing to know anything
// about reconciliation.
type SnapshotStore struct {
	mu      sync.RWMutex
	current Status
}

// NewSnapshotStore returns a SnapshotStore seeded with an empty status.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{current: Status{SubAgents: map[string]SubAgentStatus{}}}
}

// Status returns the current snapshot.
func (s *SnapshotStore) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update replaces the current snapshot.
func (s *SnapshotStore) Update(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = status
}
