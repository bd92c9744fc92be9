package session

import "sync"

// MemoryStore is the default in-process backing map. The mutex guards only
// map operations; per-session mutation happens under the session's own
// lock, so distinct calls never serialize on each other's I/O.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*CallSession
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*CallSession)}
}

func (m *MemoryStore) PutIfAbsent(id string, s *CallSession, max int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[id]; exists {
		return ErrDuplicateCall
	}
	if max > 0 && len(m.sessions) >= max {
		return ErrAtCapacity
	}
	m.sessions[id] = s
	return nil
}

func (m *MemoryStore) Get(id string) (*CallSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *MemoryStore) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

func (m *MemoryStore) All() []*CallSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*CallSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
