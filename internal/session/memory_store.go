package session

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore keeps sessions in process with an inactivity TTL. Every write
// restarts the TTL of the session and of the user pointer.
type MemoryStore struct {
	mu       sync.Mutex
	sessions *expirable.LRU[string, *Session]
	users    *expirable.LRU[string, string]
}

// NewMemoryStore holds up to size sessions, each expiring ttl after its
// last write.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = 10000
	}
	return &MemoryStore{
		sessions: expirable.NewLRU[string, *Session](size, nil, ttl),
		users:    expirable.NewLRU[string, string](size, nil, ttl),
	}
}

func (m *MemoryStore) Get(ctx context.Context, userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.users.Get(userID)
	if !ok {
		return nil, nil
	}
	s, ok := m.sessions.Get(id)
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (m *MemoryStore) GetByID(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions.Get(sessionID)
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Put(ctx context.Context, s *Session, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions.Get(s.SessionID)
	switch {
	case !ok && expectedVersion != 0:
		return ErrNotFound
	case ok && cur.Version != expectedVersion:
		return ErrVersionMismatch
	}
	m.sessions.Add(s.SessionID, s.Clone())
	m.users.Add(s.UserID, s.SessionID)
	return nil
}
