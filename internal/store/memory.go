package store

import (
	"context"
	"sync"
	"time"

	"abyss-chat-backend/internal/chat"
	"abyss-chat-backend/internal/metrics"
)

// Factory builds a fresh session for a visitor id.
type Factory func(id string) *chat.Session

// MemoryStore keeps live sessions in process memory. Nothing survives a
// restart; idle sessions are closed and dropped after the TTL.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*chat.Session
	ttl      time.Duration
	factory  Factory
	metrics  *metrics.Metrics
	now      func() time.Time
	onEvict  func(id string)
}

func NewMemoryStore(ttl time.Duration, factory Factory, m *metrics.Metrics) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*chat.Session),
		ttl:      ttl,
		factory:  factory,
		metrics:  m,
		now:      time.Now,
	}
}

// OnEvict registers a callback run after a session is dropped, outside the
// store lock.
func (m *MemoryStore) OnEvict(f func(id string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvict = f
}

// Get returns a live session. Expired sessions are evicted on access.
func (m *MemoryStore) Get(id string) (*chat.Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok && m.expiredLocked(s) {
		m.evictLocked(id, s)
		m.unlockAndNotify(id)
		return nil, false
	}
	m.mu.Unlock()
	return s, ok
}

// GetOrCreate returns the session for id, creating it on first use.
func (m *MemoryStore) GetOrCreate(id string) (*chat.Session, bool) {
	m.mu.Lock()
	var evicted []string
	if s, ok := m.sessions[id]; ok {
		if !m.expiredLocked(s) {
			m.mu.Unlock()
			return s, false
		}
		m.evictLocked(id, s)
		evicted = append(evicted, id)
	}
	s := m.factory(id)
	m.sessions[id] = s
	m.metrics.Sessions(len(m.sessions))
	m.unlockAndNotify(evicted...)
	return s, true
}

func (m *MemoryStore) Delete(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	m.evictLocked(id, s)
	m.unlockAndNotify(id)
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep evicts every idle session and returns how many were dropped.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	var evicted []string
	for id, s := range m.sessions {
		if m.expiredLocked(s) {
			m.evictLocked(id, s)
			evicted = append(evicted, id)
		}
	}
	m.unlockAndNotify(evicted...)
	return len(evicted)
}

// Run sweeps on an interval until ctx is done.
func (m *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}

func (m *MemoryStore) expiredLocked(s *chat.Session) bool {
	if m.ttl <= 0 {
		return false
	}
	// A pending reply keeps the session alive until it lands.
	return !s.Pending() && m.now().Sub(s.LastActive()) > m.ttl
}

func (m *MemoryStore) evictLocked(id string, s *chat.Session) {
	s.Close()
	delete(m.sessions, id)
	m.metrics.Sessions(len(m.sessions))
}

func (m *MemoryStore) unlockAndNotify(ids ...string) {
	f := m.onEvict
	m.mu.Unlock()
	if f == nil {
		return
	}
	for _, id := range ids {
		f(id)
	}
}
