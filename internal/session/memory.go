package session

import (
	"context"
	"sync"
	"time"
)

// MemoryRegistry хранит сессии в памяти процесса и удаляет простаивающие дольше ttl.
type MemoryRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryRegistry создаёт хранилище сессий в памяти.
func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	return &MemoryRegistry{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *MemoryRegistry) expired(s *Session, now time.Time) bool {
	return m.ttl > 0 && now.Sub(s.LastSeen) > m.ttl
}

// Get возвращает копию сессии.
func (m *MemoryRegistry) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if m.expired(s, m.now()) {
		delete(m.sessions, id)
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// Save сохраняет копию сессии и продлевает её.
func (m *MemoryRegistry) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.LastSeen = m.now()
	m.sessions[s.ID] = s.Clone()
	return nil
}

// Delete удаляет сессию.
func (m *MemoryRegistry) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}

// Len возвращает число хранимых сессий.
func (m *MemoryRegistry) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep удаляет истёкшие сессии и возвращает их количество.
func (m *MemoryRegistry) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, s := range m.sessions {
		if m.expired(s, now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// StartSweeper периодически удаляет истёкшие сессии до отмены контекста.
func (m *MemoryRegistry) StartSweeper(ctx context.Context, interval time.Duration, onSweep func(removed int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 && onSweep != nil {
				onSweep(n)
			}
		}
	}
}
