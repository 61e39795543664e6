package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	userID    int64
	expiresAt time.Time
}

// MemoryManager keeps sessions in process memory with a background reaper.
// Sessions do not survive a restart; it exists for tests and database-less
// development runs.
type MemoryManager struct {
	mu        sync.Mutex
	ttl       time.Duration
	sessions  map[string]memoryEntry
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryManager creates an in-memory session manager with the given TTL.
func NewMemoryManager(ttl time.Duration) *MemoryManager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &MemoryManager{
		ttl:      ttl,
		sessions: make(map[string]memoryEntry),
		done:     make(chan struct{}),
	}
	go m.reapLoop()
	return m
}

// Close stops the background reaper. Safe to call more than once.
func (m *MemoryManager) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// Create generates and stores a new token for userID.
func (m *MemoryManager) Create(ctx context.Context, userID int64) (string, error) {
	token := generateToken()
	m.mu.Lock()
	m.sessions[token] = memoryEntry{userID: userID, expiresAt: time.Now().Add(m.ttl)}
	m.mu.Unlock()
	return token, nil
}

// Resolve returns the user id for a live token.
func (m *MemoryManager) Resolve(ctx context.Context, token string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[token]
	if !ok || time.Now().After(entry.expiresAt) {
		return 0, ErrNotFound
	}
	return entry.userID, nil
}

// Destroy removes the token.
func (m *MemoryManager) Destroy(ctx context.Context, token string) error {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
	return nil
}

// Count returns the number of stored sessions, expired or not.
func (m *MemoryManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// reapLoop periodically removes expired sessions until Close.
func (m *MemoryManager) reapLoop() {
	ticker := time.NewTicker(m.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.reap()
		}
	}
}

func (m *MemoryManager) reap() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for token, entry := range m.sessions {
		if now.After(entry.expiresAt) {
			delete(m.sessions, token)
		}
	}
}
