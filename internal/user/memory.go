package user

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps users in process memory. It is used in tests and
// when the server runs without a database.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]*User
	byName map[string]*User
}

// NewMemoryStore creates an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[int64]*User),
		byName: make(map[string]*User),
	}
}

// Create adds a new user, rejecting duplicate usernames and emails.
func (s *MemoryStore) Create(ctx context.Context, username, passwordHash, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[username]; ok {
		return nil, ErrDuplicate
	}
	if email != "" {
		for _, u := range s.byID {
			if u.Email == email {
				return nil, ErrDuplicate
			}
		}
	}

	s.nextID++
	u := &User{
		ID:           s.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		Email:        email,
		CreatedAt:    time.Now(),
	}
	s.byID[u.ID] = u
	s.byName[u.Username] = u
	return copyUser(u), nil
}

// ByName returns the user with the given username.
func (s *MemoryStore) ByName(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byName[username]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

// ByID returns the user with the given id.
func (s *MemoryStore) ByID(ctx context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

// copyUser returns a copy so callers cannot mutate stored state.
func copyUser(u *User) *User {
	c := *u
	return &c
}
