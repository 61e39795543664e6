package message

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps both message logs in process memory. A single mutex
// covers id assignment and the clock read, so ids and timestamps always
// agree on insertion order.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	public  []*Public
	private []*Private
}

// NewMemoryStore creates an empty in-memory message store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) nextIDLocked() int64 {
	s.nextID++
	return s.nextID
}

// AppendPublic stores a public message.
func (s *MemoryStore) AppendPublic(ctx context.Context, author Party, text string) (*Public, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := &Public{
		ID:        s.nextIDLocked(),
		AuthorID:  author.ID,
		Username:  author.Username,
		Text:      text,
		CreatedAt: time.Now(),
	}
	s.public = append(s.public, msg)
	c := *msg
	return &c, nil
}

// AppendPrivate stores a direct message.
func (s *MemoryStore) AppendPrivate(ctx context.Context, sender, recipient Party, text string) (*Private, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := &Private{
		ID:          s.nextIDLocked(),
		SenderID:    sender.ID,
		RecipientID: recipient.ID,
		Sender:      sender.Username,
		Recipient:   recipient.Username,
		Text:        text,
		CreatedAt:   time.Now(),
	}
	s.private = append(s.private, msg)
	c := *msg
	return &c, nil
}

// ListPublic returns the public history, oldest first.
func (s *MemoryStore) ListPublic(ctx context.Context) ([]*Public, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Public, len(s.public))
	for i, m := range s.public {
		c := *m
		out[i] = &c
	}
	return out, nil
}

// ListPrivate returns the conversation between two users, oldest first.
func (s *MemoryStore) ListPrivate(ctx context.Context, userA, userB int64) ([]*Private, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Private
	for _, m := range s.private {
		if samePair(m, userA, userB) {
			c := *m
			out = append(out, &c)
		}
	}
	return out, nil
}

// Conversations returns counterpart usernames ordered by most recent message.
func (s *MemoryStore) Conversations(ctx context.Context, userID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]time.Time)
	for _, m := range s.private {
		var other string
		switch userID {
		case m.SenderID:
			other = m.Recipient
		case m.RecipientID:
			other = m.Sender
		default:
			continue
		}
		if m.CreatedAt.After(latest[other]) {
			latest[other] = m.CreatedAt
		}
	}

	names := make([]string, 0, len(latest))
	for name := range latest {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return latest[names[i]].After(latest[names[j]])
	})
	return names, nil
}

// ClearPublic drops the entire public history.
func (s *MemoryStore) ClearPublic(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.public = nil
	return nil
}

// DeleteConversation removes all messages between two users.
func (s *MemoryStore) DeleteConversation(ctx context.Context, userA, userB int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.private[:0]
	for _, m := range s.private {
		if !samePair(m, userA, userB) {
			kept = append(kept, m)
		}
	}
	s.private = kept
	return nil
}

// samePair reports whether the message was exchanged between the two users,
// in either direction.
func samePair(m *Private, userA, userB int64) bool {
	return (m.SenderID == userA && m.RecipientID == userB) ||
		(m.SenderID == userB && m.RecipientID == userA)
}
