package message

import (
	"context"
	"time"
)

// Public is a message visible to every connected user.
type Public struct {
	ID        int64     `json:"id"`
	AuthorID  int64     `json:"-"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Private is a direct message between two users.
type Private struct {
	ID          int64     `json:"id"`
	SenderID    int64     `json:"-"`
	RecipientID int64     `json:"-"`
	Sender      string    `json:"sender"`
	Recipient   string    `json:"recipient"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Party identifies one side of a message: a user id plus the username
// denormalized into the stored row for cheap history reads.
type Party struct {
	ID       int64
	Username string
}

// Store is the interface for message persistence backends.
//
// Ids assigned by Append calls are strictly increasing and unique, and
// the stored timestamp reflects real insertion order: two concurrent
// appends never race to produce ids out of timestamp order.
type Store interface {
	// AppendPublic durably stores a public message and returns it with
	// the assigned id and server timestamp.
	AppendPublic(ctx context.Context, author Party, text string) (*Public, error)

	// AppendPrivate durably stores a direct message between two users.
	AppendPrivate(ctx context.Context, sender, recipient Party, text string) (*Private, error)

	// ListPublic returns the full public history, timestamp ascending.
	ListPublic(ctx context.Context) ([]*Public, error)

	// ListPrivate returns all messages exchanged between the two users,
	// in either direction, timestamp ascending.
	ListPrivate(ctx context.Context, userA, userB int64) ([]*Private, error)

	// Conversations returns the usernames of everyone the user has
	// exchanged private messages with, most recent conversation first.
	Conversations(ctx context.Context, userID int64) ([]string, error)

	// ClearPublic removes the entire public history.
	ClearPublic(ctx context.Context) error

	// DeleteConversation removes every private message between the two
	// users, in both directions. Other conversations are untouched.
	DeleteConversation(ctx context.Context, userA, userB int64) error
}
