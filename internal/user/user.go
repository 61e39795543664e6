package user

import (
	"context"
	"errors"
	"time"
)

// User represents a registered account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Email        string    `json:"email,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user: not found")

	// ErrDuplicate is returned when the username or email is already taken.
	ErrDuplicate = errors.New("user: already exists")
)

// Store is the interface for credential persistence backends.
type Store interface {
	// Create persists a new user. The password hash must already be
	// computed by the caller; the store never sees plaintext passwords.
	Create(ctx context.Context, username, passwordHash, email string) (*User, error)

	// ByName returns the user with the given username (case-sensitive).
	ByName(ctx context.Context, username string) (*User, error)

	// ByID returns the user with the given id.
	ByID(ctx context.Context, id int64) (*User, error)
}
