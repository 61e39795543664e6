// Package session maps opaque tokens to authenticated user ids. The same
// manager serves both the HTTP request path and the websocket handshake.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// DefaultTTL is the session lifetime applied when none is configured.
// The TTL is fixed at creation and not refreshed on use.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned when a token is absent or expired. Callers
// treat it as "unauthenticated", never as a server fault.
var ErrNotFound = errors.New("session: not found")

// Manager is the interface for session persistence backends.
type Manager interface {
	// Create generates a random token bound to userID for the manager's TTL.
	Create(ctx context.Context, userID int64) (string, error)

	// Resolve returns the user id bound to the token, or ErrNotFound.
	Resolve(ctx context.Context, token string) (int64, error)

	// Destroy invalidates the token. Destroying an unknown token is a no-op.
	Destroy(ctx context.Context, token string) error
}

// generateToken returns 32 hex characters of cryptographic randomness.
func generateToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
