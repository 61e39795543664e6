package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"
)

// reapInterval is how often expired rows are deleted.
const reapInterval = time.Hour

// PostgresManager persists sessions in the sessions table so logins
// survive a process restart.
type PostgresManager struct {
	db  *sql.DB
	ttl time.Duration
}

// NewPostgresManager creates a session manager backed by db with the
// given TTL and starts the expiry reaper.
func NewPostgresManager(db *sql.DB, ttl time.Duration) *PostgresManager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &PostgresManager{db: db, ttl: ttl}
	go m.reapLoop()
	return m
}

// Create inserts a new token for userID.
func (m *PostgresManager) Create(ctx context.Context, userID int64) (string, error) {
	token := generateToken()
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, time.Now().Add(m.ttl))
	if err != nil {
		return "", fmt.Errorf("session: create: %w", err)
	}
	return token, nil
}

// Resolve returns the user id for an unexpired token.
func (m *PostgresManager) Resolve(ctx context.Context, token string) (int64, error) {
	var userID int64
	err := m.db.QueryRowContext(ctx, `
		SELECT user_id FROM sessions
		WHERE token = $1 AND expires_at > now()
	`, token).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("session: resolve: %w", err)
	}
	return userID, nil
}

// Destroy deletes the token.
func (m *PostgresManager) Destroy(ctx context.Context, token string) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = $1`, token); err != nil {
		return fmt.Errorf("session: destroy: %w", err)
	}
	return nil
}

// reapLoop periodically deletes expired rows.
func (m *PostgresManager) reapLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := m.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < now()`); err != nil {
			log.Printf("session: reap failed: %v", err)
		}
		cancel()
	}
}
