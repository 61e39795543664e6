package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// uniqueViolation is the Postgres error code for unique constraint failures.
const uniqueViolation = "23505"

// PostgresStore persists users in the users table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a credential store backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a new user and returns it with the assigned id.
func (s *PostgresStore) Create(ctx context.Context, username, passwordHash, email string) (*User, error) {
	u := &User{
		Username:     username,
		PasswordHash: passwordHash,
		Email:        email,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, email)
		VALUES ($1, $2, NULLIF($3, ''))
		RETURNING id, created_at
	`, username, passwordHash, email).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("user: create: %w", err)
	}
	return u, nil
}

// ByName returns the user with the given username.
func (s *PostgresStore) ByName(ctx context.Context, username string) (*User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, COALESCE(email, ''), created_at
		FROM users WHERE username = $1
	`, username))
}

// ByID returns the user with the given id.
func (s *PostgresStore) ByID(ctx context.Context, id int64) (*User, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, COALESCE(email, ''), created_at
		FROM users WHERE id = $1
	`, id))
}

func (s *PostgresStore) scanOne(row *sql.Row) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Email, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("user: query: %w", err)
	}
	return u, nil
}
