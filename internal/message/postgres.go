package message

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists messages in the messages and private_messages
// tables. Serial ids plus the database clock give the monotonic id and
// timestamp ordering guarantees.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a message store backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// AppendPublic inserts a public message and returns the assigned id and
// server timestamp.
func (s *PostgresStore) AppendPublic(ctx context.Context, author Party, text string) (*Public, error) {
	msg := &Public{
		AuthorID: author.ID,
		Username: author.Username,
		Text:     text,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (user_id, text)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, author.ID, text).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("message: append public: %w", err)
	}
	return msg, nil
}

// AppendPrivate inserts a direct message.
func (s *PostgresStore) AppendPrivate(ctx context.Context, sender, recipient Party, text string) (*Private, error) {
	msg := &Private{
		SenderID:    sender.ID,
		RecipientID: recipient.ID,
		Sender:      sender.Username,
		Recipient:   recipient.Username,
		Text:        text,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO private_messages (sender_id, recipient_id, text)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, sender.ID, recipient.ID, text).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("message: append private: %w", err)
	}
	return msg, nil
}

// ListPublic returns the full public history, oldest first.
func (s *PostgresStore) ListPublic(ctx context.Context) ([]*Public, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.user_id, u.username, m.text, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.user_id
		ORDER BY m.created_at ASC, m.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("message: list public: %w", err)
	}
	defer rows.Close()

	var out []*Public
	for rows.Next() {
		m := &Public{}
		if err := rows.Scan(&m.ID, &m.AuthorID, &m.Username, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("message: scan public: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: list public: %w", err)
	}
	return out, nil
}

// ListPrivate returns the conversation between two users, oldest first.
func (s *PostgresStore) ListPrivate(ctx context.Context, userA, userB int64) ([]*Private, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pm.id, pm.sender_id, pm.recipient_id, su.username, ru.username, pm.text, pm.created_at
		FROM private_messages pm
		JOIN users su ON su.id = pm.sender_id
		JOIN users ru ON ru.id = pm.recipient_id
		WHERE (pm.sender_id = $1 AND pm.recipient_id = $2)
		   OR (pm.sender_id = $2 AND pm.recipient_id = $1)
		ORDER BY pm.created_at ASC, pm.id ASC
	`, userA, userB)
	if err != nil {
		return nil, fmt.Errorf("message: list private: %w", err)
	}
	defer rows.Close()

	var out []*Private
	for rows.Next() {
		m := &Private{}
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Sender, &m.Recipient, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("message: scan private: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: list private: %w", err)
	}
	return out, nil
}

// Conversations returns counterpart usernames ordered by most recent message.
func (s *PostgresStore) Conversations(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.username, MAX(pm.created_at) AS last_at
		FROM private_messages pm
		JOIN users u ON u.id = CASE
			WHEN pm.sender_id = $1 THEN pm.recipient_id
			ELSE pm.sender_id
		END
		WHERE pm.sender_id = $1 OR pm.recipient_id = $1
		GROUP BY u.username
		ORDER BY last_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("message: conversations: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		var lastAt time.Time
		if err := rows.Scan(&name, &lastAt); err != nil {
			return nil, fmt.Errorf("message: scan conversation: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: conversations: %w", err)
	}
	return names, nil
}

// ClearPublic drops the entire public history.
func (s *PostgresStore) ClearPublic(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("message: clear public: %w", err)
	}
	return nil
}

// DeleteConversation removes all messages between two users.
func (s *PostgresStore) DeleteConversation(ctx context.Context, userA, userB int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM private_messages
		WHERE (sender_id = $1 AND recipient_id = $2)
		   OR (sender_id = $2 AND recipient_id = $1)
	`, userA, userB)
	if err != nil {
		return fmt.Errorf("message: delete conversation: %w", err)
	}
	return nil
}
