package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openloop-dev/openloop/pkg/models"
)

// SessionService manages session rows and the conversation history.
type SessionService struct {
	db *sql.DB
}

// NewSessionService creates a new SessionService.
func NewSessionService(db *sql.DB) *SessionService {
	return &SessionService{db: db}
}

// CreateSession inserts a new session. An empty title is allowed; the
// auto-title task fills it in after the first user message.
func (s *SessionService) CreateSession(ctx context.Context, title string) (*models.Session, error) {
	now := nowUTC()
	sess := &models.Session{
		ID:        models.NewSessionID(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, model_override, created_at, updated_at) VALUES (?, ?, '', ?, ?)`,
		sess.ID, sess.Title, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// GetSession returns one session by id.
func (s *SessionService) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, model_override, created_at, updated_at FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// ListSessions returns all sessions, most recently updated first.
func (s *SessionService) ListSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, model_override, created_at, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// RenameSession updates the session title.
func (s *SessionService) RenameSession(ctx context.Context, id, title string) error {
	if title == "" {
		return NewValidationError("title", "required")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`,
		title, formatTime(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("failed to rename session: %w", err)
	}
	return requireAffected(res)
}

// SetTitleIfEmpty sets the title only when it is still blank. Used by the
// best-effort auto-title task so a concurrent manual rename wins.
func (s *SessionService) SetTitleIfEmpty(ctx context.Context, id, title string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ? WHERE id = ? AND title = ''`, title, id)
	if err != nil {
		return fmt.Errorf("failed to set session title: %w", err)
	}
	return nil
}

// TouchSession bumps updated_at.
func (s *SessionService) TouchSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, formatTime(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return requireAffected(res)
}

// DeleteSession removes a session and, through foreign keys, every owned row.
func (s *SessionService) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return requireAffected(res)
}

// GetModelOverride returns the per-session model override, empty if unset.
func (s *SessionService) GetModelOverride(ctx context.Context, id string) (string, error) {
	var override string
	err := s.db.QueryRowContext(ctx,
		`SELECT model_override FROM sessions WHERE id = ?`, id).Scan(&override)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get model override: %w", err)
	}
	return override, nil
}

// SetModelOverride sets or clears (empty string) the per-session model.
func (s *SessionService) SetModelOverride(ctx context.Context, id, model string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET model_override = ?, updated_at = ? WHERE id = ?`,
		model, formatTime(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("failed to set model override: %w", err)
	}
	return requireAffected(res)
}

// AddMessage appends one history entry.
func (s *SessionService) AddMessage(ctx context.Context, sessionID, role, content string) (*models.Message, error) {
	msg := &models.Message{
		ID:        models.NewMessageID(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: nowUTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, formatTime(msg.CreatedAt))
	if err != nil {
		if isForeignKeyError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to add message: %w", err)
	}
	return msg, nil
}

// ListMessages returns the session history in insertion order.
func (s *SessionService) ListMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM messages
		 WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		var m models.Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.CreatedAt = parseTime(createdAt)
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// CountUserMessages returns the number of user-role messages in a session.
func (s *SessionService) CountUserMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ? AND role = 'user'`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count user messages: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var createdAt, updatedAt string
	err := row.Scan(&sess.ID, &sess.Title, &sess.ModelOverride, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	return &sess, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
