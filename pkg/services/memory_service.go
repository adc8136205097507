package services

import (
	"context"
	"database/sql"
	"fmt"
)

// MemoryService persists the global key-value memory the agent and the UI
// share across sessions.
type MemoryService struct {
	db *sql.DB
}

// NewMemoryService creates a new MemoryService.
func NewMemoryService(db *sql.DB) *MemoryService {
	return &MemoryService{db: db}
}

// Get returns the whole memory as a key-sorted map.
func (s *MemoryService) Get(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM memory ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query memory: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan memory entry: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

// Put upserts one entry.
func (s *MemoryService) Put(ctx context.Context, key, value string) error {
	if key == "" {
		return NewValidationError("key", "required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(nowUTC()))
	if err != nil {
		return fmt.Errorf("failed to put memory entry: %w", err)
	}
	return nil
}

// Delete removes one entry. ErrNotFound when the key does not exist.
func (s *MemoryService) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete memory entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
