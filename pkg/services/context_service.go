package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openloop-dev/openloop/pkg/models"
)

// ContextService manages captured and pinned context items.
type ContextService struct {
	db *sql.DB
}

// NewContextService creates a new ContextService.
func NewContextService(db *sql.DB) *ContextService {
	return &ContextService{db: db}
}

// UpsertByRef inserts a context item or, when (session, kind, content_ref)
// already exists, refreshes its title. Pinned state and cached summaries
// survive re-capture.
func (s *ContextService) UpsertByRef(ctx context.Context, sessionID, kind, title, contentRef string) (*models.ContextItem, error) {
	switch kind {
	case models.ContextKindDoc, models.ContextKindFile, models.ContextKindWeb:
	default:
		return nil, NewValidationError("kind", "must be doc, file, or web")
	}
	if contentRef == "" {
		return nil, NewValidationError("content_ref", "required")
	}

	item := &models.ContextItem{
		ID:         models.NewContextItemID(),
		SessionID:  sessionID,
		Kind:       kind,
		Title:      title,
		ContentRef: contentRef,
		CreatedAt:  nowUTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO context_items (id, session_id, kind, title, content_ref, pinned, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?)
		 ON CONFLICT(session_id, kind, content_ref) DO UPDATE SET title = excluded.title`,
		item.ID, item.SessionID, item.Kind, item.Title, item.ContentRef, formatTime(item.CreatedAt))
	if err != nil {
		if isForeignKeyError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to upsert context item: %w", err)
	}
	return s.GetByRef(ctx, sessionID, kind, contentRef)
}

// GetByRef returns the item addressed by its natural key.
func (s *ContextService) GetByRef(ctx context.Context, sessionID, kind, contentRef string) (*models.ContextItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, kind, title, content_ref, pinned, summary, summary_sha256, created_at
		 FROM context_items WHERE session_id = ? AND kind = ? AND content_ref = ?`,
		sessionID, kind, contentRef)
	return scanContextItem(row)
}

// Get returns one item by id.
func (s *ContextService) Get(ctx context.Context, sessionID, id string) (*models.ContextItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, kind, title, content_ref, pinned, summary, summary_sha256, created_at
		 FROM context_items WHERE session_id = ? AND id = ?`, sessionID, id)
	return scanContextItem(row)
}

// List returns a session's context items, pinned first.
func (s *ContextService) List(ctx context.Context, sessionID string) ([]*models.ContextItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, kind, title, content_ref, pinned, summary, summary_sha256, created_at
		 FROM context_items WHERE session_id = ? ORDER BY pinned DESC, created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list context items: %w", err)
	}
	defer rows.Close()

	var items []*models.ContextItem
	for rows.Next() {
		item, err := scanContextItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListPinned returns only pinned items, oldest first.
func (s *ContextService) ListPinned(ctx context.Context, sessionID string) ([]*models.ContextItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, kind, title, content_ref, pinned, summary, summary_sha256, created_at
		 FROM context_items WHERE session_id = ? AND pinned = 1 ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pinned items: %w", err)
	}
	defer rows.Close()

	var items []*models.ContextItem
	for rows.Next() {
		item, err := scanContextItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SetPinned flips the pinned flag on one item.
func (s *ContextService) SetPinned(ctx context.Context, sessionID, id string, pinned bool) error {
	val := 0
	if pinned {
		val = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE context_items SET pinned = ? WHERE session_id = ? AND id = ?`,
		val, sessionID, id)
	if err != nil {
		return fmt.Errorf("failed to set pinned flag: %w", err)
	}
	return requireAffected(res)
}

// SetSummary caches an LLM summary keyed by the content hash it was built
// from.
func (s *ContextService) SetSummary(ctx context.Context, sessionID, id, summary, contentSHA string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE context_items SET summary = ?, summary_sha256 = ? WHERE session_id = ? AND id = ?`,
		summary, contentSHA, sessionID, id)
	if err != nil {
		return fmt.Errorf("failed to set context summary: %w", err)
	}
	return requireAffected(res)
}

func scanContextItem(row rowScanner) (*models.ContextItem, error) {
	var item models.ContextItem
	var pinned int
	var createdAt string
	err := row.Scan(&item.ID, &item.SessionID, &item.Kind, &item.Title, &item.ContentRef,
		&pinned, &item.Summary, &item.SummarySHA256, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan context item: %w", err)
	}
	item.Pinned = pinned != 0
	item.CreatedAt = parseTime(createdAt)
	return &item, nil
}
