package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openloop-dev/openloop/pkg/models"
)

// TerminalService persists streamed stdout/stderr fragments from command
// tools.
type TerminalService struct {
	db *sql.DB
}

// NewTerminalService creates a new TerminalService.
func NewTerminalService(db *sql.DB) *TerminalService {
	return &TerminalService{db: db}
}

// AddChunk appends one stream fragment.
func (s *TerminalService) AddChunk(ctx context.Context, sessionID, turnID, stepID, toolCallID, stream, text string) (*models.TerminalChunk, error) {
	if stream != models.StreamStdout && stream != models.StreamStderr {
		return nil, NewValidationError("stream", "must be stdout or stderr")
	}
	ts := epochSeconds(nowUTC())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO terminal_chunks (session_id, turn_id, step_id, tool_call_id, stream, text, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, turnID, stepID, toolCallID, stream, text, ts)
	if err != nil {
		if isForeignKeyError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to add terminal chunk: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read terminal chunk id: %w", err)
	}
	return &models.TerminalChunk{
		ID:         id,
		SessionID:  sessionID,
		TurnID:     turnID,
		StepID:     stepID,
		ToolCallID: toolCallID,
		Stream:     stream,
		Text:       text,
		Ts:         ts,
	}, nil
}

// List returns a session's chunks in insertion order.
func (s *TerminalService) List(ctx context.Context, sessionID string) ([]*models.TerminalChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, turn_id, step_id, tool_call_id, stream, text, ts
		 FROM terminal_chunks WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list terminal chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*models.TerminalChunk
	for rows.Next() {
		var tc models.TerminalChunk
		if err := rows.Scan(&tc.ID, &tc.SessionID, &tc.TurnID, &tc.StepID, &tc.ToolCallID, &tc.Stream, &tc.Text, &tc.Ts); err != nil {
			return nil, fmt.Errorf("failed to scan terminal chunk: %w", err)
		}
		chunks = append(chunks, &tc)
	}
	return chunks, rows.Err()
}
