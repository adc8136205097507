package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openloop-dev/openloop/pkg/models"
)

// TurnService manages turns and their steps.
type TurnService struct {
	db *sql.DB
}

// NewTurnService creates a new TurnService.
func NewTurnService(db *sql.DB) *TurnService {
	return &TurnService{db: db}
}

// CreateTurn inserts a turn for one user submission.
func (s *TurnService) CreateTurn(ctx context.Context, sessionID, userText string) (*models.Turn, error) {
	turn := &models.Turn{
		ID:        models.NewTurnID(),
		SessionID: sessionID,
		UserText:  userText,
		CreatedAt: nowUTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, user_text, created_at) VALUES (?, ?, ?, ?)`,
		turn.ID, turn.SessionID, turn.UserText, formatTime(turn.CreatedAt))
	if err != nil {
		if isForeignKeyError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to create turn: %w", err)
	}
	return turn, nil
}

// GetTurn returns one turn by id.
func (s *TurnService) GetTurn(ctx context.Context, id string) (*models.Turn, error) {
	var turn models.Turn
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, user_text, created_at FROM turns WHERE id = ?`, id).
		Scan(&turn.ID, &turn.SessionID, &turn.UserText, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get turn: %w", err)
	}
	turn.CreatedAt = parseTime(createdAt)
	return &turn, nil
}

// ListTurns returns a session's turns in creation order.
func (s *TurnService) ListTurns(ctx context.Context, sessionID string) ([]*models.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, user_text, created_at FROM turns
		 WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	var turns []*models.Turn
	for rows.Next() {
		var turn models.Turn
		var createdAt string
		if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.UserText, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn.CreatedAt = parseTime(createdAt)
		turns = append(turns, &turn)
	}
	return turns, rows.Err()
}

// CreateStep inserts a step in running state.
func (s *TurnService) CreateStep(ctx context.Context, turnID string, idx int) (*models.Step, error) {
	step := &models.Step{
		ID:        models.NewStepID(),
		TurnID:    turnID,
		Idx:       idx,
		Status:    models.StepRunning,
		StartedAt: nowUTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO steps (id, turn_id, idx, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		step.ID, step.TurnID, step.Idx, step.Status, formatTime(step.StartedAt))
	if err != nil {
		if isForeignKeyError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to create step: %w", err)
	}
	return step, nil
}

// FinishStep marks a step completed or error.
func (s *TurnService) FinishStep(ctx context.Context, stepID, status string) error {
	if status != models.StepCompleted && status != models.StepError {
		return NewValidationError("status", "must be completed or error")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE steps SET status = ?, finished_at = ? WHERE id = ?`,
		status, formatTime(nowUTC()), stepID)
	if err != nil {
		return fmt.Errorf("failed to finish step: %w", err)
	}
	return requireAffected(res)
}

// ListSteps returns a turn's steps ordered by idx.
func (s *TurnService) ListSteps(ctx context.Context, turnID string) ([]*models.Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, turn_id, idx, status, started_at, finished_at FROM steps
		 WHERE turn_id = ? ORDER BY idx`, turnID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var steps []*models.Step
	for rows.Next() {
		var step models.Step
		var startedAt string
		var finishedAt sql.NullString
		if err := rows.Scan(&step.ID, &step.TurnID, &step.Idx, &step.Status, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		step.StartedAt = parseTime(startedAt)
		if finishedAt.Valid {
			t := parseTime(finishedAt.String)
			step.FinishedAt = &t
		}
		steps = append(steps, &step)
	}
	return steps, rows.Err()
}

// NextStepIdx returns one past the highest idx used so far in a turn.
func (s *TurnService) NextStepIdx(ctx context.Context, turnID string) (int, error) {
	var idx int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(idx), -1) + 1 FROM steps WHERE turn_id = ?`, turnID).Scan(&idx)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next step idx: %w", err)
	}
	return idx, nil
}
