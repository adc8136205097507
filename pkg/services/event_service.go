package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openloop-dev/openloop/pkg/models"
)

// seqInsertRetries bounds retries when two allocators race on the same
// session despite the immediate transaction lock.
const seqInsertRetries = 3

// EventService owns the append-only event log. Seq values are dense and
// monotonic per session, starting at 1; id is globally monotonic.
type EventService struct {
	db *sql.DB
}

// NewEventService creates a new EventService.
func NewEventService(db *sql.DB) *EventService {
	return &EventService{db: db}
}

// InsertEvent appends one event, allocating the next per-session seq inside
// a write-locked transaction. payload must marshal to JSON.
func (s *EventService) InsertEvent(ctx context.Context, sessionID, turnID, stepID, eventType string, ts time.Time, payload any) (*models.Event, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	if eventType == "" {
		return nil, NewValidationError("type", "required")
	}

	raw := []byte("{}")
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event payload: %w", err)
		}
	}
	if ts.IsZero() {
		ts = nowUTC()
	}
	tsSecs := epochSeconds(ts)

	var lastErr error
	for attempt := 0; attempt < seqInsertRetries; attempt++ {
		event, err := s.tryInsert(ctx, sessionID, turnID, stepID, eventType, tsSecs, raw)
		if err == nil {
			return event, nil
		}
		if !isUniqueError(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to allocate event seq after %d attempts: %w", seqInsertRetries, lastErr)
}

func (s *EventService) tryInsert(ctx context.Context, sessionID, turnID, stepID, eventType string, ts float64, payload []byte) (*models.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE session_id = ?`, sessionID).Scan(&seq); err != nil {
		return nil, fmt.Errorf("failed to allocate seq: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (session_id, turn_id, step_id, seq, ts, type, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, turnID, stepID, seq, ts, eventType, string(payload))
	if err != nil {
		if isForeignKeyError(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read event id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit event: %w", err)
	}

	return &models.Event{
		ID:        id,
		Seq:       seq,
		Ts:        ts,
		Type:      eventType,
		SessionID: sessionID,
		TurnID:    turnID,
		StepID:    stepID,
		Payload:   payload,
	}, nil
}

// EventsSince returns events with id > sinceID, optionally filtered by
// session, ordered by id ascending.
func (s *EventService) EventsSince(ctx context.Context, sessionID string, sinceID int64, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 500
	}
	var (
		rows *sql.Rows
		err  error
	)
	if sessionID != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, session_id, turn_id, step_id, seq, ts, type, payload FROM events
			 WHERE session_id = ? AND id > ? ORDER BY id LIMIT ?`, sessionID, sinceID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, session_id, turn_id, step_id, seq, ts, type, payload FROM events
			 WHERE id > ? ORDER BY id LIMIT ?`, sinceID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// SessionEventsSince returns a session's events after the given global id or,
// when sinceSeq >= 0, after the given per-session seq. Ordered by id.
func (s *EventService) SessionEventsSince(ctx context.Context, sessionID string, sinceID, sinceSeq int64, limit int) ([]*models.Event, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	if limit <= 0 {
		limit = 500
	}
	var (
		rows *sql.Rows
		err  error
	)
	if sinceSeq >= 0 {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, session_id, turn_id, step_id, seq, ts, type, payload FROM events
			 WHERE session_id = ? AND seq > ? ORDER BY id LIMIT ?`, sessionID, sinceSeq, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, session_id, turn_id, step_id, seq, ts, type, payload FROM events
			 WHERE session_id = ? AND id > ? ORDER BY id LIMIT ?`, sessionID, sinceID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// LatestEventID returns the highest global event id, 0 when the log is empty.
func (s *EventService) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM events`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to query latest event id: %w", err)
	}
	return id, nil
}

func scanEvents(rows *sql.Rows) ([]*models.Event, error) {
	var events []*models.Event
	for rows.Next() {
		var ev models.Event
		var payload string
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.TurnID, &ev.StepID, &ev.Seq, &ev.Ts, &ev.Type, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Payload = json.RawMessage(payload)
		events = append(events, &ev)
	}
	return events, rows.Err()
}
