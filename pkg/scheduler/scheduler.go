// Package scheduler admits turns one-per-session, tracks running turn
// handles, and owns cancellation and session teardown.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/openloop-dev/openloop/pkg/agent"
	"github.com/openloop-dev/openloop/pkg/models"
	"github.com/openloop-dev/openloop/pkg/permissions"
	"github.com/openloop-dev/openloop/pkg/services"
)

// deleteDrainTimeout bounds how long DeleteSession waits for a cancelled
// turn to unwind before deleting its rows.
const deleteDrainTimeout = 5 * time.Second

// Deps wires the scheduler's collaborators.
type Deps struct {
	Runner   *agent.Runner
	Sessions *services.SessionService
	Turns    *services.TurnService
	Gate     *permissions.Gate
	Logger   *slog.Logger
}

// Scheduler enforces at-most-one active turn per session.
type Scheduler struct {
	runner   *agent.Runner
	sessions *services.SessionService
	turns    *services.TurnService
	gate     *permissions.Gate
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]*turnHandle
}

type turnHandle struct {
	turnID string
	cancel context.CancelFunc
	done   chan struct{}
}

func (h *turnHandle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// New creates a scheduler.
func New(d Deps) *Scheduler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   d.Runner,
		sessions: d.Sessions,
		turns:    d.Turns,
		gate:     d.Gate,
		logger:   logger,
		running:  map[string]*turnHandle{},
	}
}

// StartTurn admits one turn: persists the user message, creates the turn
// row, and launches the runner. A session with an unfinished turn is busy.
func (s *Scheduler) StartTurn(ctx context.Context, sessionID, userText string) (*models.Turn, error) {
	if userText == "" {
		return nil, services.NewValidationError("content", "required")
	}
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	handle := &turnHandle{done: make(chan struct{})}
	s.mu.Lock()
	if existing, ok := s.running[sessionID]; ok && !existing.finished() {
		s.mu.Unlock()
		return nil, services.ErrSessionBusy
	}
	s.running[sessionID] = handle
	s.mu.Unlock()

	turn, err := s.admit(ctx, sessionID, userText)
	if err != nil {
		s.unregister(sessionID, handle)
		close(handle.done)
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	handle.turnID = turn.ID
	handle.cancel = cancel
	s.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			close(handle.done)
			s.unregister(sessionID, handle)
		}()
		s.runTurn(runCtx, sessionID, turn.ID, userText)
	}()

	return turn, nil
}

// admit persists the user message, touches the session, creates the turn,
// and fires title generation for the session's first user message.
func (s *Scheduler) admit(ctx context.Context, sessionID, userText string) (*models.Turn, error) {
	if _, err := s.sessions.AddMessage(ctx, sessionID, models.RoleUser, userText); err != nil {
		return nil, err
	}
	if err := s.sessions.TouchSession(ctx, sessionID); err != nil {
		s.logger.Warn("Failed to touch session", "session_id", sessionID, "error", err)
	}
	turn, err := s.turns.CreateTurn(ctx, sessionID, userText)
	if err != nil {
		return nil, err
	}

	count, err := s.sessions.CountUserMessages(ctx, sessionID)
	if err != nil {
		s.logger.Warn("Failed to count user messages", "session_id", sessionID, "error", err)
	} else if count == 1 {
		go s.runner.GenerateTitle(context.Background(), sessionID, userText)
	}
	return turn, nil
}

func (s *Scheduler) runTurn(ctx context.Context, sessionID, turnID, userText string) {
	text, err := s.runner.RunTurn(ctx, sessionID, turnID, userText)
	if err != nil {
		if errors.Is(err, agent.ErrCancelled) {
			s.logger.Info("Turn cancelled", "session_id", sessionID, "turn_id", turnID)
		} else {
			s.logger.Error("Turn failed", "session_id", sessionID, "turn_id", turnID, "error", err)
		}
		return
	}

	bg := context.Background()
	if text != "" {
		if _, err := s.sessions.AddMessage(bg, sessionID, models.RoleAssistant, text); err != nil {
			s.logger.Error("Failed to persist assistant message", "session_id", sessionID, "error", err)
		}
	}
	if err := s.sessions.TouchSession(bg, sessionID); err != nil {
		s.logger.Warn("Failed to touch session", "session_id", sessionID, "error", err)
	}
}

// Cancel requests cancellation of the session's running turn. The handle
// fields are written under s.mu in StartTurn, so they must be read under
// the same lock.
func (s *Scheduler) Cancel(sessionID string) error {
	cancel := s.activeCancel(sessionID)
	if cancel == nil {
		return services.ErrNotFound
	}
	cancel()
	return nil
}

// activeCancel returns the cancel func of the session's unfinished turn,
// nil when there is none or the turn is still being admitted.
func (s *Scheduler) activeCancel(sessionID string) context.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle, ok := s.running[sessionID]
	if !ok || handle.finished() {
		return nil
	}
	return handle.cancel
}

// Running reports whether the session has an active turn, and its id.
func (s *Scheduler) Running(sessionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle, ok := s.running[sessionID]
	if !ok || handle.finished() {
		return "", false
	}
	return handle.turnID, true
}

// DeleteSession cancels any running turn, waits for it to unwind, then
// deletes the session and its in-memory permission overrides.
func (s *Scheduler) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	handle, ok := s.running[sessionID]
	var cancel context.CancelFunc
	if ok && !handle.finished() {
		cancel = handle.cancel
	}
	s.mu.Unlock()
	if ok && !handle.finished() {
		if cancel != nil {
			cancel()
		}
		select {
		case <-handle.done:
		case <-time.After(deleteDrainTimeout):
			s.logger.Warn("Timed out waiting for turn to stop", "session_id", sessionID)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	s.gate.ForgetSession(sessionID)
	return nil
}

func (s *Scheduler) unregister(sessionID string, handle *turnHandle) {
	s.mu.Lock()
	if s.running[sessionID] == handle {
		delete(s.running, sessionID)
	}
	s.mu.Unlock()
}
