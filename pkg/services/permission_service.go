package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openloop-dev/openloop/pkg/models"
)

// PermissionService persists permission requests and the durable global
// tool-policy table. The in-memory session overrides live in the gate.
type PermissionService struct {
	db *sql.DB
}

// NewPermissionService creates a new PermissionService.
func NewPermissionService(db *sql.DB) *PermissionService {
	return &PermissionService{db: db}
}

// CreateRequest inserts a pending permission request.
func (s *PermissionService) CreateRequest(ctx context.Context, sessionID, turnID, stepID, toolName string, input json.RawMessage) (*models.PermissionRequest, error) {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	req := &models.PermissionRequest{
		ID:        models.NewPermissionRequestID(),
		SessionID: sessionID,
		TurnID:    turnID,
		StepID:    stepID,
		ToolName:  toolName,
		Input:     input,
		Status:    models.PermissionPending,
		Scope:     models.ScopeOnce,
		CreatedAt: nowUTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO permission_requests (id, session_id, turn_id, step_id, tool_name, input, status, scope, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.SessionID, req.TurnID, req.StepID, req.ToolName, string(req.Input),
		req.Status, req.Scope, formatTime(req.CreatedAt))
	if err != nil {
		if isForeignKeyError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to create permission request: %w", err)
	}
	return req, nil
}

// GetRequest returns one permission request.
func (s *PermissionService) GetRequest(ctx context.Context, id string) (*models.PermissionRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, turn_id, step_id, tool_name, input, status, scope, created_at, resolved_at
		 FROM permission_requests WHERE id = ?`, id)
	return scanPermissionRequest(row)
}

// ResolveRequest updates a pending request's status and scope. Resolving an
// already resolved request fails with ErrNotFound so the API surfaces it as
// a client fault.
func (s *PermissionService) ResolveRequest(ctx context.Context, id, status, scope string) error {
	switch status {
	case models.PermissionApproved, models.PermissionDenied, models.PermissionExpired:
	default:
		return NewValidationError("status", "must be approved, denied, or expired")
	}
	switch scope {
	case models.ScopeOnce, models.ScopeSession, models.ScopeAlways:
	default:
		return NewValidationError("scope", "must be once, session, or always")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE permission_requests SET status = ?, scope = ?, resolved_at = ?
		 WHERE id = ? AND status = 'pending'`,
		status, scope, formatTime(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("failed to resolve permission request: %w", err)
	}
	return requireAffected(res)
}

// ListPending returns a session's unresolved requests, oldest first.
func (s *PermissionService) ListPending(ctx context.Context, sessionID string) ([]*models.PermissionRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, turn_id, step_id, tool_name, input, status, scope, created_at, resolved_at
		 FROM permission_requests WHERE session_id = ? AND status = 'pending'
		 ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending requests: %w", err)
	}
	defer rows.Close()

	var reqs []*models.PermissionRequest
	for rows.Next() {
		req, err := scanPermissionRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// GetPolicy returns the durable policy for one tool, "" if unset.
func (s *PermissionService) GetPolicy(ctx context.Context, toolName string) (string, error) {
	var policy string
	err := s.db.QueryRowContext(ctx,
		`SELECT policy FROM tool_policies WHERE tool_name = ?`, toolName).Scan(&policy)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get tool policy: %w", err)
	}
	return policy, nil
}

// SetPolicy upserts the durable policy for one tool.
func (s *PermissionService) SetPolicy(ctx context.Context, toolName, policy string) error {
	switch policy {
	case models.PolicyDeny, models.PolicyAsk, models.PolicyAllow:
	default:
		return NewValidationError("policy", "must be deny, ask, or allow")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_policies (tool_name, policy, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(tool_name) DO UPDATE SET policy = excluded.policy, updated_at = excluded.updated_at`,
		toolName, policy, formatTime(nowUTC()))
	if err != nil {
		return fmt.Errorf("failed to set tool policy: %w", err)
	}
	return nil
}

// ListPolicies returns every durable policy row.
func (s *PermissionService) ListPolicies(ctx context.Context) ([]*models.ToolPolicy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool_name, policy, updated_at FROM tool_policies ORDER BY tool_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool policies: %w", err)
	}
	defer rows.Close()

	var policies []*models.ToolPolicy
	for rows.Next() {
		var tp models.ToolPolicy
		var updatedAt string
		if err := rows.Scan(&tp.ToolName, &tp.Policy, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tool policy: %w", err)
		}
		tp.UpdatedAt = parseTime(updatedAt)
		policies = append(policies, &tp)
	}
	return policies, rows.Err()
}

// ClearPolicies removes every durable policy row. Used by the bulk
// permission-mode switch.
func (s *PermissionService) ClearPolicies(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tool_policies`); err != nil {
		return fmt.Errorf("failed to clear tool policies: %w", err)
	}
	return nil
}

// ListRequests returns every request of a session, oldest first.
func (s *PermissionService) ListRequests(ctx context.Context, sessionID string) ([]*models.PermissionRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, turn_id, step_id, tool_name, input, status, scope, created_at, resolved_at
		 FROM permission_requests WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list permission requests: %w", err)
	}
	defer rows.Close()

	var reqs []*models.PermissionRequest
	for rows.Next() {
		req, err := scanPermissionRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

func scanPermissionRequest(row rowScanner) (*models.PermissionRequest, error) {
	var req models.PermissionRequest
	var input, createdAt string
	var resolvedAt sql.NullString
	err := row.Scan(&req.ID, &req.SessionID, &req.TurnID, &req.StepID, &req.ToolName,
		&input, &req.Status, &req.Scope, &createdAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan permission request: %w", err)
	}
	req.Input = json.RawMessage(input)
	req.CreatedAt = parseTime(createdAt)
	if resolvedAt.Valid {
		t := parseTime(resolvedAt.String)
		req.ResolvedAt = &t
	}
	return &req, nil
}
