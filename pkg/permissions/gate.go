// Package permissions implements the tool-permission gate: policy
// resolution, pending approval requests, and scope memory.
package permissions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openloop-dev/openloop/pkg/models"
	"github.com/openloop-dev/openloop/pkg/services"
)

// Decision is the outcome of one permission wait.
type Decision struct {
	Approved bool
	Scope    string
}

// Config holds gate configuration.
type Config struct {
	// DefaultPolicy applies when no override or durable policy matches.
	DefaultPolicy string
	// Timeout bounds how long a turn blocks on one approval.
	Timeout time.Duration
	// ToolDisabled reports configuration-level tool disablement.
	ToolDisabled func(name string) bool
}

// Gate evaluates tool policy and coordinates asynchronous approvals between
// the turn runner and the HTTP API.
type Gate struct {
	svc *services.PermissionService
	cfg Config

	mu sync.Mutex
	// defaultPolicy starts at cfg.DefaultPolicy and is rewritten by the
	// bulk permission-mode switch.
	defaultPolicy string
	// waiters maps request id to the channel its runner blocks on.
	waiters map[string]chan Decision
	// sessionOverrides holds session-scoped approvals: session -> tool -> policy.
	sessionOverrides map[string]map[string]string
}

// NewGate creates a gate.
func NewGate(svc *services.PermissionService, cfg Config) *Gate {
	if cfg.DefaultPolicy == "" {
		cfg.DefaultPolicy = models.PolicyAsk
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Gate{
		svc:              svc,
		cfg:              cfg,
		defaultPolicy:    cfg.DefaultPolicy,
		waiters:          map[string]chan Decision{},
		sessionOverrides: map[string]map[string]string{},
	}
}

// EffectivePolicy resolves the policy for one (session, tool) pair. First
// match wins: disabled tool, internal orchestration exemption, session
// override, durable policy, configured default.
func (g *Gate) EffectivePolicy(ctx context.Context, sessionID, toolName string) (string, error) {
	if g.cfg.ToolDisabled != nil && g.cfg.ToolDisabled(toolName) {
		return models.PolicyDeny, nil
	}
	if toolName == "spawn_subagent" {
		return models.PolicyAllow, nil
	}

	g.mu.Lock()
	if tools, ok := g.sessionOverrides[sessionID]; ok {
		if policy, ok := tools[toolName]; ok {
			g.mu.Unlock()
			return policy, nil
		}
	}
	defaultPolicy := g.defaultPolicy
	g.mu.Unlock()

	policy, err := g.svc.GetPolicy(ctx, toolName)
	if err != nil {
		return "", err
	}
	if policy != "" {
		return policy, nil
	}
	return defaultPolicy, nil
}

// CreateRequest persists a pending request and registers its completion
// channel.
func (g *Gate) CreateRequest(ctx context.Context, sessionID, turnID, stepID, toolName string, input json.RawMessage) (*models.PermissionRequest, error) {
	req, err := g.svc.CreateRequest(ctx, sessionID, turnID, stepID, toolName, input)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.waiters[req.ID] = make(chan Decision, 1)
	g.mu.Unlock()
	return req, nil
}

// Wait blocks until the request is resolved or the timeout elapses. On
// timeout the request is marked expired and the decision is a once-scoped
// denial.
func (g *Gate) Wait(ctx context.Context, requestID string) (Decision, error) {
	g.mu.Lock()
	ch, ok := g.waiters[requestID]
	g.mu.Unlock()
	if !ok {
		return Decision{}, fmt.Errorf("unknown permission request %s", requestID)
	}
	defer func() {
		g.mu.Lock()
		delete(g.waiters, requestID)
		g.mu.Unlock()
	}()

	timer := time.NewTimer(g.cfg.Timeout)
	defer timer.Stop()

	select {
	case decision := <-ch:
		return decision, nil
	case <-timer.C:
		if err := g.svc.ResolveRequest(ctx, requestID, models.PermissionExpired, models.ScopeOnce); err != nil {
			slog.Warn("Failed to expire permission request", "request_id", requestID, "error", err)
		}
		return Decision{Approved: false, Scope: models.ScopeOnce}, nil
	case <-ctx.Done():
		return Decision{Approved: false, Scope: models.ScopeOnce}, ctx.Err()
	}
}

// Resolve records a decision from the UI, applies scope memory, and wakes
// the waiting runner. Status must be approved or denied.
func (g *Gate) Resolve(ctx context.Context, requestID, status, scope string) error {
	if status != models.PermissionApproved && status != models.PermissionDenied {
		return services.NewValidationError("status", "must be approved or denied")
	}

	req, err := g.svc.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if err := g.svc.ResolveRequest(ctx, requestID, status, scope); err != nil {
		return err
	}

	approved := status == models.PermissionApproved
	policy := models.PolicyDeny
	if approved {
		policy = models.PolicyAllow
	}

	switch scope {
	case models.ScopeAlways:
		if err := g.svc.SetPolicy(ctx, req.ToolName, policy); err != nil {
			return err
		}
	case models.ScopeSession:
		g.mu.Lock()
		if g.sessionOverrides[req.SessionID] == nil {
			g.sessionOverrides[req.SessionID] = map[string]string{}
		}
		g.sessionOverrides[req.SessionID][req.ToolName] = policy
		g.mu.Unlock()
	}

	g.mu.Lock()
	ch, ok := g.waiters[requestID]
	g.mu.Unlock()
	if ok {
		ch <- Decision{Approved: approved, Scope: scope}
	}
	return nil
}

// Pending lists a session's unresolved requests.
func (g *Gate) Pending(ctx context.Context, sessionID string) ([]*models.PermissionRequest, error) {
	return g.svc.ListPending(ctx, sessionID)
}

// Policies lists the durable tool policies learned from always-scoped
// decisions.
func (g *Gate) Policies(ctx context.Context) ([]*models.ToolPolicy, error) {
	return g.svc.ListPolicies(ctx)
}

// ForgetSession drops the in-memory overrides of a deleted session.
func (g *Gate) ForgetSession(sessionID string) {
	g.mu.Lock()
	delete(g.sessionOverrides, sessionID)
	g.mu.Unlock()
}

// Mode returns the current default policy.
func (g *Gate) Mode() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.defaultPolicy
}

// SetMode bulk-switches the gate between ask and allow: the default policy
// is replaced and all durable policies and session overrides are cleared so
// the new mode applies uniformly.
func (g *Gate) SetMode(ctx context.Context, mode string) error {
	if mode != models.PolicyAsk && mode != models.PolicyAllow {
		return services.NewValidationError("mode", "must be ask or allow")
	}
	if err := g.svc.ClearPolicies(ctx); err != nil {
		return err
	}
	g.mu.Lock()
	g.defaultPolicy = mode
	g.sessionOverrides = map[string]map[string]string{}
	g.mu.Unlock()
	return nil
}
