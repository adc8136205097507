package permissions

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openloop-dev/openloop/pkg/database"
	"github.com/openloop-dev/openloop/pkg/models"
	"github.com/openloop-dev/openloop/pkg/services"
)

func newTestGate(t *testing.T, cfg Config) (*Gate, *services.PermissionService, string) {
	t.Helper()
	dbCfg := database.DefaultConfig(filepath.Join(t.TempDir(), "test.db"))
	client, err := database.NewClient(context.Background(), dbCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	sess, err := services.NewSessionService(client.DB()).CreateSession(context.Background(), "gate test")
	require.NoError(t, err)

	svc := services.NewPermissionService(client.DB())
	return NewGate(svc, cfg), svc, sess.ID
}

func TestEffectivePolicyOrder(t *testing.T) {
	gate, svc, sessionID := newTestGate(t, Config{
		DefaultPolicy: models.PolicyAsk,
		ToolDisabled:  func(name string) bool { return name == "run_command" },
	})
	ctx := context.Background()

	// Disabled tool wins over everything.
	require.NoError(t, svc.SetPolicy(ctx, "run_command", models.PolicyAllow))
	policy, err := gate.EffectivePolicy(ctx, sessionID, "run_command")
	require.NoError(t, err)
	assert.Equal(t, models.PolicyDeny, policy)

	// Internal orchestration exemption.
	policy, err = gate.EffectivePolicy(ctx, sessionID, "spawn_subagent")
	require.NoError(t, err)
	assert.Equal(t, models.PolicyAllow, policy)

	// Configured default when nothing else matches.
	policy, err = gate.EffectivePolicy(ctx, sessionID, "write_file")
	require.NoError(t, err)
	assert.Equal(t, models.PolicyAsk, policy)

	// Durable policy beats the default.
	require.NoError(t, svc.SetPolicy(ctx, "write_file", models.PolicyAllow))
	policy, err = gate.EffectivePolicy(ctx, sessionID, "write_file")
	require.NoError(t, err)
	assert.Equal(t, models.PolicyAllow, policy)
}

func TestSessionOverrideBeatsDurablePolicy(t *testing.T) {
	gate, svc, sessionID := newTestGate(t, Config{DefaultPolicy: models.PolicyAsk})
	ctx := context.Background()

	require.NoError(t, svc.SetPolicy(ctx, "write_file", models.PolicyDeny))

	req, err := gate.CreateRequest(ctx, sessionID, "turn_1", "step_1", "write_file", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.NoError(t, gate.Resolve(ctx, req.ID, models.PermissionApproved, models.ScopeSession))

	policy, err := gate.EffectivePolicy(ctx, sessionID, "write_file")
	require.NoError(t, err)
	assert.Equal(t, models.PolicyAllow, policy)

	// Other sessions still see the durable deny.
	policy, err = gate.EffectivePolicy(ctx, "ses_other", "write_file")
	require.NoError(t, err)
	assert.Equal(t, models.PolicyDeny, policy)

	gate.ForgetSession(sessionID)
	policy, err = gate.EffectivePolicy(ctx, sessionID, "write_file")
	require.NoError(t, err)
	assert.Equal(t, models.PolicyDeny, policy)
}

func TestWaitResolveRoundTrip(t *testing.T) {
	gate, svc, sessionID := newTestGate(t, Config{DefaultPolicy: models.PolicyAsk})
	ctx := context.Background()

	req, err := gate.CreateRequest(ctx, sessionID, "turn_1", "step_1", "write_file", nil)
	require.NoError(t, err)

	done := make(chan Decision, 1)
	go func() {
		decision, err := gate.Wait(ctx, req.ID)
		require.NoError(t, err)
		done <- decision
	}()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, gate.Resolve(ctx, req.ID, models.PermissionApproved, models.ScopeOnce))

	select {
	case decision := <-done:
		assert.True(t, decision.Approved)
		assert.Equal(t, models.ScopeOnce, decision.Scope)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke")
	}

	got, err := svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PermissionApproved, got.Status)
}

func TestWaitTimeoutExpires(t *testing.T) {
	gate, svc, sessionID := newTestGate(t, Config{
		DefaultPolicy: models.PolicyAsk,
		Timeout:       20 * time.Millisecond,
	})
	ctx := context.Background()

	req, err := gate.CreateRequest(ctx, sessionID, "turn_1", "step_1", "write_file", nil)
	require.NoError(t, err)

	decision, err := gate.Wait(ctx, req.ID)
	require.NoError(t, err)
	assert.False(t, decision.Approved)
	assert.Equal(t, models.ScopeOnce, decision.Scope)

	got, err := svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PermissionExpired, got.Status)
}

func TestResolveAlwaysPersistsPolicy(t *testing.T) {
	gate, svc, sessionID := newTestGate(t, Config{DefaultPolicy: models.PolicyAsk})
	ctx := context.Background()

	req, err := gate.CreateRequest(ctx, sessionID, "turn_1", "step_1", "http_fetch", nil)
	require.NoError(t, err)
	require.NoError(t, gate.Resolve(ctx, req.ID, models.PermissionDenied, models.ScopeAlways))

	policy, err := svc.GetPolicy(ctx, "http_fetch")
	require.NoError(t, err)
	assert.Equal(t, models.PolicyDeny, policy)
}

func TestResolveValidation(t *testing.T) {
	gate, _, sessionID := newTestGate(t, Config{DefaultPolicy: models.PolicyAsk})
	ctx := context.Background()

	req, err := gate.CreateRequest(ctx, sessionID, "turn_1", "step_1", "write_file", nil)
	require.NoError(t, err)

	assert.True(t, services.IsValidationError(gate.Resolve(ctx, req.ID, "expired", models.ScopeOnce)))
	assert.ErrorIs(t, gate.Resolve(ctx, "pr_missing", models.PermissionApproved, models.ScopeOnce), services.ErrNotFound)
}

func TestSetMode(t *testing.T) {
	gate, svc, sessionID := newTestGate(t, Config{DefaultPolicy: models.PolicyAsk})
	ctx := context.Background()

	require.NoError(t, svc.SetPolicy(ctx, "write_file", models.PolicyDeny))
	require.NoError(t, gate.SetMode(ctx, models.PolicyAllow))

	assert.Equal(t, models.PolicyAllow, gate.Mode())

	// Durable policies were cleared, so the new default applies everywhere.
	policy, err := gate.EffectivePolicy(ctx, sessionID, "write_file")
	require.NoError(t, err)
	assert.Equal(t, models.PolicyAllow, policy)

	assert.True(t, services.IsValidationError(gate.SetMode(ctx, models.PolicyDeny)))
}
