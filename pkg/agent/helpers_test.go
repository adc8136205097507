package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openloop-dev/openloop/pkg/config"
	"github.com/openloop-dev/openloop/pkg/database"
	"github.com/openloop-dev/openloop/pkg/events"
	"github.com/openloop-dev/openloop/pkg/llm"
	"github.com/openloop-dev/openloop/pkg/models"
	"github.com/openloop-dev/openloop/pkg/permissions"
	"github.com/openloop-dev/openloop/pkg/services"
	"github.com/openloop-dev/openloop/pkg/tools"
)

// scriptedClient replays a fixed sequence of results. Stream and Complete
// consume the same queue; Stream additionally emits chunks derived from the
// result so the runner's event plumbing is exercised.
type scriptedClient struct {
	mu        sync.Mutex
	results   []*llm.Result
	streamErr error // returned by every Stream call when set
	requests  []llm.Request
	block     bool // block until context cancellation
}

func (c *scriptedClient) pop(req llm.Request) *llm.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if len(c.results) == 0 {
		return &llm.Result{Text: "(script exhausted)", FinishReason: "stop"}
	}
	r := c.results[0]
	c.results = c.results[1:]
	return r
}

func (c *scriptedClient) Stream(ctx context.Context, req llm.Request, emit func(llm.Chunk)) (*llm.Result, error) {
	if c.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if c.streamErr != nil {
		return nil, c.streamErr
	}
	result := c.pop(req)
	if result.Text != "" {
		emit(llm.TextChunk{Text: result.Text})
	}
	for i, tc := range result.ToolCalls {
		emit(llm.ToolCallChunk{Index: i, ID: tc.ID, Name: tc.Name, ArgumentsFragment: tc.Arguments})
	}
	emit(llm.FinishChunk{Reason: result.FinishReason})
	return result, nil
}

func (c *scriptedClient) Complete(ctx context.Context, req llm.Request) (*llm.Result, error) {
	if c.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return c.pop(req), nil
}

type testEnv struct {
	runner   *Runner
	client   *scriptedClient
	cfg      *config.Config
	bus      *events.Bus
	gate     *permissions.Gate
	sandbox  *tools.Sandbox
	sessions *services.SessionService
	turns    *services.TurnService
	files    *services.FileService
	contexts *services.ContextService
	eventSvc *services.EventService
}

func newTestEnv(t *testing.T, client *scriptedClient, mutate func(*config.Config)) *testEnv {
	t.Helper()

	db, err := database.NewClient(context.Background(), database.DefaultConfig(filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sandbox, err := tools.NewSandbox(t.TempDir())
	require.NoError(t, err)

	cfg := &config.Config{
		DefaultModel:          "test-model",
		MaxTokens:             1024,
		Temperature:           0.5,
		MaxIterations:         5,
		SubagentMaxIterations: 3,
		MaxHistoryMessages:    20,
		SummaryTriggerBytes:   4000,
		TitleMaxChars:         48,
		ToolPolicyDefault:     models.PolicyAllow,
		PermissionTimeout:     200 * time.Millisecond,
		ToolOutputEventLimit:  2000,
		EnableRunCommand:      true,
	}
	if mutate != nil {
		mutate(cfg)
	}

	sessions := services.NewSessionService(db.DB())
	turns := services.NewTurnService(db.DB())
	files := services.NewFileService(db.DB())
	contexts := services.NewContextService(db.DB())
	terminal := services.NewTerminalService(db.DB())
	permSvc := services.NewPermissionService(db.DB())
	eventSvc := services.NewEventService(db.DB())
	bus := events.NewBus(eventSvc)
	gate := permissions.NewGate(permSvc, permissions.Config{
		DefaultPolicy: cfg.ToolPolicyDefault,
		Timeout:       cfg.PermissionTimeout,
		ToolDisabled:  cfg.ToolDisabled,
	})

	registry := tools.NewRegistry()
	registry.Register(tools.NewReadFileTool(sandbox))
	registry.Register(tools.NewWriteFileTool(sandbox))
	registry.Register(tools.NewEditFileTool(sandbox))
	registry.Register(tools.NewListDirTool(sandbox))

	runner := NewRunner(Deps{
		Config:   cfg,
		LLM:      client,
		Bus:      bus,
		Gate:     gate,
		Registry: registry,
		Sandbox:  sandbox,
		Sessions: sessions,
		Turns:    turns,
		Files:    files,
		Contexts: contexts,
		Terminal: terminal,
		Logger:   slog.Default(),
	})
	env := &testEnv{
		runner:   runner,
		client:   client,
		cfg:      cfg,
		bus:      bus,
		gate:     gate,
		sandbox:  sandbox,
		sessions: sessions,
		turns:    turns,
		files:    files,
		contexts: contexts,
		eventSvc: eventSvc,
	}
	// spawn_subagent delegates back into the runner
	registry.Register(tools.NewSpawnSubagentTool(runner))
	return env
}

// startTurn persists the user message and creates the turn, mirroring what
// the scheduler does before launching the runner.
func (env *testEnv) startTurn(t *testing.T, userText string) (sessionID, turnID string) {
	t.Helper()
	ctx := context.Background()
	sess, err := env.sessions.CreateSession(ctx, "")
	require.NoError(t, err)
	_, err = env.sessions.AddMessage(ctx, sess.ID, models.RoleUser, userText)
	require.NoError(t, err)
	turn, err := env.turns.CreateTurn(ctx, sess.ID, userText)
	require.NoError(t, err)
	return sess.ID, turn.ID
}

func (env *testEnv) sessionEvents(t *testing.T, sessionID string) []*models.Event {
	t.Helper()
	evts, err := env.eventSvc.EventsSince(context.Background(), sessionID, 0, 1000)
	require.NoError(t, err)
	return evts
}

func eventsOfType(evts []*models.Event, eventType string) []*models.Event {
	var out []*models.Event
	for _, e := range evts {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func decodePayload[T any](t *testing.T, e *models.Event) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(e.Payload, &v))
	return v
}

func toolCallArgs(t *testing.T, params map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return string(raw)
}
