package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openloop-dev/openloop/pkg/agent"
	"github.com/openloop-dev/openloop/pkg/config"
	"github.com/openloop-dev/openloop/pkg/database"
	"github.com/openloop-dev/openloop/pkg/events"
	"github.com/openloop-dev/openloop/pkg/llm"
	"github.com/openloop-dev/openloop/pkg/models"
	"github.com/openloop-dev/openloop/pkg/permissions"
	"github.com/openloop-dev/openloop/pkg/scheduler"
	"github.com/openloop-dev/openloop/pkg/services"
	"github.com/openloop-dev/openloop/pkg/tools"
)

// stubClient answers Stream with a fixed final text and Complete with a fixed
// title. When blocking is set, Stream parks until cancellation.
type stubClient struct {
	text     string
	title    string
	blocking bool
}

func (c *stubClient) Stream(ctx context.Context, req llm.Request, emit func(llm.Chunk)) (*llm.Result, error) {
	if c.blocking {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	emit(llm.TextChunk{Text: c.text})
	emit(llm.FinishChunk{Reason: "stop"})
	return &llm.Result{Text: c.text, FinishReason: "stop"}, nil
}

func (c *stubClient) Complete(ctx context.Context, req llm.Request) (*llm.Result, error) {
	return &llm.Result{Text: c.title, FinishReason: "stop"}, nil
}

type testEnv struct {
	server    *Server
	ts        *httptest.Server
	scheduler *scheduler.Scheduler
	bus       *events.Bus
	gate      *permissions.Gate
	sandbox   *tools.Sandbox
	sessions  *services.SessionService
	turns     *services.TurnService
	files     *services.FileService
	contexts  *services.ContextService
}

func newTestServer(t *testing.T, client llm.Client) *testEnv {
	t.Helper()

	db, err := database.NewClient(context.Background(), database.DefaultConfig(filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sandbox, err := tools.NewSandbox(t.TempDir())
	require.NoError(t, err)

	cfg := &config.Config{
		DefaultModel:          "test-model",
		MaxTokens:             1024,
		MaxIterations:         3,
		SubagentMaxIterations: 2,
		MaxHistoryMessages:    20,
		SummaryTriggerBytes:   4000,
		TitleMaxChars:         48,
		ToolPolicyDefault:     models.PolicyAllow,
		PermissionTimeout:     100 * time.Millisecond,
		SSEWaitTimeout:        25 * time.Millisecond,
		HeartbeatInterval:     50 * time.Millisecond,
		ToolOutputEventLimit:  2000,
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
	})

	registry := tools.NewRegistry()
	registry.Register(tools.NewReadFileTool(sandbox))
	registry.Register(tools.NewWriteFileTool(sandbox))

	runner := agent.NewRunner(agent.Deps{
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
	sched := scheduler.New(scheduler.Deps{
		Runner:   runner,
		Sessions: sessions,
		Turns:    turns,
		Gate:     gate,
		Logger:   slog.Default(),
	})
	export := services.NewExportService(sessions, turns, eventSvc, files, terminal, contexts, permSvc)
	memory := services.NewMemoryService(db.DB())

	server := NewServer(Deps{
		Config:    cfg,
		DBClient:  db,
		Scheduler: sched,
		Bus:       bus,
		Gate:      gate,
		Sandbox:   sandbox,
		Registry:  registry,
		Sessions:  sessions,
		Turns:     turns,
		Files:     files,
		Contexts:  contexts,
		Terminal:  terminal,
		Export:    export,
		Memory:    memory,
		Logger:    slog.Default(),
	})

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{
		server:    server,
		ts:        ts,
		scheduler: sched,
		bus:       bus,
		gate:      gate,
		sandbox:   sandbox,
		sessions:  sessions,
		turns:     turns,
		files:     files,
		contexts:  contexts,
	}
}

// do issues one JSON request against the test server and returns the
// response with its decoded body bytes.
func (env *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, env.ts.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (env *testEnv) createSession(t *testing.T) string {
	t.Helper()
	sess, err := env.sessions.CreateSession(context.Background(), "")
	require.NoError(t, err)
	return sess.ID
}

func (env *testEnv) waitIdle(t *testing.T, sessionID string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if _, running := env.scheduler.Running(sessionID); !running {
			return
		}
		select {
		case <-deadline:
			t.Fatal("turn never finished")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func decodeJSON[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func TestHealthz(t *testing.T) {
	env := newTestServer(t, &stubClient{text: "ok"})

	resp, data := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	health := decodeJSON[HealthResponse](t, data)
	assert.Equal(t, "healthy", health.Status)
	assert.NotEmpty(t, health.Version)
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestServer(t, &stubClient{text: "ok"})

	resp, _ := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("Content-Security-Policy"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestUnknownSessionIs404(t *testing.T) {
	env := newTestServer(t, &stubClient{text: "ok"})

	resp, _ := env.do(t, http.MethodGet, "/api/v1/sessions/sess_missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
