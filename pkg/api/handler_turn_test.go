package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openloop-dev/openloop/pkg/models"
)

func TestCreateTurnRunsToCompletion(t *testing.T) {
	env := newTestServer(t, &stubClient{text: "hello back", title: "Greeting"})
	sessionID := env.createSession(t)

	resp, data := env.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/turns", CreateTurnRequest{Content: "hello"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	ack := decodeJSON[CreateTurnResponse](t, data)
	require.NotEmpty(t, ack.TurnID)
	env.waitIdle(t, sessionID)

	resp, data = env.do(t, http.MethodGet, "/api/v1/sessions/"+sessionID+"/turns", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	turns := decodeJSON[[]models.Turn](t, data)
	require.Len(t, turns, 1)
	assert.Equal(t, ack.TurnID, turns[0].ID)
	assert.Equal(t, "hello", turns[0].UserText)

	resp, data = env.do(t, http.MethodGet, "/api/v1/turns/"+ack.TurnID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	turn := decodeJSON[models.Turn](t, data)
	assert.Equal(t, sessionID, turn.SessionID)

	resp, data = env.do(t, http.MethodGet, "/api/v1/turns/"+ack.TurnID+"/steps", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	steps := decodeJSON[[]models.Step](t, data)
	require.NotEmpty(t, steps)
	assert.Equal(t, 0, steps[0].Idx)

	resp, data = env.do(t, http.MethodGet, "/api/v1/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail := decodeJSON[SessionDetail](t, data)
	require.Len(t, detail.Messages, 2)
	assert.Equal(t, "hello back", detail.Messages[1].Content)
}

func TestCreateTurnValidation(t *testing.T) {
	env := newTestServer(t, &stubClient{text: "ok"})
	sessionID := env.createSession(t)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/turns", CreateTurnRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/sessions/sess_missing/turns", CreateTurnRequest{Content: "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateTurnBusyConflict(t *testing.T) {
	env := newTestServer(t, &stubClient{blocking: true})
	sessionID := env.createSession(t)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/turns", CreateTurnRequest{Content: "first"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/turns", CreateTurnRequest{Content: "second"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	env.waitIdle(t, sessionID)
}

func TestCancelWithoutActiveTurnIs404(t *testing.T) {
	env := newTestServer(t, &stubClient{text: "ok"})
	sessionID := env.createSession(t)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
