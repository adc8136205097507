package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openloop-dev/openloop/pkg/models"
)

func newExportFixture(t *testing.T) (*ExportService, string) {
	t.Helper()
	db := newTestDB(t)
	ctx := context.Background()

	sessions := NewSessionService(db)
	turns := NewTurnService(db)
	events := NewEventService(db)
	files := NewFileService(db)
	terminal := NewTerminalService(db)
	contextSvc := NewContextService(db)
	permissions := NewPermissionService(db)

	sess, err := sessions.CreateSession(ctx, "demo export")
	require.NoError(t, err)
	_, err = sessions.AddMessage(ctx, sess.ID, models.RoleUser, "hi")
	require.NoError(t, err)
	_, err = sessions.AddMessage(ctx, sess.ID, models.RoleAssistant, "hello")
	require.NoError(t, err)

	turn, err := turns.CreateTurn(ctx, sess.ID, "hi")
	require.NoError(t, err)
	step, err := turns.CreateStep(ctx, turn.ID, 0)
	require.NoError(t, err)
	_, err = events.InsertEvent(ctx, sess.ID, turn.ID, step.ID, "message_delta", time.Time{},
		map[string]any{"role": "user", "delta": "hi"})
	require.NoError(t, err)
	_, err = files.AddFileChange(ctx, sess.ID, turn.ID, step.ID, "a.txt", "+x\n")
	require.NoError(t, err)
	_, err = terminal.AddChunk(ctx, sess.ID, turn.ID, step.ID, "tc_1", models.StreamStdout, "ok\n")
	require.NoError(t, err)

	svc := NewExportService(sessions, turns, events, files, terminal, contextSvc, permissions)
	return svc, sess.ID
}

func TestExportJSON(t *testing.T) {
	svc, sessionID := newExportFixture(t)

	export, err := svc.Export(context.Background(), sessionID)
	require.NoError(t, err)

	assert.Equal(t, "openloop.session_export.v1", export.Format)
	assert.Equal(t, sessionID, export.Session.ID)
	assert.Len(t, export.Messages, 2)
	assert.Len(t, export.Turns, 1)
	assert.Len(t, export.StepsByTurn[export.Turns[0].ID], 1)
	assert.Len(t, export.Events, 1)
	assert.Len(t, export.FileChanges, 1)
	assert.Len(t, export.Terminal, 1)
}

func TestExportMarkdown(t *testing.T) {
	svc, sessionID := newExportFixture(t)

	md, err := svc.ExportMarkdown(context.Background(), sessionID)
	require.NoError(t, err)

	assert.Contains(t, md, "---\n")
	assert.Contains(t, md, "# demo export")
	assert.Contains(t, md, "## User\n\nhi")
	assert.Contains(t, md, "## Assistant\n\nhello")
	assert.Contains(t, md, "```diff")
	assert.Contains(t, md, "## Terminal")
}

func TestExportMissingSession(t *testing.T) {
	svc, _ := newExportFixture(t)
	_, err := svc.Export(context.Background(), "ses_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
