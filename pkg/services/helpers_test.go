package services

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openloop-dev/openloop/pkg/database"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := database.DefaultConfig(filepath.Join(t.TempDir(), "test.db"))
	client, err := database.NewClient(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client.DB()
}

// newTestSession creates a session row for tests that need a foreign-key root.
func newTestSession(t *testing.T, db *sql.DB) string {
	t.Helper()
	sess, err := NewSessionService(db).CreateSession(context.Background(), "test session")
	require.NoError(t, err)
	return sess.ID
}
