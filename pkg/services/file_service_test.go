package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureBaseVersion(t *testing.T) {
	db := newTestDB(t)
	svc := NewFileService(db)
	ctx := context.Background()
	sessionID := newTestSession(t, db)

	id, err := svc.EnsureBaseVersion(ctx, sessionID, "notes.txt", "", "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// Second call is a no-op.
	id, err = svc.EnsureBaseVersion(ctx, sessionID, "notes.txt", "other content", "", "")
	require.NoError(t, err)
	assert.Empty(t, id)

	versions, err := svc.ListVersions(ctx, sessionID, "notes.txt")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 0, versions[0].Idx)
	assert.Equal(t, "base", versions[0].Note)
	assert.Equal(t, HashContent(""), versions[0].SHA256)
}

func TestAddVersionDedupAndOrdering(t *testing.T) {
	db := newTestDB(t)
	svc := NewFileService(db)
	ctx := context.Background()
	sessionID := newTestSession(t, db)

	_, err := svc.EnsureBaseVersion(ctx, sessionID, "a.txt", "", "", "")
	require.NoError(t, err)

	id, err := svc.AddVersion(ctx, sessionID, "a.txt", "x", "write_file", "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// Identical content is skipped.
	id, err = svc.AddVersion(ctx, sessionID, "a.txt", "x", "write_file", "", "")
	require.NoError(t, err)
	assert.Empty(t, id)

	id, err = svc.AddVersion(ctx, sessionID, "a.txt", "xy", "write_file", "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	versions, err := svc.ListVersions(ctx, sessionID, "a.txt")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	for i, fv := range versions {
		assert.Equal(t, i, fv.Idx, "idx must be dense")
	}
	// Consecutive versions never share a hash.
	for i := 1; i < len(versions); i++ {
		assert.NotEqual(t, versions[i-1].SHA256, versions[i].SHA256)
	}
}

func TestAddVersionWithoutBase(t *testing.T) {
	db := newTestDB(t)
	svc := NewFileService(db)
	ctx := context.Background()
	sessionID := newTestSession(t, db)

	// First version for an untracked path becomes idx 0.
	id, err := svc.AddVersion(ctx, sessionID, "new.txt", "hello", "write_file", "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	fv, err := svc.GetVersion(ctx, sessionID, id)
	require.NoError(t, err)
	assert.Equal(t, 0, fv.Idx)
	assert.Equal(t, "hello", fv.Content)
}

func TestAddVersionSizeCap(t *testing.T) {
	db := newTestDB(t)
	svc := NewFileService(db)
	ctx := context.Background()
	sessionID := newTestSession(t, db)

	huge := strings.Repeat("a", maxVersionBytes+1)
	id, err := svc.AddVersion(ctx, sessionID, "big.bin", huge, "write_file", "", "")
	require.NoError(t, err)
	assert.Empty(t, id, "oversized content must not be snapshotted")
}

func TestGetVersionByIdxAndTrackedPaths(t *testing.T) {
	db := newTestDB(t)
	svc := NewFileService(db)
	ctx := context.Background()
	sessionID := newTestSession(t, db)

	_, err := svc.EnsureBaseVersion(ctx, sessionID, "a.txt", "", "", "")
	require.NoError(t, err)
	_, err = svc.AddVersion(ctx, sessionID, "a.txt", "v1", "write_file", "", "")
	require.NoError(t, err)
	_, err = svc.EnsureBaseVersion(ctx, sessionID, "b.txt", "", "", "")
	require.NoError(t, err)

	fv, err := svc.GetVersionByIdx(ctx, sessionID, "a.txt", 1)
	require.NoError(t, err)
	assert.Equal(t, "v1", fv.Content)

	_, err = svc.GetVersionByIdx(ctx, sessionID, "a.txt", 9)
	assert.ErrorIs(t, err, ErrNotFound)

	paths, err := svc.TrackedPaths(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, paths)
}

func TestFileChanges(t *testing.T) {
	db := newTestDB(t)
	svc := NewFileService(db)
	ctx := context.Background()
	sessionID := newTestSession(t, db)

	fc, err := svc.AddFileChange(ctx, sessionID, "turn_1", "step_1", "a.txt", "--- a/a.txt\n+++ b/a.txt\n@@ -0,0 +1 @@\n+x\n")
	require.NoError(t, err)
	assert.NotEmpty(t, fc.ID)

	changes, err := svc.ListFileChanges(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "a.txt", changes[0].Path)
	assert.Contains(t, changes[0].UnifiedDiff, "+x")
}
