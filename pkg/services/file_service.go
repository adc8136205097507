package services

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/openloop-dev/openloop/pkg/models"
)

// maxVersionBytes caps the content size snapshotted into file_versions.
const maxVersionBytes = 1 << 20

// FileService records file mutations (unified diffs) and the per-file
// version line used for rollback.
type FileService struct {
	db *sql.DB
}

// NewFileService creates a new FileService.
func NewFileService(db *sql.DB) *FileService {
	return &FileService{db: db}
}

// HashContent returns the hex sha256 of a snapshot.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// AddFileChange persists one mutation record.
func (s *FileService) AddFileChange(ctx context.Context, sessionID, turnID, stepID, path, unifiedDiff string) (*models.FileChange, error) {
	fc := &models.FileChange{
		ID:          models.NewFileChangeID(),
		SessionID:   sessionID,
		TurnID:      turnID,
		StepID:      stepID,
		Path:        path,
		UnifiedDiff: unifiedDiff,
		CreatedAt:   nowUTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_changes (id, session_id, turn_id, step_id, path, unified_diff, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fc.ID, fc.SessionID, fc.TurnID, fc.StepID, fc.Path, fc.UnifiedDiff, formatTime(fc.CreatedAt))
	if err != nil {
		if isForeignKeyError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to add file change: %w", err)
	}
	return fc, nil
}

// ListFileChanges returns a session's mutation history, oldest first.
func (s *FileService) ListFileChanges(ctx context.Context, sessionID string) ([]*models.FileChange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, turn_id, step_id, path, unified_diff, created_at FROM file_changes
		 WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list file changes: %w", err)
	}
	defer rows.Close()

	var changes []*models.FileChange
	for rows.Next() {
		var fc models.FileChange
		var createdAt string
		if err := rows.Scan(&fc.ID, &fc.SessionID, &fc.TurnID, &fc.StepID, &fc.Path, &fc.UnifiedDiff, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan file change: %w", err)
		}
		fc.CreatedAt = parseTime(createdAt)
		changes = append(changes, &fc)
	}
	return changes, rows.Err()
}

// EnsureBaseVersion inserts the idx=0 snapshot iff no version exists yet for
// (session, path). Returns the new version id or "" when already present.
func (s *FileService) EnsureBaseVersion(ctx context.Context, sessionID, path, before, turnID, stepID string) (string, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM file_versions WHERE session_id = ? AND path = ?`,
		sessionID, path).Scan(&n); err != nil {
		return "", fmt.Errorf("failed to count file versions: %w", err)
	}
	if n > 0 {
		return "", nil
	}
	return s.insertVersion(ctx, sessionID, path, 0, before, "base", turnID, stepID)
}

// AddVersion appends the next snapshot iff the content hash differs from the
// latest version and the content fits the size cap. Returns the new version
// id or "" when skipped.
func (s *FileService) AddVersion(ctx context.Context, sessionID, path, content, note, turnID, stepID string) (string, error) {
	if len(content) > maxVersionBytes {
		return "", nil
	}

	var latestIdx int
	var latestSHA string
	err := s.db.QueryRowContext(ctx,
		`SELECT idx, sha256 FROM file_versions WHERE session_id = ? AND path = ?
		 ORDER BY idx DESC LIMIT 1`, sessionID, path).Scan(&latestIdx, &latestSHA)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return s.insertVersion(ctx, sessionID, path, 0, content, note, turnID, stepID)
	case err != nil:
		return "", fmt.Errorf("failed to query latest version: %w", err)
	}

	if HashContent(content) == latestSHA {
		return "", nil
	}
	return s.insertVersion(ctx, sessionID, path, latestIdx+1, content, note, turnID, stepID)
}

func (s *FileService) insertVersion(ctx context.Context, sessionID, path string, idx int, content, note, turnID, stepID string) (string, error) {
	id := models.NewFileVersionID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_versions (id, session_id, path, idx, sha256, content, note, turn_id, step_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sessionID, path, idx, HashContent(content), content, note, turnID, stepID, formatTime(nowUTC()))
	if err != nil {
		if isForeignKeyError(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to insert file version: %w", err)
	}
	return id, nil
}

// ListVersions returns the version line for one path, base first. Content is
// omitted; fetch a single version for the bytes.
func (s *FileService) ListVersions(ctx context.Context, sessionID, path string) ([]*models.FileVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, path, idx, sha256, note, turn_id, step_id, created_at FROM file_versions
		 WHERE session_id = ? AND path = ? ORDER BY idx`, sessionID, path)
	if err != nil {
		return nil, fmt.Errorf("failed to list file versions: %w", err)
	}
	defer rows.Close()

	var versions []*models.FileVersion
	for rows.Next() {
		var fv models.FileVersion
		var createdAt string
		if err := rows.Scan(&fv.ID, &fv.SessionID, &fv.Path, &fv.Idx, &fv.SHA256, &fv.Note, &fv.TurnID, &fv.StepID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan file version: %w", err)
		}
		fv.CreatedAt = parseTime(createdAt)
		versions = append(versions, &fv)
	}
	return versions, rows.Err()
}

// GetVersion returns one version including its content.
func (s *FileService) GetVersion(ctx context.Context, sessionID, versionID string) (*models.FileVersion, error) {
	var fv models.FileVersion
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, path, idx, sha256, content, note, turn_id, step_id, created_at
		 FROM file_versions WHERE session_id = ? AND id = ?`, sessionID, versionID).
		Scan(&fv.ID, &fv.SessionID, &fv.Path, &fv.Idx, &fv.SHA256, &fv.Content, &fv.Note, &fv.TurnID, &fv.StepID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file version: %w", err)
	}
	fv.CreatedAt = parseTime(createdAt)
	return &fv, nil
}

// GetVersionByIdx returns one version addressed by (path, idx).
func (s *FileService) GetVersionByIdx(ctx context.Context, sessionID, path string, idx int) (*models.FileVersion, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM file_versions WHERE session_id = ? AND path = ? AND idx = ?`,
		sessionID, path, idx).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file version by idx: %w", err)
	}
	return s.GetVersion(ctx, sessionID, id)
}

// TrackedPaths returns every path with at least one version in a session.
func (s *FileService) TrackedPaths(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT path FROM file_versions WHERE session_id = ? ORDER BY path`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}
