package api

import (
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	echo "github.com/labstack/echo/v5"

	"github.com/openloop-dev/openloop/pkg/agent"
	"github.com/openloop-dev/openloop/pkg/events"
	"github.com/openloop-dev/openloop/pkg/models"
)

// FsEntry is one node of the workspace tree.
type FsEntry struct {
	Path    string `json:"path"`
	Dir     bool   `json:"dir"`
	Size    int64  `json:"size,omitempty"`
	Tracked bool   `json:"tracked,omitempty"`
}

// RollbackRequest addresses a version either by id or by (path, idx).
type RollbackRequest struct {
	Path      string `json:"path"`
	VersionID string `json:"version_id"`
	Idx       *int   `json:"idx"`
}

// RollbackResponse reports whether the rollback changed the file.
type RollbackResponse struct {
	Changed   bool   `json:"changed"`
	Path      string `json:"path"`
	VersionID string `json:"version_id"`
	Idx       int    `json:"idx"`
	TurnID    string `json:"turn_id,omitempty"`
}

// fsTreeHandler handles GET /api/v1/sessions/:id/fs/tree. It walks the
// sandbox root and marks paths with rollback history as tracked.
func (s *Server) fsTreeHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	ctx := c.Request().Context()
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return mapServiceError(err)
	}
	tracked, err := s.files.TrackedPaths(ctx, sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	trackedSet := make(map[string]bool, len(tracked))
	for _, p := range tracked {
		trackedSet[p] = true
	}

	entries := []FsEntry{}
	root := s.sandbox.Root()
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == root {
			return nil
		}
		rel := s.sandbox.Display(path)
		if d.IsDir() {
			entries = append(entries, FsEntry{Path: rel, Dir: true})
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, FsEntry{
			Path:    rel,
			Size:    info.Size(),
			Tracked: trackedSet[rel],
		})
		return nil
	})
	if err != nil {
		return mapServiceError(err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return c.JSON(http.StatusOK, entries)
}

// fsReadHandler handles GET /api/v1/sessions/:id/fs/read?path=.
func (s *Server) fsReadHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	if _, err := s.sessions.GetSession(c.Request().Context(), sessionID); err != nil {
		return mapServiceError(err)
	}

	raw := c.QueryParam("path")
	resolved, errText := s.sandbox.Resolve(raw)
	if errText != "" {
		return echo.NewHTTPError(http.StatusBadRequest, errText)
	}
	data, err := os.ReadFile(resolved)
	if os.IsNotExist(err) {
		return echo.NewHTTPError(http.StatusNotFound, "file not found")
	}
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"path":    s.sandbox.Display(resolved),
		"content": string(data),
	})
}

// fsVersionsHandler handles GET /api/v1/sessions/:id/fs/versions?path=.
func (s *Server) fsVersionsHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	path := c.QueryParam("path")
	if path == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "path is required")
	}

	ctx := c.Request().Context()
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return mapServiceError(err)
	}
	versions, err := s.files.ListVersions(ctx, sessionID, path)
	if err != nil {
		return mapServiceError(err)
	}
	if versions == nil {
		versions = []*models.FileVersion{}
	}
	return c.JSON(http.StatusOK, versions)
}

// fsVersionHandler handles GET /api/v1/sessions/:id/fs/version/:vid. The
// response includes the snapshot content.
func (s *Server) fsVersionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	versionID := c.Param("vid")
	if sessionID == "" || versionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id and version id are required")
	}

	version, err := s.files.GetVersion(c.Request().Context(), sessionID, versionID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, version)
}

// fsRollbackHandler handles POST /api/v1/sessions/:id/fs/rollback. Restoring
// the current content is a no-op; otherwise the restore runs as a synthetic
// turn so it shows up on the event log like any other mutation.
func (s *Server) fsRollbackHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req RollbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.VersionID == "" && (req.Path == "" || req.Idx == nil) {
		return echo.NewHTTPError(http.StatusBadRequest, "version_id or path and idx are required")
	}

	ctx := c.Request().Context()
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return mapServiceError(err)
	}

	var version *models.FileVersion
	var err error
	if req.VersionID != "" {
		version, err = s.files.GetVersion(ctx, sessionID, req.VersionID)
	} else {
		version, err = s.files.GetVersionByIdx(ctx, sessionID, req.Path, *req.Idx)
	}
	if err != nil {
		return mapServiceError(err)
	}

	resolved, errText := s.sandbox.Resolve(version.Path)
	if errText != "" {
		return echo.NewHTTPError(http.StatusBadRequest, errText)
	}

	current := ""
	if data, readErr := os.ReadFile(resolved); readErr == nil {
		current = string(data)
	}
	if current == version.Content {
		return c.JSON(http.StatusOK, &RollbackResponse{
			Changed:   false,
			Path:      version.Path,
			VersionID: version.ID,
			Idx:       version.Idx,
		})
	}

	turnID, err := s.applyRollback(c, sessionID, version, resolved, current)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &RollbackResponse{
		Changed:   true,
		Path:      version.Path,
		VersionID: version.ID,
		Idx:       version.Idx,
		TurnID:    turnID,
	})
}

// applyRollback writes the snapshot back and records the mutation as a
// synthetic turn: tool_call, fs_rollback, diff and tool_result events plus a
// new rollback version.
func (s *Server) applyRollback(c *echo.Context, sessionID string, version *models.FileVersion, resolved, current string) (string, error) {
	ctx := c.Request().Context()

	turn, err := s.turns.CreateTurn(ctx, sessionID, fmt.Sprintf("rollback %s to version %d", version.Path, version.Idx))
	if err != nil {
		return "", err
	}
	step, err := s.turns.CreateStep(ctx, turn.ID, 0)
	if err != nil {
		return "", err
	}
	toolCallID := models.NewToolCallID()

	s.publish(c, sessionID, turn.ID, step.ID, events.TypeToolCall, events.ToolCallPayload{
		ToolCallID: toolCallID,
		ToolName:   "fs.rollback",
		Input: map[string]any{
			"path":       version.Path,
			"version_id": version.ID,
			"idx":        version.Idx,
		},
		Status: events.ToolCallRunning,
	})

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(resolved, []byte(version.Content), 0o644); err != nil {
		return "", err
	}

	if _, err := s.files.AddVersion(ctx, sessionID, version.Path, version.Content, "rollback", turn.ID, step.ID); err != nil {
		s.logger.Warn("Failed to record rollback version", "path", version.Path, "error", err)
	}

	s.publish(c, sessionID, turn.ID, step.ID, events.TypeFsRollback, events.FsRollbackPayload{
		ToolCallID: toolCallID,
		Path:       version.Path,
		VersionID:  version.ID,
		Idx:        version.Idx,
	})

	diff, diffErr := agent.UnifiedDiff(version.Path, current, version.Content)
	if diffErr == nil && diff != "" {
		if _, err := s.files.AddFileChange(ctx, sessionID, turn.ID, step.ID, version.Path, diff); err != nil {
			s.logger.Warn("Failed to record rollback file change", "path", version.Path, "error", err)
		}
		s.publish(c, sessionID, turn.ID, step.ID, events.TypeDiff, events.DiffPayload{
			ToolCallID: toolCallID,
			Path:       version.Path,
			Diff:       diff,
		})
	}

	s.publish(c, sessionID, turn.ID, step.ID, events.TypeToolResult, events.ToolResultPayload{
		ToolCallID: toolCallID,
		ToolName:   "fs.rollback",
		OK:         true,
		Output:     fmt.Sprintf("Rolled back %s to version %d", version.Path, version.Idx),
	})

	if err := s.turns.FinishStep(ctx, step.ID, models.StepCompleted); err != nil {
		s.logger.Warn("Failed to finish rollback step", "step_id", step.ID, "error", err)
	}
	return turn.ID, nil
}

func (s *Server) publish(c *echo.Context, sessionID, turnID, stepID, eventType string, payload any) {
	if _, err := s.bus.Publish(c.Request().Context(), sessionID, turnID, stepID, eventType, payload); err != nil {
		s.logger.Warn("Failed to publish event", "type", eventType, "session_id", sessionID, "error", err)
	}
}
