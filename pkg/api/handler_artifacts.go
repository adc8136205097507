package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/openloop-dev/openloop/pkg/models"
)

// PinContextRequest is the body for POST /sessions/:id/context/{pin|unpin}.
type PinContextRequest struct {
	ID string `json:"id"`
}

// SetPinnedRefRequest is the body for POST /sessions/:id/context/set_pinned_ref.
// It upserts a context item by reference and pins it in one call.
type SetPinnedRefRequest struct {
	Kind       string `json:"kind"`
	Title      string `json:"title"`
	ContentRef string `json:"content_ref"`
}

// listFileChangesHandler handles GET /api/v1/sessions/:id/file_changes.
func (s *Server) listFileChangesHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if _, err := s.sessions.GetSession(c.Request().Context(), sessionID); err != nil {
		return mapServiceError(err)
	}
	changes, err := s.files.ListFileChanges(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	if changes == nil {
		changes = []*models.FileChange{}
	}
	return c.JSON(http.StatusOK, changes)
}

// listTerminalHandler handles GET /api/v1/sessions/:id/terminal.
func (s *Server) listTerminalHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if _, err := s.sessions.GetSession(c.Request().Context(), sessionID); err != nil {
		return mapServiceError(err)
	}
	chunks, err := s.terminal.List(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	if chunks == nil {
		chunks = []*models.TerminalChunk{}
	}
	return c.JSON(http.StatusOK, chunks)
}

// listContextHandler handles GET /api/v1/sessions/:id/context.
func (s *Server) listContextHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if _, err := s.sessions.GetSession(c.Request().Context(), sessionID); err != nil {
		return mapServiceError(err)
	}
	items, err := s.contexts.List(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	if items == nil {
		items = []*models.ContextItem{}
	}
	return c.JSON(http.StatusOK, items)
}

// pinContextHandler handles POST /api/v1/sessions/:id/context/pin.
func (s *Server) pinContextHandler(c *echo.Context) error {
	return s.setContextPinned(c, true)
}

// unpinContextHandler handles POST /api/v1/sessions/:id/context/unpin.
func (s *Server) unpinContextHandler(c *echo.Context) error {
	return s.setContextPinned(c, false)
}

func (s *Server) setContextPinned(c *echo.Context, pinned bool) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req PinContextRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id is required")
	}

	if err := s.contexts.SetPinned(c.Request().Context(), sessionID, req.ID, pinned); err != nil {
		return mapServiceError(err)
	}
	item, err := s.contexts.Get(c.Request().Context(), sessionID, req.ID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, item)
}

// setPinnedRefHandler handles POST /api/v1/sessions/:id/context/set_pinned_ref.
func (s *Server) setPinnedRefHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req SetPinnedRefRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ContentRef == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content_ref is required")
	}
	switch req.Kind {
	case models.ContextKindDoc, models.ContextKindFile, models.ContextKindWeb:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "kind must be doc, file, or web")
	}
	title := req.Title
	if title == "" {
		title = req.ContentRef
	}

	ctx := c.Request().Context()
	item, err := s.contexts.UpsertByRef(ctx, sessionID, req.Kind, title, req.ContentRef)
	if err != nil {
		return mapServiceError(err)
	}
	if err := s.contexts.SetPinned(ctx, sessionID, item.ID, true); err != nil {
		return mapServiceError(err)
	}
	item, err = s.contexts.Get(ctx, sessionID, item.ID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, item)
}
