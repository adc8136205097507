package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/openloop-dev/openloop/pkg/models"
)

// CreateSessionRequest is the body for POST /sessions.
type CreateSessionRequest struct {
	Title string `json:"title"`
}

// PatchSessionRequest is the body for PATCH /sessions/:id.
type PatchSessionRequest struct {
	Title string `json:"title"`
}

// SetModelRequest is the body for POST /sessions/:id/model.
type SetModelRequest struct {
	Model string `json:"model"`
}

// SessionDetail is the session plus its message history and run state.
type SessionDetail struct {
	*models.Session
	Messages []*models.Message `json:"messages"`
	Active   bool              `json:"active"`
}

// createSessionHandler handles POST /api/v1/sessions.
func (s *Server) createSessionHandler(c *echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	session, err := s.sessions.CreateSession(c.Request().Context(), req.Title)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, session)
}

// listSessionsHandler handles GET /api/v1/sessions.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	sessions, err := s.sessions.ListSessions(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}
	return c.JSON(http.StatusOK, sessions)
}

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	ctx := c.Request().Context()
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	messages, err := s.sessions.ListMessages(ctx, sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	_, active := s.scheduler.Running(sessionID)

	return c.JSON(http.StatusOK, &SessionDetail{
		Session:  session,
		Messages: messages,
		Active:   active,
	})
}

// patchSessionHandler handles PATCH /api/v1/sessions/:id.
func (s *Server) patchSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req PatchSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title is required")
	}

	if err := s.sessions.RenameSession(c.Request().Context(), sessionID, req.Title); err != nil {
		return mapServiceError(err)
	}
	session, err := s.sessions.GetSession(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, session)
}

// deleteSessionHandler handles DELETE /api/v1/sessions/:id. A running turn is
// cancelled before the rows go away.
func (s *Server) deleteSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if err := s.scheduler.DeleteSession(c.Request().Context(), sessionID); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// getModelOverrideHandler handles GET /api/v1/sessions/:id/model.
func (s *Server) getModelOverrideHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	model, err := s.sessions.GetModelOverride(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	effective := model
	if effective == "" {
		effective = s.cfg.DefaultModel
	}
	return c.JSON(http.StatusOK, map[string]string{
		"model":     model,
		"effective": effective,
	})
}

// setModelOverrideHandler handles POST /api/v1/sessions/:id/model.
func (s *Server) setModelOverrideHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req SetModelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Model == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "model is required")
	}

	if err := s.sessions.SetModelOverride(c.Request().Context(), sessionID, req.Model); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"model": req.Model})
}

// clearModelOverrideHandler handles DELETE /api/v1/sessions/:id/model.
func (s *Server) clearModelOverrideHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if err := s.sessions.SetModelOverride(c.Request().Context(), sessionID, ""); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
