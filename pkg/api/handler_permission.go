package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/openloop-dev/openloop/pkg/models"
)

// ResolvePermissionRequest is the body for POST /permissions/:rid/resolve.
type ResolvePermissionRequest struct {
	Status string `json:"status"`
	Scope  string `json:"scope"`
}

// PermissionModeRequest is the body for POST /permissions/mode.
type PermissionModeRequest struct {
	Mode string `json:"mode"`
}

// pendingPermissionsHandler handles GET /api/v1/sessions/:id/permissions/pending.
func (s *Server) pendingPermissionsHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if _, err := s.sessions.GetSession(c.Request().Context(), sessionID); err != nil {
		return mapServiceError(err)
	}
	pending, err := s.gate.Pending(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	if pending == nil {
		pending = []*models.PermissionRequest{}
	}
	return c.JSON(http.StatusOK, pending)
}

// resolvePermissionHandler handles POST /api/v1/permissions/:rid/resolve.
func (s *Server) resolvePermissionHandler(c *echo.Context) error {
	requestID := c.Param("rid")
	if requestID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "request id is required")
	}

	var req ResolvePermissionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Scope == "" {
		req.Scope = models.ScopeOnce
	}
	switch req.Scope {
	case models.ScopeOnce, models.ScopeSession, models.ScopeAlways:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "scope must be once, session, or always")
	}

	if err := s.gate.Resolve(c.Request().Context(), requestID, req.Status, req.Scope); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": req.Status,
		"scope":  req.Scope,
	})
}

// getPermissionModeHandler handles GET /api/v1/permissions/mode.
func (s *Server) getPermissionModeHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"mode": s.gate.Mode()})
}

// setPermissionModeHandler handles POST /api/v1/permissions/mode. Switching
// clears durable policies and session overrides so the mode applies uniformly.
func (s *Server) setPermissionModeHandler(c *echo.Context) error {
	var req PermissionModeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.gate.SetMode(c.Request().Context(), req.Mode); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"mode": req.Mode})
}
