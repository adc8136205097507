package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/openloop-dev/openloop/pkg/models"
)

// CreateTurnRequest is the body for POST /sessions/:id/turns.
type CreateTurnRequest struct {
	Content string `json:"content"`
}

// CreateTurnResponse acknowledges an admitted turn.
type CreateTurnResponse struct {
	TurnID string `json:"turn_id"`
}

// createTurnHandler handles POST /api/v1/sessions/:id/turns. The turn runs
// asynchronously; 202 means admitted, 409 means a turn is already active.
func (s *Server) createTurnHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req CreateTurnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}

	turn, err := s.scheduler.StartTurn(c.Request().Context(), sessionID, req.Content)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusAccepted, &CreateTurnResponse{TurnID: turn.ID})
}

// listTurnsHandler handles GET /api/v1/sessions/:id/turns.
func (s *Server) listTurnsHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if _, err := s.sessions.GetSession(c.Request().Context(), sessionID); err != nil {
		return mapServiceError(err)
	}
	turns, err := s.turns.ListTurns(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	if turns == nil {
		turns = []*models.Turn{}
	}
	return c.JSON(http.StatusOK, turns)
}

// getTurnHandler handles GET /api/v1/turns/:id.
func (s *Server) getTurnHandler(c *echo.Context) error {
	turnID := c.Param("id")
	if turnID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "turn id is required")
	}

	turn, err := s.turns.GetTurn(c.Request().Context(), turnID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, turn)
}

// listStepsHandler handles GET /api/v1/turns/:id/steps.
func (s *Server) listStepsHandler(c *echo.Context) error {
	turnID := c.Param("id")
	if turnID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "turn id is required")
	}

	if _, err := s.turns.GetTurn(c.Request().Context(), turnID); err != nil {
		return mapServiceError(err)
	}
	steps, err := s.turns.ListSteps(c.Request().Context(), turnID)
	if err != nil {
		return mapServiceError(err)
	}
	if steps == nil {
		steps = []*models.Step{}
	}
	return c.JSON(http.StatusOK, steps)
}

// cancelTurnHandler handles POST /api/v1/sessions/:id/cancel.
func (s *Server) cancelTurnHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if _, err := s.sessions.GetSession(c.Request().Context(), sessionID); err != nil {
		return mapServiceError(err)
	}
	if err := s.scheduler.Cancel(sessionID); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "cancelling"})
}
