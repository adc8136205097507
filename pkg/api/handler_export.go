package api

import (
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// exportJSONHandler handles GET /api/v1/sessions/:id/export.json.
func (s *Server) exportJSONHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	export, err := s.export.Export(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	c.Response().Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s.json", sessionID))
	return c.JSON(http.StatusOK, export)
}

// exportMarkdownHandler handles GET /api/v1/sessions/:id/export.md.
func (s *Server) exportMarkdownHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	md, err := s.export.ExportMarkdown(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	c.Response().Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s.md", sessionID))
	return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", []byte(md))
}
