package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// PutMemoryRequest is the body for PUT /memory.
type PutMemoryRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// getMemoryHandler handles GET /api/v1/memory. Memory is global, not
// per-session.
func (s *Server) getMemoryHandler(c *echo.Context) error {
	mem, err := s.memory.Get(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, mem)
}

// putMemoryHandler handles PUT /api/v1/memory.
func (s *Server) putMemoryHandler(c *echo.Context) error {
	var req PutMemoryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "key is required")
	}

	if err := s.memory.Put(c.Request().Context(), req.Key, req.Value); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "key": req.Key})
}

// deleteMemoryHandler handles DELETE /api/v1/memory/:key.
func (s *Server) deleteMemoryHandler(c *echo.Context) error {
	key := c.Param("key")
	if key == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "key is required")
	}

	if err := s.memory.Delete(c.Request().Context(), key); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"deleted": true})
}
