package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// ToolInfo describes one registered tool.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}

// ToolsResponse is the body of GET /tools.
type ToolsResponse struct {
	Tools        []ToolInfo        `json:"tools"`
	ToolPolicies map[string]string `json:"tool_policies"`
	Mode         string            `json:"mode"`
}

// listToolsHandler handles GET /api/v1/tools. It enumerates the registry
// together with the durable policies and the gate's current mode.
func (s *Server) listToolsHandler(c *echo.Context) error {
	defs := s.registry.Definitions()
	infos := make([]ToolInfo, 0, len(defs))
	for _, d := range defs {
		infos = append(infos, ToolInfo{
			Name:        d.Name,
			Description: d.Description,
			Schema:      d.Schema,
		})
	}

	policies, err := s.gate.Policies(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}
	policyMap := map[string]string{}
	for _, p := range policies {
		policyMap[p.ToolName] = p.Policy
	}

	return c.JSON(http.StatusOK, &ToolsResponse{
		Tools:        infos,
		ToolPolicies: policyMap,
		Mode:         s.gate.Mode(),
	})
}
