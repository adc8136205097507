// Package api exposes the orchestrator over HTTP: session and turn
// management, artifact browsing, permission resolution, event replay and
// the SSE stream.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/openloop-dev/openloop/pkg/config"
	"github.com/openloop-dev/openloop/pkg/database"
	"github.com/openloop-dev/openloop/pkg/events"
	"github.com/openloop-dev/openloop/pkg/permissions"
	"github.com/openloop-dev/openloop/pkg/scheduler"
	"github.com/openloop-dev/openloop/pkg/services"
	"github.com/openloop-dev/openloop/pkg/tools"
)

// Server is the HTTP API server.
type Server struct {
	cfg       *config.Config
	dbClient  *database.Client
	scheduler *scheduler.Scheduler
	bus       *events.Bus
	gate      *permissions.Gate
	sandbox   *tools.Sandbox
	registry  *tools.Registry
	sessions  *services.SessionService
	turns     *services.TurnService
	files     *services.FileService
	contexts  *services.ContextService
	terminal  *services.TerminalService
	export    *services.ExportService
	memory    *services.MemoryService
	logger    *slog.Logger

	echo       *echo.Echo
	httpServer *http.Server
}

// Deps wires the server's collaborators.
type Deps struct {
	Config    *config.Config
	DBClient  *database.Client
	Scheduler *scheduler.Scheduler
	Bus       *events.Bus
	Gate      *permissions.Gate
	Sandbox   *tools.Sandbox
	Registry  *tools.Registry
	Sessions  *services.SessionService
	Turns     *services.TurnService
	Files     *services.FileService
	Contexts  *services.ContextService
	Terminal  *services.TerminalService
	Export    *services.ExportService
	Memory    *services.MemoryService
	Logger    *slog.Logger
}

// NewServer creates the API server and registers all routes.
func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       d.Config,
		dbClient:  d.DBClient,
		scheduler: d.Scheduler,
		bus:       d.Bus,
		gate:      d.Gate,
		sandbox:   d.Sandbox,
		registry:  d.Registry,
		sessions:  d.Sessions,
		turns:     d.Turns,
		files:     d.Files,
		contexts:  d.Contexts,
		terminal:  d.Terminal,
		export:    d.Export,
		memory:    d.Memory,
		logger:    logger,
	}

	e := echo.New()
	e.Use(requestID())
	e.Use(securityHeaders())
	e.Use(corsMiddleware())
	e.Use(requestLogger(logger))
	s.registerRoutes(e)
	s.echo = e
	return s
}

func (s *Server) registerRoutes(e *echo.Echo) {
	e.GET("/healthz", s.healthHandler)
	e.GET("/event", s.sseHandler)

	v1 := e.Group("/api/v1")

	v1.POST("/sessions", s.createSessionHandler)
	v1.GET("/sessions", s.listSessionsHandler)
	v1.GET("/sessions/:id", s.getSessionHandler)
	v1.PATCH("/sessions/:id", s.patchSessionHandler)
	v1.DELETE("/sessions/:id", s.deleteSessionHandler)
	v1.GET("/sessions/:id/model", s.getModelOverrideHandler)
	v1.POST("/sessions/:id/model", s.setModelOverrideHandler)
	v1.DELETE("/sessions/:id/model", s.clearModelOverrideHandler)

	v1.POST("/sessions/:id/turns", s.createTurnHandler)
	v1.GET("/sessions/:id/turns", s.listTurnsHandler)
	v1.GET("/turns/:id", s.getTurnHandler)
	v1.GET("/turns/:id/steps", s.listStepsHandler)
	v1.POST("/sessions/:id/cancel", s.cancelTurnHandler)

	v1.GET("/sessions/:id/file_changes", s.listFileChangesHandler)
	v1.GET("/sessions/:id/terminal", s.listTerminalHandler)
	v1.GET("/sessions/:id/context", s.listContextHandler)
	v1.POST("/sessions/:id/context/pin", s.pinContextHandler)
	v1.POST("/sessions/:id/context/unpin", s.unpinContextHandler)
	v1.POST("/sessions/:id/context/set_pinned_ref", s.setPinnedRefHandler)

	v1.GET("/sessions/:id/fs/tree", s.fsTreeHandler)
	v1.GET("/sessions/:id/fs/read", s.fsReadHandler)
	v1.GET("/sessions/:id/fs/versions", s.fsVersionsHandler)
	v1.GET("/sessions/:id/fs/version/:vid", s.fsVersionHandler)
	v1.POST("/sessions/:id/fs/rollback", s.fsRollbackHandler)

	v1.GET("/sessions/:id/permissions/pending", s.pendingPermissionsHandler)
	v1.POST("/permissions/:rid/resolve", s.resolvePermissionHandler)
	v1.GET("/permissions/mode", s.getPermissionModeHandler)
	v1.POST("/permissions/mode", s.setPermissionModeHandler)

	v1.GET("/memory", s.getMemoryHandler)
	v1.PUT("/memory", s.putMemoryHandler)
	v1.DELETE("/memory/:key", s.deleteMemoryHandler)

	v1.GET("/tools", s.listToolsHandler)

	v1.GET("/sessions/:id/events", s.listEventsHandler)

	v1.GET("/sessions/:id/export.json", s.exportJSONHandler)
	v1.GET("/sessions/:id/export.md", s.exportMarkdownHandler)
}

// Start begins serving on the given address and blocks until shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the configured router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
