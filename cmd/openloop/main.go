// Openloop orchestrator server. Serves the HTTP/SSE API and runs the
// agent loop for every session.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/openloop-dev/openloop/pkg/agent"
	"github.com/openloop-dev/openloop/pkg/api"
	"github.com/openloop-dev/openloop/pkg/config"
	"github.com/openloop-dev/openloop/pkg/database"
	"github.com/openloop-dev/openloop/pkg/events"
	"github.com/openloop-dev/openloop/pkg/llm"
	"github.com/openloop-dev/openloop/pkg/permissions"
	"github.com/openloop-dev/openloop/pkg/scheduler"
	"github.com/openloop-dev/openloop/pkg/services"
	"github.com/openloop-dev/openloop/pkg/tools"
	"github.com/openloop-dev/openloop/pkg/version"
)

const shutdownTimeout = 15 * time.Second

func main() {
	envPath := flag.String("env", ".env", "Path to the .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envPath, "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("Starting openloop",
		"version", version.Full(),
		"addr", cfg.Addr(),
		"workspace", cfg.WorkspaceRoot,
		"model", cfg.DefaultModel)

	ctx := context.Background()

	dbClient, err := database.NewClient(ctx, database.DefaultConfig(cfg.DatabasePath))
	if err != nil {
		logger.Error("Failed to open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logger.Error("Error closing database", "error", err)
		}
	}()
	logger.Info("Database ready", "path", cfg.DatabasePath)

	if err := os.MkdirAll(cfg.WorkspaceRoot, 0o755); err != nil {
		logger.Error("Failed to create workspace", "path", cfg.WorkspaceRoot, "error", err)
		os.Exit(1)
	}
	sandbox, err := tools.NewSandbox(cfg.WorkspaceRoot)
	if err != nil {
		logger.Error("Failed to resolve workspace root", "path", cfg.WorkspaceRoot, "error", err)
		os.Exit(1)
	}

	db := dbClient.DB()
	sessions := services.NewSessionService(db)
	turns := services.NewTurnService(db)
	files := services.NewFileService(db)
	contexts := services.NewContextService(db)
	terminal := services.NewTerminalService(db)
	permSvc := services.NewPermissionService(db)
	eventSvc := services.NewEventService(db)
	memory := services.NewMemoryService(db)
	export := services.NewExportService(sessions, turns, eventSvc, files, terminal, contexts, permSvc)

	bus := events.NewBus(eventSvc)
	gate := permissions.NewGate(permSvc, permissions.Config{
		DefaultPolicy: cfg.ToolPolicyDefault,
		Timeout:       cfg.PermissionTimeout,
		ToolDisabled:  cfg.ToolDisabled,
	})

	registry := tools.NewRegistry()
	registry.Register(tools.NewReadFileTool(sandbox))
	registry.Register(tools.NewWriteFileTool(sandbox))
	registry.Register(tools.NewEditFileTool(sandbox))
	registry.Register(tools.NewListDirTool(sandbox))
	registry.Register(tools.NewApplyPatchTool(sandbox))
	registry.Register(tools.NewSearchFilesTool(sandbox))
	registry.Register(tools.NewHTTPFetchTool(cfg.FetchMaxBytes))
	if cfg.EnableRunCommand {
		registry.Register(tools.NewRunCommandTool(sandbox, cfg.CommandTimeout))
	}

	llmClient := llm.NewOpenAIClient(cfg.LLMAPIKey, cfg.LLMAPIBase)
	runner := agent.NewRunner(agent.Deps{
		Config:   cfg,
		LLM:      llmClient,
		Bus:      bus,
		Gate:     gate,
		Registry: registry,
		Sandbox:  sandbox,
		Sessions: sessions,
		Turns:    turns,
		Files:    files,
		Contexts: contexts,
		Terminal: terminal,
		Logger:   logger,
	})
	registry.Register(tools.NewSpawnSubagentTool(runner))

	sched := scheduler.New(scheduler.Deps{
		Runner:   runner,
		Sessions: sessions,
		Turns:    turns,
		Gate:     gate,
		Logger:   logger,
	})

	server := api.NewServer(api.Deps{
		Config:    cfg,
		DBClient:  dbClient,
		Scheduler: sched,
		Bus:       bus,
		Gate:      gate,
		Sandbox:   sandbox,
		Registry:  registry,
		Sessions:  sessions,
		Turns:     turns,
		Files:     files,
		Contexts:  contexts,
		Terminal:  terminal,
		Export:    export,
		Memory:    memory,
		Logger:    logger,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.Addr())
		if err := server.Start(cfg.Addr()); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		logger.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	logger.Info("Shutdown complete")
}

// newLogger builds the process logger: tinted text for development, JSON
// for production.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.Kitchen})
	}
	return slog.New(handler)
}
