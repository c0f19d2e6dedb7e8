// Steward operations-agent server: serves the HTTP API, runs agent tasks,
// and reaps idle sandbox containers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/steadyops/steward/pkg/api"
	"github.com/steadyops/steward/pkg/cache"
	"github.com/steadyops/steward/pkg/cleanup"
	"github.com/steadyops/steward/pkg/config"
	"github.com/steadyops/steward/pkg/database"
	"github.com/steadyops/steward/pkg/llm"
	"github.com/steadyops/steward/pkg/mcp"
	"github.com/steadyops/steward/pkg/orchestrator"
	"github.com/steadyops/steward/pkg/sandbox"
	"github.com/steadyops/steward/pkg/search"
	"github.com/steadyops/steward/pkg/services"
	"github.com/steadyops/steward/pkg/sshexec"
	"github.com/steadyops/steward/pkg/storage"
	"github.com/steadyops/steward/pkg/streams"
	"github.com/steadyops/steward/pkg/taskrunner"
	"github.com/steadyops/steward/pkg/version"
)

const (
	// reapInterval is how often the sandbox reaper scans for expired
	// containers.
	reapInterval = 5 * time.Minute

	// drainTimeout bounds the agent task drain during shutdown.
	drainTimeout = 30 * time.Second
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	envFile := flag.String("env-file",
		getEnv("ENV_FILE", ".env"),
		"Path to environment file")
	flag.Parse()

	// Load the env file before settings so it can seed the environment.
	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load env file, continuing with existing environment",
			"path", *envFile, "error", err)
	} else {
		slog.Info("Loaded environment", "path", *envFile)
	}

	// 1. Load settings and configure logging
	settings := config.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(settings.LogLevel),
	})))

	slog.Info("Starting Steward",
		"version", version.GitCommit,
		"http_port", settings.HTTPPort,
		"model", settings.ModelName)

	ctx := context.Background()

	// 2. Open the SQLite store and apply migrations
	dbClient, err := database.NewClient(ctx, settings.SQLitePath)
	if err != nil {
		slog.Error("Failed to open database", "path", settings.SQLitePath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()
	slog.Info("Database ready", "path", settings.SQLitePath)

	// 3. Connect Redis (task streams, watch fan-out, verification codes)
	rdb, err := streams.NewClient(ctx, settings.RedisAddr(), settings.RedisPassword, settings.RedisDB)
	if err != nil {
		slog.Error("Failed to connect to Redis", "addr", settings.RedisAddr(), "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()
	codeCache := cache.New(rdb)
	slog.Info("Connected to Redis", "addr", settings.RedisAddr())

	// 4. Domain services
	users := services.NewUserService(dbClient)
	tokens := services.NewTokenService(
		settings.JWTSecretKey,
		settings.JWTAlgorithm,
		time.Duration(settings.JWTAccessTokenExpireMin)*time.Minute,
		time.Duration(settings.JWTRefreshTokenExpireDays)*24*time.Hour,
	)
	email := services.NewEmailService(settings, codeCache)
	auth := services.NewAuthService(settings, users, tokens, email)

	store, err := newFileStorage(ctx, settings, dbClient)
	if err != nil {
		slog.Error("Failed to initialize file storage",
			"provider", settings.StorageProvider, "error", err)
		os.Exit(1)
	}
	files := services.NewFileService(store, tokens)

	sessions := services.NewSessionService(dbClient)
	agents := services.NewAgentService(dbClient)
	nodes := services.NewNodeService(dbClient.DB(), sessions, sshexec.NewExecutor())
	tickets := services.NewTicketService(dbClient.DB())
	warnings := services.NewSystemWarningsService()
	slog.Info("Services initialized",
		"auth_provider", settings.AuthProvider,
		"storage_provider", settings.StorageProvider)

	// 5. LLM client
	// Note: nothing connects until the first completion call.
	llmClient := llm.NewClient(settings)
	if settings.APIKey == "" {
		slog.Warn("API_KEY is empty; agent completions will fail until it is set")
	}

	// 6. Sandbox manager and web search provider
	sandboxes, err := sandbox.NewManager(settings)
	if err != nil {
		slog.Error("Failed to initialize sandbox manager", "error", err)
		os.Exit(1)
	}

	// Search is optional: without it the agent leans on its other tools.
	searcher, err := search.NewProvider(settings)
	if err != nil {
		slog.Warn("Web search unavailable", "error", err)
		warnings.AddWarning(services.WarningCategorySearch,
			"Web search is unavailable", err.Error(), "")
	}

	// 7. Validate configured MCP servers in the background. Tasks connect on
	// their own; this only surfaces broken config as health warnings instead
	// of mid-task failures.
	go validateMCPServers(ctx, settings, warnings)

	// 8. Task registry and coordinator
	registry := taskrunner.NewRegistry(rdb)
	coordinator := orchestrator.NewCoordinator(orchestrator.Deps{
		Settings:  settings,
		LLM:       llmClient,
		Agents:    agents,
		Sessions:  sessions,
		Files:     store,
		Sandboxes: sandboxes,
		Nodes:     nodes,
		Tickets:   tickets,
		Search:    searcher,
		Registry:  registry,
	})
	tickets.SetDispatcher(coordinator)

	// 9. Start the sandbox reaper
	reaper := cleanup.NewReaper(settings.SandboxTTL(), reapInterval, sandboxes, sessions)
	reaper.Start(ctx)

	// 10. Create and start the HTTP server (non-blocking)
	server := api.NewServer(api.Deps{
		Settings: settings,
		DB:       dbClient,
		Redis:    rdb,
		Auth:     auth,
		Users:    users,
		Tokens:   tokens,
		Email:    email,
		Files:    files,
		Nodes:    nodes,
		Tickets:  tickets,
		Warnings: warnings,
		Agent:    coordinator,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(":" + settings.HTTPPort); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Steward started successfully")

	// 11. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 12. Graceful shutdown: stop the reaper, cancel live agent tasks and
	// wait for them to unwind, then drain the HTTP server so in-flight
	// streams end cleanly.
	reaper.Stop()

	drainCtx, drainCancel := context.WithTimeout(ctx, drainTimeout)
	defer drainCancel()
	coordinator.Shutdown(drainCtx)

	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// logLevel maps the configured level name to a slog level. Unknown names
// fall back to info.
func logLevel(name string) slog.Level {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newFileStorage builds the configured upload backend.
func newFileStorage(ctx context.Context, settings *config.Settings, db *database.Client) (storage.FileStorage, error) {
	switch settings.StorageProvider {
	case "gridfs":
		return storage.NewGridFSStorage(ctx, settings.MongoURI, settings.MongoDatabase)
	case "local":
		return storage.NewLocalStorage(db.DB(), settings.FileStoragePath)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", settings.StorageProvider)
	}
}

// validateMCPServers connects every enabled MCP server once and records a
// health warning for each that fails, then disconnects.
func validateMCPServers(ctx context.Context, settings *config.Settings, warnings *services.SystemWarningsService) {
	cfg := config.LoadMCPConfig(settings.MCPConfigPath)

	enabled := 0
	for _, serverCfg := range cfg.MCPServers {
		if serverCfg.IsEnabled() {
			enabled++
		}
	}
	if enabled == 0 {
		return
	}

	validateCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	manager := mcp.NewManager(cfg)
	manager.Initialize(validateCtx)
	defer manager.Close()

	connected := make(map[string]bool, enabled)
	for _, name := range manager.ConnectedServers() {
		connected[name] = true
	}
	for name, serverCfg := range cfg.MCPServers {
		if !serverCfg.IsEnabled() || connected[name] {
			continue
		}
		warnings.AddWarning(services.WarningCategoryMCPHealth,
			fmt.Sprintf("MCP server %s failed to connect", name), "", name)
	}
	slog.Info("MCP servers validated", "enabled", enabled, "connected", len(connected))
}
