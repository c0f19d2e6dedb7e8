package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/redis/go-redis/v9"

	"github.com/steadyops/steward/pkg/config"
	"github.com/steadyops/steward/pkg/database"
	"github.com/steadyops/steward/pkg/orchestrator"
	"github.com/steadyops/steward/pkg/services"
)

// Deps bundles everything the HTTP layer serves. All fields are required
// unless noted.
type Deps struct {
	Settings *config.Settings
	DB       *database.Client
	Redis    *redis.Client
	Auth     *services.AuthService
	Users    *services.UserService
	Tokens   *services.TokenService
	Email    *services.EmailService
	Files    *services.FileService
	Nodes    *services.NodeService
	Tickets  *services.TicketService
	Warnings *services.SystemWarningsService
	Agent    *orchestrator.Coordinator
}

// Server is the HTTP API server.
type Server struct {
	settings *config.Settings
	db       *database.Client
	redis    *redis.Client
	auth     *services.AuthService
	users    *services.UserService
	tokens   *services.TokenService
	email    *services.EmailService
	files    *services.FileService
	nodes    *services.NodeService
	tickets  *services.TicketService
	warnings *services.SystemWarningsService
	agent    *orchestrator.Coordinator

	echo       *echo.Echo
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates the API server and registers all routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		settings: deps.Settings,
		db:       deps.DB,
		redis:    deps.Redis,
		auth:     deps.Auth,
		users:    deps.Users,
		tokens:   deps.Tokens,
		email:    deps.Email,
		files:    deps.Files,
		nodes:    deps.Nodes,
		tickets:  deps.Tickets,
		warnings: deps.Warnings,
		agent:    deps.Agent,
		echo:     echo.New(),
		logger:   slog.With("component", "api"),
	}

	// No write timeout: chat and session streams stay open indefinitely.
	s.httpServer = &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.echo.Use(requestLogger(s.logger))
	s.echo.Use(securityHeaders())
	s.echo.Use(corsAllowAll())
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.echo.Group("/api/v1")

	v1.GET("/health", s.healthHandler)

	// Auth: public endpoints.
	v1.GET("/auth/status", s.authStatusHandler)
	v1.POST("/auth/login", s.loginHandler)
	v1.POST("/auth/register", s.registerHandler)
	v1.POST("/auth/refresh", s.refreshHandler)
	v1.POST("/auth/send-verification-code", s.sendVerificationCodeHandler)
	v1.POST("/auth/reset-password", s.resetPasswordHandler)

	// Auth: endpoints for the logged-in user.
	account := v1.Group("/auth", s.authRequired())
	account.POST("/logout", s.logoutHandler)
	account.GET("/me", s.meHandler)
	account.POST("/change-password", s.changePasswordHandler)
	account.POST("/change-fullname", s.changeFullnameHandler)

	// Auth: admin user management.
	admin := v1.Group("/auth/user", s.authRequired(), s.adminRequired())
	admin.GET("/:user_id", s.getUserHandler)
	admin.POST("/:user_id/activate", s.activateUserHandler)
	admin.POST("/:user_id/deactivate", s.deactivateUserHandler)

	// Sessions: public shared views and the signature-authenticated VNC
	// websocket sit outside the bearer-auth group.
	v1.GET("/sessions/shared/:id", s.sharedSessionHandler)
	v1.GET("/sessions/:id/share/files", s.sharedSessionFilesHandler)
	v1.GET("/sessions/:id/files", s.sessionFilesHandler, s.authOptional())
	v1.GET("/sessions/:id/vnc", s.vncProxyHandler, s.signatureRequired())

	sessions := v1.Group("/sessions", s.authRequired())
	sessions.PUT("", s.createSessionHandler)
	sessions.GET("", s.listSessionsHandler)
	sessions.POST("", s.watchSessionsHandler)
	sessions.GET("/:id", s.getSessionHandler)
	sessions.DELETE("/:id", s.deleteSessionHandler)
	sessions.POST("/:id/stop", s.stopSessionHandler)
	sessions.POST("/:id/clear_unread_message_count", s.clearUnreadHandler)
	sessions.POST("/:id/chat", s.chatHandler)
	sessions.POST("/:id/shell", s.shellViewHandler)
	sessions.POST("/:id/file", s.fileViewHandler)
	sessions.POST("/:id/vnc/signed-url", s.createVNCSignedURLHandler)
	sessions.POST("/:id/share", s.shareSessionHandler)
	sessions.DELETE("/:id/share", s.unshareSessionHandler)

	// Nodes.
	nodes := v1.Group("/nodes", s.authRequired())
	nodes.GET("", s.listNodesHandler)
	nodes.POST("", s.createNodeHandler)
	nodes.GET("/:node_id", s.getNodeHandler)
	nodes.PUT("/:node_id", s.updateNodeHandler)
	nodes.DELETE("/:node_id", s.deleteNodeHandler)
	nodes.POST("/:node_id/ssh/exec", s.execNodeCommandHandler)
	nodes.GET("/:node_id/monitor", s.monitorNodeHandler)
	nodes.GET("/:node_id/overview", s.nodeOverviewHandler)
	nodes.GET("/:node_id/logs", s.nodeLogsHandler)
	nodes.GET("/sessions/:session_id/approvals", s.pendingApprovalsHandler)
	nodes.POST("/approvals/:approval_id/decision", s.decideApprovalHandler)

	// Tickets.
	tickets := v1.Group("/tickets", s.authRequired())
	tickets.GET("", s.listTicketsHandler)
	tickets.POST("", s.createTicketHandler)
	tickets.GET("/:ticket_id", s.getTicketHandler)
	tickets.POST("/:ticket_id/reply", s.replyTicketHandler)
	tickets.PUT("/:ticket_id", s.updateTicketHandler)

	// MCP settings facade.
	mcp := v1.Group("/mcp", s.authRequired())
	mcp.GET("/config", s.getMCPConfigHandler)
	mcp.PUT("/config", s.updateMCPConfigHandler)

	// Files. Download accepts a signed URL or a bearer token, so it does
	// its own auth inside the handler.
	v1.GET("/files/:file_id", s.downloadFileHandler)
	files := v1.Group("/files", s.authRequired())
	files.PUT("", s.uploadFileHandler)
	files.DELETE("/:file_id", s.deleteFileHandler)
}

// Start begins serving on addr. It blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer.Addr = addr
	s.logger.Info("HTTP server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
