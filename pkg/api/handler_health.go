package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/steadyops/steward/pkg/database"
	"github.com/steadyops/steward/pkg/services"
	"github.com/steadyops/steward/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// HealthCheck is the health state of one dependency.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the HTTP response for GET /health.
type HealthResponse struct {
	Status   string                    `json:"status"`
	Version  string                    `json:"version"`
	Checks   map[string]HealthCheck    `json:"checks"`
	Warnings []*services.SystemWarning `json:"warnings,omitempty"`
}

// healthHandler handles GET /health.
// Returns a minimal, safe response suitable for unauthenticated access.
// Only steward's own stores (sqlite, redis) are checked. External
// dependencies (MCP servers, LLM service, sandboxes) are excluded so an
// orchestrator never restarts steward over someone else's outage; runtime
// trouble with those surfaces as warnings instead.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	_, err := database.Health(reqCtx, s.db.DB())
	if err != nil {
		status = healthStatusUnhealthy
		checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["database"] = HealthCheck{Status: healthStatusHealthy}
	}

	// Redis only caches live event streams; losing it degrades replay but
	// the store of record keeps the service up.
	if s.redis != nil {
		if err := s.redis.Ping(reqCtx).Err(); err != nil {
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["redis"] = HealthCheck{Status: healthStatusDegraded, Message: err.Error()}
		} else {
			checks["redis"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	var warnings []*services.SystemWarning
	if s.warnings != nil {
		warnings = s.warnings.GetWarnings()
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		Status:   status,
		Version:  version.GitCommit,
		Checks:   checks,
		Warnings: warnings,
	})
}
