package api

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/steadyops/steward/pkg/models"
)

// userContextKey is the echo context key holding the resolved *models.User.
const userContextKey = "user"

// bearerToken extracts the token from the Authorization header. Empty when
// the header is absent or not a bearer scheme.
func bearerToken(c *echo.Context) string {
	auth := c.Request().Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// currentUser returns the user stored by the auth middleware, or nil when
// the route ran without authentication.
func currentUser(c *echo.Context) *models.User {
	u, _ := c.Get(userContextKey).(*models.User)
	return u
}

// authRequired resolves the bearer token to a user and rejects the request
// when it cannot. Under the none provider every request resolves to the
// anonymous user.
func (s *Server) authRequired() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			user, err := s.auth.CurrentUser(c.Request().Context(), bearerToken(c))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			c.Set(userContextKey, user)
			return next(c)
		}
	}
}

// authOptional resolves the bearer token when one is present but lets the
// request through either way. Handlers decide what an absent user means;
// the shared-session file listing allows it only for shared sessions.
func (s *Server) authOptional() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			user, err := s.auth.CurrentUser(c.Request().Context(), bearerToken(c))
			if err == nil {
				c.Set(userContextKey, user)
			}
			return next(c)
		}
	}
}

// adminRequired rejects authenticated non-admin users. Must run after
// authRequired.
func (s *Server) adminRequired() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			user := currentUser(c)
			if user == nil || user.Role != models.RoleAdmin {
				return echo.NewHTTPError(http.StatusForbidden, "admin privileges required")
			}
			return next(c)
		}
	}
}

// signatureRequired authenticates the request by its HMAC-signed URL instead
// of a bearer token. Used for the VNC websocket where browsers cannot attach
// an Authorization header.
func (s *Server) signatureRequired() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if err := s.tokens.VerifySignedURL(c.Request().URL.RequestURI()); err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired signature")
			}
			return next(c)
		}
	}
}
