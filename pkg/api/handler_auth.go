package api

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/steadyops/steward/pkg/services"
)

// LoginRequest is the HTTP request body for POST /auth/login. Email is
// accepted as an alias for username because older clients send it.
type LoginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the HTTP request body for POST /auth/register.
type RegisterRequest struct {
	Fullname string `json:"fullname"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ChangePasswordRequest is the HTTP request body for POST /auth/change-password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ChangeFullnameRequest is the HTTP request body for POST /auth/change-fullname.
type ChangeFullnameRequest struct {
	Fullname string `json:"fullname"`
}

// RefreshTokenRequest is the HTTP request body for POST /auth/refresh.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshTokenResponse is the HTTP response for POST /auth/refresh.
type RefreshTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// AuthStatusResponse is the HTTP response for GET /auth/status.
type AuthStatusResponse struct {
	AuthProvider string `json:"auth_provider"`
}

// SendVerificationCodeRequest is the HTTP request body for
// POST /auth/send-verification-code.
type SendVerificationCodeRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest is the HTTP request body for POST /auth/reset-password.
type ResetPasswordRequest struct {
	Email            string `json:"email"`
	VerificationCode string `json:"verification_code"`
	NewPassword      string `json:"new_password"`
}

// authStatusHandler handles GET /api/v1/auth/status.
func (s *Server) authStatusHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &AuthStatusResponse{AuthProvider: s.auth.Provider()})
}

// loginHandler handles POST /api/v1/auth/login.
func (s *Server) loginHandler(c *echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = strings.TrimSpace(req.Email)
	}
	if len(username) < 2 {
		return echo.NewHTTPError(http.StatusBadRequest, "valid username is required")
	}
	if len(req.Password) < 6 {
		return echo.NewHTTPError(http.StatusBadRequest, "password must be at least 6 characters long")
	}

	token, err := s.auth.Login(c.Request().Context(), username, req.Password)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, token)
}

// registerHandler handles POST /api/v1/auth/register. A successful
// registration logs the new account in, so the response carries the same
// token pair as login.
func (s *Server) registerHandler(c *echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	_, err := s.auth.Register(c.Request().Context(), req.Email, req.Password, req.Fullname)
	if err != nil {
		return mapServiceError(err)
	}
	token, err := s.auth.Login(c.Request().Context(), strings.ToLower(strings.TrimSpace(req.Email)), req.Password)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, token)
}

// refreshHandler handles POST /api/v1/auth/refresh.
func (s *Server) refreshHandler(c *echo.Context) error {
	var req RefreshTokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.RefreshToken == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "refresh token is required")
	}

	token, err := s.auth.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &RefreshTokenResponse{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
	})
}

// logoutHandler handles POST /api/v1/auth/logout.
func (s *Server) logoutHandler(c *echo.Context) error {
	if err := s.auth.Logout(c.Request().Context()); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &MessageResponse{Message: "logged out"})
}

// meHandler handles GET /api/v1/auth/me.
func (s *Server) meHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, currentUser(c))
}

// changePasswordHandler handles POST /api/v1/auth/change-password.
func (s *Server) changePasswordHandler(c *echo.Context) error {
	var req ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.OldPassword == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "old password is required")
	}

	user := currentUser(c)
	if err := s.auth.ChangePassword(c.Request().Context(), user.ID, req.OldPassword, req.NewPassword); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &MessageResponse{Message: "password changed"})
}

// changeFullnameHandler handles POST /api/v1/auth/change-fullname and
// returns the updated user.
func (s *Server) changeFullnameHandler(c *echo.Context) error {
	var req ChangeFullnameRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	user := currentUser(c)
	if err := s.auth.ChangeFullname(c.Request().Context(), user.ID, req.Fullname); err != nil {
		return mapServiceError(err)
	}

	updated, err := s.users.FindByID(c.Request().Context(), user.ID)
	if err != nil {
		return mapServiceError(err)
	}
	if updated == nil {
		// The none and local providers have no backing user row.
		user.Fullname = strings.TrimSpace(req.Fullname)
		updated = user
	}
	return c.JSON(http.StatusOK, updated)
}

// sendVerificationCodeHandler handles POST /api/v1/auth/send-verification-code.
func (s *Server) sendVerificationCodeHandler(c *echo.Context) error {
	var req SendVerificationCodeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if !strings.Contains(email, "@") {
		return echo.NewHTTPError(http.StatusBadRequest, "valid email is required")
	}
	if s.auth.Provider() != services.AuthProviderPassword {
		return echo.NewHTTPError(http.StatusBadRequest, "password reset is not available")
	}

	user, err := s.users.FindByEmail(c.Request().Context(), email)
	if err != nil {
		return mapServiceError(err)
	}
	if user == nil {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}
	if !user.IsActive {
		return echo.NewHTTPError(http.StatusBadRequest, "user account is inactive")
	}

	if err := s.email.SendVerificationCode(c.Request().Context(), email); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &MessageResponse{Message: "verification code sent"})
}

// resetPasswordHandler handles POST /api/v1/auth/reset-password.
func (s *Server) resetPasswordHandler(c *echo.Context) error {
	var req ResetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.VerificationCode) != 6 {
		return echo.NewHTTPError(http.StatusBadRequest, "verification code must be 6 digits")
	}

	if err := s.auth.ResetPassword(c.Request().Context(), req.Email, req.VerificationCode, req.NewPassword); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &MessageResponse{Message: "password reset"})
}

// getUserHandler handles GET /api/v1/auth/user/:user_id (admin only).
func (s *Server) getUserHandler(c *echo.Context) error {
	userID := c.Param("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id is required")
	}

	user, err := s.users.FindByID(c.Request().Context(), userID)
	if err != nil {
		return mapServiceError(err)
	}
	if user == nil {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}
	return c.JSON(http.StatusOK, user)
}

// activateUserHandler handles POST /api/v1/auth/user/:user_id/activate (admin only).
func (s *Server) activateUserHandler(c *echo.Context) error {
	return s.setUserActive(c, true)
}

// deactivateUserHandler handles POST /api/v1/auth/user/:user_id/deactivate
// (admin only). Admins cannot deactivate themselves.
func (s *Server) deactivateUserHandler(c *echo.Context) error {
	return s.setUserActive(c, false)
}

func (s *Server) setUserActive(c *echo.Context, active bool) error {
	userID := c.Param("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id is required")
	}
	if !active && userID == currentUser(c).ID {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot deactivate your own account")
	}

	user, err := s.users.FindByID(c.Request().Context(), userID)
	if err != nil {
		return mapServiceError(err)
	}
	if user == nil {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}

	if err := s.users.SetActive(c.Request().Context(), userID, active); err != nil {
		return mapServiceError(err)
	}
	msg := "user activated"
	if !active {
		msg = "user deactivated"
	}
	return c.JSON(http.StatusOK, &MessageResponse{Message: msg})
}
