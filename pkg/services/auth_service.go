package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/steadyops/steward/pkg/config"
	"github.com/steadyops/steward/pkg/models"
)

// Auth providers.
const (
	AuthProviderNone     = "none"
	AuthProviderLocal    = "local"
	AuthProviderPassword = "password"
)

// SharedUserID is the identity every local-provider login maps to.
const SharedUserID = "shared_user"

// AnonymousUserID is the identity used when authentication is disabled.
const AnonymousUserID = "anonymous"

// AuthService implements the three authentication providers: none
// (everyone is the same anonymous admin), local (static accounts from the
// environment, all mapped to one shared user), and password (accounts in
// the user store with PBKDF2 hashes).
type AuthService struct {
	settings *config.Settings
	users    *UserService
	tokens   *TokenService
	email    *EmailService
}

// NewAuthService creates a new AuthService
func NewAuthService(settings *config.Settings, users *UserService, tokens *TokenService, email *EmailService) *AuthService {
	return &AuthService{settings: settings, users: users, tokens: tokens, email: email}
}

// Provider returns the configured auth provider name.
func (s *AuthService) Provider() string {
	return s.settings.AuthProvider
}

// Register creates a password-provider account. Other providers reject
// registration.
func (s *AuthService) Register(ctx context.Context, email, password, fullname string) (*models.User, error) {
	if s.settings.AuthProvider != AuthProviderPassword {
		return nil, fmt.Errorf("%w: registration is disabled for provider %q", ErrInvalidInput, s.settings.AuthProvider)
	}
	fullname = strings.TrimSpace(fullname)
	email = strings.ToLower(strings.TrimSpace(email))
	if len(fullname) < 2 {
		return nil, NewValidationError("fullname", "must be at least 2 characters")
	}
	if !strings.Contains(email, "@") {
		return nil, NewValidationError("email", "must be a valid email address")
	}
	if len(password) < 6 {
		return nil, NewValidationError("password", "must be at least 6 characters")
	}
	user := &models.User{
		ID:           models.NewID(),
		Email:        email,
		Fullname:     fullname,
		Role:         models.RoleNormal,
		IsActive:     true,
		PasswordHash: s.HashPassword(password),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate validates credentials under the configured provider and
// returns the resolved user.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	switch s.settings.AuthProvider {
	case AuthProviderNone:
		return anonymousUser(), nil

	case AuthProviderLocal:
		for account, pass := range s.localAccounts() {
			if account == email && pass == password {
				return sharedUser(email), nil
			}
		}
		return nil, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)

	case AuthProviderPassword:
		user, err := s.users.FindByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if user == nil || !s.verifyPassword(password, user.PasswordHash) {
			return nil, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
		}
		if !user.IsActive {
			return nil, fmt.Errorf("%w: account is inactive", ErrUnauthorized)
		}
		if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
			return nil, err
		}
		return user, nil

	default:
		return nil, fmt.Errorf("%w: unknown auth provider %q", ErrInvalidInput, s.settings.AuthProvider)
	}
}

// Login authenticates and mints an access/refresh token pair.
func (s *AuthService) Login(ctx context.Context, email, password string) (*models.AuthToken, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.issueTokens(user)
}

// Refresh exchanges a valid refresh token for a fresh token pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*models.AuthToken, error) {
	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}
	user, err := s.resolveUser(ctx, claims)
	if err != nil {
		return nil, err
	}
	return s.issueTokens(user)
}

// CurrentUser resolves the user behind an access token. Under the none
// provider the token is ignored and the anonymous user is returned.
func (s *AuthService) CurrentUser(ctx context.Context, accessToken string) (*models.User, error) {
	if s.settings.AuthProvider == AuthProviderNone {
		return anonymousUser(), nil
	}
	if accessToken == "" {
		return nil, fmt.Errorf("%w: authentication required", ErrUnauthorized)
	}
	claims, err := s.tokens.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, err
	}
	return s.resolveUser(ctx, claims)
}

// Logout invalidates the client session. Token revocation is not tracked
// server-side; the call exists so the none provider can reject it.
func (s *AuthService) Logout(ctx context.Context) error {
	if s.settings.AuthProvider == AuthProviderNone {
		return fmt.Errorf("%w: logout is not available without authentication", ErrInvalidInput)
	}
	return nil
}

// ChangePassword verifies the old password and stores a new hash. Only the
// password provider supports it.
func (s *AuthService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if s.settings.AuthProvider != AuthProviderPassword {
		return fmt.Errorf("%w: password change is disabled for provider %q", ErrInvalidInput, s.settings.AuthProvider)
	}
	if len(newPassword) < 6 {
		return NewValidationError("new_password", "must be at least 6 characters")
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if !s.verifyPassword(oldPassword, user.PasswordHash) {
		return fmt.Errorf("%w: current password is incorrect", ErrUnauthorized)
	}
	return s.users.UpdatePassword(ctx, userID, s.HashPassword(newPassword))
}

// ChangeFullname updates the display name.
func (s *AuthService) ChangeFullname(ctx context.Context, userID, fullname string) error {
	fullname = strings.TrimSpace(fullname)
	if len(fullname) < 2 {
		return NewValidationError("fullname", "must be at least 2 characters")
	}
	return s.users.UpdateFullname(ctx, userID, fullname)
}

// ResetPassword consumes an emailed verification code and replaces the
// password.
func (s *AuthService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if s.settings.AuthProvider != AuthProviderPassword {
		return fmt.Errorf("%w: password reset is disabled for provider %q", ErrInvalidInput, s.settings.AuthProvider)
	}
	if len(newPassword) < 6 {
		return NewValidationError("new_password", "must be at least 6 characters")
	}
	if err := s.email.VerifyCode(ctx, strings.ToLower(strings.TrimSpace(email)), code); err != nil {
		return err
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	return s.users.UpdatePassword(ctx, user.ID, s.HashPassword(newPassword))
}

// HashPassword derives the stored PBKDF2-SHA256 hex digest.
func (s *AuthService) HashPassword(password string) string {
	key := pbkdf2.Key([]byte(password), []byte(s.settings.PasswordSalt), s.settings.PasswordHashRounds, 32, sha256.New)
	return hex.EncodeToString(key)
}

func (s *AuthService) verifyPassword(password, storedHash string) bool {
	if storedHash == "" {
		return false
	}
	return hmac.Equal([]byte(s.HashPassword(password)), []byte(storedHash))
}

func (s *AuthService) issueTokens(user *models.User) (*models.AuthToken, error) {
	access, err := s.tokens.CreateAccessToken(user)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.CreateRefreshToken(user)
	if err != nil {
		return nil, err
	}
	return &models.AuthToken{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		User:         user,
	}, nil
}

// resolveUser maps token claims back to a user. The password provider
// re-checks the store so deactivation takes effect immediately; the other
// providers synthesize the user from the claims alone.
func (s *AuthService) resolveUser(ctx context.Context, claims *TokenClaims) (*models.User, error) {
	switch s.settings.AuthProvider {
	case AuthProviderPassword:
		user, err := s.users.FindByID(ctx, claims.UserID)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, fmt.Errorf("%w: unknown user", ErrUnauthorized)
		}
		if !user.IsActive {
			return nil, fmt.Errorf("%w: account is inactive", ErrUnauthorized)
		}
		return user, nil
	default:
		role := models.UserRole(claims.Role)
		if role == "" {
			role = models.RoleAdmin
		}
		return &models.User{
			ID:       claims.UserID,
			Email:    claims.Email,
			Fullname: claims.Fullname,
			Role:     role,
			IsActive: true,
		}, nil
	}
}

// localAccounts parses LOCAL_AUTH_ACCOUNTS ("user1:pass1,user2:pass2"),
// falling back to the single LOCAL_AUTH_EMAIL/PASSWORD pair.
func (s *AuthService) localAccounts() map[string]string {
	accounts := map[string]string{}
	for _, pair := range strings.Split(s.settings.LocalAuthAccounts, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, pass, ok := strings.Cut(pair, ":")
		if !ok || name == "" {
			continue
		}
		accounts[name] = pass
	}
	if len(accounts) == 0 && s.settings.LocalAuthEmail != "" {
		accounts[s.settings.LocalAuthEmail] = s.settings.LocalAuthPassword
	}
	return accounts
}

func anonymousUser() *models.User {
	return &models.User{
		ID:       AnonymousUserID,
		Email:    "anonymous@localhost",
		Fullname: "Anonymous",
		Role:     models.RoleAdmin,
		IsActive: true,
	}
}

func sharedUser(email string) *models.User {
	now := time.Now().UTC()
	return &models.User{
		ID:          SharedUserID,
		Email:       email,
		Fullname:    email,
		Role:        models.RoleAdmin,
		IsActive:    true,
		LastLoginAt: &now,
	}
}
