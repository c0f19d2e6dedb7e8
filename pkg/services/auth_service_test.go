package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steadyops/steward/pkg/cache"
	"github.com/steadyops/steward/pkg/config"
	"github.com/steadyops/steward/pkg/models"
	"github.com/steadyops/steward/test/util"
)

func testAuthService(t *testing.T, provider string) (*AuthService, *UserService, *cache.Cache) {
	t.Helper()
	settings := &config.Settings{
		AuthProvider:       provider,
		LocalAuthEmail:     "admin",
		LocalAuthPassword:  "admin123",
		PasswordSalt:       "test-salt",
		PasswordHashRounds: 10,
	}
	users := NewUserService(testDB(t))
	codes := cache.New(util.SetupTestRedis(t))
	email := NewEmailService(settings, codes)
	return NewAuthService(settings, users, testTokenService(), email), users, codes
}

func TestAuthService_NoneProvider(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := testAuthService(t, AuthProviderNone)

	t.Run("any credentials authenticate as the anonymous admin", func(t *testing.T) {
		user, err := svc.Authenticate(ctx, "whoever", "whatever")
		require.NoError(t, err)
		assert.Equal(t, AnonymousUserID, user.ID)
		assert.Equal(t, models.RoleAdmin, user.Role)
	})

	t.Run("current user ignores the token", func(t *testing.T) {
		user, err := svc.CurrentUser(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, AnonymousUserID, user.ID)
	})

	t.Run("registration is rejected", func(t *testing.T) {
		_, err := svc.Register(ctx, "a@example.com", "secret123", "Somebody")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("logout is rejected", func(t *testing.T) {
		assert.ErrorIs(t, svc.Logout(ctx), ErrInvalidInput)
	})
}

func TestAuthService_LocalProvider(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := testAuthService(t, AuthProviderLocal)

	t.Run("login with the configured account", func(t *testing.T) {
		token, err := svc.Login(ctx, "admin", "admin123")
		require.NoError(t, err)
		assert.Equal(t, "bearer", token.TokenType)
		assert.NotEmpty(t, token.AccessToken)
		assert.NotEmpty(t, token.RefreshToken)
		require.NotNil(t, token.User)
		assert.Equal(t, SharedUserID, token.User.ID)
		assert.Equal(t, models.RoleAdmin, token.User.Role)
	})

	t.Run("wrong password is rejected", func(t *testing.T) {
		_, err := svc.Login(ctx, "admin", "nope")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("access token resolves to the shared user", func(t *testing.T) {
		token, err := svc.Login(ctx, "admin", "admin123")
		require.NoError(t, err)

		user, err := svc.CurrentUser(ctx, token.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, SharedUserID, user.ID)
		assert.True(t, user.IsActive)
	})

	t.Run("refresh mints a new pair", func(t *testing.T) {
		token, err := svc.Login(ctx, "admin", "admin123")
		require.NoError(t, err)

		refreshed, err := svc.Refresh(ctx, token.RefreshToken)
		require.NoError(t, err)
		assert.NotEmpty(t, refreshed.AccessToken)
		assert.Equal(t, SharedUserID, refreshed.User.ID)
	})

	t.Run("missing token", func(t *testing.T) {
		_, err := svc.CurrentUser(ctx, "")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("logout is allowed", func(t *testing.T) {
		require.NoError(t, svc.Logout(ctx))
	})
}

func TestAuthService_LocalAccounts(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := testAuthService(t, AuthProviderLocal)
	svc.settings.LocalAuthAccounts = "alice:secret1, bob:secret2,,broken,:nouser"

	t.Run("parses the account list", func(t *testing.T) {
		accounts := svc.localAccounts()
		assert.Equal(t, map[string]string{"alice": "secret1", "bob": "secret2"}, accounts)
	})

	t.Run("listed accounts authenticate", func(t *testing.T) {
		user, err := svc.Authenticate(ctx, "alice", "secret1")
		require.NoError(t, err)
		assert.Equal(t, SharedUserID, user.ID)
		assert.Equal(t, "alice", user.Email)

		_, err = svc.Authenticate(ctx, "bob", "secret1")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("fallback pair is disabled when a list is set", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "admin", "admin123")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("empty list falls back to the single pair", func(t *testing.T) {
		svc.settings.LocalAuthAccounts = ""
		accounts := svc.localAccounts()
		assert.Equal(t, map[string]string{"admin": "admin123"}, accounts)
	})
}

func TestAuthService_Register(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := testAuthService(t, AuthProviderPassword)

	tests := []struct {
		name     string
		email    string
		password string
		fullname string
		field    string
	}{
		{name: "short fullname", email: "a@example.com", password: "secret123", fullname: "A", field: "fullname"},
		{name: "invalid email", email: "not-an-email", password: "secret123", fullname: "Somebody", field: "email"},
		{name: "short password", email: "a@example.com", password: "12345", fullname: "Somebody", field: "password"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.email, tc.password, tc.fullname)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}

	t.Run("creates an active normal user", func(t *testing.T) {
		user, err := svc.Register(ctx, "Ops@Example.com", "secret123", " Ops Person ")
		require.NoError(t, err)
		assert.Equal(t, "ops@example.com", user.Email)
		assert.Equal(t, "Ops Person", user.Fullname)
		assert.Equal(t, models.RoleNormal, user.Role)
		assert.True(t, user.IsActive)
		assert.NotEmpty(t, user.PasswordHash)
		assert.NotEqual(t, "secret123", user.PasswordHash)
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := svc.Register(ctx, "ops@example.com", "secret123", "Other Person")
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})
}

func TestAuthService_PasswordProvider(t *testing.T) {
	ctx := context.Background()
	svc, users, _ := testAuthService(t, AuthProviderPassword)

	registered, err := svc.Register(ctx, "ops@example.com", "secret123", "Ops Person")
	require.NoError(t, err)

	t.Run("login stamps last login", func(t *testing.T) {
		token, err := svc.Login(ctx, "ops@example.com", "secret123")
		require.NoError(t, err)
		assert.Equal(t, registered.ID, token.User.ID)

		stored, err := users.FindByID(ctx, registered.ID)
		require.NoError(t, err)
		assert.NotNil(t, stored.LastLoginAt)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.Login(ctx, "ops@example.com", "wrong")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := svc.Login(ctx, "ghost@example.com", "secret123")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("refresh resolves the stored user", func(t *testing.T) {
		token, err := svc.Login(ctx, "ops@example.com", "secret123")
		require.NoError(t, err)

		refreshed, err := svc.Refresh(ctx, token.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, registered.ID, refreshed.User.ID)
	})

	t.Run("deactivation locks the account out immediately", func(t *testing.T) {
		token, err := svc.Login(ctx, "ops@example.com", "secret123")
		require.NoError(t, err)

		require.NoError(t, users.SetActive(ctx, registered.ID, false))

		_, err = svc.Login(ctx, "ops@example.com", "secret123")
		assert.ErrorIs(t, err, ErrUnauthorized)

		// Even a still-valid access token stops resolving.
		_, err = svc.CurrentUser(ctx, token.AccessToken)
		assert.ErrorIs(t, err, ErrUnauthorized)

		require.NoError(t, users.SetActive(ctx, registered.ID, true))
	})
}

func TestAuthService_ChangePassword(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := testAuthService(t, AuthProviderPassword)

	user, err := svc.Register(ctx, "ops@example.com", "oldsecret", "Ops Person")
	require.NoError(t, err)

	t.Run("short new password", func(t *testing.T) {
		err := svc.ChangePassword(ctx, user.ID, "oldsecret", "123")
		assert.True(t, IsValidationError(err))
	})

	t.Run("wrong current password", func(t *testing.T) {
		err := svc.ChangePassword(ctx, user.ID, "nope", "newsecret")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("unknown user", func(t *testing.T) {
		err := svc.ChangePassword(ctx, "no-such-user", "oldsecret", "newsecret")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("changes the stored hash", func(t *testing.T) {
		require.NoError(t, svc.ChangePassword(ctx, user.ID, "oldsecret", "newsecret"))

		_, err := svc.Login(ctx, "ops@example.com", "oldsecret")
		assert.ErrorIs(t, err, ErrUnauthorized)

		_, err = svc.Login(ctx, "ops@example.com", "newsecret")
		require.NoError(t, err)
	})

	t.Run("disabled outside the password provider", func(t *testing.T) {
		local, _, _ := testAuthService(t, AuthProviderLocal)
		err := local.ChangePassword(ctx, user.ID, "oldsecret", "newsecret")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestAuthService_ChangeFullname(t *testing.T) {
	ctx := context.Background()
	svc, users, _ := testAuthService(t, AuthProviderPassword)
	user, err := svc.Register(ctx, "ops@example.com", "secret123", "Ops Person")
	require.NoError(t, err)

	assert.True(t, IsValidationError(svc.ChangeFullname(ctx, user.ID, " X ")))

	require.NoError(t, svc.ChangeFullname(ctx, user.ID, "  New Name  "))
	stored, err := users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "New Name", stored.Fullname)
}

func TestAuthService_ResetPassword(t *testing.T) {
	ctx := context.Background()
	svc, _, codes := testAuthService(t, AuthProviderPassword)

	_, err := svc.Register(ctx, "ops@example.com", "oldsecret", "Ops Person")
	require.NoError(t, err)

	// ResetPassword consumes a code previously delivered by email; plant it
	// in the cache the way SendVerificationCode stores it.
	seedCode := func(t *testing.T, code string) {
		payload, err := json.Marshal(storedCode{Code: code})
		require.NoError(t, err)
		require.NoError(t, codes.Set(ctx, "verification_code:ops@example.com", string(payload), codeTTL))
	}

	t.Run("wrong code is rejected", func(t *testing.T) {
		seedCode(t, "135790")
		err := svc.ResetPassword(ctx, "ops@example.com", "000000", "newsecret")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("correct code replaces the password", func(t *testing.T) {
		seedCode(t, "246801")
		require.NoError(t, svc.ResetPassword(ctx, "Ops@Example.com", "246801", "newsecret"))

		_, err := svc.Login(ctx, "ops@example.com", "oldsecret")
		assert.ErrorIs(t, err, ErrUnauthorized)
		_, err = svc.Login(ctx, "ops@example.com", "newsecret")
		require.NoError(t, err)

		// The code is consumed with the reset.
		err = svc.ResetPassword(ctx, "ops@example.com", "246801", "anothersecret")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("short new password fails before touching the code", func(t *testing.T) {
		seedCode(t, "112233")
		err := svc.ResetPassword(ctx, "ops@example.com", "112233", "123")
		assert.True(t, IsValidationError(err))
	})

	t.Run("disabled outside the password provider", func(t *testing.T) {
		local, _, _ := testAuthService(t, AuthProviderLocal)
		err := local.ResetPassword(ctx, "ops@example.com", "112233", "newsecret")
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestAuthService_HashPassword(t *testing.T) {
	svc, _, _ := testAuthService(t, AuthProviderPassword)

	first := svc.HashPassword("secret123")
	assert.Len(t, first, 64, "hex-encoded 32-byte digest")
	assert.Equal(t, first, svc.HashPassword("secret123"), "hashing is deterministic")
	assert.NotEqual(t, first, svc.HashPassword("secret124"))

	other, _, _ := testAuthService(t, AuthProviderPassword)
	other.settings.PasswordSalt = "different-salt"
	assert.NotEqual(t, first, other.HashPassword("secret123"), "salt changes the digest")
}
