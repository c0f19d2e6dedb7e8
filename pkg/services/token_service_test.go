package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steadyops/steward/pkg/models"
)

func testTokenService() *TokenService {
	return NewTokenService("test-secret", "HS256", 30*time.Minute, 7*24*time.Hour)
}

func tokenTestUser() *models.User {
	return &models.User{
		ID:       "user-1",
		Email:    "ops@example.com",
		Fullname: "Ops Person",
		Role:     models.RoleAdmin,
		IsActive: true,
	}
}

func TestTokenService_AccessToken(t *testing.T) {
	svc := testTokenService()
	user := tokenTestUser()

	token, err := svc.CreateAccessToken(user)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "ops@example.com", claims.Email)
	assert.Equal(t, "Ops Person", claims.Fullname)
	assert.Equal(t, string(models.RoleAdmin), claims.Role)
	assert.True(t, claims.IsActive)
	assert.Equal(t, "access", claims.Type)
}

func TestTokenService_Verify(t *testing.T) {
	svc := testTokenService()
	user := tokenTestUser()

	access, err := svc.CreateAccessToken(user)
	require.NoError(t, err)
	refresh, err := svc.CreateRefreshToken(user)
	require.NoError(t, err)

	t.Run("rejects token of the wrong type", func(t *testing.T) {
		_, err := svc.VerifyAccessToken(refresh)
		assert.ErrorIs(t, err, ErrUnauthorized)

		_, err = svc.VerifyRefreshToken(access)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("accepts matching type", func(t *testing.T) {
		claims, err := svc.VerifyRefreshToken(refresh)
		require.NoError(t, err)
		assert.Equal(t, "refresh", claims.Type)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := svc.VerifyAccessToken("not.a.token")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("rejects a token signed with another secret", func(t *testing.T) {
		other := NewTokenService("other-secret", "HS256", time.Minute, time.Hour)
		forged, err := other.CreateAccessToken(user)
		require.NoError(t, err)

		_, err = svc.VerifyAccessToken(forged)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("rejects an expired token", func(t *testing.T) {
		expired := NewTokenService("test-secret", "HS256", -time.Minute, -time.Minute)
		token, err := expired.CreateAccessToken(user)
		require.NoError(t, err)

		_, err = svc.VerifyAccessToken(token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestTokenService_UnknownAlgorithmFallsBack(t *testing.T) {
	svc := NewTokenService("test-secret", "totally-made-up", 30*time.Minute, time.Hour)

	token, err := svc.CreateAccessToken(tokenTestUser())
	require.NoError(t, err)

	// HS256 is the fallback, so a plain HS256 verifier accepts the token.
	claims, err := testTokenService().VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
}

func TestTokenService_SignedURL(t *testing.T) {
	svc := testTokenService()

	t.Run("signed url verifies", func(t *testing.T) {
		signed := svc.SignURL("/api/v1/files/abc123", 5*time.Minute)
		assert.Contains(t, signed, "expires=")
		assert.Contains(t, signed, "signature=")
		require.NoError(t, svc.VerifySignedURL(signed))
	})

	t.Run("existing query parameters are preserved", func(t *testing.T) {
		signed := svc.SignURL("/api/v1/files/abc123?download=1", 5*time.Minute)
		assert.Contains(t, signed, "download=1&expires=")
		require.NoError(t, svc.VerifySignedURL(signed))
	})

	t.Run("host and scheme are ignored", func(t *testing.T) {
		signed := svc.SignURL("/api/v1/files/abc123", 5*time.Minute)
		require.NoError(t, svc.VerifySignedURL("https://steward.example.com"+signed))
	})

	t.Run("tampered path fails", func(t *testing.T) {
		signed := svc.SignURL("/api/v1/files/abc123", 5*time.Minute)
		tampered := "/api/v1/files/zzz999" + signed[len("/api/v1/files/abc123"):]
		assert.ErrorIs(t, svc.VerifySignedURL(tampered), ErrUnauthorized)
	})

	t.Run("missing signature fails", func(t *testing.T) {
		assert.ErrorIs(t, svc.VerifySignedURL("/api/v1/files/abc123?expires=99999999999"), ErrUnauthorized)
	})

	t.Run("missing expiry fails", func(t *testing.T) {
		assert.ErrorIs(t, svc.VerifySignedURL("/api/v1/files/abc123?signature=deadbeef"), ErrUnauthorized)
	})

	t.Run("expired url fails", func(t *testing.T) {
		// Craft a URL whose signature is valid but whose expiry has passed.
		expires := time.Now().UTC().Add(-time.Minute).Unix()
		unsigned := fmt.Sprintf("/api/v1/files/abc123?expires=%d", expires)
		expired := unsigned + "&signature=" + svc.signature(unsigned)

		assert.ErrorIs(t, svc.VerifySignedURL(expired), ErrUnauthorized)
	})

	t.Run("verifier with another secret rejects", func(t *testing.T) {
		signed := svc.SignURL("/api/v1/files/abc123", 5*time.Minute)
		other := NewTokenService("other-secret", "HS256", time.Minute, time.Hour)
		assert.ErrorIs(t, other.VerifySignedURL(signed), ErrUnauthorized)
	})
}

func TestTokenService_SignURLClampsTTL(t *testing.T) {
	svc := testTokenService()
	ceiling := time.Now().UTC().Add(MaxSignedURLTTL).Unix()

	for _, ttl := range []time.Duration{0, -time.Hour, 24 * time.Hour} {
		signed := svc.SignURL("/api/v1/files/abc123", ttl)

		var expires int64
		_, err := fmt.Sscanf(signed, "/api/v1/files/abc123?expires=%d", &expires)
		require.NoError(t, err)
		assert.LessOrEqual(t, expires, ceiling+1, "ttl %v must be clamped", ttl)
		assert.Greater(t, expires, time.Now().UTC().Unix())
	}
}
