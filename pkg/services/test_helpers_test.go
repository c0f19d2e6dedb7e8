package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/steadyops/steward/pkg/database"
	"github.com/steadyops/steward/pkg/models"
)

// testDB opens a throwaway SQLite store with all migrations applied.
func testDB(t *testing.T) *database.Client {
	t.Helper()
	client, err := database.NewClient(context.Background(), filepath.Join(t.TempDir(), "steward.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// seedUser inserts an active user with the given email.
func seedUser(t *testing.T, users *UserService, email string) *models.User {
	t.Helper()
	user := &models.User{
		ID:       models.NewID(),
		Email:    email,
		Fullname: "Test User",
		Role:     models.RoleNormal,
		IsActive: true,
	}
	require.NoError(t, users.Create(context.Background(), user))
	return user
}

// seedSession saves a fresh chat session for the user.
func seedSession(t *testing.T, sessions *SessionService, userID string) *models.Session {
	t.Helper()
	session := models.NewSession(userID)
	require.NoError(t, sessions.Save(context.Background(), session))
	return session
}
